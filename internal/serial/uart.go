package serial

import (
	"io"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/tarm/serial"
)

// UARTBinding 通过 github.com/tarm/serial 驱动普通全双工 UART
type UARTBinding struct {
	*hwPort
}

// NewUARTBinding 构造 UARTBinding，设备在 Start 时打开
func NewUARTBinding(cfg config.Port, lc logger.LoggingClient) *UARTBinding {
	return &UARTBinding{hwPort: newHWPort(cfg, openTarm, lc)}
}

func openTarm(cfg config.Port) (io.ReadWriteCloser, error) {
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baudrate,
		ReadTimeout: cfg.ReadTimeout(),
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, err
	}
	return p, nil
}
