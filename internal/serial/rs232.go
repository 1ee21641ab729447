package serial

import (
	"fmt"
	"io"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"go.bug.st/serial"
)

// RS232Binding 通过 go.bug.st/serial 实现标准 RS-232 全双工串口。
// 开启 FlowControl 时通过 RTS 实现 uart.FlowController
type RS232Binding struct {
	*hwPort

	mu   sync.Mutex
	port serial.Port
}

var _ uart.FlowController = (*RS232Binding)(nil)

// NewRS232Binding 构造 RS232Binding
func NewRS232Binding(cfg config.Port, lc logger.LoggingClient) *RS232Binding {
	b := &RS232Binding{}
	b.hwPort = newHWPort(cfg, b.open, lc)
	return b
}

func (b *RS232Binding) open(cfg config.Port) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", cfg.Device, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		p.Close()
		return nil, err
	}
	if cfg.FlowControl {
		if err := p.SetRTS(true); err != nil {
			p.Close()
			return nil, err
		}
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, err
	}

	b.mu.Lock()
	b.port = p
	b.mu.Unlock()
	return p, nil
}

// Stop 关闭串口
func (b *RS232Binding) Stop() error {
	err := b.hwPort.Stop()
	b.mu.Lock()
	b.port = nil
	b.mu.Unlock()
	return err
}

// SetFlow 在 ready 时拉高 RTS，否则拉低让对端暂停发送。
// 未开启流控时不做任何事
func (b *RS232Binding) SetFlow(ready bool) error {
	if !b.cfg.FlowControl {
		return nil
	}
	b.mu.Lock()
	p := b.port
	b.mu.Unlock()
	if p == nil {
		return uart.ErrClosed
	}
	if err := p.SetRTS(ready); err != nil {
		return fmt.Errorf("set RTS %t: %v: %w", ready, err, uart.ErrHardware)
	}
	return nil
}
