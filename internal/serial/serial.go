// Package serial provides the uart.Binding implementations for the port
// types found in configuration: uart, rs485, rs232 and virtual.
package serial

import (
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// Port types accepted by NewBinding.
const (
	TypeUART    = "uart"
	TypeRS485   = "rs485"
	TypeRS232   = "rs232"
	TypeVirtual = "virtual"
)

// NewBinding creates the binding matching cfg.Type.
func NewBinding(cfg config.Port, lc logger.LoggingClient) (uart.Binding, error) {
	switch cfg.Type {
	case TypeUART, "":
		return NewUARTBinding(cfg, lc), nil
	case TypeRS485:
		return NewRS485Binding(cfg, lc), nil
	case TypeRS232:
		return NewRS232Binding(cfg, lc), nil
	case TypeVirtual:
		return NewVirtualBinding(cfg.Name, cfg.ReadTimeout(), nil), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}
