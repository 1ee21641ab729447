package driver

import (
	goerrors "errors"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// edgexKind maps an interface error onto the EdgeX error kind reported to
// core-command.
func edgexKind(err error) errors.ErrKind {
	switch {
	case goerrors.Is(err, uart.ErrHardware):
		return errors.KindCommunicationError
	case goerrors.Is(err, uart.ErrQueueFull):
		return errors.KindLimitExceeded
	case goerrors.Is(err, uart.ErrTimeout),
		goerrors.Is(err, uart.ErrNotRunning),
		goerrors.Is(err, uart.ErrClosed):
		return errors.KindServiceUnavailable
	case goerrors.Is(err, uart.ErrMalformedFrame):
		return errors.KindContractInvalid
	}
	return errors.KindServerError
}

// toEdgeX wraps err for the SDK. EdgeX errors pass through unchanged.
func toEdgeX(msg string, err error) error {
	var e errors.EdgeX
	if goerrors.As(err, &e) {
		return errors.NewCommonEdgeXWrapper(err)
	}
	return errors.NewCommonEdgeX(edgexKind(err), msg, err)
}
