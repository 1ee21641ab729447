package serial

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPort() config.Port {
	return config.Port{Name: "p0", Device: "pipe", Type: TypeUART, Baudrate: 115200, TimeoutMs: 10, WriteTimeoutMs: 50}
}

// pipePort opens one end of a net.Pipe and hands the other to the test.
func pipePort(t *testing.T) (*hwPort, chan net.Conn) {
	t.Helper()
	remote := make(chan net.Conn, 1)
	open := func(config.Port) (io.ReadWriteCloser, error) {
		local, far := net.Pipe()
		remote <- far
		return local, nil
	}
	h := newHWPort(testPort(), open, logger.NewMockClient())
	h.Attach(uart.NewByteQueue(32, uart.ByteDropNewest))
	return h, remote
}

func TestHWPort_ReceiveAndSend(t *testing.T) {
	h, remote := pipePort(t)
	require.NoError(t, h.Start())
	require.NoError(t, h.Start(), "start is idempotent")
	far := <-remote
	defer far.Close()

	_, err := far.Write([]byte("OK\r\n"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 8)
	require.Eventually(t, func() bool {
		n, err := h.Receive(buf, true)
		if err != nil && !errors.Is(err, uart.ErrTimeout) {
			return false
		}
		got = append(got, buf[:n]...)
		return len(got) == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, "OK\r\n", string(got))

	n, err := h.Receive(buf, false)
	assert.NoError(t, err)
	assert.Zero(t, n)

	go func() {
		p := make([]byte, 4)
		_, _ = io.ReadFull(far, p)
	}()
	n, err = h.Send([]byte("AT\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	_, err = h.Send([]byte("AT"))
	assert.ErrorIs(t, err, uart.ErrClosed)
}

func TestHWPort_SendTimeout(t *testing.T) {
	h, remote := pipePort(t)
	require.NoError(t, h.Start())
	far := <-remote
	defer far.Close()
	defer h.Stop()

	// nobody reads the far end
	_, err := h.Send([]byte("AT\r\n"))
	assert.ErrorIs(t, err, uart.ErrHardware)
}

func TestHWPort_StopReleasesReceive(t *testing.T) {
	h, remote := pipePort(t)
	h.cfg.TimeoutMs = 10000
	require.NoError(t, h.Start())
	far := <-remote
	defer far.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := h.Receive(make([]byte, 4), true)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Stop())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, uart.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("receive not released")
	}
}

func TestHWPort_OpenFailure(t *testing.T) {
	open := func(config.Port) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	h := newHWPort(testPort(), open, logger.NewMockClient())
	assert.Error(t, h.Start(), "no queue attached")

	h.Attach(uart.NewByteQueue(4, uart.ByteDropNewest))
	assert.ErrorIs(t, h.Start(), uart.ErrHardware)
}

type faultyConn struct{}

func (faultyConn) Read([]byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, errors.New("input/output error")
}

func (faultyConn) Write(p []byte) (int, error) { return len(p), nil }
func (faultyConn) Close() error { return nil }

func TestHWPort_ReadFaultIsReported(t *testing.T) {
	open := func(config.Port) (io.ReadWriteCloser, error) {
		return faultyConn{}, nil
	}
	h := newHWPort(testPort(), open, logger.NewMockClient())
	h.Attach(uart.NewByteQueue(4, uart.ByteDropNewest))
	require.NoError(t, h.Start())

	require.Eventually(t, func() bool {
		_, err := h.Receive(make([]byte, 4), false)
		return errors.Is(err, uart.ErrHardware)
	}, time.Second, time.Millisecond)
	require.NoError(t, h.Stop())
}

func TestHWPort_PersistentFaultOnEveryWait(t *testing.T) {
	open := func(config.Port) (io.ReadWriteCloser, error) {
		return faultyConn{}, nil
	}
	cfg := testPort()
	cfg.TimeoutMs = 40
	h := newHWPort(cfg, open, logger.NewMockClient())
	h.Attach(uart.NewByteQueue(4, uart.ByteDropNewest))
	require.NoError(t, h.Start())
	defer h.Stop()

	buf := make([]byte, 4)
	for k := 0; k < 5; k++ {
		_, err := h.Receive(buf, true)
		require.ErrorIs(t, err, uart.ErrHardware, "wait %d", k)
	}
}

func TestVirtualBinding(t *testing.T) {
	echo := func(sent []byte) []byte {
		return append([]byte("echo:"), sent...)
	}
	v := NewVirtualBinding("v", 10*time.Millisecond, echo)
	assert.Error(t, v.Start(), "no queue attached")

	rx := uart.NewByteQueue(32, uart.ByteDropNewest)
	v.Attach(rx)
	assert.Zero(t, v.InjectString("early"), "stopped binding accepts nothing")

	require.NoError(t, v.Start())
	n, err := v.Send([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(v.Sent()))

	buf := make([]byte, 32)
	n, err = v.Receive(buf, true)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(buf[:n]))

	_, err = v.Receive(buf, true)
	assert.ErrorIs(t, err, uart.ErrTimeout)
	n, err = v.Receive(buf, false)
	assert.NoError(t, err)
	assert.Zero(t, n)

	v.SetReceiveFault(errors.New("overrun"))
	_, err = v.Receive(buf, false)
	assert.ErrorIs(t, err, uart.ErrHardware)
	v.SetReceiveFault(nil)

	require.NoError(t, v.Stop())
	_, err = v.Receive(buf, true)
	assert.ErrorIs(t, err, uart.ErrClosed)
	_, err = v.Send([]byte("x"))
	assert.ErrorIs(t, err, uart.ErrClosed)

	v.ResetSent()
	assert.Empty(t, v.Sent())
	assert.Equal(t, 1, v.Starts())
}

func TestNewBinding(t *testing.T) {
	lc := logger.NewMockClient()
	for typ, want := range map[string]interface{}{
		TypeUART:    &UARTBinding{},
		"":          &UARTBinding{},
		TypeRS485:   &RS485Binding{},
		TypeRS232:   &RS232Binding{},
		TypeVirtual: &VirtualBinding{},
	} {
		cfg := testPort()
		cfg.Type = typ
		b, err := NewBinding(cfg, lc)
		require.NoError(t, err, typ)
		assert.IsType(t, want, b, typ)
	}

	cfg := testPort()
	cfg.Type = "can"
	_, err := NewBinding(cfg, lc)
	assert.Error(t, err)
}

func TestRS232Binding_SetFlowWithoutFlowControl(t *testing.T) {
	b := NewRS232Binding(testPort(), logger.NewMockClient())
	assert.NoError(t, b.SetFlow(false), "no-op when flow control is off")

	cfg := testPort()
	cfg.FlowControl = true
	b = NewRS232Binding(cfg, logger.NewMockClient())
	assert.ErrorIs(t, b.SetFlow(true), uart.ErrClosed)
}

func TestRS485Binding_SendRequiresStart(t *testing.T) {
	b := NewRS485Binding(testPort(), logger.NewMockClient())
	_, err := b.Send([]byte("x"))
	assert.ErrorIs(t, err, uart.ErrClosed)
}
