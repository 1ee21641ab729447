package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/framing"
	"github.com/linjuya-lu/uart_interface_go/internal/mqtt"
	"github.com/linjuya-lu/uart_interface_go/internal/serial"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// session ties one configured port to its interface, its codec and its
// optional MQTT bridge.
type session struct {
	name    string
	proto   config.Protocol
	codec   framing.Protocol
	iface   *uart.Interface
	binding uart.Binding
	bridge  *mqtt.Bridge
	timeout time.Duration
	lc      logger.LoggingClient

	txMu sync.Mutex // one command/response exchange at a time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newSession builds a stopped session for port.
func newSession(cfg *config.SerialProxyConfig, port config.Port, b uart.Binding, lc logger.LoggingClient) (*session, error) {
	proto, ok := cfg.GetProtocolForPort(port.Name)
	if !ok {
		return nil, fmt.Errorf("port %s: no protocol bound and no default protocol", port.Name)
	}
	ucfg, err := interfaceConfig(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("port %s: %w", port.Name, err)
	}
	codec, err := framing.New(proto.Framing, framing.Options{
		Start:     proto.StartByte,
		End:       proto.EndByte,
		MaxLength: ucfg.MaxFrameSize,
		Prompt:    proto.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("port %s: %w", port.Name, err)
	}
	ucfg.Name = port.Name
	ucfg.Framer = codec.Framer
	ucfg.Classifier = classifier(proto)
	ucfg.Logger = lc

	if b == nil {
		if b, err = serial.NewBinding(port, lc); err != nil {
			return nil, fmt.Errorf("port %s: %w", port.Name, err)
		}
	}
	iface, err := uart.New(ucfg, b)
	if err != nil {
		return nil, fmt.Errorf("port %s: %w", port.Name, err)
	}
	return &session{
		name:    port.Name,
		proto:   proto,
		codec:   codec,
		iface:   iface,
		binding: b,
		timeout: cfg.Interface.ResponseTimeout(),
		lc:      lc,
	}, nil
}

// interfaceConfig maps the tuning section onto uart.Config. Zero values
// keep the defaults.
func interfaceConfig(ic config.Interface) (uart.Config, error) {
	c := uart.DefaultConfig()
	if ic.RxQueueSize > 0 {
		c.RxQueueSize = ic.RxQueueSize
	}
	if ic.ResponseQueueSize > 0 {
		c.ResponseQueueSize = ic.ResponseQueueSize
	}
	if ic.URCQueueSize > 0 {
		c.URCQueueSize = ic.URCQueueSize
	}
	if ic.MaxFrameSize > 0 {
		c.MaxFrameSize = ic.MaxFrameSize
	}
	if ic.PollIntervalMs > 0 {
		c.PollInterval = ic.PollInterval()
	}
	if ic.MaxReceiveRetries > 0 {
		c.MaxReceiveRetries = ic.MaxReceiveRetries
	}

	var err error
	if c.RxPolicy, err = uart.ParseBytePolicy(ic.RxPolicy); err != nil {
		return c, err
	}
	if ic.ResponsePolicy != "" {
		if c.ResponsePolicy, err = uart.ParseQueuePolicy(ic.ResponsePolicy); err != nil {
			return c, err
		}
	}
	if ic.URCPolicy != "" {
		if c.URCPolicy, err = uart.ParseQueuePolicy(ic.URCPolicy); err != nil {
			return c, err
		}
	}
	if c.Mode, err = uart.ParseMode(ic.Mode); err != nil {
		return c, err
	}
	return c, nil
}

func classifier(p config.Protocol) uart.Classifier {
	if len(p.URCTags) > 0 {
		return framing.Tag{Offset: p.URCTagOffset, URC: p.URCTags}
	}
	if p.Framing == framing.ProtoAT {
		return framing.NewATClassifier(p.URCPrefixes...)
	}
	return framing.NewPrefixes(p.URCPrefixes...)
}

// text reports whether payloads are shown as text rather than hex.
func (s *session) text() bool {
	return s.proto.Framing == framing.ProtoAT
}

// format renders a payload for a string resource.
func (s *session) format(payload []byte) string {
	if s.text() {
		return strings.TrimRight(string(payload), framing.CRLF)
	}
	return hex.EncodeToString(payload)
}

// parse converts a string resource value to the payload to encode.
func (s *session) parse(v string) ([]byte, error) {
	if s.text() {
		return []byte(v), nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(v, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("command is not hex: %w", err)
	}
	return b, nil
}

// send encodes payload and writes it, dropping stale responses first.
func (s *session) send(payload []byte) error {
	s.iface.ClearResponses()
	return s.iface.Send(s.codec.Encode(payload))
}

// Transact implements mqtt.Transactor. Errors carry the EdgeX kind so the
// bridge can report a status code.
func (s *session) Transact(payload []byte) ([]byte, time.Time, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := s.send(payload); err != nil {
		return nil, time.Time{}, toEdgeX(fmt.Sprintf("failed to send to port %s", s.name), err)
	}
	m, err := s.iface.ReceiveResponse(s.timeout)
	if err != nil {
		return nil, time.Time{}, toEdgeX(fmt.Sprintf("no response on port %s", s.name), err)
	}
	return m.Payload, m.Received, nil
}

// start brings the interface up and launches the URC forwarder.
func (s *session) start(onURC func(*session, uart.Message)) error {
	if err := s.iface.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.forwardURCs(ctx, onURC)
	return nil
}

func (s *session) stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.iface.Stop()
	s.wg.Wait()
	return err
}

// forwardURCs hands every URC to onURC. When the interface fails it is
// restarted with exponential backoff until the session is stopped.
func (s *session) forwardURCs(ctx context.Context, onURC func(*session, uart.Message)) {
	defer s.wg.Done()
	for {
		m, err := s.iface.ReceiveURC(uart.Infinite)
		if err == nil {
			onURC(s, m)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if s.iface.State() != uart.Failed {
			if !errors.Is(err, uart.ErrClosed) {
				s.lc.Warnf("port %s: receive URC: %v", s.name, err)
			}
			return
		}
		s.lc.Errorf("port %s: %v, restarting", s.name, err)
		if err := s.restart(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			// stopped while the restart was in flight
			s.iface.Stop()
			return
		}
	}
}

func (s *session) restart(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		return s.iface.Start()
	}
	notify := func(err error, d time.Duration) {
		s.lc.Warnf("port %s: restart failed, next attempt in %s: %v", s.name, d, err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}
