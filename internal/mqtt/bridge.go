package mqtt

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
)

// Transactor sends a command to a port and returns the module's reply.
type Transactor interface {
	Transact(payload []byte) (reply []byte, at time.Time, err error)
}

// Topics names the MQTT topics of one port. Empty topics are skipped.
type Topics struct {
	Request  string
	Response string
	URC      string
}

// Bridge exposes one port on the broker: commands arrive on the request
// topic, replies go to the response topic, URCs to the URC topic.
type Bridge struct {
	port   string
	topics Topics
	pub    Publisher
	tx     Transactor
	lc     logger.LoggingClient
}

// NewBridge returns an idle bridge; call Serve to subscribe.
func NewBridge(port string, topics Topics, pub Publisher, tx Transactor, lc logger.LoggingClient) *Bridge {
	return &Bridge{port: port, topics: topics, pub: pub, tx: tx, lc: lc}
}

// Serve subscribes to the request topic.
func (b *Bridge) Serve() error {
	if b.topics.Request == "" || b.tx == nil {
		return nil
	}
	if err := b.pub.SubscribeData(b.topics.Request, b.handleRequest); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topics.Request, err)
	}
	b.lc.Infof("port %s: serving requests on %s", b.port, b.topics.Request)
	return nil
}

func (b *Bridge) handleRequest(body []byte) {
	req, raw, err := DecodeRequest(body)
	if err != nil {
		b.lc.Warnf("port %s: %v", b.port, err)
		b.reply(NewErrorMessage(b.port, http.StatusBadRequest, err, req.CorrelationID))
		return
	}
	reply, at, err := b.tx.Transact(raw)
	if err != nil {
		b.lc.Errorf("port %s: request failed: %v", b.port, err)
		b.reply(NewErrorMessage(b.port, errorCode(err), err, req.CorrelationID))
		return
	}
	b.reply(NewFrameMessage(b.port, "response", reply, at, req.CorrelationID))
}

func (b *Bridge) reply(m EdgexMessage) {
	if b.topics.Response == "" {
		return
	}
	m.ReceivedTopic = b.topics.Request
	if err := b.publish(b.topics.Response, m); err != nil {
		b.lc.Errorf("port %s: publish reply: %v", b.port, err)
	}
}

// PublishURC forwards an unsolicited notification.
func (b *Bridge) PublishURC(frame []byte, at time.Time) error {
	if b.topics.URC == "" {
		return nil
	}
	return b.publish(b.topics.URC, NewFrameMessage(b.port, "urc", frame, at, ""))
}

func (b *Bridge) publish(topic string, m EdgexMessage) error {
	body, err := marshal(m)
	if err != nil {
		return err
	}
	return b.pub.PublishData(topic, body)
}

// StatusCoder is implemented by errors that carry an HTTP-style code, such
// as EdgeX errors.
type StatusCoder interface {
	Code() int
}

func errorCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.Code()
	}
	return http.StatusInternalServerError
}
