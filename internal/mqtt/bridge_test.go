package mqtt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	edgexErrors "github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	out      []published
	handlers map[string]func([]byte)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]func([]byte))}
}

func (f *fakePublisher) PublishData(topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic, append([]byte(nil), data...)})
	return nil
}

func (f *fakePublisher) SubscribeData(topic string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakePublisher) deliver(topic string, body []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(body)
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.out)
	return f.out[len(f.out)-1]
}

type fakeTransactor struct {
	got   []byte
	reply []byte
	err   error
}

func (f *fakeTransactor) Transact(payload []byte) ([]byte, time.Time, error) {
	f.got = payload
	return f.reply, time.Unix(0, 42), f.err
}

var topics = Topics{Request: "req", Response: "resp", URC: "urc"}

func decode(t *testing.T, body []byte) (map[string]interface{}, SerialPayload) {
	t.Helper()
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &env))
	var p struct {
		Payload SerialPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &p))
	return env, p.Payload
}

func TestBridge_RawRequest(t *testing.T) {
	pub := newFakePublisher()
	tx := &fakeTransactor{reply: []byte("OK\r\n")}
	b := NewBridge("modem", topics, pub, tx, logger.NewMockClient())
	require.NoError(t, b.Serve())

	pub.deliver("req", []byte("AT"))
	assert.Equal(t, "AT", string(tx.got))

	out := pub.last(t)
	assert.Equal(t, "resp", out.topic)
	env, p := decode(t, out.body)
	assert.Equal(t, "req", env["receivedTopic"])
	assert.EqualValues(t, 0, env["errorCode"])
	assert.Equal(t, "modem", p.Port)
	assert.Equal(t, "response", p.Kind)
	assert.Equal(t, int64(42), p.Timestamp)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("OK\r\n")), p.Data)
}

func TestBridge_JSONRequest(t *testing.T) {
	pub := newFakePublisher()
	tx := &fakeTransactor{reply: []byte{0x16, 0x01, 0x33}}
	b := NewBridge("meter", topics, pub, tx, logger.NewMockClient())
	require.NoError(t, b.Serve())

	body := `{"correlationID":"abc","data":"` + base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}) + `"}`
	pub.deliver("req", []byte(body))
	assert.Equal(t, []byte{0x01, 0x02}, tx.got)

	msg, frame, err := DecodeFrame(pub.last(t).body)
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.CorrelationID)
	assert.Equal(t, []byte{0x16, 0x01, 0x33}, frame)

	pub.deliver("req", []byte(`{"text":"AT+CSQ"}`))
	assert.Equal(t, "AT+CSQ", string(tx.got))
}

func TestBridge_Errors(t *testing.T) {
	pub := newFakePublisher()
	tx := &fakeTransactor{}
	b := NewBridge("modem", topics, pub, tx, logger.NewMockClient())
	require.NoError(t, b.Serve())

	pub.deliver("req", []byte(`{"data":"not base64!"}`))
	env, p := decode(t, pub.last(t).body)
	assert.EqualValues(t, http.StatusBadRequest, env["errorCode"])
	assert.NotEmpty(t, p.Error)

	tx.err = edgexErrors.NewCommonEdgeX(edgexErrors.KindServiceUnavailable, "no response", nil)
	pub.deliver("req", []byte("AT"))
	env, _ = decode(t, pub.last(t).body)
	assert.EqualValues(t, http.StatusServiceUnavailable, env["errorCode"])

	tx.err = errors.New("boom")
	pub.deliver("req", []byte("AT"))
	env, p = decode(t, pub.last(t).body)
	assert.EqualValues(t, http.StatusInternalServerError, env["errorCode"])
	assert.Equal(t, "boom", p.Error)
}

func TestBridge_PublishURC(t *testing.T) {
	pub := newFakePublisher()
	b := NewBridge("modem", topics, pub, nil, logger.NewMockClient())
	require.NoError(t, b.Serve())
	assert.Empty(t, pub.handlers, "no transactor, no subscription")

	require.NoError(t, b.PublishURC([]byte("RING\r\n"), time.Now()))
	out := pub.last(t)
	assert.Equal(t, "urc", out.topic)
	_, p := decode(t, out.body)
	assert.Equal(t, "urc", p.Kind)

	silent := NewBridge("modem", Topics{}, pub, nil, logger.NewMockClient())
	require.NoError(t, silent.PublishURC([]byte("RING\r\n"), time.Now()))
	assert.Len(t, pub.out, 1)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.MQTT{Broker: "tcp://broker:1883", Qos: 1})
	assert.Equal(t, "tcp://broker:1883", opts.Broker)
	assert.Equal(t, "uart-interface", opts.ClientID)
	assert.Equal(t, 60*time.Second, opts.KeepAlive)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
	assert.Equal(t, byte(1), opts.DefaultQos)
}

func TestDecodeRequest(t *testing.T) {
	r, raw, err := DecodeRequest([]byte("AT+CGMI"))
	require.NoError(t, err)
	assert.Empty(t, r.CorrelationID)
	assert.Equal(t, "AT+CGMI", string(raw))

	_, _, err = DecodeRequest([]byte("{broken"))
	assert.Error(t, err)
}
