package mqtt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	apiVersion      = "v3"
	contentTypeJSON = "application/json"
)

// EdgexMessage 是 EdgeX MessageBus 的通用消息格式
type EdgexMessage struct {
	ApiVersion    string      `json:"apiVersion"`
	ReceivedTopic string      `json:"receivedTopic,omitempty"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID"`
	ErrorCode     int         `json:"errorCode"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

// SerialPayload 是 payload 部分的结构，对应串口上收到的一帧
type SerialPayload struct {
	Port      string `json:"port"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"` // Unix 纳秒
	Data      string `json:"data"`      // Base64 编码的原始二进制
	Error     string `json:"error,omitempty"`
}

// NewFrameMessage 组装一条 EdgeX 格式的消息。
// correlationID 用于把应答和请求对应起来，为空时重新生成
func NewFrameMessage(port, kind string, frame []byte, at time.Time, correlationID string) EdgexMessage {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return EdgexMessage{
		ApiVersion:    apiVersion,
		CorrelationID: correlationID,
		RequestID:     uuid.NewString(),
		Payload: SerialPayload{
			Port:      port,
			Kind:      kind,
			Timestamp: at.UnixNano(),
			Data:      base64.StdEncoding.EncodeToString(frame),
		},
		ContentType: contentTypeJSON,
	}
}

// NewErrorMessage 组装请求失败的应答
func NewErrorMessage(port string, code int, err error, correlationID string) EdgexMessage {
	m := NewFrameMessage(port, "error", nil, time.Now(), correlationID)
	m.ErrorCode = code
	p := m.Payload.(SerialPayload)
	p.Error = err.Error()
	m.Payload = p
	return m
}

// Request 是请求主题上的消息体。
// 不是 JSON 对象的消息体按原始命令处理
type Request struct {
	CorrelationID string `json:"correlationID"`
	Data          string `json:"data"` // Base64，优先于 Text
	Text          string `json:"text"`
}

// DecodeRequest 解析请求消息体
func DecodeRequest(body []byte) (Request, []byte, error) {
	var r Request
	if len(body) == 0 || body[0] != '{' {
		return r, body, nil
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return r, nil, fmt.Errorf("decode request: %w", err)
	}
	if r.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return r, nil, fmt.Errorf("decode request data: %w", err)
		}
		return r, raw, nil
	}
	return r, []byte(r.Text), nil
}

// DecodeFrame 取出消息中携带的原始帧
func DecodeFrame(body []byte) (EdgexMessage, []byte, error) {
	var env struct {
		EdgexMessage
		Payload SerialPayload `json:"payload"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return EdgexMessage{}, nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(env.Payload.Data)
	if err != nil {
		return EdgexMessage{}, nil, err
	}
	msg := env.EdgexMessage
	msg.Payload = env.Payload
	return msg, raw, nil
}

func marshal(m EdgexMessage) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}
