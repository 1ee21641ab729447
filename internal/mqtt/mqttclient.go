package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
)

// ClientOptions 描述 broker 连接参数
type ClientOptions struct {
	Broker         string // tcp://host:port
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	DefaultQos     byte
	DefaultRetain  bool
}

// OptionsFromConfig 把服务配置中的 MQTT 段映射为 ClientOptions，未填写的字段取默认值
func OptionsFromConfig(c config.MQTT) ClientOptions {
	opts := ClientOptions{
		Broker:         c.Broker,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      time.Duration(c.KeepAliveSec) * time.Second,
		ConnectTimeout: time.Duration(c.ConnectTimeoutMs) * time.Millisecond,
		DefaultQos:     c.Qos,
		DefaultRetain:  c.Retain,
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "uart-interface"
	}
	return opts
}

// Publisher 是 Bridge 依赖的发布/订阅接口
type Publisher interface {
	PublishData(topic string, data []byte) error
	SubscribeData(topic string, handler func([]byte)) error
}

// Client 封装 paho 客户端，QoS 和 retain 使用固定默认值
type Client struct {
	inner paho.Client
	opts  ClientOptions
	mu    sync.Mutex
}

var _ Publisher = (*Client)(nil)

// NewClient 根据 opts 创建并连接 MQTT 客户端。
// 首次连接成功后由 paho 在后台自动重连
func NewClient(opts ClientOptions) (*Client, error) {
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	c := &Client{opts: opts}
	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return c, nil
}

// PublishData 发布原始数据并等待完成
func (c *Client) PublishData(topic string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.inner.Publish(topic, c.opts.DefaultQos, c.opts.DefaultRetain, data)
	tok.Wait()
	return tok.Error()
}

// PublishJSON 序列化 v 后发布
func (c *Client) PublishJSON(topic string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return c.PublishData(topic, b)
}

// SubscribeData 订阅 topic，收到的每条消息交给 handler。
// handler 在 paho 的路由协程中执行
func (c *Client) SubscribeData(topic string, handler func([]byte)) error {
	tok := c.inner.Subscribe(topic, c.opts.DefaultQos, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	tok.Wait()
	return tok.Error()
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	tok := c.inner.Unsubscribe(topics...)
	tok.Wait()
	return tok.Error()
}

// Disconnect 断开连接，最多等待 quiesce 毫秒处理未完成的工作
func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}
