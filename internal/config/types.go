package config

import "time"

// Port describes one serial device.
type Port struct {
	Name           string `yaml:"name"`           // logical name, also the EdgeX device name
	Device         string `yaml:"device"`         // device node, e.g. /dev/ttyUSB2
	Type           string `yaml:"type"`           // uart/rs485/rs232/virtual
	Baudrate       int    `yaml:"baudrate"`       // baud rate
	DEPin          int    `yaml:"dePin"`          // RS-485 DE/RE GPIO number
	TimeoutMs      int    `yaml:"timeoutMs"`      // read poll timeout in milliseconds
	WriteTimeoutMs int    `yaml:"writeTimeoutMs"` // upper bound on a single send
	FlowControl    bool   `yaml:"flowControl"`    // RTS/CTS on rs232 ports
}

// ReadTimeout returns TimeoutMs as a duration.
func (p Port) ReadTimeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// WriteTimeout returns WriteTimeoutMs as a duration.
func (p Port) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutMs) * time.Millisecond
}

// Protocol describes how traffic on a port is framed, classified and
// mirrored to MQTT.
type Protocol struct {
	ID            string   `yaml:"id"`
	Framing       string   `yaml:"framing"`       // at/delimited/crc16/passthrough or a customProto id
	StartByte     byte     `yaml:"startByte"`     // delimited framing
	EndByte       byte     `yaml:"endByte"`       // delimited framing
	Prompt        bool     `yaml:"prompt"`        // at framing: "> " is a frame
	URCPrefixes   []string `yaml:"urcPrefixes"`   // at framing: extra URC prefixes
	URCTagOffset  int      `yaml:"urcTagOffset"`  // binary framing: tag position
	URCTags       []byte   `yaml:"urcTags"`       // binary framing: tag values marking a URC
	RequestTopic  string   `yaml:"requestTopic"`  // downstream topic
	ResponseTopic string   `yaml:"responseTopic"` // upstream topic for responses
	URCTopic      string   `yaml:"urcTopic"`      // upstream topic for URCs
}

// Binding selects the protocol used on a port.
type Binding struct {
	PortName   string `yaml:"portName"`   // Port.Name
	ProtocolID string `yaml:"protocolId"` // Protocol.ID
}

// Interface tunes the queues and the receive worker of every port.
type Interface struct {
	RxQueueSize       int    `yaml:"rxQueueSize"`
	ResponseQueueSize int    `yaml:"responseQueueSize"`
	URCQueueSize      int    `yaml:"urcQueueSize"`
	MaxFrameSize      int    `yaml:"maxFrameSize"`
	RxPolicy          string `yaml:"rxPolicy"`       // drop-newest/drop-oldest/flow-control
	ResponsePolicy    string `yaml:"responsePolicy"` // drop-newest/drop-oldest/fail
	URCPolicy         string `yaml:"urcPolicy"`      // drop-newest/drop-oldest/fail
	Mode              string `yaml:"mode"`           // threaded/cooperative
	PollIntervalMs    int    `yaml:"pollIntervalMs"`
	MaxReceiveRetries int    `yaml:"maxReceiveRetries"`
	ResponseTimeoutMs int    `yaml:"responseTimeoutMs"` // device service read timeout
}

// PollInterval returns PollIntervalMs as a duration.
func (i Interface) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalMs) * time.Millisecond
}

// ResponseTimeout returns ResponseTimeoutMs as a duration.
func (i Interface) ResponseTimeout() time.Duration {
	return time.Duration(i.ResponseTimeoutMs) * time.Millisecond
}

// MQTT holds broker connection options. An empty Broker disables the bridge.
type MQTT struct {
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"clientId"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	KeepAliveSec     int    `yaml:"keepAliveSec"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs"`
	Qos              byte   `yaml:"qos"`
	Retain           bool   `yaml:"retain"`
}

// SerialProxyConfig gathers Ports, Protocols, Bindings and tuning.
type SerialProxyConfig struct {
	Ports           []Port     `yaml:"Ports"`
	Protocols       []Protocol `yaml:"Protocols"`
	Bindings        []Binding  `yaml:"Bindings"`
	DefaultProtocol string     `yaml:"DefaultProtocol"`
	Interface       Interface  `yaml:"Interface"`
	MQTT            MQTT       `yaml:"MQTT"`

	portMap     map[string]Port
	protocolMap map[string]Protocol
	bindingMap  map[string]Protocol
}
