package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Defaults applied to fields left empty in the file.
const (
	defaultBaudrate       = 115200
	defaultTimeoutMs      = 100
	defaultWriteTimeoutMs = 1000
	defaultResponseMs     = 1000
)

// LoadConfig reads the SerialProxy section of a YAML file.
func LoadConfig(path string) (*SerialProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a SerialProxy document, applies defaults and builds the
// lookup tables.
func Parse(data []byte) (*SerialProxyConfig, error) {
	doc := struct {
		SerialProxy SerialProxyConfig `yaml:"SerialProxy"`
	}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg := &doc.SerialProxy
	cfg.applyDefaults()
	if err := cfg.index(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SerialProxyConfig) applyDefaults() {
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.Type == "" {
			p.Type = "uart"
		}
		if p.Baudrate == 0 {
			p.Baudrate = defaultBaudrate
		}
		if p.TimeoutMs == 0 {
			p.TimeoutMs = defaultTimeoutMs
		}
		if p.WriteTimeoutMs == 0 {
			p.WriteTimeoutMs = defaultWriteTimeoutMs
		}
	}
	for i := range c.Protocols {
		if c.Protocols[i].Framing == "" {
			c.Protocols[i].Framing = c.Protocols[i].ID
		}
	}
	if c.Interface.ResponseTimeoutMs == 0 {
		c.Interface.ResponseTimeoutMs = defaultResponseMs
	}
}

func (c *SerialProxyConfig) index() error {
	c.portMap = make(map[string]Port, len(c.Ports))
	for _, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("port %q has no name", p.Device)
		}
		if _, dup := c.portMap[p.Name]; dup {
			return fmt.Errorf("duplicate port name %s", p.Name)
		}
		c.portMap[p.Name] = p
	}

	c.protocolMap = make(map[string]Protocol, len(c.Protocols))
	for _, pr := range c.Protocols {
		c.protocolMap[pr.ID] = pr
	}
	if c.DefaultProtocol != "" {
		if _, ok := c.protocolMap[c.DefaultProtocol]; !ok {
			return fmt.Errorf("default protocol %s is not defined", c.DefaultProtocol)
		}
	}

	c.bindingMap = make(map[string]Protocol, len(c.Bindings))
	for _, b := range c.Bindings {
		if _, ok := c.portMap[b.PortName]; !ok {
			return fmt.Errorf("binding references unknown port %s", b.PortName)
		}
		pr, ok := c.protocolMap[b.ProtocolID]
		if !ok {
			return fmt.Errorf("binding for port %s references unknown protocol %s", b.PortName, b.ProtocolID)
		}
		c.bindingMap[b.PortName] = pr
	}
	return nil
}

// GetPort returns the Port configured under name.
func (c *SerialProxyConfig) GetPort(name string) (Port, bool) {
	p, ok := c.portMap[name]
	return p, ok
}

// GetProtocolForPort returns the protocol bound to a port, falling back to
// DefaultProtocol.
func (c *SerialProxyConfig) GetProtocolForPort(name string) (Protocol, bool) {
	if pr, ok := c.bindingMap[name]; ok {
		return pr, true
	}
	pr, ok := c.protocolMap[c.DefaultProtocol]
	return pr, ok
}
