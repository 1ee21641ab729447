// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface
// that exposes every configured serial port as EdgeX device resources.
package driver

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/mqtt"
	"github.com/linjuya-lu/uart_interface_go/internal/serial"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

const defaultConfigPath = "./res/configuration.yaml"

// Device resources.
const (
	ResourceCommand      = "command"      // write: encode and send
	ResourceResponse     = "response"     // read: next response, waits ResponseTimeoutMs
	ResourceLastResponse = "lastResponse" // read: cached
	ResourceURC          = "urc"          // read: last URC; also pushed as async readings
	ResourceStats        = "stats"        // read: JSON counters
	ResourceState        = "state"        // read: interface run state
)

// Protocol property naming the port a device is attached to. Without it
// the device name is taken as the port name.
const (
	protocolUART = "UART"
	propertyPort = "Port"
)

type bindingFactory func(config.Port, logger.LoggingClient) (uart.Binding, error)

type UartDriver struct {
	lc         logger.LoggingClient
	asyncCh    chan<- *dsModels.AsyncValues
	locker     sync.Mutex
	sdk        interfaces.DeviceServiceSDK
	mqttClient *mqtt.Client

	configPath string
	newBinding bindingFactory
	cfg        *config.SerialProxyConfig
	sessions   map[string]*session
	devices    map[string]string // device → port
	db         *DB
}

var once sync.Once
var driver *UartDriver

func NewUartDeviceDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = newDriver()
	})
	return driver
}

func newDriver() *UartDriver {
	return &UartDriver{
		configPath: defaultConfigPath,
		newBinding: serial.NewBinding,
		sessions:   make(map[string]*session),
		devices:    make(map[string]string),
		db:         NewDB(),
	}
}

func (d *UartDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	cfg, err := config.LoadConfig(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load serial proxy configuration: %w", err)
	}
	return d.setup(cfg, sdk.LoggingClient(), sdk.AsyncValuesChannel())
}

// setup builds one session per configured port and connects to the broker
// when one is configured.
func (d *UartDriver) setup(cfg *config.SerialProxyConfig, lc logger.LoggingClient, asyncCh chan<- *dsModels.AsyncValues) error {
	d.lc = lc
	d.asyncCh = asyncCh
	d.cfg = cfg

	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewClient(mqtt.OptionsFromConfig(cfg.MQTT))
		if err != nil {
			return fmt.Errorf("failed to connect MQTT broker: %w", err)
		}
		d.mqttClient = client
	}

	for _, pc := range cfg.Ports {
		b, err := d.newBinding(pc, lc)
		if err != nil {
			return fmt.Errorf("unsupported port %s: %w", pc.Name, err)
		}
		s, err := newSession(cfg, pc, b, lc)
		if err != nil {
			return err
		}
		if d.mqttClient != nil {
			s.bridge = mqtt.NewBridge(pc.Name, mqtt.Topics{
				Request:  s.proto.RequestTopic,
				Response: s.proto.ResponseTopic,
				URC:      s.proto.URCTopic,
			}, d.mqttClient, s, lc)
		}
		d.sessions[pc.Name] = s
	}
	return nil
}

// Start opens every port. A port that fails to open is logged and left
// stopped so that the remaining ports keep working.
func (d *UartDriver) Start() error {
	started := 0
	sessions := d.snapshot()
	for name, s := range sessions {
		if err := s.start(d.onURC); err != nil {
			d.lc.Errorf("port %s: %v", name, err)
			continue
		}
		if s.bridge != nil {
			if err := s.bridge.Serve(); err != nil {
				d.lc.Errorf("port %s: %v", name, err)
			}
		}
		started++
	}
	d.lc.Infof("serial proxy started, %d of %d ports open", started, len(sessions))
	return nil
}

func (d *UartDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	s, err := d.session(deviceName, protocols)
	if err != nil {
		return nil, err
	}

	res := make([]*dsModels.CommandValue, 0, len(reqs))
	for _, req := range reqs {
		v, err := d.read(s, req.DeviceResourceName)
		if err != nil {
			return nil, err
		}
		cv, err := dsModels.NewCommandValue(req.DeviceResourceName, common.ValueTypeString, v)
		if err != nil {
			return nil, errors.NewCommonEdgeXWrapper(err)
		}
		res = append(res, cv)
		d.lc.Debugf("read %s.%s = %q", deviceName, req.DeviceResourceName, v)
	}
	return res, nil
}

func (d *UartDriver) read(s *session, resource string) (string, error) {
	switch resource {
	case ResourceResponse:
		s.txMu.Lock()
		m, err := s.iface.ReceiveResponse(s.timeout)
		s.txMu.Unlock()
		if err != nil {
			return "", toEdgeX(fmt.Sprintf("no response on port %s", s.name), err)
		}
		d.db.Put(s.name, ResourceResponse, m.Payload, m.Received)
		return s.format(m.Payload), nil
	case ResourceLastResponse:
		e, err := d.db.Get(s.name, ResourceResponse)
		if err != nil {
			return "", err
		}
		return s.format(e.Value), nil
	case ResourceURC:
		e, err := d.db.Get(s.name, ResourceURC)
		if err != nil {
			return "", err
		}
		return s.format(e.Value), nil
	case ResourceStats:
		b, err := json.Marshal(s.iface.Stats())
		if err != nil {
			return "", errors.NewCommonEdgeXWrapper(err)
		}
		return string(b), nil
	case ResourceState:
		return s.iface.State().String(), nil
	}
	return "", errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("unknown resource %s", resource), nil)
}

func (d *UartDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	s, err := d.session(deviceName, protocols)
	if err != nil {
		return err
	}

	for i, req := range reqs {
		if req.DeviceResourceName != ResourceCommand {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("resource %s is read-only", req.DeviceResourceName), nil)
		}
		v, err := params[i].StringValue()
		if err != nil {
			return errors.NewCommonEdgeXWrapper(err)
		}
		payload, err := s.parse(v)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid, "invalid command", err)
		}
		s.txMu.Lock()
		err = s.send(payload)
		s.txMu.Unlock()
		if err != nil {
			return toEdgeX(fmt.Sprintf("failed to send to port %s", s.name), err)
		}
		d.lc.Debugf("write %s.%s = %q", deviceName, req.DeviceResourceName, v)
	}
	return nil
}

// onURC caches a URC, publishes it to MQTT and pushes it as an async
// reading to every device attached to the port.
func (d *UartDriver) onURC(s *session, m uart.Message) {
	d.db.Put(s.name, ResourceURC, m.Payload, m.Received)

	if s.bridge != nil {
		if err := s.bridge.PublishURC(m.Payload, m.Received); err != nil {
			d.lc.Warnf("port %s: publish URC: %v", s.name, err)
		}
	}
	if d.asyncCh == nil {
		return
	}
	for _, dev := range d.devicesOn(s.name) {
		cv, err := dsModels.NewCommandValue(ResourceURC, common.ValueTypeString, s.format(m.Payload))
		if err != nil {
			d.lc.Errorf("port %s: %v", s.name, err)
			return
		}
		cv.Origin = m.Received.UnixNano()
		d.asyncCh <- &dsModels.AsyncValues{
			DeviceName:    dev,
			SourceName:    ResourceURC,
			CommandValues: []*dsModels.CommandValue{cv},
		}
	}
}

func (d *UartDriver) Stop(force bool) error {
	// the URC forwarders take the lock, so sessions are stopped without it
	for name, s := range d.snapshot() {
		if err := s.stop(); err != nil {
			d.lc.Warnf("port %s: %v", name, err)
		}
		// cached readings do not outlive the link
		d.db.Forget(s.name)
	}
	if d.mqttClient != nil {
		var quiesce uint = 250
		if force {
			quiesce = 0
		}
		d.mqttClient.Disconnect(quiesce)
	}
	d.lc.Info("serial proxy stopped")
	return nil
}

func (d *UartDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	port := portOf(deviceName, protocols)
	if _, ok := d.lookup(port); !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("device %s refers to unknown port %s", deviceName, port), nil)
	}
	d.locker.Lock()
	d.devices[deviceName] = port
	d.locker.Unlock()
	d.lc.Debugf("device %s attached to port %s", deviceName, port)
	return nil
}

func (d *UartDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("Device %s is updated", deviceName)
	return d.AddDevice(deviceName, protocols, adminState)
}

func (d *UartDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.locker.Lock()
	delete(d.devices, deviceName)
	d.locker.Unlock()
	d.lc.Debugf("Device %s is removed", deviceName)
	return nil
}

func (d *UartDriver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

func (d *UartDriver) ValidateDevice(device models.Device) error {
	port := portOf(device.Name, device.Protocols)
	if _, ok := d.lookup(port); !ok {
		return errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("port %s is not configured", port), nil)
	}
	return nil
}

func (d *UartDriver) session(deviceName string, protocols map[string]models.ProtocolProperties) (*session, error) {
	d.locker.Lock()
	port, ok := d.devices[deviceName]
	d.locker.Unlock()
	if !ok {
		port = portOf(deviceName, protocols)
	}
	s, ok := d.lookup(port)
	if !ok {
		return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("no port %s for device %s", port, deviceName), nil)
	}
	return s, nil
}

func (d *UartDriver) snapshot() map[string]*session {
	d.locker.Lock()
	defer d.locker.Unlock()
	out := make(map[string]*session, len(d.sessions))
	for k, v := range d.sessions {
		out[k] = v
	}
	return out
}

func (d *UartDriver) lookup(port string) (*session, bool) {
	d.locker.Lock()
	defer d.locker.Unlock()
	s, ok := d.sessions[port]
	return s, ok
}

func (d *UartDriver) devicesOn(port string) []string {
	d.locker.Lock()
	defer d.locker.Unlock()
	var out []string
	for dev, p := range d.devices {
		if p == port {
			out = append(out, dev)
		}
	}
	return out
}

func portOf(deviceName string, protocols map[string]models.ProtocolProperties) string {
	if pp, ok := protocols[protocolUART]; ok {
		if v, ok := pp[propertyPort].(string); ok && v != "" {
			return v
		}
	}
	return deviceName
}
