package driver

import (
	"encoding/json"
	goerrors "errors"
	"net/http"
	"strings"
	"testing"
	"time"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/serial"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
SerialProxy:
  DefaultProtocol: at
  Ports:
    - name: modem
      type: virtual
      timeoutMs: 10
    - name: meter
      type: virtual
      timeoutMs: 10
  Protocols:
    - id: at
      urcPrefixes: ["+EVENT:"]
    - id: customProto16
      urcTagOffset: 1
      urcTags: [0x80]
  Bindings:
    - portName: meter
      protocolId: customProto16
  Interface:
    pollIntervalMs: 10
    responseTimeoutMs: 500
`

// modem answers every AT command with OK, raises a URC for AT+RING and
// ignores AT+MUTE.
func modem(sent []byte) []byte {
	if strings.HasPrefix(string(sent), "AT+MUTE") {
		return nil
	}
	if strings.HasPrefix(string(sent), "AT+RING") {
		return []byte("OK\r\n+EVENT:ring\r\n")
	}
	return []byte("OK\r\n")
}

// meter echoes the frame with a response tag.
func meter(sent []byte) []byte {
	return []byte{0x16, 0x01, sent[2], 0x33}
}

type fixture struct {
	d        *UartDriver
	async    chan *dsModels.AsyncValues
	bindings map[string]*serial.VirtualBinding
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	f := &fixture{
		d:        newDriver(),
		async:    make(chan *dsModels.AsyncValues, 16),
		bindings: make(map[string]*serial.VirtualBinding),
	}
	responders := map[string]serial.Responder{"modem": modem, "meter": meter}
	f.d.newBinding = func(p config.Port, _ logger.LoggingClient) (uart.Binding, error) {
		v := serial.NewVirtualBinding(p.Name, p.ReadTimeout(), responders[p.Name])
		f.bindings[p.Name] = v
		return v, nil
	}
	require.NoError(t, f.d.setup(cfg, logger.NewMockClient(), f.async))
	require.NoError(t, f.d.Start())
	t.Cleanup(func() { _ = f.d.Stop(false) })
	return f
}

func props(port string) map[string]models.ProtocolProperties {
	return map[string]models.ProtocolProperties{protocolUART: {propertyPort: port}}
}

func (f *fixture) write(t *testing.T, device, v string) error {
	t.Helper()
	cv, err := dsModels.NewCommandValue(ResourceCommand, common.ValueTypeString, v)
	require.NoError(t, err)
	return f.d.HandleWriteCommands(device, nil, []dsModels.CommandRequest{{DeviceResourceName: ResourceCommand}}, []*dsModels.CommandValue{cv})
}

func (f *fixture) read(t *testing.T, device, resource string) (string, error) {
	t.Helper()
	res, err := f.d.HandleReadCommands(device, nil, []dsModels.CommandRequest{{DeviceResourceName: resource}})
	if err != nil {
		return "", err
	}
	require.Len(t, res, 1)
	return res[0].StringValue()
}

func TestDriver_CommandResponse(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.write(t, "modem", "AT"))
	assert.Equal(t, "AT\r\n", string(f.bindings["modem"].Sent()))

	v, err := f.read(t, "modem", ResourceResponse)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)

	v, err = f.read(t, "modem", ResourceLastResponse)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)

	_, err = f.read(t, "modem", ResourceResponse)
	require.Error(t, err)
	assert.Equal(t, errors.KindServiceUnavailable, errors.Kind(err))
}

func TestDriver_BinaryProtocol(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.write(t, "meter", "01 7f"))
	assert.Equal(t, []byte{0x16, 0x01, 0x7f, 0x33}, f.bindings["meter"].Sent())

	v, err := f.read(t, "meter", ResourceResponse)
	require.NoError(t, err)
	assert.Equal(t, "16017f33", v)

	err = f.write(t, "meter", "zz")
	require.Error(t, err)
	assert.Equal(t, errors.KindContractInvalid, errors.Kind(err))
}

func TestDriver_URCForwarding(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.d.AddDevice("gsm", props("modem"), models.Unlocked))

	require.NoError(t, f.write(t, "gsm", "AT+RING"))
	select {
	case av := <-f.async:
		assert.Equal(t, "gsm", av.DeviceName)
		assert.Equal(t, ResourceURC, av.SourceName)
		require.Len(t, av.CommandValues, 1)
		s, err := av.CommandValues[0].StringValue()
		require.NoError(t, err)
		assert.Equal(t, "+EVENT:ring", s)
	case <-time.After(time.Second):
		t.Fatal("no async URC reading")
	}

	v, err := f.read(t, "gsm", ResourceURC)
	require.NoError(t, err)
	assert.Equal(t, "+EVENT:ring", v)

	v, err = f.read(t, "gsm", ResourceResponse)
	require.NoError(t, err)
	assert.Equal(t, "OK", v, "the URC does not end up in the response queue")
}

func TestDriver_StatsAndState(t *testing.T) {
	f := newFixture(t)

	v, err := f.read(t, "modem", ResourceState)
	require.NoError(t, err)
	assert.Equal(t, "running", v)

	require.NoError(t, f.write(t, "modem", "AT"))
	_, err = f.read(t, "modem", ResourceResponse)
	require.NoError(t, err)

	v, err = f.read(t, "modem", ResourceStats)
	require.NoError(t, err)
	var st struct {
		State     string
		Worker    uart.WorkerStats
		Responses uart.QueueStats
	}
	require.NoError(t, json.Unmarshal([]byte(v), &st))
	assert.Equal(t, "running", st.State)
	assert.Equal(t, uint64(1), st.Worker.Responses)
	assert.Equal(t, uint64(1), st.Responses.Dequeued)
}

func TestDriver_Devices(t *testing.T) {
	f := newFixture(t)

	err := f.d.AddDevice("ghost", props("nowhere"), models.Unlocked)
	require.Error(t, err)
	assert.Equal(t, errors.KindEntityDoesNotExist, errors.Kind(err))

	require.NoError(t, f.d.ValidateDevice(models.Device{Name: "modem"}))
	assert.Error(t, f.d.ValidateDevice(models.Device{Name: "x", Protocols: props("nowhere")}))

	require.NoError(t, f.d.AddDevice("gsm", props("modem"), models.Unlocked))
	_, err = f.read(t, "gsm", ResourceState)
	require.NoError(t, err)

	require.NoError(t, f.d.RemoveDevice("gsm", nil))
	_, err = f.read(t, "gsm", ResourceState)
	assert.Equal(t, errors.KindEntityDoesNotExist, errors.Kind(err))

	_, err = f.read(t, "modem", "volume")
	assert.Equal(t, errors.KindEntityDoesNotExist, errors.Kind(err))

	_, err = f.read(t, "modem", ResourceURC)
	assert.Equal(t, errors.KindEntityDoesNotExist, errors.Kind(err), "no URC seen yet")
}

func TestDriver_StoppedPort(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.write(t, "modem", "AT"))
	_, err := f.read(t, "modem", ResourceResponse)
	require.NoError(t, err)
	require.NoError(t, f.d.Stop(false))

	_, err = f.read(t, "modem", ResourceLastResponse)
	assert.Equal(t, errors.KindEntityDoesNotExist, errors.Kind(err), "cache is dropped with the link")
	f.bindings["modem"].ResetSent()

	err = f.write(t, "modem", "AT")
	require.Error(t, err)
	assert.Equal(t, errors.KindServiceUnavailable, errors.Kind(err))
	assert.Empty(t, f.bindings["modem"].Sent())
}

func TestSession_Transact(t *testing.T) {
	f := newFixture(t)
	s, ok := f.d.lookup("modem")
	require.True(t, ok)

	reply, at, err := s.Transact([]byte("ATI"))
	require.NoError(t, err)
	assert.Equal(t, "OK\r\n", string(reply))
	assert.False(t, at.IsZero())
}

func TestSession_TransactErrors(t *testing.T) {
	f := newFixture(t)
	s, ok := f.d.lookup("modem")
	require.True(t, ok)

	code := func(err error) int {
		var e errors.EdgeX
		require.True(t, goerrors.As(err, &e), "%v is not an EdgeX error", err)
		return e.Code()
	}

	_, _, err := s.Transact([]byte("AT+MUTE"))
	require.Error(t, err)
	assert.Equal(t, errors.KindServiceUnavailable, errors.Kind(err))
	assert.Equal(t, http.StatusServiceUnavailable, code(err))

	f.bindings["modem"].SetSendFault(goerrors.New("tx underrun"))
	_, _, err = s.Transact([]byte("AT"))
	require.Error(t, err)
	assert.Equal(t, errors.KindCommunicationError, errors.Kind(err))
	assert.Equal(t, http.StatusBadGateway, code(err))
}

func TestInterfaceConfig(t *testing.T) {
	c, err := interfaceConfig(config.Interface{})
	require.NoError(t, err)
	assert.Equal(t, uart.DefaultConfig().URCPolicy, c.URCPolicy, "empty keeps defaults")
	assert.Equal(t, uart.DefaultRxQueueSize, c.RxQueueSize)

	c, err = interfaceConfig(config.Interface{RxQueueSize: 64, RxPolicy: "flow-control", Mode: "polled", URCPolicy: "fail"})
	require.NoError(t, err)
	assert.Equal(t, 64, c.RxQueueSize)
	assert.Equal(t, uart.ByteFlowControl, c.RxPolicy)
	assert.Equal(t, uart.Cooperative, c.Mode)
	assert.Equal(t, uart.QueueFail, c.URCPolicy)

	_, err = interfaceConfig(config.Interface{ResponsePolicy: "sometimes"})
	assert.Error(t, err)
}

func TestEdgexKind(t *testing.T) {
	assert.Equal(t, errors.KindCommunicationError, edgexKind(uart.ErrHardware))
	assert.Equal(t, errors.KindLimitExceeded, edgexKind(uart.ErrQueueFull))
	assert.Equal(t, errors.KindServiceUnavailable, edgexKind(uart.ErrTimeout))
	assert.Equal(t, errors.KindContractInvalid, edgexKind(uart.ErrMalformedFrame))
	assert.Equal(t, errors.KindServerError, edgexKind(assert.AnError))
}
