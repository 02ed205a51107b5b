package mirror

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockToken struct {
	err  error
	done bool
}

func (t mockToken) Wait() bool                     { return t.done }
func (t mockToken) WaitTimeout(time.Duration) bool { return t.done }
func (t mockToken) Error() error                   { return t.err }

type mockMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type mockClient struct {
	mqtt.Client // not implemented methods panic
	sync.Mutex
	opt       *mqtt.ClientOptions
	pub       chan mockMsg
	token     mockToken
	connected bool
}

func (m *mockClient) Connect() mqtt.Token {
	m.Lock()
	m.connected = m.token.err == nil
	m.Unlock()
	return m.token
}
func (m *mockClient) Disconnect(uint) {
	m.Lock()
	m.connected = false
	m.Unlock()
}
func (m *mockClient) IsConnected() bool {
	m.Lock()
	defer m.Unlock()
	return m.connected
}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.pub <- mockMsg{topic, qos, retained, payload.([]byte)}
	return m.token
}

func newTestMirror(t testing.TB, token mockToken) (*Mirror, *mockClient) {
	mock := &mockClient{pub: make(chan mockMsg, 8), token: token}
	m, err := New(Options{
		Log:    log2.NewTest(t, log2.LDebug),
		Broker: "tcp://127.0.0.1:1883",
		Node:   8,
		NewClient: func(opt *mqtt.ClientOptions) mqtt.Client {
			mock.opt = opt
			return mock
		},
	})
	require.NoError(t, err)
	return m, mock
}

func TestPublish(t *testing.T) {
	t.Parallel()
	m, mock := newTestMirror(t, mockToken{done: true})
	assert.Equal(t, "eps/8/telemetry", m.Topic())
	assert.Equal(t, "eps8", mock.opt.ClientID)

	require.NoError(t, m.Publish(telemetry.Record{Status: 1, Temperature: -5}))
	msg := <-mock.pub
	assert.Equal(t, mockMsg{"eps/8/telemetry", 0, false, []byte{0x01, 0xfb}}, msg)
	assert.Equal(t, int64(1), m.Stat().Published.Value())
}

func TestPublishError(t *testing.T) {
	t.Parallel()
	m, mock := newTestMirror(t, mockToken{done: true, err: fmt.Errorf("not connected")})
	err := m.Publish(telemetry.Sentinel)
	<-mock.pub
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Equal(t, int64(1), m.Stat().Error.Value())

	m, mock = newTestMirror(t, mockToken{done: false})
	err = m.Publish(telemetry.Sentinel)
	<-mock.pub
	assert.True(t, errors.IsTimeout(err))
}

func TestOnReply(t *testing.T) {
	t.Parallel()
	m, mock := newTestMirror(t, mockToken{done: true})

	m.OnReply(telenet.PortData, telemetry.Sentinel)
	m.OnReply(telenet.PortPing, telemetry.Record{Status: 1, Temperature: 25})
	select {
	case msg := <-mock.pub:
		assert.Equal(t, []byte{0x01, 0x19}, msg.payload)
	case <-time.After(5 * time.Second):
		t.Fatal("mirror did not publish")
	}
	select {
	case msg := <-mock.pub:
		t.Errorf("unexpected publish %v", msg)
	default:
	}
}

func TestConnectClose(t *testing.T) {
	t.Parallel()
	m, mock := newTestMirror(t, mockToken{done: true})
	m.Connect()
	assert.True(t, mock.IsConnected())
	m.onConnectHandler(mock)
	assert.Equal(t, mockMsg{"eps/8/c", 1, true, []byte{0x01}}, <-mock.pub)

	m.Close()
	assert.Equal(t, mockMsg{"eps/8/c", 1, true, []byte{0x00}}, <-mock.pub)
	assert.False(t, mock.IsConnected())
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	assert.True(t, errors.IsNotValid(err))
}
