// Package mirror publishes every served telemetry record to MQTT broker,
// so ground tooling can watch the node without talking to it directly.
package mirror

import (
	"expvar"
	"fmt"
	"time"

	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

const (
	DefaultTimeout   = 2 * time.Second
	DefaultKeepalive = 60 * time.Second
)

type Options struct {
	Log      *log2.Log
	Broker   string
	ClientID string
	Node     telenet.Addr
	// Topic overrides "eps/<node>/telemetry"
	Topic     string
	Timeout   time.Duration
	KeepAlive time.Duration

	// NewClient is mqtt.NewClient unless replaced in tests.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type Stat struct {
	Published expvar.Int
	Error     expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"published":%d,"error":%d}`, s.Published.Value(), s.Error.Value())
}

type Mirror struct {
	log          *log2.Log
	m            mqtt.Client
	mopt         *mqtt.ClientOptions
	timeout      time.Duration
	topicConnect string
	topic        string
	stat         Stat
}

func Topic(node telenet.Addr) string { return fmt.Sprintf("eps/%d/telemetry", node) }

func New(opt Options) (*Mirror, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("mirror broker empty")
	}
	if opt.Node == telenet.AddrAny {
		opt.Node = telenet.AddrNode
	}
	if opt.ClientID == "" {
		opt.ClientID = fmt.Sprintf("eps%d", opt.Node)
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	self := &Mirror{
		log:          opt.Log,
		timeout:      opt.Timeout,
		topicConnect: fmt.Sprintf("eps/%d/c", opt.Node),
		topic:        opt.Topic,
	}
	if self.timeout <= 0 {
		self.timeout = DefaultTimeout
	}
	if self.topic == "" {
		self.topic = Topic(opt.Node)
	}
	if opt.KeepAlive <= 0 {
		opt.KeepAlive = DefaultKeepalive
	}
	self.mopt = mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicConnect, []byte{0x00}, 1, true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetConnectTimeout(self.timeout).
		SetKeepAlive(opt.KeepAlive).
		SetOrderMatters(false).
		SetWriteTimeout(self.timeout).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = opt.NewClient(self.mopt)
	return self, nil
}

// Connect does not fail when broker is unreachable, paho keeps reconnecting.
func (self *Mirror) Connect() {
	token := self.m.Connect()
	if !token.WaitTimeout(self.timeout) {
		self.log.Infof("mirror connect in progress")
		return
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("mirror connect err=%v", err)
	}
}

func (self *Mirror) Close() {
	if self.m.IsConnected() {
		token := self.m.Publish(self.topicConnect, 1, true, []byte{0x00})
		token.WaitTimeout(self.timeout)
	}
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
}

func (self *Mirror) Stat() *Stat  { return &self.stat }
func (self *Mirror) Topic() string { return self.topic }

// Publish sends encoded record with QoS 0, not retained.
func (self *Mirror) Publish(r telemetry.Record) error {
	payload, _ := r.MarshalBinary()
	token := self.m.Publish(self.topic, 0, false, payload)
	if !token.WaitTimeout(self.timeout) {
		self.stat.Error.Add(1)
		return errors.Timeoutf("mirror publish topic=%s", self.topic)
	}
	if err := token.Error(); err != nil {
		self.stat.Error.Add(1)
		return errors.Annotatef(err, "mirror publish topic=%s", self.topic)
	}
	self.stat.Published.Add(1)
	return nil
}

// OnReply is request service hook, mirrors only telemetry port replies.
// Publish runs in background, request loop must not wait for broker.
func (self *Mirror) OnReply(port telenet.Port, r telemetry.Record) {
	if port != telenet.PortPing {
		return
	}
	go func() {
		if err := self.Publish(r); err != nil {
			self.log.Error(errors.Annotate(err, "mirror"))
		}
	}()
}

func (self *Mirror) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connect")
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}

func (self *Mirror) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("mqtt disconnect err=%v", err)
}

// SetLogger routes paho internal errors to log.
func SetLogger(log *log2.Log) {
	if log == nil {
		return
	}
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
}
