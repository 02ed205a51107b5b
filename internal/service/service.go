// Package service is the node request loop: accept connection, read one request,
// dispatch by destination port, send fixed size telemetry reply, close.
package service

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubesat-eps/eps/helpers"
	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const (
	DefaultURL        = "tcp://:7001"
	DefaultBackoffMin = 100 * time.Millisecond
	DefaultBackoffMax = 5 * time.Second
)

var ErrStopped = errors.New("service stopped")

type Options struct {
	Log            *log2.Log
	Node           telenet.Addr
	URL            string
	Backlog        int
	AcceptTimeout  time.Duration
	NetworkTimeout time.Duration
	ReadLimit      uint32
	Pool           *telenet.Pool

	// OnReply is called after reply is sent.
	OnReply func(port telenet.Port, r telemetry.Record)
	// NewSocket is telenet.NewSocket unless replaced in tests.
	NewSocket func(telenet.SocketOptions) (telenet.Socket, error)
	Backoff   helpers.Backoff
}

type Stat struct {
	Accepted      expvar.Int
	Served        expvar.Int
	Unknown       expvar.Int // no handler for port, sentinel reply
	Fault         expvar.Int // handler error, fault reply
	ReadError     expvar.Int
	SendError     expvar.Int
	EndpointError expvar.Int // socket create/bind/accept
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"accepted":%d,"served":%d,"unknown":%d,"fault":%d,"read_error":%d,"send_error":%d,"endpoint_error":%d}`,
		s.Accepted.Value(), s.Served.Value(), s.Unknown.Value(), s.Fault.Value(),
		s.ReadError.Value(), s.SendError.Value(), s.EndpointError.Value())
}

type Service struct {
	alive    *alive.Alive
	handlers struct {
		sync.RWMutex
		m map[telenet.Port]Handler
	}
	log     *log2.Log
	opt     Options
	running uint32
	state   uint32
	stat    Stat

	sockLk sync.Mutex
	sock   telenet.Socket // written only by Run goroutine

	// owned by Run goroutine
	conn   telenet.Conn
	packet *telenet.Packet
	port   telenet.Port
	record telemetry.Record

	XXX_testHook func(State)
}

func New(opt Options) *Service {
	if opt.Node == telenet.AddrAny {
		opt.Node = telenet.AddrNode
	}
	if opt.URL == "" {
		opt.URL = DefaultURL
	}
	if opt.Backlog <= 0 {
		opt.Backlog = telenet.DefaultBacklog
	}
	if opt.AcceptTimeout <= 0 {
		opt.AcceptTimeout = telenet.DefaultAcceptTimeout
	}
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = telenet.DefaultNetworkTimeout
	}
	if opt.Pool == nil {
		opt.Pool = telenet.NewPool(telenet.DefaultBufferCount, telenet.DefaultBufferSize)
	}
	if opt.NewSocket == nil {
		opt.NewSocket = telenet.NewSocket
	}
	if opt.Backoff.Min == 0 {
		opt.Backoff.Min = DefaultBackoffMin
	}
	if opt.Backoff.Max == 0 {
		opt.Backoff.Max = DefaultBackoffMax
	}
	if opt.Backoff.K == 0 {
		opt.Backoff.K = 2
	}
	s := &Service{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}
	s.handlers.m = make(map[telenet.Port]Handler)
	return s
}

func (s *Service) Register(port telenet.Port, h Handler) {
	helpers.WithLock(&s.handlers, func() {
		if h == nil {
			delete(s.handlers.m, port)
			return
		}
		s.handlers.m[port] = h
	})
}

func (s *Service) Unregister(port telenet.Port) { s.Register(port, nil) }

func (s *Service) handler(port telenet.Port) Handler {
	s.handlers.RLock()
	defer s.handlers.RUnlock()
	return s.handlers.m[port]
}

func (s *Service) Pool() *telenet.Pool { return s.opt.Pool }
func (s *Service) Stat() *Stat         { return &s.stat }
func (s *Service) State() State        { return State(atomic.LoadUint32(&s.state)) }
func (s *Service) setState(new State)  { atomic.StoreUint32(&s.state, uint32(new)) }

// Addr of bound endpoint, empty when not bound.
func (s *Service) Addr() string {
	if sock := s.currentSocket(); sock != nil {
		if addr := sock.Addr(); addr != nil {
			return addr.String()
		}
	}
	return ""
}

func (s *Service) Alive() *alive.Alive       { return s.alive }
func (s *Service) Stop()                     { s.alive.Stop() }
func (s *Service) StopChan() <-chan struct{} { return s.alive.StopChan() }
func (s *Service) Wait()                     { s.alive.Wait() }

// Run blocks until ctx is cancelled or Stop().
// Endpoint failures are logged and retried, they never end the loop.
func (s *Service) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&s.running, 0, 1) {
		return errors.Errorf("code error service Run twice")
	}
	if !s.alive.Add(1) {
		return ErrStopped
	}
	defer s.alive.Done()
	go func() {
		select {
		case <-ctx.Done():
			s.alive.Stop()
		case <-s.alive.StopChan():
		}
	}()

	next := StateIdle
	for next != StateStop && s.alive.IsRunning() {
		current := s.State()
		next = s.enter(ctx, current)
		if !s.alive.IsRunning() {
			s.log.Debugf("service loop stopping")
			next = StateStop
		}
		s.setState(next)
		if s.XXX_testHook != nil {
			s.XXX_testHook(next)
		}
	}
	s.cleanup()
	s.setState(StateStop)
	s.log.Debugf("service loop end")
	return nil
}

func (s *Service) enter(ctx context.Context, current State) State {
	switch current {
	case StateIdle:
		if err := s.openEndpoint(); err != nil {
			s.stat.EndpointError.Add(1)
			delay := s.opt.Backoff.DelayAfter(false)
			s.log.Errorf("endpoint url=%s err=%v retry in %v", s.opt.URL, err, delay)
			s.sleep(delay)
			return StateIdle
		}
		s.opt.Backoff.Reset()
		return StateListening

	case StateListening:
		return StateAccepting

	case StateAccepting:
		conn, err := s.sock.Accept(s.opt.AcceptTimeout)
		switch {
		case err == nil:
			s.stat.Accepted.Add(1)
			s.conn = conn
			return StateProcessing
		case telenet.IsTimeout(err):
			return StateListening
		case !s.alive.IsRunning():
			return StateStop
		}
		s.stat.EndpointError.Add(1)
		delay := s.opt.Backoff.DelayAfter(false)
		s.log.Errorf("accept err=%v retry in %v", err, delay)
		s.closeEndpoint()
		s.sleep(delay)
		return StateIdle

	case StateProcessing:
		if !s.process(ctx) {
			return StateClosed
		}
		return StateResponding

	case StateResponding:
		s.respond()
		return StateClosed

	case StateClosed:
		if s.packet != nil {
			s.packet.Free()
			s.packet = nil
		}
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		return StateListening
	}
	panic(fmt.Sprintf("code error service enter state=%s", current.String()))
}

func (s *Service) openEndpoint() error {
	sock, err := s.opt.NewSocket(telenet.SocketOptions{
		ConnOptions: telenet.ConnOptions{
			Log:            s.log,
			Node:           s.opt.Node,
			Pool:           s.opt.Pool,
			NetworkTimeout: s.opt.NetworkTimeout,
			ReadLimit:      s.opt.ReadLimit,
		},
		Backlog: s.opt.Backlog,
	})
	if err != nil {
		return errors.Annotate(err, "socket")
	}
	if err = sock.Listen(s.opt.Backlog); err != nil {
		// bind is still attempted, accepted connections just use default backlog
		s.stat.EndpointError.Add(1)
		s.log.Errorf("listen backlog=%d err=%v", s.opt.Backlog, err)
	}
	if err = sock.Bind(s.opt.URL); err != nil {
		_ = sock.Close()
		return errors.Annotate(err, "bind")
	}
	s.setSocket(sock)
	s.log.Infof("listen url=%s addr=%s", s.opt.URL, s.Addr())
	return nil
}

func (s *Service) closeEndpoint() {
	if sock := s.currentSocket(); sock != nil {
		s.setSocket(nil)
		if err := sock.Close(); err != nil {
			s.log.Errorf("endpoint close err=%v", err)
		}
	}
}

// process reads request and fills s.record. False means nothing to reply.
func (s *Service) process(ctx context.Context) bool {
	p, err := s.conn.Read(s.opt.NetworkTimeout)
	if err != nil {
		s.stat.ReadError.Add(1)
		s.log.Errorf("read conn=%s idle=%v err=%v", s.conn.String(), s.conn.SinceLastRecv(), err)
		return false
	}
	s.packet = p
	s.port = s.conn.DPort()

	h := s.handler(s.port)
	if h == nil {
		s.stat.Unknown.Add(1)
		s.log.Debugf("port=%d no handler, sentinel reply", s.port)
		s.record = telemetry.Sentinel
		return true
	}
	hctx, cancel := context.WithTimeout(ctx, s.opt.NetworkTimeout)
	defer cancel()
	s.record, err = h.Handle(hctx, p)
	if err != nil {
		s.stat.Fault.Add(1)
		s.log.Error(errors.Annotatef(err, "port=%d handler", s.port))
		s.record = telemetry.FaultRecord
	}
	return true
}

func (s *Service) respond() {
	p := s.packet
	n, err := s.record.PutBinary(p.Data)
	if err != nil {
		s.stat.SendError.Add(1)
		s.log.Error(errors.Annotate(err, "reply encode"))
		return
	}
	p.Length = uint16(n)
	p.Dst, p.DPort, p.SPort = telenet.AddrAny, telenet.PortAny, telenet.PortAny
	if err = s.conn.Send(p, s.opt.NetworkTimeout); err != nil {
		// packet still ours, freed in Closed
		s.stat.SendError.Add(1)
		s.log.Errorf("send conn=%s err=%v", s.conn.String(), err)
		return
	}
	s.packet = nil
	s.stat.Served.Add(1)
	s.log.Debugf("reply port=%d record=%s", s.port, s.record.String())
	if s.opt.OnReply != nil {
		s.opt.OnReply(s.port, s.record)
	}
}

func (s *Service) cleanup() {
	if s.packet != nil {
		s.packet.Free()
		s.packet = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.closeEndpoint()
}

func (s *Service) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
	case <-s.alive.StopChan():
	}
}

func (s *Service) currentSocket() telenet.Socket {
	s.sockLk.Lock()
	defer s.sockLk.Unlock()
	return s.sock
}

func (s *Service) setSocket(sock telenet.Socket) {
	s.sockLk.Lock()
	s.sock = sock
	s.sockLk.Unlock()
}
