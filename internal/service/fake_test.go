package service

import (
	"fmt"
	"net"
	"sync"
	"time"

	telenet "github.com/cubesat-eps/eps/tele/net"
)

type fakeConn struct {
	pool    *telenet.Pool
	dport   telenet.Port
	payload []byte
	readErr error
	sendErr error
	reply   chan []byte
	closed  chan struct{}
	once    sync.Once
	stat    telenet.SessionStat
}

var _ telenet.Conn = &fakeConn{}

func newFakeConn(pool *telenet.Pool, dport telenet.Port, payload []byte) *fakeConn {
	return &fakeConn{
		pool:    pool,
		dport:   dport,
		payload: payload,
		reply:   make(chan []byte, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(time.Duration) (*telenet.Packet, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	p, err := c.pool.Get()
	if err != nil {
		return nil, err
	}
	p.Src, p.Dst, p.SPort, p.DPort = telenet.AddrController, telenet.AddrNode, 20, c.dport
	if err = p.SetPayload(c.payload); err != nil {
		p.Free()
		return nil, err
	}
	return p, nil
}

func (c *fakeConn) Send(p *telenet.Packet, _ time.Duration) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.reply <- append([]byte(nil), p.Payload()...)
	p.Free()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) DPort() telenet.Port          { return c.dport }
func (c *fakeConn) RemoteAddr() net.Addr         { return nil }
func (c *fakeConn) SinceLastRecv() time.Duration { return 0 }
func (c *fakeConn) Stat() *telenet.SessionStat   { return &c.stat }
func (c *fakeConn) String() string               { return fmt.Sprintf("(fake dport=%d)", c.dport) }

type fakeSocket struct {
	listenErr error
	bindErr   error
	conns     chan telenet.Conn
	bound     chan string
	closed    chan struct{}
	once      sync.Once
}

var _ telenet.Socket = &fakeSocket{}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		conns:  make(chan telenet.Conn, 10),
		bound:  make(chan string, 10),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Listen(int) error { return s.listenErr }

func (s *fakeSocket) Bind(url string) error {
	s.bound <- url
	return s.bindErr
}

func (s *fakeSocket) Accept(timeout time.Duration) (telenet.Conn, error) {
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case c := <-s.conns:
		return c, nil
	case <-tmr.C:
		return nil, telenet.ErrTimeout
	case <-s.closed:
		return nil, telenet.ErrClosing
	}
}

func (s *fakeSocket) Addr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) Stat() *telenet.SessionStat { return nil }

// socketSeq returns results in order, last one repeats.
type socketSeq struct {
	sync.Mutex
	calls   int
	results []socketResult
}

type socketResult struct {
	sock *fakeSocket
	err  error
}

func (q *socketSeq) New(telenet.SocketOptions) (telenet.Socket, error) {
	q.Lock()
	defer q.Unlock()
	i := q.calls
	if i >= len(q.results) {
		i = len(q.results) - 1
	}
	q.calls++
	r := q.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.sock, nil
}

func (q *socketSeq) Calls() int {
	q.Lock()
	defer q.Unlock()
	return q.calls
}
