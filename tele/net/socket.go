package telenet

import (
	"net"
	"sync"
	"time"

	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

// Socket is listening endpoint, node side.
type Socket interface {
	// Listen sets maximum number of accepted connections waiting for Accept.
	Listen(backlog int) error
	// Bind starts listening on url, tcp://host:port or unix:///path.
	// Empty host is wildcard.
	Bind(url string) error
	// Accept returns ErrTimeout if no connection arrived within timeout.
	Accept(timeout time.Duration) (Conn, error)
	Addr() net.Addr
	Close() error
	Stat() *SessionStat
}

type SocketOptions struct {
	ConnOptions
	Backlog int
}

type streamSocket struct {
	sync.Mutex
	alive   *alive.Alive
	backlog int
	ll      net.Listener
	log     *log2.Log
	opt     SocketOptions
	pending chan Conn
	stat    SessionStat
}

var _ Socket = &streamSocket{}

func NewSocket(opt SocketOptions) (Socket, error) {
	if opt.Pool == nil {
		return nil, errors.NotValidf("code error SocketOptions.Pool=nil")
	}
	opt.fillDefaults()
	s := &streamSocket{
		alive:   alive.NewAlive(),
		backlog: opt.Backlog,
		log:     opt.Log,
		opt:     opt,
	}
	if s.backlog <= 0 {
		s.backlog = DefaultBacklog
	}
	return s, nil
}

func (s *streamSocket) Listen(backlog int) error {
	if backlog <= 0 {
		return errors.NotValidf("backlog=%d", backlog)
	}
	s.Lock()
	defer s.Unlock()
	if s.ll != nil {
		return errors.Errorf("Listen after Bind")
	}
	s.backlog = backlog
	return nil
}

func (s *streamSocket) Bind(url string) error {
	scheme, address, err := parseURI(url)
	if err != nil {
		return errors.Annotate(err, "parse url")
	}

	s.Lock()
	defer s.Unlock()
	if !s.alive.IsRunning() {
		return ErrClosing
	}
	if s.ll != nil {
		return errors.Errorf("already bound to %s", addrString(s.ll.Addr()))
	}
	if !s.alive.Add(1) {
		return ErrClosing
	}
	ll, err := net.Listen(scheme, address)
	if err != nil {
		s.alive.Done()
		return errors.Annotatef(err, "net.Listen network=%s address=%s", scheme, address)
	}
	s.ll = ll
	s.pending = make(chan Conn, s.backlog)
	s.log.Debugf("bind url=%s addr=%s backlog=%d", url, addrString(ll.Addr()), s.backlog)
	go s.acceptLoop(ll, s.pending)
	return nil
}

func (s *streamSocket) Accept(timeout time.Duration) (Conn, error) {
	s.Lock()
	pending := s.pending
	s.Unlock()
	if pending == nil {
		return nil, errors.Errorf("Accept before Bind")
	}
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case conn := <-pending:
		return conn, nil
	case <-tmr.C:
		return nil, ErrTimeout
	case <-s.alive.StopChan():
		return nil, ErrClosing
	}
}

func (s *streamSocket) Addr() net.Addr {
	s.Lock()
	defer s.Unlock()
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

func (s *streamSocket) Close() error {
	s.alive.Stop()
	s.Lock()
	ll, pending := s.ll, s.pending
	s.Unlock()
	var err error
	if ll != nil {
		err = ll.Close()
	}
	s.alive.Wait()
	if pending != nil {
		for {
			select {
			case conn := <-pending:
				_ = conn.Close()
				continue
			default:
			}
			break
		}
	}
	return err
}

func (s *streamSocket) Stat() *SessionStat { return &s.stat }

func (s *streamSocket) acceptLoop(ll net.Listener, pending chan<- Conn) {
	defer s.alive.Done()
	for {
		netConn, err := ll.Accept()
		if !s.alive.IsRunning() {
			if netConn != nil {
				_ = netConn.Close()
			}
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				s.log.Errorf("accept err=%v", err)
				time.Sleep(DefaultAcceptTimeout)
				continue
			}
			s.log.Errorf("accept err=%v", err)
			s.stat.Error.Add(1)
			s.alive.Stop()
			return
		}

		conn := NewStreamConn(netConn, s.opt.ConnOptions)
		s.stat.Conn.Add(1)
		select {
		case pending <- conn:
		default:
			s.stat.Drop.Add(1)
			s.log.Errorf("backlog=%d full, drop remote=%s", s.backlog, addrString(netConn.RemoteAddr()))
			_ = conn.Close()
		}
	}
}
