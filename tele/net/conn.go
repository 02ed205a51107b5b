package telenet

import (
	"context"
	"net"
	"time"

	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
)

const (
	DefaultAcceptTimeout  = 10 * time.Millisecond
	DefaultBacklog        = 10
	DefaultNetworkTimeout = 1000 * time.Millisecond
	DefaultReadLimit      = DefaultBufferSize
)

var (
	ErrClosing = errors.New("closing")
	ErrTimeout error = timeoutError{}
)

// Conn carries one request and one reply.
type Conn interface {
	Close() error
	Closed() bool
	// DPort is destination port of last received packet, PortAny before first Read.
	DPort() Port
	// Read returns packet from pool, caller must Free it or pass to Send.
	Read(timeout time.Duration) (*Packet, error)
	RemoteAddr() net.Addr
	// Send takes packet ownership on success. On error caller still owns p.
	// Zero p.Dst and p.DPort are filled from last received packet, as reply.
	Send(p *Packet, timeout time.Duration) error
	// SinceLastRecv is time since last received packet or connection start.
	SinceLastRecv() time.Duration
	Stat() *SessionStat
	String() string
}

type ConnOptions struct {
	Log  *log2.Log
	Node Addr
	Pool *Pool

	NetworkTimeout time.Duration
	ReadLimit      uint32
}

func (opt *ConnOptions) fillDefaults() {
	if opt.Node == AddrAny {
		opt.Node = AddrNode
	}
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = DefaultReadLimit
	}
}

func DialContext(ctx context.Context, dialer net.Dialer, url string, opt ConnOptions) (Conn, error) {
	if opt.Pool == nil {
		return nil, errors.NotValidf("code error ConnOptions.Pool=nil")
	}
	opt.fillDefaults()
	if dialer.Timeout == 0 {
		dialer.Timeout = opt.NetworkTimeout
	}
	if deadline, _ := ctx.Deadline(); !deadline.IsZero() {
		if timeout := time.Until(deadline); timeout > 0 && timeout < dialer.Timeout {
			dialer.Timeout = timeout
		} else if timeout < 0 {
			return nil, context.Canceled
		}
	}

	scheme, address, err := parseURI(url)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, scheme, address)
	if err != nil {
		return nil, err
	}
	return NewStreamConn(conn, opt), nil
}
