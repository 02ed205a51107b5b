package telenet

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
)

// Client is controller side. One connection per request, like node expects.
type Client struct {
	opt   ClientOptions
	pool  *Pool
	sport uint32
	stat  SessionStat
}

type ClientOptions struct {
	ConnOptions
	URL    string
	Dialer net.Dialer
}

// ephemeral source ports, same range as CSP
const (
	clientPortMin = 16
	clientPortMax = 63
)

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Node == AddrAny {
		opt.Node = AddrController
	}
	opt.fillDefaults()
	if _, _, err := parseURI(opt.URL); err != nil {
		return nil, errors.Annotatef(err, "config error URL=%s", opt.URL)
	}
	c := &Client{
		opt:   opt,
		pool:  opt.Pool,
		sport: clientPortMin - 1,
	}
	if c.pool == nil {
		c.pool = NewPool(DefaultBufferCount, DefaultBufferSize)
		c.opt.Pool = c.pool
	}
	return c, nil
}

func (c *Client) Stat() *SessionStat { return &c.stat }

// Request sends payload to dst:dport and returns reply payload.
func (c *Client) Request(ctx context.Context, dst Addr, dport Port, payload []byte) ([]byte, error) {
	timeout := c.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, errors.Annotate(context.DeadlineExceeded, "request")
	}

	conn, err := DialContext(ctx, c.opt.Dialer, c.opt.URL, c.opt.ConnOptions)
	if err != nil {
		c.stat.Error.Add(1)
		return nil, errors.Annotatef(err, "dial url=%s", c.opt.URL)
	}
	defer func() {
		_ = conn.Close()
		c.stat.Add(conn.Stat())
	}()

	p, err := c.pool.Get()
	if err != nil {
		return nil, errors.Annotate(err, "request")
	}
	if err = p.SetPayload(payload); err != nil {
		p.Free()
		return nil, errors.Annotate(err, "request")
	}
	p.Dst, p.DPort, p.SPort = dst, dport, c.nextPort()
	if err = conn.Send(p, timeout); err != nil {
		p.Free()
		return nil, errors.Annotate(err, "request")
	}

	reply, err := conn.Read(timeout)
	if err != nil {
		return nil, errors.Annotate(err, "reply")
	}
	defer reply.Free()
	result := make([]byte, reply.Length)
	copy(result, reply.Payload())
	return result, nil
}

func (c *Client) Ping(ctx context.Context, dst Addr) ([]byte, error) {
	return c.Request(ctx, dst, PortPing, nil)
}

func (c *Client) nextPort() Port {
	for {
		old := atomic.LoadUint32(&c.sport)
		next := old + 1
		if next > clientPortMax {
			next = clientPortMin
		}
		if atomic.CompareAndSwapUint32(&c.sport, old, next) {
			return Port(next)
		}
	}
}
