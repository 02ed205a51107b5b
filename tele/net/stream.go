package telenet

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubesat-eps/eps/helpers"
	"github.com/cubesat-eps/eps/helpers/atomic_clock"
	"github.com/juju/errors"
)

type streamConn struct {
	sync.Mutex // protects wbuf
	err  helpers.AtomicError
	last atomic_clock.Clock
	dec  Decoder
	net  net.Conn
	opt  ConnOptions
	stat SessionStat
	w    io.Writer
	wbuf []byte

	peer  uint32 // src addr<<8 | src port of last received packet
	dport uint32
}

var _ Conn = &streamConn{}

func NewStreamConn(netConn net.Conn, opt ConnOptions) *streamConn {
	opt.fillDefaults()
	c := &streamConn{
		net: netConn,
		opt: opt,
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetLinger(0)
		_ = tcp.SetNoDelay(true)
	}
	const tcpOverhead = 40
	statread := helpers.NewStatReader(c.net, &c.stat.Recv.Size, tcpOverhead)
	c.w = helpers.NewStatWriter(c.net, &c.stat.Send.Size, tcpOverhead)
	c.dec.Attach(bufio.NewReaderSize(statread, FrameOverhead+int(opt.ReadLimit)), opt.ReadLimit)
	c.last.SetNow()
	return c
}

func (c *streamConn) Close() error {
	return c.die(ErrClosing)
}

func (c *streamConn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

func (c *streamConn) DPort() Port { return Port(atomic.LoadUint32(&c.dport)) }

func (c *streamConn) Read(timeout time.Duration) (*Packet, error) {
	if err, closed := c.err.Load(); closed {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.opt.NetworkTimeout
	}
	if err := c.net.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		err = errors.Annotate(err, "SetReadDeadline")
		_ = c.die(err)
		return nil, err
	}
	p, err := c.opt.Pool.Get()
	if err != nil {
		return nil, errors.Annotate(err, "receive")
	}
	if err = c.dec.Read(p); err != nil {
		p.Free()
		err = errors.Annotate(err, "receive")
		_ = c.die(err)
		return nil, err
	}
	c.last.SetNow()
	c.stat.Recv.Count.Add(1)
	atomic.StoreUint32(&c.peer, uint32(p.Src)<<8|uint32(p.SPort))
	atomic.StoreUint32(&c.dport, uint32(p.DPort))
	c.opt.Log.Debugf("recv p=%s", p)
	return p, nil
}

func (c *streamConn) Send(p *Packet, timeout time.Duration) error {
	if err, closed := c.err.Load(); closed {
		return err
	}
	if timeout <= 0 {
		timeout = c.opt.NetworkTimeout
	}
	if p.Dst == AddrAny && p.DPort == PortAny {
		peer := atomic.LoadUint32(&c.peer)
		p.Dst, p.DPort = Addr(peer>>8), Port(peer)
	}
	if p.SPort == PortAny {
		p.SPort = c.DPort()
	}
	p.Src = c.opt.Node

	c.Lock()
	defer c.Unlock()
	b, err := FrameAppend(c.wbuf[:0], p)
	if err != nil {
		return errors.Annotate(err, "frame marshal")
	}
	c.wbuf = b
	c.opt.Log.Debugf("send p=%s b=(%d)%x", p, len(b), b)
	if err = c.net.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		_ = c.die(err)
		return err
	}
	if err = helpers.WriteAll(c.w, b); err != nil {
		err = errors.Annotate(err, "send")
		_ = c.die(err)
		return err
	}
	c.stat.Send.Count.Add(1)
	p.Free()
	return nil
}

func (c *streamConn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *streamConn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *streamConn) Stat() *SessionStat           { return &c.stat }

func (c *streamConn) String() string {
	remote := addrString(c.RemoteAddr())
	peer := atomic.LoadUint32(&c.peer)
	return fmt.Sprintf("(remote=%s peer=%d:%d dport=%d)", remote, peer>>8, peer&0xff, c.DPort())
}

func (c *streamConn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()
	if e == ErrClosing {
		return nil
	}

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if IsTimeout(e) {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	} else if errors.Cause(e) == io.EOF {
		estr = "closed by remote"
	}
	c.stat.Error.Add(1)
	c.opt.Log.Debugf("die +close local=%s remote=%s e=%s", addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), estr)
	return e
}
