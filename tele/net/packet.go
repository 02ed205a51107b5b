package telenet

import (
	"fmt"
	"sync/atomic"

	"github.com/juju/errors"
)

type Addr uint8
type Port uint8

const (
	AddrAny        Addr = 0
	AddrController Addr = 1
	AddrNode       Addr = 8

	PortAny  Port = 0
	PortPing Port = 1
	PortData Port = 2
)

const (
	DefaultBufferCount = 2
	DefaultBufferSize  = 300
)

var ErrPoolExhausted = errors.New("packet pool exhausted")

type Packet struct {
	Src    Addr
	Dst    Addr
	SPort  Port
	DPort  Port
	Length uint16
	Data   []byte // len(Data) is buffer size, valid payload is Data[:Length]

	pool  *Pool
	freed uint32
}

func (p *Packet) Payload() []byte { return p.Data[:p.Length] }

func (p *Packet) SetPayload(b []byte) error {
	if len(b) > len(p.Data) {
		return errors.NotValidf("payload length=%d buffer=%d", len(b), len(p.Data))
	}
	p.Length = uint16(copy(p.Data, b))
	return nil
}

// Free returns buffer to pool. Second call is no-op.
func (p *Packet) Free() {
	if p == nil || p.pool == nil {
		return
	}
	if !atomic.CompareAndSwapUint32(&p.freed, 0, 1) {
		return
	}
	p.pool.put(p)
}

func (p *Packet) String() string {
	return fmt.Sprintf("(%d:%d -> %d:%d len=%d data=%x)", p.Src, p.SPort, p.Dst, p.DPort, p.Length, p.Payload())
}

// Pool is fixed set of packet buffers allocated once.
// Get never blocks, exhausted pool returns ErrPoolExhausted.
type Pool struct {
	ch    chan *Packet
	size  int
	inuse int32
}

func NewPool(count, size int) *Pool {
	if count <= 0 {
		count = DefaultBufferCount
	}
	if size <= 0 {
		size = DefaultBufferSize
	}
	if size > maxFrameData {
		size = maxFrameData
	}
	pool := &Pool{
		ch:   make(chan *Packet, count),
		size: size,
	}
	for i := 0; i < count; i++ {
		pool.ch <- &Packet{Data: make([]byte, size), pool: pool, freed: 1}
	}
	return pool
}

func (pool *Pool) Get() (*Packet, error) {
	select {
	case p := <-pool.ch:
		atomic.AddInt32(&pool.inuse, 1)
		*p = Packet{Data: p.Data, pool: pool}
		return p, nil
	default:
		return nil, ErrPoolExhausted
	}
}

func (pool *Pool) BufferSize() int { return pool.size }
func (pool *Pool) Cap() int        { return cap(pool.ch) }
func (pool *Pool) InUse() int      { return int(atomic.LoadInt32(&pool.inuse)) }

func (pool *Pool) put(p *Packet) {
	atomic.AddInt32(&pool.inuse, -1)
	pool.ch <- p
}
