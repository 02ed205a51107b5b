package telenet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cubesat-eps/eps/crc"
	"github.com/juju/errors"
)

var (
	ErrFrameInvalid     = fmt.Errorf("frame is invalid")
	ErrFrameLenOverflow = fmt.Errorf("frame is too large")
	ErrFrameChecksum    = fmt.Errorf("frame checksum mismatch")
)

// Frame wraps Packet with header and CRC-8 trailer
//   magic:2 src:1 dst:1 sport:1 dport:1 length:2 data:length crc:1
const (
	FrameMagic      = uint16(0x4550)
	FrameHeaderSize = 2 /*magic*/ + 4 /*addr,port*/ + 2 /*length*/
	FrameOverhead   = FrameHeaderSize + 1 /*crc*/

	maxFrameData = math.MaxUint16
)

func FrameAppend(b []byte, p *Packet) ([]byte, error) {
	if int(p.Length) > len(p.Data) {
		return b, errors.NotValidf("packet length=%d buffer=%d", p.Length, len(p.Data))
	}
	start := len(b)
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint16(header[0:], FrameMagic)
	header[2] = byte(p.Src)
	header[3] = byte(p.Dst)
	header[4] = byte(p.SPort)
	header[5] = byte(p.DPort)
	binary.BigEndian.PutUint16(header[6:], p.Length)
	b = append(b, header[:]...)
	b = append(b, p.Payload()...)
	b = append(b, crc.Sum8(0, b[start:]))
	return b, nil
}

func FrameMarshal(p *Packet) ([]byte, error) {
	return FrameAppend(make([]byte, 0, FrameOverhead+int(p.Length)), p)
}

// FrameDecode validates header, returns data length.
func FrameDecode(header []byte, max uint32) (uint16, error) {
	if len(header) < FrameHeaderSize {
		return 0, errors.Annotate(io.ErrUnexpectedEOF, "header")
	}
	if magic := binary.BigEndian.Uint16(header[0:]); magic != FrameMagic {
		return 0, ErrFrameInvalid
	}
	length := binary.BigEndian.Uint16(header[6:])
	if max != 0 && uint32(length) > max {
		return 0, errors.Annotatef(ErrFrameLenOverflow, "length=%d exceeds max=%d", length, max)
	}
	return length, nil
}

type Decoder struct {
	r   *bufio.Reader
	max uint32
}

func (d *Decoder) Attach(r *bufio.Reader, max uint32) {
	d.max = max
	d.r = r
}

// Read next frame into p. On error p content is undefined, p ownership stays with caller.
func (d *Decoder) Read(p *Packet) error {
	header, err := d.r.Peek(FrameHeaderSize)
	switch err {
	case nil:
	case io.EOF:
		if len(header) == 0 {
			return err
		}
		return errors.Annotate(io.ErrUnexpectedEOF, "header")
	default:
		return errors.Annotate(err, "header")
	}

	length, err := FrameDecode(header, d.max)
	if err != nil {
		return errors.Annotate(err, "frame")
	}
	if int(length) > len(p.Data) {
		return errors.Annotatef(ErrFrameLenOverflow, "length=%d exceeds buffer=%d", length, len(p.Data))
	}
	p.Src = Addr(header[2])
	p.Dst = Addr(header[3])
	p.SPort = Port(header[4])
	p.DPort = Port(header[5])
	p.Length = length
	sum := crc.Sum8(0, header)
	if _, err = d.r.Discard(FrameHeaderSize); err != nil {
		return errors.Annotate(err, "discard")
	}

	data := p.Data[:length]
	if _, err = io.ReadFull(d.r, data); err != nil {
		return errors.Annotate(unexpected(err), "readfull")
	}
	trailer, err := d.r.ReadByte()
	if err != nil {
		return errors.Annotate(unexpected(err), "crc")
	}
	if sum = crc.Sum8(sum, data); sum != trailer {
		return errors.Annotatef(ErrFrameChecksum, "declared=%02x actual=%02x", trailer, sum)
	}
	return nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
