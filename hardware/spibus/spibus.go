// Package spibus is one SPI slave behind a chip-select line.
// Every transfer is framed by CS and bounded by timeout,
// so a wedged bus yields an error instead of stalled caller.
package spibus

import (
	"expvar"
	"fmt"
	"time"

	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	DefaultSpeed   = 1 * physic.MegaHertz // fosc/16 of 16MHz flight controller
	DefaultTimeout = 10 * time.Millisecond
)

// Bus is what register-level drivers need from SPI.
type Bus interface {
	// Tx sends w and receives into r (same length or nil) within one CS frame.
	Tx(w, r []byte) error
	Close() error
}

// Conn is raw full-duplex transfer, periph spi.Conn satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// ChipSelect drives CS line, active means selected (electrical low).
type ChipSelect interface {
	Select(active bool) error
	Close() error
}

type Config struct {
	Port    string // periph SPI port name, e.g. "/dev/spidev0.0" or "SPI0.0"
	Speed   physic.Frequency
	Timeout time.Duration
	// empty CSChip means hardware CS of spidev
	CSChip string
	CSLine uint32
}

type Stat struct {
	Tx      expvar.Int
	Error   expvar.Int
	Timeout expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf("tx=%d error=%d timeout=%d", s.Tx.Value(), s.Error.Value(), s.Timeout.Value())
}

type Device struct {
	log     *log2.Log
	busy    chan struct{} // one transfer in flight
	conn    Conn
	cs      ChipSelect
	closer  func() error
	timeout time.Duration
	stat    Stat
}

var _ Bus = &Device{}

// Open initializes periph host drivers, opens SPI port as single master
// with fixed clock and optional GPIO chip-select, left inactive (high).
func Open(cfg Config, log *log2.Log) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, errors.Annotatef(err, "SPI Open port=%s", cfg.Port)
	}
	speed := cfg.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, errors.Annotatef(err, "SPI Connect port=%s speed=%s", cfg.Port, speed)
	}

	var cs ChipSelect
	if cfg.CSChip != "" {
		if cs, err = OpenGpioSelect(cfg.CSChip, cfg.CSLine); err != nil {
			_ = port.Close()
			return nil, errors.Annotatef(err, "chip select chip=%s line=%d", cfg.CSChip, cfg.CSLine)
		}
	}
	d := New(conn, cs, cfg.Timeout, log)
	d.closer = port.Close
	log.Debugf("spibus open port=%s speed=%s cs=%s:%d", cfg.Port, speed, cfg.CSChip, cfg.CSLine)
	return d, nil
}

// New wraps existing connection. cs may be nil when hardware handles chip-select.
func New(conn Conn, cs ChipSelect, timeout time.Duration, log *log2.Log) *Device {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Device{
		log:     log,
		busy:    make(chan struct{}, 1),
		conn:    conn,
		cs:      cs,
		timeout: timeout,
	}
	if cs != nil {
		if err := cs.Select(false); err != nil {
			log.Errorf("spibus chip select idle err=%v", err)
		}
	}
	return d
}

func (d *Device) Stat() *Stat { return &d.stat }

func (d *Device) Tx(w, r []byte) error {
	if r != nil && len(r) != len(w) {
		return errors.NotValidf("spibus Tx len(w)=%d len(r)=%d", len(w), len(r))
	}
	d.stat.Tx.Add(1)

	tmr := time.NewTimer(d.timeout)
	defer tmr.Stop()
	select {
	case d.busy <- struct{}{}:
	case <-tmr.C:
		d.stat.Timeout.Add(1)
		return errors.Timeoutf("spibus Tx busy w=%x timeout=%s", w, d.timeout)
	}

	// transfer goroutine owns its buffer; after timeout caller may reuse r
	var rbuf []byte
	if r != nil {
		rbuf = make([]byte, len(r))
	}
	done := make(chan error, 1)
	go func() {
		err := d.tx(w, rbuf)
		<-d.busy
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			d.stat.Error.Add(1)
			return errors.Annotate(err, "spibus Tx")
		}
		copy(r, rbuf)
		return nil
	case <-tmr.C:
		d.stat.Timeout.Add(1)
		return errors.Timeoutf("spibus Tx w=%x timeout=%s", w, d.timeout)
	}
}

func (d *Device) tx(w, r []byte) error {
	if d.cs != nil {
		if err := d.cs.Select(true); err != nil {
			return errors.Annotate(err, "chip select")
		}
	}
	err := d.conn.Tx(w, r)
	if d.cs != nil {
		if csErr := d.cs.Select(false); csErr != nil && err == nil {
			err = errors.Annotate(csErr, "chip deselect")
		}
	}
	return err
}

// Close waits for in-flight transfer at most one timeout, then closes anyway.
func (d *Device) Close() error {
	tmr := time.NewTimer(d.timeout)
	defer tmr.Stop()
	select {
	case d.busy <- struct{}{}:
		defer func() { <-d.busy }()
	case <-tmr.C:
		if d.log != nil {
			d.log.Errorf("spibus close with transfer in flight")
		}
	}

	var errs []error
	if d.cs != nil {
		errs = append(errs, d.cs.Close())
	}
	if d.closer != nil {
		errs = append(errs, d.closer())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
