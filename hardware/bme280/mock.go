package bme280

import (
	"fmt"
	"sync"

	"github.com/cubesat-eps/eps/hardware/spibus"
	"github.com/juju/errors"
)

// Mock emulates chip register file behind spibus.Bus.
// Reads auto-increment address within frame, writes are addr/value pairs.
// Temperature registers show sample only after normal mode is set in ctrl_meas.
type Mock struct {
	sync.Mutex
	regs   [256]byte
	sample RawSample
	// Stuck != nil makes every read byte equal *Stuck, like floating MISO.
	Stuck *byte
	// Wedge != nil blocks every Tx until channel is closed.
	Wedge  chan struct{}
	Writes []string
	TxN    int
}

var _ spibus.Bus = &Mock{}

func NewMock(id byte, cal Calibration) *Mock {
	m := &Mock{}
	m.regs[RegID] = id
	copy(m.regs[RegCalibStart:], cal.Bytes())
	m.regs[RegTempMSB] = 0x80 // power-on value
	return m
}

// SetRawSample sets value of next measurement.
// In normal mode it appears in data registers immediately.
func (m *Mock) SetRawSample(raw RawSample) {
	m.Lock()
	defer m.Unlock()
	m.sample = raw
	if m.regs[RegCtrlMeas]&0x03 != 0 {
		m.measure()
	}
}

func (m *Mock) Reg(addr byte) byte {
	m.Lock()
	defer m.Unlock()
	return m.regs[addr]
}

func (m *Mock) Tx(w, r []byte) error {
	if m.Wedge != nil {
		<-m.Wedge
	}
	m.Lock()
	defer m.Unlock()
	m.TxN++
	if len(w) < 2 {
		return errors.NotValidf("mock bme280 short frame=%x", w)
	}
	if r != nil && len(r) != len(w) {
		return errors.NotValidf("mock bme280 len(w)=%d len(r)=%d", len(w), len(r))
	}

	if w[0]&spiReadFlag == 0 {
		if len(w)%2 != 0 {
			return errors.NotValidf("mock bme280 odd write frame=%x", w)
		}
		for i := 0; i < len(w); i += 2 {
			m.write(w[i]|spiReadFlag, w[i+1])
		}
		return nil
	}

	addr := w[0]
	for i := 1; i < len(w); i++ {
		if r == nil {
			break
		}
		if m.Stuck != nil {
			r[i] = *m.Stuck
		} else {
			r[i] = m.regs[addr]
		}
		addr++
	}
	return nil
}

func (m *Mock) write(addr, value byte) {
	m.Writes = append(m.Writes, fmt.Sprintf("%02x=%02x", addr, value))
	switch addr {
	case RegID, RegTempMSB, RegTempLSB, RegTempXLSB:
		return // read only
	case RegReset:
		if value == 0xB6 {
			m.regs[RegCtrlMeas] = 0
			m.regs[RegConfig] = 0
			m.regs[RegTempMSB], m.regs[RegTempLSB], m.regs[RegTempXLSB] = 0x80, 0, 0
		}
		return
	}
	m.regs[addr] = value
	if addr == RegCtrlMeas && value&0x03 != 0 {
		m.measure()
	}
}

func (m *Mock) measure() {
	m.regs[RegTempMSB] = byte(m.sample >> 12)
	m.regs[RegTempLSB] = byte(m.sample >> 4)
	m.regs[RegTempXLSB] = byte(m.sample<<4) & 0xf0
}

func (m *Mock) Close() error { return nil }
