// Package bme280 is SPI register level driver for temperature channel
// of Bosch BME280/BMP280.
//
// Bus transfers are bounded by spibus timeout. Values that can not come
// from a working chip (bad id, blank calibration, stuck sample) are reported
// as ErrSensorFault instead of being passed on as a reading.
package bme280

import (
	"github.com/cubesat-eps/eps/hardware/spibus"
	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
)

var ErrSensorFault = errors.New("sensor fault")

// IsFault reports whether err means chip returned impossible data or did not answer.
func IsFault(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	return cause == ErrSensorFault || errors.IsTimeout(cause)
}

type Device struct {
	bus spibus.Bus
	log *log2.Log
}

func New(bus spibus.Bus, log *log2.Log) *Device {
	return &Device{bus: bus, log: log}
}

func (d *Device) ReadRegister(addr byte) (byte, error) {
	var buf [2]byte
	if err := d.bus.Tx([]byte{addr | spiReadFlag, 0x00}, buf[:]); err != nil {
		return 0, errors.Annotatef(err, "bme280 read reg=%02x", addr)
	}
	return buf[1], nil
}

func (d *Device) WriteRegister(addr, value byte) error {
	if err := d.bus.Tx([]byte{addr & spiWriteMask, value}, nil); err != nil {
		return errors.Annotatef(err, "bme280 write reg=%02x value=%02x", addr, value)
	}
	return nil
}

// ReadBurst reads len(buf) consecutive registers in one chip-select frame.
func (d *Device) ReadBurst(addr byte, buf []byte) error {
	w := make([]byte, len(buf)+1)
	w[0] = addr | spiReadFlag
	r := make([]byte, len(w))
	if err := d.bus.Tx(w, r); err != nil {
		return errors.Annotatef(err, "bme280 burst reg=%02x len=%d", addr, len(buf))
	}
	copy(buf, r[1:])
	return nil
}

func (d *Device) ChipID() (byte, error) { return d.ReadRegister(RegID) }

func (d *Device) ReadRawSample() (RawSample, error) {
	var b [3]byte
	if err := d.ReadBurst(RegTempMSB, b[:]); err != nil {
		return 0, err
	}
	raw := RawSample(b[0])<<12 | RawSample(b[1])<<4 | RawSample(b[2]>>4)
	switch raw {
	case rawSkipped, rawLow, rawHigh:
		return raw, errors.Annotatef(ErrSensorFault, "raw sample=%05x", uint32(raw))
	}
	return raw, nil
}

// LoadCalibration reads dig_T1..dig_T3, low byte then high byte of each pair.
func (d *Device) LoadCalibration() (Calibration, error) {
	var b [calibLen]byte
	for i := 0; i < calibLen; i += 2 {
		lo, err := d.ReadRegister(RegCalibStart + byte(i))
		if err != nil {
			return Calibration{}, errors.Annotate(err, "calibration")
		}
		hi, err := d.ReadRegister(RegCalibStart + byte(i) + 1)
		if err != nil {
			return Calibration{}, errors.Annotate(err, "calibration")
		}
		b[i], b[i+1] = lo, hi
	}
	return ParseCalibration(b[:])
}

// Init checks chip id, starts normal mode measurement and returns calibration.
func (d *Device) Init() (Calibration, error) {
	id, err := d.ChipID()
	if err != nil {
		return Calibration{}, err
	}
	switch id {
	case ChipIDBMP280, ChipIDBME280:
	default:
		return Calibration{}, errors.Annotatef(ErrSensorFault, "unexpected chip id=%02x", id)
	}
	if err = d.WriteRegister(RegCtrlMeas, CtrlMeasNormal); err != nil {
		return Calibration{}, err
	}
	if err = d.WriteRegister(RegConfig, ConfigStandby); err != nil {
		return Calibration{}, err
	}
	cal, err := d.LoadCalibration()
	if err != nil {
		return Calibration{}, err
	}
	d.log.Debugf("bme280 init id=%02x calibration %s", id, cal.String())
	return cal, nil
}
