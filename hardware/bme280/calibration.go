package bme280

import (
	"fmt"

	"github.com/juju/errors"
)

// Calibration holds temperature trimming coefficients, read once from chip.
// Value type: after LoadCalibration it is never modified, pass it around.
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int16
}

const calibLen = 6

// ParseCalibration decodes little endian dig_T1..dig_T3 bank.
func ParseCalibration(b []byte) (Calibration, error) {
	if len(b) < calibLen {
		return Calibration{}, errors.NotValidf("calibration len=%d", len(b))
	}
	allZero, allOnes := true, true
	for _, x := range b[:calibLen] {
		allZero = allZero && x == 0x00
		allOnes = allOnes && x == 0xff
	}
	if allZero || allOnes {
		return Calibration{}, errors.Annotatef(ErrSensorFault, "calibration=%x", b[:calibLen])
	}
	return Calibration{
		T1: uint16(b[1])<<8 | uint16(b[0]),
		T2: int16(uint16(b[3])<<8 | uint16(b[2])),
		T3: int16(uint16(b[5])<<8 | uint16(b[4])),
	}, nil
}

func (c Calibration) Bytes() []byte {
	return []byte{
		byte(c.T1), byte(c.T1 >> 8),
		byte(uint16(c.T2)), byte(uint16(c.T2) >> 8),
		byte(uint16(c.T3)), byte(uint16(c.T3) >> 8),
	}
}

func (c Calibration) String() string {
	return fmt.Sprintf("T1=%d T2=%d T3=%d", c.T1, c.T2, c.T3)
}
