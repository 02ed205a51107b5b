// Package telemetry assembles power subsystem telemetry record
// and defines its wire encoding.
//
// Wire format, RecordSize bytes, no header:
//
//	offset 0  uint8  status/current indicator
//	offset 1  int8   temperature, whole degrees Celsius, two's complement
//
// Both fields are single bytes so there is no byte order to agree on;
// field order and width are fixed.
package telemetry

import (
	"fmt"

	"github.com/juju/errors"
)

const RecordSize = 2

const (
	// StatusNominal is the placeholder "current" value, the channel is not measured.
	StatusNominal byte = 1
	// StatusSensorFault replaces reading when sensor bus failed or returned impossible data.
	StatusSensorFault byte = 0xFF
)

type Record struct {
	Status      byte
	Temperature int8
}

// Sentinel answers requests no handler is registered for.
var Sentinel = Record{}

// FaultRecord answers telemetry request when sensor failed.
var FaultRecord = Record{Status: StatusSensorFault}

func (r Record) IsSentinel() bool { return r == Sentinel }
func (r Record) IsFault() bool    { return r.Status == StatusSensorFault }

func (r Record) AppendBinary(b []byte) []byte {
	return append(b, r.Status, byte(r.Temperature))
}

func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize)), nil
}

// PutBinary writes record into b, returns encoded length.
func (r Record) PutBinary(b []byte) (int, error) {
	if len(b) < RecordSize {
		return 0, errors.NotValidf("telemetry record buffer len=%d", len(b))
	}
	b[0] = r.Status
	b[1] = byte(r.Temperature)
	return RecordSize, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return errors.NotValidf("telemetry record len=%d expected=%d", len(b), RecordSize)
	}
	r.Status = b[0]
	r.Temperature = int8(b[1])
	return nil
}

func (r Record) String() string {
	switch {
	case r.IsSentinel():
		return "(sentinel)"
	case r.IsFault():
		return "(sensor fault)"
	}
	return fmt.Sprintf("(status=%d temperature=%dC)", r.Status, r.Temperature)
}
