package telemetry

import (
	"context"

	"github.com/cubesat-eps/eps/hardware/bme280"
	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
)

// RawSampler is the part of sensor driver the assembler needs.
type RawSampler interface {
	ReadRawSample() (bme280.RawSample, error)
}

// Assembler builds Record from fresh sensor reading on every call.
// The only state is driver handle, calibration and configured status,
// all fixed at construction.
type Assembler struct {
	log    *log2.Log
	sensor RawSampler
	cal    bme280.Calibration
	status byte
}

type AssemblerOptions struct {
	Log    *log2.Log
	Sensor RawSampler
	Cal    bme280.Calibration
	// zero means StatusNominal
	Status byte
}

func NewAssembler(opt AssemblerOptions) *Assembler {
	status := opt.Status
	if status == 0 {
		status = StatusNominal
	}
	return &Assembler{
		log:    opt.Log,
		sensor: opt.Sensor,
		cal:    opt.Cal,
		status: status,
	}
}

func (a *Assembler) Collect(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	raw, err := a.sensor.ReadRawSample()
	if err != nil {
		return Record{}, errors.Annotate(err, "telemetry collect")
	}
	temp := bme280.Compensate(raw, &a.cal)
	a.log.Debugf("telemetry raw=%d temperature=%s", raw, temp.String())
	return Record{
		Status:      a.status,
		Temperature: temp.Int8(),
	}, nil
}
