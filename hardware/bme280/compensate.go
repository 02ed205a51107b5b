package bme280

import "fmt"

// RawSample is 20 bit unsigned ADC temperature value.
type RawSample uint32

// Celsius is compensated temperature, resolution 0.01.
type Celsius float64

func (c Celsius) String() string { return fmt.Sprintf("%.2fC", float64(c)) }

// Int8 truncates toward zero, saturating at int8 range.
func (c Celsius) Int8() int8 {
	switch {
	case c >= 127:
		return 127
	case c <= -128:
		return -128
	}
	return int8(c)
}

// CompensateCenti converts raw sample to hundredths of degree Celsius
// with fixed point formula from BME280 datasheet.
// Pure, all arithmetic in int64 with arithmetic shifts.
func CompensateCenti(raw RawSample, cal *Calibration) int64 {
	adc := int64(raw)
	t1 := int64(cal.T1)
	t2 := int64(cal.T2)
	t3 := int64(cal.T3)

	var1 := (((adc >> 3) - (t1 << 1)) * t2) >> 11
	d := (adc >> 4) - t1
	var2 := (((d * d) >> 12) * t3) >> 14
	fine := var1 + var2
	return (fine*5 + 128) >> 8
}

func Compensate(raw RawSample, cal *Calibration) Celsius {
	return Celsius(float64(CompensateCenti(raw, cal)) / 100)
}
