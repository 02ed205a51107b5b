package spibus

import (
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

const gpioConsumer = "eps-spi-cs"

// GpioSelect is chip-select on GPIO character device line.
type GpioSelect struct {
	chip  gpio.Chiper
	lines gpio.Lineser
	set   gpio.LineSetFunc
}

func OpenGpioSelect(chipPath string, line uint32) (*GpioSelect, error) {
	chip, err := gpio.Open(chipPath, gpioConsumer)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, gpioConsumer, line)
	if err != nil {
		_ = chip.Close()
		return nil, errors.Annotatef(err, "gpio open line=%d", line)
	}
	return NewGpioSelect(chip, lines, line), nil
}

func NewGpioSelect(chip gpio.Chiper, lines gpio.Lineser, line uint32) *GpioSelect {
	return &GpioSelect{
		chip:  chip,
		lines: lines,
		set:   lines.SetFunc(line),
	}
}

func (g *GpioSelect) Select(active bool) error {
	if active {
		g.set(0)
	} else {
		g.set(1)
	}
	return g.lines.Flush()
}

func (g *GpioSelect) Close() error {
	err := g.lines.Close()
	if g.chip != nil {
		if cerr := g.chip.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
