package indicator

import (
	"fmt"

	"github.com/TheCacophonyProject/tank-controller/tank"
	"periph.io/x/conn/v3/gpio"
)

// Indicator is the red/yellow/green light triple for one tank.
type Indicator struct {
	red    gpio.PinOut
	yellow gpio.PinOut
	green  gpio.PinOut
}

func New(red, yellow, green gpio.PinOut) *Indicator {
	return &Indicator{
		red:    red,
		yellow: yellow,
		green:  green,
	}
}

// Apply lights the output for the fill state and turns the other two off.
// Outputs are switched off before the new one is switched on. Unknown turns all three off.
func (i *Indicator) Apply(s tank.FillState) error {
	var on gpio.PinOut
	switch s {
	case tank.Red:
		on = i.red
	case tank.Yellow:
		on = i.yellow
	case tank.Green:
		on = i.green
	}

	for _, p := range []gpio.PinOut{i.red, i.yellow, i.green} {
		if p == on {
			continue
		}
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("failed to set %s low: %w", p, err)
		}
	}
	if on == nil {
		return nil
	}
	if err := on.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set %s high: %w", on, err)
	}
	return nil
}

// Off turns all outputs off.
func (i *Indicator) Off() error {
	return i.Apply(tank.Unknown)
}
