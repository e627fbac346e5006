// Package pump drives the reversible transfer pump between the two tanks through an H-bridge:
// two direction lines and a PWM enable line, plus an activity LED.
package pump

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// DefaultFrequency is the PWM frequency of the enable line.
const DefaultFrequency = 2 * physic.KiloHertz

type Direction int

const (
	Off Direction = iota
	AToB
	BToA
)

func (d Direction) String() string {
	switch d {
	case AToB:
		return "AtoB"
	case BToA:
		return "BtoA"
	}
	return "Off"
}

// Command is a pump setting. Duty is the fraction of full power, from 0 to 1.
type Command struct {
	Direction Direction
	Duty      float64
}

// Stopped is the command for a stopped pump.
var Stopped = Command{Direction: Off, Duty: 0}

func (c Command) String() string {
	if c.Direction == Off {
		return "Off"
	}
	return fmt.Sprintf("%s at %.0f%%", c.Direction, clampDuty(c.Duty)*100)
}

func clampDuty(d float64) float64 {
	if math.IsNaN(d) {
		return 0
	}
	return math.Max(0, math.Min(1, d))
}

// Duty converts a fraction into a periph duty cycle.
func Duty(fraction float64) gpio.Duty {
	return gpio.Duty(math.Round(clampDuty(fraction) * float64(gpio.DutyMax)))
}

// Driver owns the pump outputs.
type Driver struct {
	aToB      gpio.PinOut
	bToA      gpio.PinOut
	enable    gpio.PinOut
	activity  gpio.PinOut
	frequency physic.Frequency
	current   Command
}

// New returns a driver with the pump stopped.
func New(aToB, bToA, enable, activity gpio.PinOut, frequency physic.Frequency) (*Driver, error) {
	if frequency <= 0 {
		frequency = DefaultFrequency
	}
	d := &Driver{
		aToB:      aToB,
		bToA:      bToA,
		enable:    enable,
		activity:  activity,
		frequency: frequency,
	}
	if err := d.Stop(); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply sets the pump to the command. Both direction lines are released before either is raised,
// so the two directions are never driven at once.
func (d *Driver) Apply(c Command) error {
	if c.Direction == Off || clampDuty(c.Duty) == 0 {
		return d.Stop()
	}

	if err := d.releaseDirections(); err != nil {
		return err
	}
	pin := d.aToB
	if c.Direction == BToA {
		pin = d.bToA
	}
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set %s high: %w", pin, err)
	}
	if err := d.enable.PWM(Duty(c.Duty), d.frequency); err != nil {
		return fmt.Errorf("failed to set pump duty: %w", err)
	}
	d.current = Command{Direction: c.Direction, Duty: clampDuty(c.Duty)}
	return nil
}

// Stop drops the duty to zero then releases both direction lines and the activity LED.
func (d *Driver) Stop() error {
	d.current = Stopped
	if err := d.enable.PWM(0, d.frequency); err != nil {
		// Fall back to driving the enable line low so the pump still stops.
		if outErr := d.enable.Out(gpio.Low); outErr != nil {
			return fmt.Errorf("failed to stop pump: %w", err)
		}
	}
	if err := d.releaseDirections(); err != nil {
		return err
	}
	return d.SetActivity(false)
}

// SetActivity switches the pump activity LED.
func (d *Driver) SetActivity(on bool) error {
	if d.activity == nil {
		return nil
	}
	if err := d.activity.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("failed to set pump activity LED: %w", err)
	}
	return nil
}

// Current returns the last applied command.
func (d *Driver) Current() Command {
	return d.current
}

func (d *Driver) releaseDirections() error {
	for _, p := range []gpio.PinOut{d.aToB, d.bToA} {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("failed to set %s low: %w", p, err)
		}
	}
	return nil
}
