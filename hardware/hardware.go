// Package hardware opens the GPIO lines used by the tank controller.
package hardware

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tank-controller/hcsr04"
	"github.com/TheCacophonyProject/tank-controller/indicator"
	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// TankPins are the pin names wired to one tank's sensor and indicator.
type TankPins struct {
	Trigger string `mapstructure:"trigger"`
	Echo    string `mapstructure:"echo"`
	Red     string `mapstructure:"red"`
	Yellow  string `mapstructure:"yellow"`
	Green   string `mapstructure:"green"`
}

// PumpPins are the pin names of the H-bridge driving the pump.
type PumpPins struct {
	AToB     string `mapstructure:"a-to-b"`
	BToA     string `mapstructure:"b-to-a"`
	Enable   string `mapstructure:"enable"`
	Activity string `mapstructure:"activity"`
}

type Pins struct {
	TankA TankPins `mapstructure:"tank-a"`
	TankB TankPins `mapstructure:"tank-b"`
	Pump  PumpPins `mapstructure:"pump"`
}

// DefaultPins is the wiring of the first tank controller board.
func DefaultPins() Pins {
	return Pins{
		TankA: TankPins{
			Trigger: "GPIO14",
			Echo:    "GPIO15",
			Red:     "GPIO13",
			Yellow:  "GPIO12",
			Green:   "GPIO11",
		},
		TankB: TankPins{
			Trigger: "GPIO18",
			Echo:    "GPIO19",
			Red:     "GPIO17",
			Yellow:  "GPIO20",
			Green:   "GPIO21",
		},
		Pump: PumpPins{
			AToB:     "GPIO1",
			BToA:     "GPIO0",
			Enable:   "GPIO5",
			Activity: "GPIO16",
		},
	}
}

// Tank is the hardware attached to a single tank.
type Tank struct {
	ID        tank.ID
	Sensor    *hcsr04.Sensor
	Indicator *indicator.Indicator
}

// Context holds every hardware handle. It is built once and passed to the components that need it.
type Context struct {
	Tanks map[tank.ID]*Tank
	Pump  *pump.Driver
}

// Settings that are not pin names.
type Settings struct {
	EchoTimeout   time.Duration
	PumpFrequency physic.Frequency
}

var byName = gpioreg.ByName

// Open initialises the periph host drivers and opens every pin.
// The pump is left stopped and the indicators off.
func Open(pins Pins, s Settings) (*Context, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %v", err)
	}
	return open(pins, s)
}

func open(pins Pins, s Settings) (*Context, error) {
	c := &Context{Tanks: map[tank.ID]*Tank{}}

	for id, tp := range map[tank.ID]TankPins{tank.A: pins.TankA, tank.B: pins.TankB} {
		t, err := openTank(id, tp, s.EchoTimeout)
		if err != nil {
			return nil, err
		}
		c.Tanks[id] = t
	}

	aToB, err := findPin(pins.Pump.AToB)
	if err != nil {
		return nil, err
	}
	bToA, err := findPin(pins.Pump.BToA)
	if err != nil {
		return nil, err
	}
	enable, err := findPin(pins.Pump.Enable)
	if err != nil {
		return nil, err
	}
	var activity gpio.PinOut
	if pins.Pump.Activity != "" {
		if activity, err = findPin(pins.Pump.Activity); err != nil {
			return nil, err
		}
	}
	if c.Pump, err = pump.New(aToB, bToA, enable, activity, s.PumpFrequency); err != nil {
		return nil, err
	}
	return c, nil
}

func openTank(id tank.ID, tp TankPins, echoTimeout time.Duration) (*Tank, error) {
	trigger, err := findPin(tp.Trigger)
	if err != nil {
		return nil, fmt.Errorf("tank %s: %w", id, err)
	}
	echo, err := findPin(tp.Echo)
	if err != nil {
		return nil, fmt.Errorf("tank %s: %w", id, err)
	}
	sensor, err := hcsr04.New(trigger, echo, echoTimeout)
	if err != nil {
		return nil, fmt.Errorf("tank %s: %w", id, err)
	}

	var leds []gpio.PinOut
	for _, name := range []string{tp.Red, tp.Yellow, tp.Green} {
		p, err := findPin(name)
		if err != nil {
			return nil, fmt.Errorf("tank %s: %w", id, err)
		}
		leds = append(leds, p)
	}
	ind := indicator.New(leds[0], leds[1], leds[2])
	if err := ind.Off(); err != nil {
		return nil, fmt.Errorf("tank %s: %w", id, err)
	}

	return &Tank{ID: id, Sensor: sensor, Indicator: ind}, nil
}

func findPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, fmt.Errorf("pin name not set")
	}
	p := byName(name)
	if p == nil {
		return nil, fmt.Errorf("failed to find pin '%s'", name)
	}
	return p, nil
}

// Close stops the pump and turns the indicators off.
func (c *Context) Close() error {
	var firstErr error
	if c.Pump != nil {
		firstErr = c.Pump.Stop()
	}
	for _, t := range c.Tanks {
		if err := t.Indicator.Off(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
