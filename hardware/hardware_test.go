package hardware

import (
	"testing"

	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func fakeRegistry(t *testing.T, pins Pins) map[string]*gpiotest.Pin {
	registry := map[string]*gpiotest.Pin{}
	names := []string{
		pins.TankA.Trigger, pins.TankA.Echo, pins.TankA.Red, pins.TankA.Yellow, pins.TankA.Green,
		pins.TankB.Trigger, pins.TankB.Echo, pins.TankB.Red, pins.TankB.Yellow, pins.TankB.Green,
		pins.Pump.AToB, pins.Pump.BToA, pins.Pump.Enable, pins.Pump.Activity,
	}
	for _, name := range names {
		registry[name] = &gpiotest.Pin{N: name, EdgesChan: make(chan gpio.Level, 1)}
	}
	byName = func(name string) gpio.PinIO {
		p, ok := registry[name]
		if !ok {
			return nil
		}
		return p
	}
	t.Cleanup(func() { byName = gpioreg.ByName })
	return registry
}

func TestOpenDefaultPins(t *testing.T) {
	pins := DefaultPins()
	registry := fakeRegistry(t, pins)

	// Leave an indicator on to check it is cleared.
	require.NoError(t, registry["GPIO13"].Out(gpio.High))

	c, err := open(pins, Settings{})
	require.NoError(t, err)
	require.Len(t, c.Tanks, 2)
	assert.Equal(t, tank.A, c.Tanks[tank.A].ID)
	assert.Equal(t, tank.B, c.Tanks[tank.B].ID)
	assert.NotNil(t, c.Tanks[tank.A].Sensor)
	assert.NotNil(t, c.Pump)

	assert.Equal(t, gpio.Low, registry["GPIO13"].Read())
	assert.Equal(t, gpio.Duty(0), registry["GPIO5"].D)
	assert.Equal(t, gpio.PullDown, registry["GPIO15"].Pull())
	assert.Equal(t, gpio.PullDown, registry["GPIO19"].Pull())

	require.NoError(t, c.Close())
}

func TestOpenMissingPin(t *testing.T) {
	pins := DefaultPins()
	fakeRegistry(t, pins)

	pins.TankB.Green = "GPIO99"
	_, err := open(pins, Settings{})
	assert.ErrorContains(t, err, "GPIO99")

	pins = DefaultPins()
	pins.Pump.Enable = ""
	_, err = open(pins, Settings{})
	assert.Error(t, err)
}

func TestOpenWithoutActivityLED(t *testing.T) {
	pins := DefaultPins()
	fakeRegistry(t, pins)

	pins.Pump.Activity = ""
	c, err := open(pins, Settings{})
	require.NoError(t, err)
	assert.NoError(t, c.Pump.SetActivity(true))
}
