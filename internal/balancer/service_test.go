package balancer

import (
	"testing"

	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTankStatus(t *testing.T) {
	status := NewStatus()
	s := service{status: status}

	_, _, _, dErr := s.TankStatus("A")
	require.NotNil(t, dErr)
	assert.Contains(t, dErr.Name, dbusName)

	_, _, _, dErr = s.TankStatus("C")
	require.NotNil(t, dErr)

	status.setTank(tank.A, TankStatus{VolumeCm3: 90.5, State: tank.Yellow, Stale: true})
	volume, state, stale, dErr := s.TankStatus("a")
	require.Nil(t, dErr)
	assert.Equal(t, 90.5, volume)
	assert.Equal(t, "Yellow", state)
	assert.True(t, stale)
}

func TestServicePumpStatus(t *testing.T) {
	status := NewStatus()
	s := service{status: status}

	state, direction, dErr := s.PumpStatus()
	require.Nil(t, dErr)
	assert.Equal(t, "OFF", state)
	assert.Equal(t, "Off", direction)

	status.setPump(pump.Command{Direction: pump.BToA, Duty: 1})
	state, direction, dErr = s.PumpStatus()
	require.Nil(t, dErr)
	assert.Equal(t, "ON", state)
	assert.Equal(t, "BtoA", direction)
}
