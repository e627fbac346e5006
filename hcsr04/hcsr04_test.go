package hcsr04

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

var noSleepFn = func(d time.Duration) {}

// steppingClock advances by step every time it is read.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func newTestSensor(t *testing.T) (*Sensor, *gpiotest.Pin, *gpiotest.Pin) {
	t.Helper()
	sleepFn = noSleepFn
	trigger := &gpiotest.Pin{N: "TRIG", Num: 14}
	echo := &gpiotest.Pin{N: "ECHO", Num: 15, EdgesChan: make(chan gpio.Level, 4)}
	s, err := New(trigger, echo, DefaultTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		sleepFn = time.Sleep
		nowFn = time.Now
	})
	return s, trigger, echo
}

func TestMeasureEchoPulse(t *testing.T) {
	s, trigger, echo := newTestSensor(t)
	// Clock reads: deadline, wait for rise, rise, wait for fall, fall.
	nowFn = steppingClock(250 * time.Microsecond)

	echo.EdgesChan <- gpio.High
	echo.EdgesChan <- gpio.Low

	d, err := s.Measure()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Microsecond, d)
	assert.Equal(t, gpio.Low, trigger.Read(), "trigger should be left low")
}

func TestMeasureNoEcho(t *testing.T) {
	s, trigger, _ := newTestSensor(t)

	start := time.Now()
	_, err := s.Measure()
	assert.True(t, errors.Is(err, ErrEchoTimeout))
	assert.GreaterOrEqual(t, time.Since(start), DefaultTimeout)
	assert.Equal(t, gpio.Low, trigger.Read())
}

func TestMeasureEchoNeverEnds(t *testing.T) {
	s, _, echo := newTestSensor(t)
	nowFn = steppingClock(time.Millisecond)

	echo.EdgesChan <- gpio.High

	_, err := s.Measure()
	assert.ErrorIs(t, err, ErrEchoTimeout)
}

func TestMeasureDeadlineAlreadyPassed(t *testing.T) {
	s, _, echo := newTestSensor(t)
	// The clock jumps past the deadline before the first wait.
	nowFn = steppingClock(DefaultTimeout)

	echo.EdgesChan <- gpio.High
	echo.EdgesChan <- gpio.Low

	_, err := s.Measure()
	assert.ErrorIs(t, err, ErrEchoTimeout)
}

func TestMeasureIgnoresStaleFallingEdge(t *testing.T) {
	s, _, echo := newTestSensor(t)
	nowFn = steppingClock(100 * time.Microsecond)

	// A low edge left over from a previous pulse is skipped.
	echo.EdgesChan <- gpio.Low
	echo.EdgesChan <- gpio.High
	echo.EdgesChan <- gpio.Low

	d, err := s.Measure()
	require.NoError(t, err)
	// Clock reads: deadline, wait, wait, rise, wait, fall.
	assert.Equal(t, 200*time.Microsecond, d)
}

func TestNewDefaultsTimeout(t *testing.T) {
	trigger := &gpiotest.Pin{N: "TRIG"}
	echo := &gpiotest.Pin{N: "ECHO", EdgesChan: make(chan gpio.Level)}
	s, err := New(trigger, echo, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, s.timeout)
	assert.Equal(t, gpio.PullDown, echo.Pull())
}

func TestNewNeedsEdgeDetection(t *testing.T) {
	trigger := &gpiotest.Pin{N: "TRIG"}
	echo := &gpiotest.Pin{N: "ECHO"}
	_, err := New(trigger, echo, DefaultTimeout)
	assert.Error(t, err)
}
