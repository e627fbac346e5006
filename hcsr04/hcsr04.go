// Package hcsr04 measures echo durations from an HC-SR04 style ultrasonic ranging module.
package hcsr04

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

const (
	// DefaultTimeout is the longest echo pulse that is accepted. Anything beyond this is out of
	// range for the sensor (roughly 5m).
	DefaultTimeout = 30 * time.Millisecond

	settleDuration       = 5 * time.Microsecond
	triggerPulseDuration = 10 * time.Microsecond
)

// ErrEchoTimeout is returned when no complete echo pulse was seen within the timeout.
var ErrEchoTimeout = errors.New("no echo received before timeout")

var (
	sleepFn = time.Sleep
	nowFn   = time.Now
)

// Sensor drives a single trigger/echo pair.
type Sensor struct {
	trigger gpio.PinOut
	echo    gpio.PinIn
	timeout time.Duration
}

// New sets the trigger low and configures edge detection on the echo pin.
func New(trigger gpio.PinOut, echo gpio.PinIn, timeout time.Duration) (*Sensor, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to set trigger pin low: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to set up echo pin: %w", err)
	}
	return &Sensor{
		trigger: trigger,
		echo:    echo,
		timeout: timeout,
	}, nil
}

// Measure triggers the sensor and returns the duration of the echo pulse.
func (s *Sensor) Measure() (time.Duration, error) {
	if err := s.pulseTrigger(); err != nil {
		return 0, err
	}

	deadline := nowFn().Add(s.timeout)
	if err := s.waitForLevel(gpio.High, deadline); err != nil {
		return 0, err
	}
	rise := nowFn()
	if err := s.waitForLevel(gpio.Low, deadline); err != nil {
		return 0, err
	}
	return nowFn().Sub(rise), nil
}

func (s *Sensor) pulseTrigger() error {
	if err := s.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set trigger pin low: %w", err)
	}
	sleepFn(settleDuration)
	if err := s.trigger.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set trigger pin high: %w", err)
	}
	sleepFn(triggerPulseDuration)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set trigger pin low: %w", err)
	}
	return nil
}

// waitForLevel waits for edges until the echo pin reads the wanted level.
func (s *Sensor) waitForLevel(l gpio.Level, deadline time.Time) error {
	for s.echo.Read() != l {
		remaining := deadline.Sub(nowFn())
		if remaining <= 0 || !s.echo.WaitForEdge(remaining) {
			return ErrEchoTimeout
		}
	}
	return nil
}
