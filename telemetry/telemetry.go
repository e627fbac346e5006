// Package telemetry publishes tank and pump events to remote sinks.
//
// Sinks are best effort. A failing sink is logged and never stops the control loop.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	log = l
}

// FormatTime formats a timestamp for published payloads. No field is zero padded.
func FormatTime(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d %d:%d:%d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

type PumpState string

const (
	PumpOn  PumpState = "ON"
	PumpOff PumpState = "OFF"
)

// Reasons for a pump stopping.
const (
	ReasonBalanced  = "balanced"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonFault     = "fault"
)

// TankEvent is published once per tank per control cycle.
// Stale is set when the sensor failed and the volume and state are from the last good reading.
type TankEvent struct {
	Tank      tank.ID
	VolumeCm3 float64
	State     tank.FillState
	Stale     bool
	Time      time.Time
}

// PumpEvent is published on every pump transition.
type PumpEvent struct {
	State     PumpState
	Direction pump.Direction
	Reason    string
	Time      time.Time
}

type Sink interface {
	PublishTank(ctx context.Context, e TankEvent) error
	PublishPump(ctx context.Context, e PumpEvent) error
}

type tankPayload struct {
	Tank   string  `json:"Tank"`
	Volume float64 `json:"Volume"`
	State  string  `json:"State"`
	Time   string  `json:"Time"`
	Stale  bool    `json:"Stale,omitempty"`
}

type pumpPayload struct {
	State     string `json:"State"`
	Time      string `json:"Time"`
	Direction string `json:"Direction,omitempty"`
	Reason    string `json:"Reason,omitempty"`
}

func newTankPayload(e TankEvent) tankPayload {
	return tankPayload{
		Tank:   e.Tank.String(),
		Volume: e.VolumeCm3,
		State:  e.State.String(),
		Time:   FormatTime(e.Time),
		Stale:  e.Stale,
	}
}

func newPumpPayload(e PumpEvent) pumpPayload {
	p := pumpPayload{
		State:  string(e.State),
		Time:   FormatTime(e.Time),
		Reason: e.Reason,
	}
	if e.Direction != pump.Off {
		p.Direction = e.Direction.String()
	}
	return p
}

// Multi publishes to every sink. Errors are logged, not returned.
type Multi []Sink

func (m Multi) PublishTank(ctx context.Context, e TankEvent) error {
	for _, s := range m {
		if err := s.PublishTank(ctx, e); err != nil {
			log.Errorf("Failed to publish tank %s event with %T: %v", e.Tank, s, err)
		}
	}
	return nil
}

func (m Multi) PublishPump(ctx context.Context, e PumpEvent) error {
	for _, s := range m {
		if err := s.PublishPump(ctx, e); err != nil {
			log.Errorf("Failed to publish pump event with %T: %v", s, err)
		}
	}
	return nil
}

// LogSink writes events to the log. It is used when no remote sink is configured.
type LogSink struct{}

func (LogSink) PublishTank(ctx context.Context, e TankEvent) error {
	log.Infof("Tank %s: volume %.2f, state %s, stale %t", e.Tank, e.VolumeCm3, e.State, e.Stale)
	return nil
}

func (LogSink) PublishPump(ctx context.Context, e PumpEvent) error {
	log.Infof("Pump %s %s %s", e.State, e.Direction, e.Reason)
	return nil
}
