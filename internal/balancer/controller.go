package balancer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/TheCacophonyProject/tank-controller/telemetry"
)

// Outcome of a single balancing attempt.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeBalanced
	OutcomeTimedOut
	OutcomeLockedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBalanced:
		return "balanced"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeLockedOut:
		return "locked out"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "idle"
}

// Actuator is the pump as seen by the controller. *pump.Driver implements it.
type Actuator interface {
	Apply(c pump.Command) error
	Stop() error
	SetActivity(on bool) error
}

// Sampler measures both tanks.
type Sampler func(ctx context.Context) (a, b tank.Reading)

// Decide picks the transfer direction for a signed imbalance of volA - volB.
// Anything inside the trigger band is Off.
func Decide(volA, volB, trigger float64) pump.Direction {
	diff := volA - volB
	switch {
	case diff >= trigger:
		return pump.AToB
	case diff <= -trigger:
		return pump.BToA
	}
	return pump.Off
}

// resolved reports if the imbalance that started a transfer in direction d is down to the release
// band. Overshooting past the other tank also counts, the pump never keeps pushing the wrong way.
func resolved(d pump.Direction, volA, volB, release float64) bool {
	diff := volA - volB
	if d == pump.BToA {
		return diff >= -release
	}
	return diff <= release
}

// Controller runs the transfer pump until the two tanks are within the release band.
// It blocks while the pump is running and is not safe for concurrent use.
type Controller struct {
	config BalanceConfig
	pump   Actuator
	sample Sampler
	sink   telemetry.Sink
	status *Status

	lockedUntil time.Time
}

func NewController(c BalanceConfig, p Actuator, sample Sampler, sink telemetry.Sink, status *Status) *Controller {
	if status == nil {
		status = NewStatus()
	}
	return &Controller{
		config: c,
		pump:   p,
		sample: sample,
		sink:   sink,
		status: status,
	}
}

// LockedUntil is the end of the cooldown after a balancing timeout, zero if not locked.
func (c *Controller) LockedUntil() time.Time {
	return c.lockedUntil
}

// Balance compares the two readings and, if they are far enough apart, pumps from the fuller tank
// until they converge, the limits are reached or ctx is cancelled.
// An error is only returned for cancellation or when the pump could not be driven.
func (c *Controller) Balance(ctx context.Context, a, b tank.Reading) (Outcome, error) {
	if !a.Valid() || !b.Valid() {
		return OutcomeIdle, nil
	}
	dir := Decide(a.VolumeCm3, b.VolumeCm3, c.config.Trigger)
	if dir == pump.Off {
		return OutcomeIdle, nil
	}

	start := nowFn()
	if start.Before(c.lockedUntil) {
		log.Debugf("Balancing locked out until %s", c.lockedUntil.Format(time.TimeOnly))
		return OutcomeLockedOut, nil
	}

	cmd := pump.Command{Direction: dir, Duty: c.config.Duty}
	log.Infof("Volume difference %.2f, pumping %s", a.VolumeCm3-b.VolumeCm3, cmd)
	if err := c.pump.Apply(cmd); err != nil {
		if stopErr := c.pump.Stop(); stopErr != nil {
			log.Errorf("Failed to stop pump: %v", stopErr)
		}
		return OutcomeIdle, fmt.Errorf("failed to start pump: %w", err)
	}
	c.status.setPump(cmd)
	c.publishPump(ctx, telemetry.PumpOn, dir, "")

	led := false
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return OutcomeCancelled, c.finish(ctx, dir, telemetry.ReasonCancelled, ctx.Err())
		}
		if c.exceeded(i, start) {
			log.Errorf("Tanks did not balance after %d checks in %s, stopping pump", i, nowFn().Sub(start).Round(time.Second))
			c.lockedUntil = nowFn().Add(c.config.FaultCooldown)
			return OutcomeTimedOut, c.finish(ctx, dir, telemetry.ReasonTimeout, nil)
		}

		led = !led
		if err := c.pump.SetActivity(led); err != nil {
			log.Errorf("Failed to set pump activity LED: %v", err)
		}
		if err := sleepFn(ctx, c.config.BlinkHalfPeriod); err != nil {
			return OutcomeCancelled, c.finish(ctx, dir, telemetry.ReasonCancelled, err)
		}

		a, b = c.sample(ctx)
		if !a.Valid() || !b.Valid() {
			log.Debugf("Skipping balance check: %s, %s", a, b)
			continue
		}
		log.Debugf("Balancing, volume A %.2f, volume B %.2f", a.VolumeCm3, b.VolumeCm3)
		if resolved(dir, a.VolumeCm3, b.VolumeCm3, c.config.Release) {
			log.Infof("Tanks balanced, volume A %.2f, volume B %.2f", a.VolumeCm3, b.VolumeCm3)
			return OutcomeBalanced, c.finish(ctx, dir, telemetry.ReasonBalanced, nil)
		}
	}
}

func (c *Controller) exceeded(iterations int, start time.Time) bool {
	if c.config.MaxIterations > 0 && iterations >= c.config.MaxIterations {
		return true
	}
	return c.config.MaxDuration > 0 && nowFn().Sub(start) >= c.config.MaxDuration
}

// finish stops the pump and reports it. cause is returned unless stopping failed.
func (c *Controller) finish(ctx context.Context, dir pump.Direction, reason string, cause error) error {
	stopErr := c.pump.Stop()
	c.status.setPump(pump.Stopped)
	if stopErr != nil {
		reason = telemetry.ReasonFault
	}
	// The pump off event is still sent when ctx has been cancelled.
	c.publishPump(context.WithoutCancel(ctx), telemetry.PumpOff, dir, reason)
	if stopErr != nil {
		return errors.Join(fmt.Errorf("failed to stop pump: %w", stopErr), cause)
	}
	return cause
}

func (c *Controller) publishPump(ctx context.Context, state telemetry.PumpState, dir pump.Direction, reason string) {
	err := c.sink.PublishPump(ctx, telemetry.PumpEvent{
		State:     state,
		Direction: dir,
		Reason:    reason,
		Time:      nowFn(),
	})
	if err != nil {
		log.Errorf("Failed to publish pump event: %v", err)
	}
}
