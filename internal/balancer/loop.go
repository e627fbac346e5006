package balancer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/TheCacophonyProject/tank-controller/telemetry"
)

var nowFn = time.Now

var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Sensor interface {
	Measure() (time.Duration, error)
}

type Indicator interface {
	Apply(s tank.FillState) error
	Off() error
}

// TankIO is the hardware of one tank.
type TankIO struct {
	Sensor    Sensor
	Indicator Indicator
}

// TankStatus is the last published state of a tank.
type TankStatus struct {
	VolumeCm3 float64
	State     tank.FillState
	Stale     bool
}

// Status is a snapshot of the controller shared with the D-Bus service.
type Status struct {
	mu    sync.Mutex
	tanks map[tank.ID]TankStatus
	pump  pump.Command
}

func NewStatus() *Status {
	return &Status{tanks: map[tank.ID]TankStatus{}}
}

// Tank returns the status of a tank, ok is false before its first cycle.
func (s *Status) Tank(id tank.ID) (TankStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tanks[id]
	return ts, ok
}

func (s *Status) Pump() pump.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pump
}

func (s *Status) setTank(id tank.ID, ts TankStatus) {
	s.mu.Lock()
	s.tanks[id] = ts
	s.mu.Unlock()
}

func (s *Status) setPump(c pump.Command) {
	s.mu.Lock()
	s.pump = c
	s.mu.Unlock()
}

// Loop samples both tanks every period, drives the indicators, publishes the readings and
// balances the tanks.
type Loop struct {
	period     time.Duration
	estimator  tank.Estimator
	thresholds tank.Thresholds
	tanks      map[tank.ID]TankIO
	controller *Controller
	sink       telemetry.Sink
	status     *Status

	lastGood map[tank.ID]TankStatus
}

func NewLoop(c Config, tanks map[tank.ID]TankIO, p Actuator, sink telemetry.Sink, status *Status) (*Loop, error) {
	for _, id := range tank.IDs {
		if _, ok := tanks[id]; !ok {
			return nil, errors.New("missing hardware for tank " + id.String())
		}
	}
	if status == nil {
		status = NewStatus()
	}
	l := &Loop{
		period:     c.SamplePeriod,
		estimator:  tank.NewEstimator(c.Geometry, c.Calibration),
		thresholds: c.Thresholds,
		tanks:      tanks,
		sink:       sink,
		status:     status,
		lastGood:   map[tank.ID]TankStatus{},
	}
	l.controller = NewController(c.Balance, p, l.sampleBoth, sink, status)
	return l, nil
}

func (l *Loop) Status() *Status {
	return l.status
}

// Run runs cycles until ctx is cancelled. A nil error is returned on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := sleepFn(ctx, l.period); err != nil {
			return nil
		}
	}
}

// Cycle samples, classifies, displays and publishes both tanks, then balances them if both
// readings are valid.
func (l *Loop) Cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, b := l.sampleBoth(ctx)
	now := nowFn()
	readings := []tank.Reading{a, b}
	states := make([]TankStatus, len(readings))
	for i, r := range readings {
		states[i] = l.update(r)
	}
	// Both indicators are updated before anything is published.
	for i, r := range readings {
		l.display(r.Tank, states[i])
	}
	for i, r := range readings {
		err := l.sink.PublishTank(ctx, telemetry.TankEvent{
			Tank:      r.Tank,
			VolumeCm3: states[i].VolumeCm3,
			State:     states[i].State,
			Stale:     states[i].Stale,
			Time:      now,
		})
		if err != nil {
			log.Errorf("Failed to publish tank %s: %v", r.Tank, err)
		}
	}

	if !a.Valid() || !b.Valid() {
		log.Info("Not balancing without a valid reading from both tanks")
		return nil
	}
	outcome, err := l.controller.Balance(ctx, a, b)
	if outcome != OutcomeIdle {
		log.Debugf("Balancing %s", outcome)
	}
	return err
}

func (l *Loop) sampleBoth(ctx context.Context) (tank.Reading, tank.Reading) {
	return l.sample(tank.A), l.sample(tank.B)
}

func (l *Loop) sample(id tank.ID) tank.Reading {
	echo, err := l.tanks[id].Sensor.Measure()
	if err != nil {
		log.Errorf("Tank %s sensor failed: %v", id, err)
		return tank.FailedReading(id, err)
	}
	r := l.estimator.Reading(id, echo)
	log.Debug(r)
	return r
}

// update classifies a valid reading. An invalid reading keeps the last good state, marked stale,
// or Unknown if there has not been a good reading yet.
func (l *Loop) update(r tank.Reading) TankStatus {
	var ts TankStatus
	if r.Valid() {
		ts = TankStatus{VolumeCm3: r.VolumeCm3, State: l.thresholds.Classify(r.VolumeCm3)}
		l.lastGood[r.Tank] = ts
	} else if prev, ok := l.lastGood[r.Tank]; ok {
		ts = prev
		ts.Stale = true
	} else {
		ts = TankStatus{State: tank.Unknown, Stale: true}
	}
	l.status.setTank(r.Tank, ts)
	return ts
}

func (l *Loop) display(id tank.ID, ts TankStatus) {
	ind := l.tanks[id].Indicator
	var err error
	if ts.State == tank.Unknown {
		err = ind.Off()
	} else {
		err = ind.Apply(ts.State)
	}
	if err != nil {
		log.Errorf("Failed to set tank %s indicator: %v", id, err)
	}
}
