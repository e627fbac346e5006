package telemetry

import (
	"context"
	"sync"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/tank-controller/tank"
)

var addEvent = eventclient.AddEvent

// EventSink reports notable transitions to the local event reporter so they are uploaded with the
// rest of the device events. Routine readings are not reported.
type EventSink struct {
	mu     sync.Mutex
	states map[tank.ID]TankEvent
}

func NewEventSink() *EventSink {
	return &EventSink{states: map[tank.ID]TankEvent{}}
}

func (s *EventSink) PublishTank(ctx context.Context, e TankEvent) error {
	s.mu.Lock()
	previous, seen := s.states[e.Tank]
	s.states[e.Tank] = e
	s.mu.Unlock()

	details := map[string]interface{}{
		"tank":   e.Tank.String(),
		"volume": e.VolumeCm3,
		"state":  e.State.String(),
	}
	if e.Stale && (!seen || !previous.Stale) {
		return addEvent(eventclient.Event{
			Timestamp: e.Time,
			Type:      "tankSensorFault",
			Details:   details,
		})
	}
	if !e.Stale && e.State == tank.Red && (!seen || previous.State != tank.Red) {
		return addEvent(eventclient.Event{
			Timestamp: e.Time,
			Type:      "tankFull",
			Details:   details,
		})
	}
	return nil
}

func (s *EventSink) PublishPump(ctx context.Context, e PumpEvent) error {
	if e.Reason != ReasonTimeout && e.Reason != ReasonFault {
		return nil
	}
	eventType := "tankBalanceTimeout"
	if e.Reason == ReasonFault {
		eventType = "tankPumpFault"
	}
	return addEvent(eventclient.Event{
		Timestamp: e.Time,
		Type:      eventType,
		Details: map[string]interface{}{
			"direction": e.Direction.String(),
		},
	})
}
