package metrics

import (
	"context"

	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/pkg/eventbus"
)

// OutcomeEvent is the typed record carried over the outcome bus. Exactly one
// of Attempt or Request is set.
type OutcomeEvent struct {
	Attempt *ports.AttemptOutcome
	Request *ports.RequestOutcome
}

// BusObserver publishes outcome records instead of applying them directly, so
// additional sinks (audit, alerting) can subscribe without touching the router
// or gateway.
type BusObserver struct {
	bus *eventbus.Bus[OutcomeEvent]
}

func NewBusObserver(bus *eventbus.Bus[OutcomeEvent]) *BusObserver {
	return &BusObserver{bus: bus}
}

func (o *BusObserver) RecordAttempt(outcome ports.AttemptOutcome) {
	o.bus.Publish(OutcomeEvent{Attempt: &outcome})
}

func (o *BusObserver) RecordRequest(outcome ports.RequestOutcome) {
	o.bus.Publish(OutcomeEvent{Request: &outcome})
}

// ConsumeOutcomes drains the bus into the aggregator until ctx is cancelled or
// the bus shuts down. Run on its own goroutine at startup.
func (a *Aggregator) ConsumeOutcomes(ctx context.Context, bus *eventbus.Bus[OutcomeEvent]) {
	events, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch {
			case event.Attempt != nil:
				a.RecordAttempt(*event.Attempt)
			case event.Request != nil:
				a.RecordRequest(*event.Request)
			}
		}
	}
}
