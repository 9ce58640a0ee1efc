package metrics

import (
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/switchboard-dev/switchboard/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Broadcaster assembles the comprehensive dashboard message on a fixed cadence
// and fans it out through the hub. seq is strictly monotonic across both
// periodic broadcasts and immediate request_update replies so consumers can
// detect gaps.
type Broadcaster struct {
	logger     *logger.StyledLogger
	aggregator *Aggregator
	hub        *Hub
	interval   time.Duration
	seq        atomic.Uint64
}

func NewBroadcaster(aggregator *Aggregator, hub *Hub, interval time.Duration, log *logger.StyledLogger) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b := &Broadcaster{
		logger:     log,
		aggregator: aggregator,
		hub:        hub,
		interval:   interval,
	}
	hub.SetSnapshotFunc(b.snapshot)
	return b
}

// Body is the supervised worker loop: broadcast, sweep stale sockets, repeat.
// touch is the worker's activity callback.
func (b *Broadcaster) Body(touch func()) func(stopCh <-chan struct{}) {
	return func(stopCh <-chan struct{}) {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				b.broadcastOnce()
				b.hub.SweepStale()
				if touch != nil {
					touch()
				}
			}
		}
	}
}

func (b *Broadcaster) broadcastOnce() {
	if b.hub.Count() == 0 {
		return
	}
	data := b.snapshot()
	if data == nil {
		return
	}
	b.hub.Broadcast(data)
}

// snapshot builds one serialised comprehensive-metrics message.
func (b *Broadcaster) snapshot() []byte {
	view := b.aggregator.Comprehensive(b.seq.Add(1))
	data, err := json.Marshal(view)
	if err != nil {
		b.logger.Error("Failed to encode metrics broadcast", "error", err)
		return nil
	}
	return data
}
