package metrics

import (
	"sync"
	"time"
)

const rateWindowSeconds = 3600

// rateWindow counts events in per-second buckets over the last hour, giving
// exact 1s/1m/1h rates without storing timestamps. 3600 buckets of int64 is
// 28KB per tracked entity.
type rateWindow struct {
	mu      sync.Mutex
	buckets [rateWindowSeconds]int64
	lastSec int64
}

func (w *rateWindow) Incr(now time.Time) {
	sec := now.Unix()
	w.mu.Lock()
	w.advanceLocked(sec)
	w.buckets[sec%rateWindowSeconds]++
	w.mu.Unlock()
}

// Rates returns events in the last second, minute, and hour.
func (w *rateWindow) Rates(now time.Time) (perSec, perMin, perHour int64) {
	sec := now.Unix()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked(sec)

	perSec = w.buckets[sec%rateWindowSeconds]
	for i := int64(0); i < 60; i++ {
		perMin += w.buckets[(sec-i)%rateWindowSeconds]
	}
	for _, n := range w.buckets {
		perHour += n
	}
	return perSec, perMin, perHour
}

// advanceLocked zeroes buckets for seconds that elapsed since the last event.
func (w *rateWindow) advanceLocked(sec int64) {
	if w.lastSec == 0 {
		w.lastSec = sec
		return
	}
	gap := sec - w.lastSec
	if gap <= 0 {
		return
	}
	if gap >= rateWindowSeconds {
		for i := range w.buckets {
			w.buckets[i] = 0
		}
	} else {
		for i := w.lastSec + 1; i <= sec; i++ {
			w.buckets[i%rateWindowSeconds] = 0
		}
	}
	w.lastSec = sec
}
