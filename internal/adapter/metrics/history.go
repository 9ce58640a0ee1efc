package metrics

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/switchboard-dev/switchboard/pkg/nerdstats"
)

// historyRings holds the five dashboard trend series as fixed-length rings.
// Single-writer discipline: only the sampler body appends; readers take a
// snapshot under the same mutex.
type historyRings struct {
	mu     sync.Mutex
	points int

	avgResponseTime []float64
	successRate     []float64
	requestsPerMin  []float64
	cpuPercent      []float64
	memoryPercent   []float64
}

func newHistoryRings(points int) *historyRings {
	if points <= 0 {
		points = 60
	}
	return &historyRings{points: points}
}

func (h *historyRings) append(avgMs, successRate, rpm, cpu, mem float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.avgResponseTime = appendCapped(h.avgResponseTime, avgMs, h.points)
	h.successRate = appendCapped(h.successRate, successRate, h.points)
	h.requestsPerMin = appendCapped(h.requestsPerMin, rpm, h.points)
	h.cpuPercent = appendCapped(h.cpuPercent, cpu, h.points)
	h.memoryPercent = appendCapped(h.memoryPercent, mem, h.points)
}

func appendCapped(series []float64, value float64, cap int) []float64 {
	series = append(series, value)
	if len(series) > cap {
		series = series[len(series)-cap:]
	}
	return series
}

// View copies the series out for encoding.
func (h *historyRings) View(interval time.Duration) HistoricalView {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistoricalView{
		AvgResponseTimeMs: append([]float64(nil), h.avgResponseTime...),
		SuccessRate:       append([]float64(nil), h.successRate...),
		RequestsPerMinute: append([]float64(nil), h.requestsPerMin...),
		CPUPercent:        append([]float64(nil), h.cpuPercent...),
		MemoryPercent:     append([]float64(nil), h.memoryPercent...),
		IntervalMs:        interval.Milliseconds(),
	}
}

// Sample advances every historical ring by one point. Run under a supervised
// worker at the configured sample interval; it is the only writer.
func (a *Aggregator) Sample() {
	_, rpm, _ := a.requestRates.Rates(time.Now())
	stats := nerdstats.Snapshot(a.startedAt)

	a.history.append(
		a.AvgLatencyMs(),
		a.SuccessRatePercent(),
		float64(rpm),
		a.cpu.Percent(),
		stats.MemoryPercent(),
	)
}

// History returns the current trend series.
func (a *Aggregator) History() HistoricalView {
	return a.history.View(a.cfg.SampleInterval)
}

// cpuTracker derives process CPU utilisation from /proc deltas between calls.
// On platforms without /proc it reports zero; the trend series simply stays
// flat there.
type cpuTracker struct {
	mu        sync.Mutex
	lastTicks uint64
	lastAt    time.Time
	lastPct   float64
}

func (c *cpuTracker) Percent() float64 {
	ticks, ok := readSelfCPUTicks()
	if !ok {
		return 0
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastAt.IsZero() {
		c.lastTicks = ticks
		c.lastAt = now
		return 0
	}

	elapsed := now.Sub(c.lastAt).Seconds()
	if elapsed < 0.5 {
		return c.lastPct
	}

	// 100 clock ticks per second on every Linux we care about
	used := float64(ticks-c.lastTicks) / 100.0
	c.lastTicks = ticks
	c.lastAt = now
	c.lastPct = used / elapsed * 100
	if c.lastPct < 0 {
		c.lastPct = 0
	}
	return c.lastPct
}

// readSelfCPUTicks sums utime+stime from /proc/self/stat.
func readSelfCPUTicks() (uint64, bool) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}
	// comm may contain spaces; fields start after the closing paren
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[idx+1:]))
	// utime and stime are fields 14 and 15 of the full line; after the comm
	// they land at offsets 11 and 12
	if len(fields) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return utime + stime, true
}
