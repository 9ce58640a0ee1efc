package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
	"github.com/switchboard-dev/switchboard/pkg/nerdstats"
)

// Config tunes the aggregator. Cost rates are flat USD per million tokens used
// for the rolling cost estimate; zero disables cost accounting.
type Config struct {
	SampleSize           int
	HistoryPoints        int
	SampleInterval       time.Duration
	InputCostPerMTokens  float64
	OutputCostPerMTokens float64
}

func DefaultConfig() Config {
	return Config{
		SampleSize:           100,
		HistoryPoints:        60,
		SampleInterval:       time.Second,
		InputCostPerMTokens:  3.0,
		OutputCostPerMTokens: 15.0,
	}
}

// ProviderStatusFunc lets the composition root inject the live health and
// breaker view without the aggregator holding the registry or breaker.
type ProviderStatusFunc func(name string) (breakerState string, healthy bool, rateRemaining int)

// Aggregator centralises observability: it implements the outcome observer the
// router and gateway hold, keeps per-provider and per-endpoint counters off
// the hot path, and feeds the dashboard broadcast.
type Aggregator struct {
	logger    *logger.StyledLogger
	cfg       Config
	startedAt time.Time

	providers *xsync.Map[string, *providerMetrics]
	endpoints *xsync.Map[string, *endpointMetrics]

	totalRequests atomic.Int64
	totalAttempts atomic.Int64
	requestRates  rateWindow

	history *historyRings
	cpu     cpuTracker

	statusFunc      ProviderStatusFunc
	connectionsFunc func() int
}

type providerMetrics struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	tokensIn  atomic.Int64
	tokensOut atomic.Int64
	lastUsed  atomic.Int64 // unix nano

	latency *latencySampler
	rates   rateWindow

	mu         sync.Mutex
	errorKinds map[string]int64
	costTotal  float64
	costMinute [60]float64 // rolling hour in per-minute buckets
	costLast   int64       // unix minute of last cost write
}

type endpointMetrics struct {
	requests atomic.Int64
	latency  *latencySampler
	rates    rateWindow

	mu       sync.Mutex
	statuses map[int]int64
}

func NewAggregator(cfg Config, log *logger.StyledLogger) *Aggregator {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.HistoryPoints <= 0 {
		cfg.HistoryPoints = 60
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	return &Aggregator{
		logger:    log,
		cfg:       cfg,
		startedAt: time.Now(),
		providers: xsync.NewMap[string, *providerMetrics](),
		endpoints: xsync.NewMap[string, *endpointMetrics](),
		history:   newHistoryRings(cfg.HistoryPoints),
	}
}

// SetProviderStatusFunc injects the live provider status source.
func (a *Aggregator) SetProviderStatusFunc(fn ProviderStatusFunc) { a.statusFunc = fn }

// SetConnectionsFunc injects the active-connection count source (pool in-flight).
func (a *Aggregator) SetConnectionsFunc(fn func() int) { a.connectionsFunc = fn }

// RecordAttempt ingests one dispatch attempt. Counter updates are atomic or
// briefly locked per provider so the hot path never serialises globally.
func (a *Aggregator) RecordAttempt(outcome ports.AttemptOutcome) {
	pm := a.providerFor(outcome.Provider)

	// A cache hit never reached the provider: it counts against the cache-hit
	// counter only, not requests, successes, tokens, cost, or latency.
	if outcome.CacheHit {
		pm.cacheHits.Add(1)
		return
	}

	a.totalAttempts.Add(1)
	pm.requests.Add(1)
	pm.rates.Incr(outcome.Timestamp)
	pm.lastUsed.Store(outcome.Timestamp.UnixNano())

	if outcome.Success {
		pm.successes.Add(1)
	} else {
		pm.failures.Add(1)
		if outcome.ErrorKind != domain.ErrKindNone {
			pm.mu.Lock()
			pm.errorKinds[outcome.ErrorKind.String()]++
			pm.mu.Unlock()
		}
	}

	pm.latency.Add(outcome.LatencyMs)

	if outcome.Tokens.Total > 0 {
		pm.tokensIn.Add(int64(outcome.Tokens.Input))
		pm.tokensOut.Add(int64(outcome.Tokens.Output))

		cost := outcome.CostUSD
		if cost == 0 {
			cost = float64(outcome.Tokens.Input)/1e6*a.cfg.InputCostPerMTokens +
				float64(outcome.Tokens.Output)/1e6*a.cfg.OutputCostPerMTokens
		}
		if cost > 0 {
			pm.addCost(outcome.Timestamp, cost)
		}
	}
}

// RecordRequest ingests one completed client request.
func (a *Aggregator) RecordRequest(outcome ports.RequestOutcome) {
	a.totalRequests.Add(1)
	a.requestRates.Incr(outcome.Timestamp)

	em := a.endpointFor(outcome.Endpoint)
	em.requests.Add(1)
	em.rates.Incr(outcome.Timestamp)
	em.latency.Add(outcome.DurationMs)
	em.mu.Lock()
	em.statuses[outcome.StatusCode]++
	em.mu.Unlock()
}

// P95LatencyMs supplies the router's selection tie-breaker.
func (a *Aggregator) P95LatencyMs(provider string) float64 {
	pm, ok := a.providers.Load(provider)
	if !ok {
		return 0
	}
	_, p95, _ := pm.latency.Percentiles()
	return float64(p95)
}

func (a *Aggregator) providerFor(name string) *providerMetrics {
	if name == "" {
		name = "unknown"
	}
	pm, _ := a.providers.LoadOrCompute(name, func() (*providerMetrics, bool) {
		return &providerMetrics{
			latency:    newLatencySampler(a.cfg.SampleSize),
			errorKinds: make(map[string]int64),
		}, false
	})
	return pm
}

func (a *Aggregator) endpointFor(endpoint string) *endpointMetrics {
	em, _ := a.endpoints.LoadOrCompute(endpoint, func() (*endpointMetrics, bool) {
		return &endpointMetrics{
			latency:  newLatencySampler(a.cfg.SampleSize),
			statuses: make(map[int]int64),
		}, false
	})
	return em
}

func (pm *providerMetrics) addCost(at time.Time, cost float64) {
	minute := at.Unix() / 60
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.costLast != 0 {
		gap := minute - pm.costLast
		if gap >= 60 {
			pm.costMinute = [60]float64{}
		} else {
			for i := pm.costLast + 1; i <= minute; i++ {
				pm.costMinute[i%60] = 0
			}
		}
	}
	pm.costLast = minute
	pm.costMinute[minute%60] += cost
	pm.costTotal += cost
}

func (pm *providerMetrics) costPerHour() (hourly, total float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, c := range pm.costMinute {
		hourly += c
	}
	return hourly, pm.costTotal
}

// Uptime reports how long the aggregator (and so the process) has been up.
func (a *Aggregator) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

// SystemView assembles the runtime snapshot for dashboards.
func (a *Aggregator) SystemView() SystemView {
	stats := nerdstats.Snapshot(a.startedAt)
	rps, _, _ := a.requestRates.Rates(time.Now())

	connections := 0
	if a.connectionsFunc != nil {
		connections = a.connectionsFunc()
	}

	return SystemView{
		UptimeSeconds:     int64(stats.Uptime.Seconds()),
		CPUPercent:        a.cpu.Percent(),
		MemoryBytes:       stats.HeapInuse,
		MemoryPercent:     stats.MemoryPercent(),
		Goroutines:        stats.NumGoroutines,
		ActiveConnections: connections,
		TotalRPS:          rps,
		TotalRequests:     a.totalRequests.Load(),
		TotalAttempts:     a.totalAttempts.Load(),
	}
}
