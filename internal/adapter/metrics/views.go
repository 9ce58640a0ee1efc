package metrics

import (
	"sort"
	"time"
)

// ProviderView is the per-provider slice of a metrics snapshot.
type ProviderView struct {
	Requests           int64            `json:"requests"`
	Successes          int64            `json:"successes"`
	Failures           int64            `json:"failures"`
	CacheHits          int64            `json:"cache_hits"`
	SuccessRate        float64          `json:"success_rate"`
	RPS                int64            `json:"rps"`
	RPM                int64            `json:"rpm"`
	RPH                int64            `json:"rph"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	ErrorBreakdown     map[string]int64 `json:"error_breakdown,omitempty"`
	TokensIn           int64            `json:"tokens_in"`
	TokensOut          int64            `json:"tokens_out"`
	CostPerHourUSD     float64          `json:"cost_per_hour_usd"`
	TotalCostUSD       float64          `json:"total_cost_usd"`
	BreakerState       string           `json:"breaker_state,omitempty"`
	Healthy            bool             `json:"healthy"`
	RateLimitRemaining int              `json:"rate_limit_remaining"`
	LastUsedAt         time.Time        `json:"last_used_at,omitempty"`
}

// EndpointView is the per-endpoint slice of a metrics snapshot.
type EndpointView struct {
	Requests     int64         `json:"requests"`
	RPS          int64         `json:"rps"`
	RPM          int64         `json:"rpm"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	P95LatencyMs int64         `json:"p95_latency_ms"`
	Statuses     map[int]int64 `json:"statuses,omitempty"`
}

// SystemView is the process-level slice of a metrics snapshot.
type SystemView struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryBytes       uint64  `json:"memory_bytes"`
	MemoryPercent     float64 `json:"memory_percent"`
	Goroutines        int     `json:"goroutines"`
	ActiveConnections int     `json:"active_connections"`
	TotalRPS          int64   `json:"total_rps"`
	TotalRequests     int64   `json:"total_requests"`
	TotalAttempts     int64   `json:"total_attempts"`
}

// HistoricalView is the five fixed-length trend series for dashboards.
type HistoricalView struct {
	AvgResponseTimeMs []float64 `json:"avg_response_time_ms"`
	SuccessRate       []float64 `json:"success_rate"`
	RequestsPerMinute []float64 `json:"requests_per_minute"`
	CPUPercent        []float64 `json:"cpu_percent"`
	MemoryPercent     []float64 `json:"memory_percent"`
	IntervalMs        int64     `json:"interval_ms"`
}

// ComprehensiveView is the full dashboard message body, shared by the
// /metrics/comprehensive endpoint and the WebSocket broadcast.
type ComprehensiveView struct {
	Timestamp  time.Time               `json:"timestamp"`
	Seq        uint64                  `json:"seq"`
	UpdateType string                  `json:"update_type"`
	Providers  map[string]ProviderView `json:"providers"`
	Endpoints  map[string]EndpointView `json:"endpoints,omitempty"`
	System     SystemView              `json:"system"`
	Historical HistoricalView          `json:"historical"`
}

// ProviderView assembles the current view for one provider. The bool reports
// whether the provider has recorded anything yet.
func (a *Aggregator) ProviderView(name string) (ProviderView, bool) {
	pm, ok := a.providers.Load(name)
	if !ok {
		return ProviderView{}, false
	}
	return a.buildProviderView(name, pm), true
}

// ProviderViews assembles views for every provider that has recorded activity.
func (a *Aggregator) ProviderViews() map[string]ProviderView {
	views := make(map[string]ProviderView, a.providers.Size())
	a.providers.Range(func(name string, pm *providerMetrics) bool {
		views[name] = a.buildProviderView(name, pm)
		return true
	})
	return views
}

// EndpointViews assembles views for every observed endpoint.
func (a *Aggregator) EndpointViews() map[string]EndpointView {
	now := time.Now()
	views := make(map[string]EndpointView, a.endpoints.Size())
	a.endpoints.Range(func(endpoint string, em *endpointMetrics) bool {
		rps, rpm, _ := em.rates.Rates(now)
		_, p95, _ := em.latency.Percentiles()

		em.mu.Lock()
		statuses := make(map[int]int64, len(em.statuses))
		for code, n := range em.statuses {
			statuses[code] = n
		}
		em.mu.Unlock()

		views[endpoint] = EndpointView{
			Requests:     em.requests.Load(),
			RPS:          rps,
			RPM:          rpm,
			AvgLatencyMs: em.latency.Average(),
			P95LatencyMs: p95,
			Statuses:     statuses,
		}
		return true
	})
	return views
}

// Comprehensive assembles the full dashboard view. seq is supplied by the
// broadcaster so WebSocket consumers can detect gaps.
func (a *Aggregator) Comprehensive(seq uint64) ComprehensiveView {
	return ComprehensiveView{
		Timestamp:  time.Now(),
		Seq:        seq,
		UpdateType: "comprehensive_metrics",
		Providers:  a.ProviderViews(),
		Endpoints:  a.EndpointViews(),
		System:     a.SystemView(),
		Historical: a.history.View(a.cfg.SampleInterval),
	}
}

// ProviderNames lists providers with recorded activity, sorted.
func (a *Aggregator) ProviderNames() []string {
	names := make([]string, 0, a.providers.Size())
	a.providers.Range(func(name string, _ *providerMetrics) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (a *Aggregator) buildProviderView(name string, pm *providerMetrics) ProviderView {
	now := time.Now()
	rps, rpm, rph := pm.rates.Rates(now)
	p50, p95, p99 := pm.latency.Percentiles()
	hourly, total := pm.costPerHour()

	pm.mu.Lock()
	breakdown := make(map[string]int64, len(pm.errorKinds))
	for kind, n := range pm.errorKinds {
		breakdown[kind] = n
	}
	pm.mu.Unlock()

	view := ProviderView{
		Requests:       pm.requests.Load(),
		Successes:      pm.successes.Load(),
		Failures:       pm.failures.Load(),
		CacheHits:      pm.cacheHits.Load(),
		RPS:            rps,
		RPM:            rpm,
		RPH:            rph,
		AvgLatencyMs:   pm.latency.Average(),
		P50LatencyMs:   p50,
		P95LatencyMs:   p95,
		P99LatencyMs:   p99,
		ErrorBreakdown: breakdown,
		TokensIn:       pm.tokensIn.Load(),
		TokensOut:      pm.tokensOut.Load(),
		CostPerHourUSD: hourly,
		TotalCostUSD:   total,
	}
	if view.Requests > 0 {
		view.SuccessRate = float64(view.Successes) / float64(view.Requests) * 100
	}
	if last := pm.lastUsed.Load(); last > 0 {
		view.LastUsedAt = time.Unix(0, last)
	}
	if a.statusFunc != nil {
		state, healthy, remaining := a.statusFunc(name)
		view.BreakerState = state
		view.Healthy = healthy
		view.RateLimitRemaining = remaining
	}
	return view
}

// SuccessRatePercent is the aggregate success rate across providers, used by
// the history sampler.
func (a *Aggregator) SuccessRatePercent() float64 {
	var successes, requests int64
	a.providers.Range(func(_ string, pm *providerMetrics) bool {
		successes += pm.successes.Load()
		requests += pm.requests.Load()
		return true
	})
	if requests == 0 {
		return 100
	}
	return float64(successes) / float64(requests) * 100
}

// AvgLatencyMs is the aggregate mean latency across providers.
func (a *Aggregator) AvgLatencyMs() float64 {
	var sum float64
	var n int
	a.providers.Range(func(_ string, pm *providerMetrics) bool {
		if avg := pm.latency.Average(); avg > 0 {
			sum += avg
			n++
		}
		return true
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
