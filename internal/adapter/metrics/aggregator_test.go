package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
	"github.com/switchboard-dev/switchboard/pkg/eventbus"
)

func newTestAggregator() *Aggregator {
	cfg := DefaultConfig()
	cfg.HistoryPoints = 10
	return NewAggregator(cfg, logger.NewDiscard())
}

func attempt(provider string, success bool, latencyMs int64) ports.AttemptOutcome {
	return ports.AttemptOutcome{
		Timestamp: time.Now(),
		Provider:  provider,
		LatencyMs: latencyMs,
		Success:   success,
	}
}

func TestAggregator_RecordAttemptCounters(t *testing.T) {
	a := newTestAggregator()

	a.RecordAttempt(attempt("openai-primary", true, 120))
	a.RecordAttempt(attempt("openai-primary", true, 80))
	failed := attempt("openai-primary", false, 500)
	failed.ErrorKind = domain.ErrKindTimeout
	a.RecordAttempt(failed)

	view, ok := a.ProviderView("openai-primary")
	if !ok {
		t.Fatal("Expected provider view")
	}
	if view.Requests != 3 || view.Successes != 2 || view.Failures != 1 {
		t.Errorf("Unexpected counters: %+v", view)
	}
	if view.ErrorBreakdown["timeout"] != 1 {
		t.Errorf("Expected timeout recorded, got %+v", view.ErrorBreakdown)
	}
	if view.SuccessRate < 66 || view.SuccessRate > 67 {
		t.Errorf("SuccessRate = %f, want ~66.7", view.SuccessRate)
	}
}

func TestAggregator_CacheHitCountsOnlyAsCacheHit(t *testing.T) {
	a := newTestAggregator()

	served := attempt("p", true, 100)
	served.Tokens = domain.TokenUsage{Input: 1000, Output: 500, Total: 1500}
	a.RecordAttempt(served)
	before, _ := a.ProviderView("p")

	hit := attempt("p", true, 0)
	hit.CacheHit = true
	hit.Tokens = served.Tokens // replayed from the cached response
	a.RecordAttempt(hit)

	view, _ := a.ProviderView("p")
	if view.CacheHits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", view.CacheHits)
	}
	// A hit never reached the upstream: the request, token, and cost counters
	// must not move.
	if view.Requests != 1 || view.Successes != 1 {
		t.Errorf("Hit inflated counters: requests=%d successes=%d, want 1/1", view.Requests, view.Successes)
	}
	if view.TokensIn != before.TokensIn || view.TokensOut != before.TokensOut {
		t.Errorf("Hit accrued tokens: %d/%d, want %d/%d",
			view.TokensIn, view.TokensOut, before.TokensIn, before.TokensOut)
	}
	if view.TotalCostUSD != before.TotalCostUSD {
		t.Errorf("Hit accrued cost: %f, want %f", view.TotalCostUSD, before.TotalCostUSD)
	}
	// The near-zero cache-hit latency must not drag the average down.
	if view.AvgLatencyMs != 100 {
		t.Errorf("AvgLatencyMs = %f, want 100", view.AvgLatencyMs)
	}
}

func TestAggregator_CostFromTokens(t *testing.T) {
	a := newTestAggregator()

	outcome := attempt("p", true, 100)
	outcome.Tokens = domain.TokenUsage{Input: 1_000_000, Output: 1_000_000, Total: 2_000_000}
	a.RecordAttempt(outcome)

	view, _ := a.ProviderView("p")
	// 1M input at $3/M plus 1M output at $15/M.
	if view.TotalCostUSD < 17.99 || view.TotalCostUSD > 18.01 {
		t.Errorf("TotalCostUSD = %f, want 18", view.TotalCostUSD)
	}
	if view.CostPerHourUSD < 17.99 {
		t.Errorf("Fresh cost should appear in the hourly window, got %f", view.CostPerHourUSD)
	}
	if view.TokensIn != 1_000_000 || view.TokensOut != 1_000_000 {
		t.Errorf("Unexpected token counters: %+v", view)
	}
}

func TestAggregator_P95TieBreakerSource(t *testing.T) {
	a := newTestAggregator()

	for i := 0; i < 20; i++ {
		a.RecordAttempt(attempt("slow", true, 900))
		a.RecordAttempt(attempt("fast", true, 30))
	}

	if slow := a.P95LatencyMs("slow"); slow != 900 {
		t.Errorf("P95 slow = %f, want 900", slow)
	}
	if fast := a.P95LatencyMs("fast"); fast != 30 {
		t.Errorf("P95 fast = %f, want 30", fast)
	}
	if unknown := a.P95LatencyMs("never-seen"); unknown != 0 {
		t.Errorf("Unknown provider should report 0, got %f", unknown)
	}
}

func TestAggregator_RecordRequestEndpoints(t *testing.T) {
	a := newTestAggregator()

	a.RecordRequest(ports.RequestOutcome{
		Timestamp:  time.Now(),
		Endpoint:   "/anthropic/v1/messages",
		StatusCode: 200,
		DurationMs: 45,
	})
	a.RecordRequest(ports.RequestOutcome{
		Timestamp:  time.Now(),
		Endpoint:   "/anthropic/v1/messages",
		StatusCode: 429,
		DurationMs: 2,
	})

	views := a.EndpointViews()
	view, ok := views["/anthropic/v1/messages"]
	if !ok {
		t.Fatal("Expected endpoint view")
	}
	if view.Requests != 2 {
		t.Errorf("Requests = %d, want 2", view.Requests)
	}
	if view.Statuses[200] != 1 || view.Statuses[429] != 1 {
		t.Errorf("Unexpected status breakdown: %+v", view.Statuses)
	}
}

func TestAggregator_ComprehensiveView(t *testing.T) {
	a := newTestAggregator()
	a.SetProviderStatusFunc(func(name string) (string, bool, int) {
		return "closed", true, 42
	})
	a.RecordAttempt(attempt("p", true, 10))
	a.Sample()

	view := a.Comprehensive(7)
	if view.Seq != 7 {
		t.Errorf("Seq = %d, want 7", view.Seq)
	}
	if view.UpdateType != "comprehensive_metrics" {
		t.Errorf("Unexpected update type %s", view.UpdateType)
	}
	pv, ok := view.Providers["p"]
	if !ok {
		t.Fatal("Expected provider in comprehensive view")
	}
	if pv.BreakerState != "closed" || !pv.Healthy || pv.RateLimitRemaining != 42 {
		t.Errorf("Status injection missing: %+v", pv)
	}
	if len(view.Historical.SuccessRate) != 1 {
		t.Errorf("Expected one history point after Sample, got %d", len(view.Historical.SuccessRate))
	}
}

func TestAggregator_SuccessRateDefaultsToHundred(t *testing.T) {
	a := newTestAggregator()
	if rate := a.SuccessRatePercent(); rate != 100 {
		t.Errorf("Idle gateway should report 100%% success, got %f", rate)
	}
}

func TestAggregator_ConsumeOutcomes(t *testing.T) {
	a := newTestAggregator()
	bus := eventbus.New[OutcomeEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.ConsumeOutcomes(ctx, bus)

	observer := NewBusObserver(bus)

	// Publish until the consumer (which subscribes asynchronously) sees one.
	deadline := time.After(time.Second)
	for {
		observer.RecordAttempt(attempt("bussed", true, 5))
		if _, ok := a.ProviderView("bussed"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Outcome never reached the aggregator through the bus")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLatencySampler_Percentiles(t *testing.T) {
	s := newLatencySampler(100)
	for i := int64(1); i <= 100; i++ {
		s.Add(i)
	}

	p50, p95, p99 := s.Percentiles()
	if p50 < 45 || p50 > 55 {
		t.Errorf("p50 = %d, want ~50", p50)
	}
	if p95 < 90 || p95 > 100 {
		t.Errorf("p95 = %d, want ~95", p95)
	}
	if p99 < 95 || p99 > 100 {
		t.Errorf("p99 = %d, want ~99", p99)
	}
	if s.Count() != 100 {
		t.Errorf("Count = %d, want 100", s.Count())
	}
	if avg := s.Average(); avg != 50.5 {
		t.Errorf("Average = %f, want 50.5", avg)
	}
}

func TestLatencySampler_ReservoirBounded(t *testing.T) {
	s := newLatencySampler(10)
	for i := int64(0); i < 10_000; i++ {
		s.Add(i)
	}
	if len(s.samples) != 10 {
		t.Errorf("Reservoir grew to %d, cap is 10", len(s.samples))
	}
	if s.Count() != 10_000 {
		t.Errorf("Count = %d, want 10000", s.Count())
	}
}

func TestRateWindow_Rates(t *testing.T) {
	var w rateWindow
	now := time.Now()

	for i := 0; i < 5; i++ {
		w.Incr(now)
	}
	w.Incr(now.Add(-30 * time.Second))
	w.Incr(now.Add(-2 * time.Minute))

	perSec, perMin, perHour := w.Rates(now)
	if perSec != 5 {
		t.Errorf("perSec = %d, want 5", perSec)
	}
	if perMin != 6 {
		t.Errorf("perMin = %d, want 6", perMin)
	}
	if perHour != 7 {
		t.Errorf("perHour = %d, want 7", perHour)
	}
}
