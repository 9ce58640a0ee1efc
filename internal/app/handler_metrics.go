package app

import (
	"net/http"
	"time"
)

// handleMetrics is the summary view: system stats, cache and pool counters,
// plus per-provider top lines.
func (a *Application) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"system":    a.aggregator.SystemView(),
		"providers": a.aggregator.ProviderViews(),
		"cache":     a.cache.Stats(),
		"pool":      a.pool.Stats(),
		"eventbus":  a.outcomes.Stats(),
	})
}

// handleMetricsComprehensive mirrors the WebSocket broadcast body over plain
// HTTP; seq is zero here since there is no ordering to preserve.
func (a *Application) handleMetricsComprehensive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.aggregator.Comprehensive(0))
}

// handleMetricsHistory returns the trend series alone.
func (a *Application) handleMetricsHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.aggregator.History())
}

// handleMetricsProvider returns the view for one provider.
func (a *Application) handleMetricsProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	view, ok := a.aggregator.ProviderView(name)
	if !ok {
		if _, registered := a.registry.Get(name); !registered {
			writeAnthropicError(w, http.StatusNotFound, "not_found_error", "unknown provider "+name)
			return
		}
		// registered but no traffic yet: empty view
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": name,
		"metrics":  view,
	})
}
