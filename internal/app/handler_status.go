package app

import (
	"net/http"
	"sort"
	"time"

	"github.com/switchboard-dev/switchboard/internal/version"
	"github.com/switchboard-dev/switchboard/pkg/format"
)

// handleModels aggregates per-provider model lists, deduplicated by model id.
func (a *Application) handleModels(w http.ResponseWriter, _ *http.Request) {
	seen := make(map[string]struct{})
	type modelEntry struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	var models []modelEntry

	for _, reg := range a.registry.List() {
		for _, model := range reg.Adapter.Descriptor().Models {
			if _, dup := seen[model]; dup {
				continue
			}
			seen[model] = struct{}{}
			models = append(models, modelEntry{ID: model, Type: "model"})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     models,
		"has_more": false,
	})
}

// handleHealth reports liveness plus per-provider readiness.
func (a *Application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type providerHealth struct {
		Kind         string   `json:"kind"`
		BreakerState string   `json:"breaker_state"`
		Models       []string `json:"models"`
		Healthy      bool     `json:"healthy"`
	}

	providers := make(map[string]providerHealth)
	healthyCount := 0
	for _, reg := range a.registry.List() {
		desc := reg.Adapter.Descriptor()
		healthy := reg.State.IsHealthy()
		if healthy {
			healthyCount++
		}
		providers[desc.Name] = providerHealth{
			Kind:         desc.Kind,
			BreakerState: string(a.breaker.State(desc.Name)),
			Models:       desc.Models,
			Healthy:      healthy,
		}
	}

	status := "healthy"
	if healthyCount == 0 && a.registry.Len() > 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"uptime":    format.Duration(a.aggregator.Uptime()),
		"providers": providers,
		"summary":   format.ProvidersUp(healthyCount, a.registry.Len()),
		"workers":   a.supervisor.Snapshot(),
		"timestamp": time.Now().UTC(),
	})
}

// handleVersion reports the build identity.
func (a *Application) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    version.Name,
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}
