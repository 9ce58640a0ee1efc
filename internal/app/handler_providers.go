package app

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// providerPayload is the admin API shape for provider create/update. Runtime
// registrations are in-memory only; they do not survive a restart.
type providerPayload struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Endpoint   string   `json:"endpoint"`
	Credential string   `json:"credential,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	Models     []string `json:"models"`
	Priority   int      `json:"priority"`
	TimeoutMs  int64    `json:"timeout_ms"`
	MaxRetries int      `json:"max_retries"`
	MaxRPS     float64  `json:"max_rps"`
}

func (p *providerPayload) validate() string {
	if p.Name == "" {
		return "name is required"
	}
	if p.Endpoint == "" {
		return "endpoint is required"
	}
	if len(p.Models) == 0 {
		return "models must be non-empty"
	}
	switch p.Kind {
	case "openai", "anthropic", "ollama":
	default:
		return "kind must be one of openai, anthropic, ollama"
	}
	return ""
}

func (p *providerPayload) descriptor() *domain.ProviderDescriptor {
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := p.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &domain.ProviderDescriptor{
		Name:       p.Name,
		Kind:       p.Kind,
		Endpoint:   p.Endpoint,
		Credential: p.Credential,
		GroupID:    p.GroupID,
		Models:     p.Models,
		Priority:   p.Priority,
		Timeout:    timeout,
		MaxRetries: retries,
		MaxRPS:     p.MaxRPS,
	}
}

// handleProviders serves the collection: list on GET, create on POST.
func (a *Application) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		type providerListing struct {
			Descriptor *domain.ProviderDescriptor   `json:"descriptor"`
			State      domain.ProviderStateSnapshot `json:"state"`
			Breaker    string                       `json:"breaker_state"`
		}
		listings := make([]providerListing, 0, a.registry.Len())
		for _, reg := range a.registry.List() {
			desc := reg.Adapter.Descriptor()
			listings = append(listings, providerListing{
				Descriptor: desc,
				State:      reg.State.Snapshot(),
				Breaker:    string(a.breaker.State(desc.Name)),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"providers": listings})

	case http.MethodPost:
		payload, errMsg := a.decodeProviderPayload(r)
		if errMsg != "" {
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", errMsg)
			return
		}
		if _, err := a.registry.Register(payload.descriptor()); err != nil {
			if errors.Is(err, domain.ErrProviderExists) {
				writeAnthropicError(w, http.StatusConflict, "invalid_request_error", err.Error())
				return
			}
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": payload.Name, "status": "registered"})
	}
}

// handleProviderByName serves update and delete for a single provider. Update
// is remove-and-re-register: descriptors are immutable once admitted.
func (a *Application) handleProviderByName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	switch r.Method {
	case http.MethodPut:
		payload, errMsg := a.decodeProviderPayload(r)
		if errMsg != "" {
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", errMsg)
			return
		}
		if payload.Name != name {
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "name in body must match path")
			return
		}
		if err := a.registry.Remove(name); err != nil {
			writeAnthropicError(w, http.StatusNotFound, "not_found_error", err.Error())
			return
		}
		if _, err := a.registry.Register(payload.descriptor()); err != nil {
			writeAnthropicError(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "updated"})

	case http.MethodDelete:
		if err := a.registry.Remove(name); err != nil {
			writeAnthropicError(w, http.StatusNotFound, "not_found_error", err.Error())
			return
		}
		a.breaker.Remove(name)
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
	}
}

func (a *Application) decodeProviderPayload(r *http.Request) (*providerPayload, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, "unreadable request body"
	}
	var payload providerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "request body is not valid JSON"
	}
	if msg := payload.validate(); msg != "" {
		return nil, msg
	}
	return &payload, ""
}
