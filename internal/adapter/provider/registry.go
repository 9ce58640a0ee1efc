package provider

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

// Registration bundles everything the router needs per provider: the wire
// adapter, the mutable runtime state, and the optional local rate limiter.
type Registration struct {
	Adapter ports.ProviderAdapter
	State   *domain.ProviderState
	Limiter *rate.Limiter // nil when no MaxRPS was configured
}

// Registry is the live set of registered providers, keyed by name. Lookups sit
// on the dispatch hot path so the map is lock-free; registration and removal
// are comparatively rare.
type Registry struct {
	logger  *logger.StyledLogger
	entries *xsync.Map[string, *Registration]
}

func NewRegistry(log *logger.StyledLogger) *Registry {
	return &Registry{
		logger:  log,
		entries: xsync.NewMap[string, *Registration](),
	}
}

// Register builds the adapter variant for the descriptor's kind and admits it.
// Names are unique; re-registering an existing name fails.
func (r *Registry) Register(descriptor *domain.ProviderDescriptor) (*Registration, error) {
	adapter, err := buildAdapter(descriptor)
	if err != nil {
		return nil, err
	}

	reg := &Registration{
		Adapter: adapter,
		State:   domain.NewProviderState(),
	}
	if descriptor.MaxRPS > 0 {
		burst := int(descriptor.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		reg.Limiter = rate.NewLimiter(rate.Limit(descriptor.MaxRPS), burst)
	}

	if _, loaded := r.entries.LoadOrStore(descriptor.Name, reg); loaded {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderExists, descriptor.Name)
	}

	r.logger.InfoWithProvider("Registered provider", descriptor.Name,
		"kind", descriptor.Kind, "endpoint", descriptor.Endpoint, "models", len(descriptor.Models))
	return reg, nil
}

// Remove withdraws a provider. In-flight requests already holding the
// registration finish normally; it simply stops being a candidate.
func (r *Registry) Remove(name string) error {
	if _, loaded := r.entries.LoadAndDelete(name); !loaded {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, name)
	}
	r.logger.InfoWithProvider("Removed provider", name)
	return nil
}

// Get returns the registration for name, if registered.
func (r *Registry) Get(name string) (*Registration, bool) {
	return r.entries.Load(name)
}

// List returns all registrations sorted by provider name for stable iteration.
func (r *Registry) List() []*Registration {
	regs := make([]*Registration, 0, r.entries.Size())
	r.entries.Range(func(_ string, reg *Registration) bool {
		regs = append(regs, reg)
		return true
	})
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].Adapter.Name() < regs[j].Adapter.Name()
	})
	return regs
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// buildAdapter selects the wire variant for the descriptor's kind.
func buildAdapter(descriptor *domain.ProviderDescriptor) (ports.ProviderAdapter, error) {
	switch descriptor.Kind {
	case "openai":
		return NewOpenAIAdapter(descriptor), nil
	case "anthropic":
		return NewAnthropicAdapter(descriptor), nil
	case "ollama":
		return NewOllamaAdapter(descriptor), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", descriptor.Kind)
	}
}
