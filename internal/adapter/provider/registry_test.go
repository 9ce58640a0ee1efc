package provider

import (
	"errors"
	"testing"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	reg, err := r.Register(testDescriptor("openai"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if reg.State == nil {
		t.Fatal("Registration must carry runtime state")
	}
	if reg.Limiter != nil {
		t.Error("No MaxRPS configured, limiter should be nil")
	}

	got, ok := r.Get("test-openai")
	if !ok || got != reg {
		t.Error("Get should return the registration")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	if _, err := r.Register(testDescriptor("openai")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register(testDescriptor("openai")); !errors.Is(err, domain.ErrProviderExists) {
		t.Errorf("Expected ErrProviderExists, got %v", err)
	}
}

func TestRegistry_UnknownKindRejected(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	desc := testDescriptor("openai")
	desc.Kind = "carrier-pigeon"
	if _, err := r.Register(desc); err == nil {
		t.Error("Unknown kind should be rejected")
	}
}

func TestRegistry_KindSelectsAdapter(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	tests := map[string]interface{}{
		"openai":    (*OpenAIAdapter)(nil),
		"anthropic": (*AnthropicAdapter)(nil),
		"ollama":    (*OllamaAdapter)(nil),
	}
	for kind := range tests {
		reg, err := r.Register(testDescriptor(kind))
		if err != nil {
			t.Fatalf("Register %s failed: %v", kind, err)
		}
		switch kind {
		case "openai":
			if _, ok := reg.Adapter.(*OpenAIAdapter); !ok {
				t.Errorf("kind %s built %T", kind, reg.Adapter)
			}
		case "anthropic":
			if _, ok := reg.Adapter.(*AnthropicAdapter); !ok {
				t.Errorf("kind %s built %T", kind, reg.Adapter)
			}
		case "ollama":
			if _, ok := reg.Adapter.(*OllamaAdapter); !ok {
				t.Errorf("kind %s built %T", kind, reg.Adapter)
			}
		}
	}
}

func TestRegistry_MaxRPSBuildsLimiter(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	desc := testDescriptor("openai")
	desc.MaxRPS = 2
	reg, err := r.Register(desc)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if reg.Limiter == nil {
		t.Fatal("MaxRPS should build a limiter")
	}

	// Burst equals the integer rate; the first allocations pass, then throttle.
	if !reg.Limiter.Allow() || !reg.Limiter.Allow() {
		t.Error("Burst capacity should admit the first two calls")
	}
	if reg.Limiter.Allow() {
		t.Error("Third immediate call should be throttled")
	}
}

func TestRegistry_RemoveAndList(t *testing.T) {
	r := NewRegistry(logger.NewDiscard())

	for _, kind := range []string{"ollama", "anthropic", "openai"} {
		if _, err := r.Register(testDescriptor(kind)); err != nil {
			t.Fatalf("Register %s failed: %v", kind, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d, want 3", len(list))
	}
	// Sorted by name for stable iteration.
	for i := 1; i < len(list); i++ {
		if list[i-1].Adapter.Name() >= list[i].Adapter.Name() {
			t.Errorf("List not sorted: %s before %s", list[i-1].Adapter.Name(), list[i].Adapter.Name())
		}
	}

	if err := r.Remove("test-anthropic"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := r.Remove("test-anthropic"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("Expected ErrProviderNotFound, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len after remove = %d, want 2", r.Len())
	}
}
