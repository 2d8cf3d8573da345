// Package providers normalizes raw model-provider responses into the
// lifecycle events consumed by the tracing and metrics pipelines.
package providers

import (
	"sort"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

// Adapter converts one provider's response wire format into an
// AfterModelCallEvent with normalized stop reason and usage.
type Adapter interface {
	Name() string
	AfterModelCall(body []byte, metrics *telemetry.CallMetrics) hooks.AfterModelCallEvent
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		registry.adapters[adapter.Name()] = adapter
	}
	return registry
}

func DefaultRegistry() *Registry {
	return NewRegistry(OpenAIAdapter{}, AnthropicAdapter{})
}

func (r *Registry) Get(name string) (Adapter, bool) {
	adapter, ok := r.adapters[name]
	return adapter, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
