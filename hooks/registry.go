package hooks

import "sync"

// Registry fans lifecycle events out to subscribers in registration order.
// Production orchestrators may bring their own dispatcher; this one backs
// replay tooling and tests while honoring the same ordered-delivery
// contract.
type Registry struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe appends a subscriber. Delivery order follows subscription order.
func (r *Registry) Subscribe(s Subscriber) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, s)
}

// Dispatch delivers one event to every subscriber in order. Unrecognized
// event types are ignored.
func (r *Registry) Dispatch(event any) {
	if r == nil {
		return
	}
	r.mu.RLock()
	subs := make([]Subscriber, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.RUnlock()

	for _, s := range subs {
		switch e := event.(type) {
		case BeforeInvocationEvent:
			s.OnBeforeInvocation(e)
		case AfterInvocationEvent:
			s.OnAfterInvocation(e)
		case BeforeModelCallEvent:
			s.OnBeforeModelCall(e)
		case AfterModelCallEvent:
			s.OnAfterModelCall(e)
		case BeforeToolCallEvent:
			s.OnBeforeToolCall(e)
		case AfterToolCallEvent:
			s.OnAfterToolCall(e)
		case AfterToolsEvent:
			s.OnAfterTools(e)
		}
	}
}
