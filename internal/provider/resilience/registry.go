package resilience

import (
	"cmp"
	"slices"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a snapshot of one upstream: its breaker plus the
// outcome of the most recent calls.
type ProviderHealth struct {
	Name          string          `json:"name"`
	CircuitState  gobreaker.State `json:"-"`
	State         string          `json:"state"`
	Requests      uint32          `json:"requests"`
	Failures      uint32          `json:"failures"`
	LastSuccessAt *time.Time      `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time      `json:"lastFailureAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

func (h *ProviderHealth) IsHealthy() bool   { return h.CircuitState == gobreaker.StateClosed }
func (h *ProviderHealth) IsDegraded() bool  { return h.CircuitState == gobreaker.StateHalfOpen }
func (h *ProviderHealth) IsUnhealthy() bool { return h.CircuitState == gobreaker.StateOpen }

// Registry tracks the feeds, the geocoder and the road router that the
// process talks to. Clients register themselves on creation.
type Registry struct {
	upstreams *xsync.MapOf[string, *upstream]
}

type upstream struct {
	client  *Client
	success atomic.Pointer[time.Time]
	failure atomic.Pointer[failure]
}

type failure struct {
	at  time.Time
	err string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{upstreams: xsync.NewMapOf[string, *upstream]()}
}

// Register adds or replaces the client known as name.
func (r *Registry) Register(name string, client *Client) {
	r.upstreams.Store(name, &upstream{client: client})
}

// RecordSuccess stamps a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	if u, ok := r.upstreams.Load(name); ok {
		now := time.Now()
		u.success.Store(&now)
	}
}

// RecordFailure stamps a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	u, ok := r.upstreams.Load(name)
	if !ok {
		return
	}
	f := &failure{at: time.Now()}
	if err != nil {
		f.err = err.Error()
	}
	u.failure.Store(f)
}

// GetHealth returns the health of name, or nil if it never registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	u, ok := r.upstreams.Load(name)
	if !ok {
		return nil
	}
	return u.snapshot(name)
}

// GetAllHealth returns every upstream sorted by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	out := make([]*ProviderHealth, 0, r.upstreams.Size())
	r.upstreams.Range(func(name string, u *upstream) bool {
		out = append(out, u.snapshot(name))
		return true
	})
	slices.SortFunc(out, func(a, b *ProviderHealth) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (u *upstream) snapshot(name string) *ProviderHealth {
	state := u.client.CircuitBreakerState()
	counts := u.client.CircuitBreakerCounts()
	h := &ProviderHealth{
		Name:          name,
		CircuitState:  state,
		State:         state.String(),
		Requests:      counts.Requests,
		Failures:      counts.TotalFailures,
		LastSuccessAt: u.success.Load(),
	}
	if f := u.failure.Load(); f != nil {
		at := f.at
		h.LastFailureAt = &at
		h.LastError = f.err
	}
	return h
}
