package strategy

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Registry maps factor types to their evaluators. It is safe for concurrent
// use; the default table is built once at startup.
type Registry struct {
	factors map[domain.FactorType]Factor
	mu      sync.RWMutex
}

// NewRegistry returns a registry holding every built-in factor.
func NewRegistry() *Registry {
	r := &Registry{factors: make(map[domain.FactorType]Factor)}
	for _, f := range []Factor{
		rsiFactor{},
		macdFactor{},
		maCrossoverFactor{},
		bollingerFactor{},
		momentumFactor{},
		atrBreakoutFactor{},
	} {
		r.Register(f)
	}
	return r
}

// DefaultRegistry is the built-in factor table.
var DefaultRegistry = NewRegistry()

// Register adds or replaces the evaluator for f.Type().
func (r *Registry) Register(f Factor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factors[f.Type()] = f
}

// Lookup returns the evaluator for t.
func (r *Registry) Lookup(t domain.FactorType) (Factor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factors[t]
	return f, ok
}

// Types returns the registered factor types in sorted order.
func (r *Registry) Types() []domain.FactorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.FactorType, 0, len(r.factors))
	for t := range r.factors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
