package platform

import (
	"context"
	"fmt"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

// Registry maps platform tags to adapters. It is built once at startup and read-only afterwards.
type Registry struct {
	adapters map[model.Platform]Adapter
	order    []model.Platform
}

// NewRegistry rejects nil adapters and duplicate platforms.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[model.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		p := a.Platform()
		if _, dup := r.adapters[p]; dup {
			return nil, fmt.Errorf("duplicate adapter for platform %s", p)
		}
		r.adapters[p] = a
		r.order = append(r.order, p)
	}
	return r, nil
}

// Get returns the adapter for p.
func (r *Registry) Get(p model.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms lists registered platforms in registration order.
func (r *Registry) Platforms() []model.Platform {
	return append([]model.Platform(nil), r.order...)
}

// Available lists registered platforms whose adapter reports itself available.
func (r *Registry) Available(ctx context.Context) []model.Platform {
	var out []model.Platform
	for _, p := range r.order {
		if r.adapters[p].IsAvailable(ctx) {
			out = append(out, p)
		}
	}
	return out
}
