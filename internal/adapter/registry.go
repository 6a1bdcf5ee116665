package adapter

import (
	"fmt"
	"sort"

	"github.com/bdougie/framekit/internal/models"
)

// Registry maps model ids to adapter instances. It is built once at
// start-up and only read afterwards.
type Registry struct {
	adapters map[models.ModelID]ModelAdapter
}

// NewRegistry registers the built-in models plus any extra adapters.
// An extra adapter replaces a built-in with the same id.
func NewRegistry(extra ...ModelAdapter) *Registry {
	r := &Registry{adapters: make(map[models.ModelID]ModelAdapter)}
	for _, a := range []ModelAdapter{NewModelA(), NewModelB(), NewModelC()} {
		r.adapters[a.ID()] = a
	}
	for _, a := range extra {
		if a != nil {
			r.adapters[a.ID()] = a
		}
	}
	return r
}

// Lookup returns the adapter registered for id
func (r *Registry) Lookup(id models.ModelID) (ModelAdapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, &models.ValidationError{
			Field:  "model",
			Reason: fmt.Sprintf("model %q is not available", id),
		}
	}
	return a, nil
}

// IDs lists the registered model ids in sorted order
func (r *Registry) IDs() []models.ModelID {
	ids := make([]models.ModelID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
