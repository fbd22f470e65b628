package region

import (
	"fmt"
	"sort"
	"sync"
)

// State values reported by the registry.
const (
	StateNeutral = "NEUTRAL"
	StateHeld    = "HELD"
)

type Status struct {
	Owner string
	State string
}

// Service is the read-only region model consumed by the supply engine.
type Service interface {
	Grid() Grid
	Adjacent(id ID) []ID
	Status(id ID) (Status, bool)
	OwnedBy(team string) []ID
	At(x, z int) (ID, bool)
}

// Registry is an in-memory Service. Ownership changes arrive through SetOwner.
type Registry struct {
	grid Grid

	mu     sync.RWMutex
	owners map[ID]string
}

func NewRegistry(g Grid) *Registry {
	return &Registry{grid: g, owners: map[ID]string{}}
}

func (r *Registry) Grid() Grid { return r.grid }

func (r *Registry) Adjacent(id ID) []ID { return r.grid.Adjacent(id) }

func (r *Registry) At(x, z int) (ID, bool) { return r.grid.At(x, z) }

func (r *Registry) Status(id ID) (Status, bool) {
	id, ok := r.grid.Normalize(id)
	if !ok {
		return Status{}, false
	}
	r.mu.RLock()
	owner := r.owners[id]
	r.mu.RUnlock()
	if owner == "" {
		return Status{State: StateNeutral}, true
	}
	return Status{Owner: owner, State: StateHeld}, true
}

func (r *Registry) OwnedBy(team string) []ID {
	if team == "" {
		return nil
	}
	r.mu.RLock()
	var out []ID
	for id, owner := range r.owners {
		if owner == team {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Owners returns a copy of every held region's owner.
func (r *Registry) Owners() map[ID]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ID]string, len(r.owners))
	for id, team := range r.owners {
		out[id] = team
	}
	return out
}

// SetOwner records a capture. An empty team neutralises the region.
// It returns the previous owner.
func (r *Registry) SetOwner(id ID, team string) (string, error) {
	norm, ok := r.grid.Normalize(id)
	if !ok {
		return "", fmt.Errorf("unknown region %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.owners[norm]
	if team == "" {
		delete(r.owners, norm)
	} else {
		r.owners[norm] = team
	}
	return prev, nil
}
