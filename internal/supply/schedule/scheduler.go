// Package schedule debounces supply recalculation: mutations mark teams dirty
// and a periodic flush recomputes each dirty team once.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Scheduler is the pending-recalculation set of one engine.
type Scheduler struct {
	pending sync.Map // team -> struct{}
	purge   func(team string)
	flushMu sync.Mutex
}

// New returns a scheduler that calls purge synchronously on every MarkDirty.
// purge may be nil.
func New(purge func(team string)) *Scheduler {
	return &Scheduler{purge: purge}
}

func (s *Scheduler) MarkDirty(team string) {
	if team == "" {
		return
	}
	if s.purge != nil {
		s.purge(team)
	}
	s.pending.Store(team, struct{}{})
}

// Pending returns the dirty teams in name order.
func (s *Scheduler) Pending() []string {
	var out []string
	s.pending.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Flush drains the pending set and runs fn once per team. A team marked dirty
// while fn runs stays pending for the next flush. Errors are joined; a failed
// team is not re-queued.
func (s *Scheduler) Flush(ctx context.Context, fn func(ctx context.Context, team string) error) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var teams []string
	s.pending.Range(func(k, _ any) bool {
		teams = append(teams, k.(string))
		s.pending.Delete(k)
		return true
	})
	sort.Strings(teams)

	var errs []error
	for i, team := range teams {
		if err := ctx.Err(); err != nil {
			// Put the rest back so nothing is lost on shutdown.
			for _, t := range teams[i:] {
				s.pending.LoadOrStore(t, struct{}{})
			}
			errs = append(errs, err)
			break
		}
		if err := fn(ctx, team); err != nil {
			errs = append(errs, fmt.Errorf("recalculate %s: %w", team, err))
		}
	}
	return errors.Join(errs...)
}
