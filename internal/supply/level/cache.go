package level

import (
	"context"
	"sort"
	"sync"

	"frontline.gg/internal/supply/region"
)

type cacheKey struct {
	Region region.ID
	Team   string
}

// Cache holds the latest record per (region, team).
type Cache struct {
	m sync.Map // cacheKey -> Record
}

func (c *Cache) Get(id region.ID, team string) (Record, bool) {
	v, ok := c.m.Load(cacheKey{id, team})
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

func (c *Cache) Put(r Record) { c.m.Store(cacheKey{r.Region, r.Team}, r) }

// PurgeTeam drops every record of team.
func (c *Cache) PurgeTeam(team string) {
	c.m.Range(func(k, _ any) bool {
		if k.(cacheKey).Team == team {
			c.m.Delete(k)
		}
		return true
	})
}

func (c *Cache) Clear() {
	c.m.Range(func(k, _ any) bool {
		c.m.Delete(k)
		return true
	})
}

func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StatusStore persists computed records per round.
type StatusStore interface {
	PutStatuses(ctx context.Context, round string, recs []Record) error
	Statuses(ctx context.Context, round, team string) ([]Record, error)
	ClearStatuses(ctx context.Context, round string) error
}

type MemoryStatusStore struct {
	mu     sync.Mutex
	rounds map[string]map[cacheKey]Record
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{rounds: map[string]map[cacheKey]Record{}}
}

func (m *MemoryStatusStore) PutStatuses(_ context.Context, round string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rounds[round]
	if r == nil {
		r = map[cacheKey]Record{}
		m.rounds[round] = r
	}
	for _, rec := range recs {
		r[cacheKey{rec.Region, rec.Team}] = rec
	}
	return nil
}

func (m *MemoryStatusStore) Statuses(_ context.Context, round, team string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for k, rec := range m.rounds[round] {
		if team == "" || k.Team == team {
			out = append(out, rec)
		}
	}
	SortRecords(out)
	return out, nil
}

func (m *MemoryStatusStore) ClearStatuses(_ context.Context, round string) error {
	m.mu.Lock()
	delete(m.rounds, round)
	m.mu.Unlock()
	return nil
}

// SortRecords orders by team, then region.
func SortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Team != rs[j].Team {
			return rs[i].Team < rs[j].Team
		}
		return rs[i].Region < rs[j].Region
	})
}
