package roads

import (
	"context"
	"sort"
	"sync"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
)

// MemoryBackend keeps rounds in process memory. Used by tests and embedded hosts.
type MemoryBackend struct {
	mu     sync.RWMutex
	rounds map[string]map[geom.Pos]Block
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rounds: map[string]map[geom.Pos]Block{}}
}

func (m *MemoryBackend) roundLocked(round string) map[geom.Pos]Block {
	r := m.rounds[round]
	if r == nil {
		r = map[geom.Pos]Block{}
		m.rounds[round] = r
	}
	return r
}

func (m *MemoryBackend) Upsert(_ context.Context, round string, b Block) error {
	m.mu.Lock()
	m.roundLocked(round)[b.Pos] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) UpsertMany(_ context.Context, round string, bs []Block) error {
	m.mu.Lock()
	r := m.roundLocked(round)
	for _, b := range bs {
		r[b.Pos] = b
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, round string, p geom.Pos) (Block, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rounds[round][p]
	if ok {
		delete(m.rounds[round], p)
	}
	return b, ok, nil
}

func (m *MemoryBackend) Get(_ context.Context, round string, p geom.Pos) (Block, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.rounds[round][p]
	return b, ok, nil
}

func (m *MemoryBackend) filter(round string, keep func(Block) bool) []Block {
	m.mu.RLock()
	var out []Block
	for _, b := range m.rounds[round] {
		if keep(b) {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()
	SortBlocks(out)
	return out
}

func (m *MemoryBackend) TeamBlocks(_ context.Context, round, team string) ([]Block, error) {
	return m.filter(round, func(b Block) bool { return b.Team == team }), nil
}

func (m *MemoryBackend) RegionBlocks(_ context.Context, round string, id region.ID, team string) ([]Block, error) {
	return m.filter(round, func(b Block) bool { return b.Region == id && b.Team == team }), nil
}

func (m *MemoryBackend) AreaBlocks(_ context.Context, round string, a geom.Area, team string) ([]Block, error) {
	return m.filter(round, func(b Block) bool { return b.Team == team && a.Contains(b.Pos.X, b.Pos.Z) }), nil
}

func (m *MemoryBackend) CountRegion(ctx context.Context, round string, id region.ID, team string) (int, error) {
	bs, err := m.RegionBlocks(ctx, round, id, team)
	return len(bs), err
}

func (m *MemoryBackend) ClearRound(_ context.Context, round string) error {
	m.mu.Lock()
	delete(m.rounds, round)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) ClearRegion(_ context.Context, round string, id region.ID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	teams := map[string]bool{}
	for p, b := range m.rounds[round] {
		if b.Region == id {
			teams[b.Team] = true
			delete(m.rounds[round], p)
		}
	}
	out := make([]string, 0, len(teams))
	for t := range teams {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
