package roads

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
)

type StoreOptions struct {
	Grid    region.Grid
	Backend Backend
	// Dirty receives every team whose network changed. May be nil.
	Dirty Invalidator
	// Audit receives one entry per successful mutation. May be nil.
	Audit  Auditor
	Logger *log.Logger
	Now    func() time.Time
}

const lockStripes = 256

// Store is the cached road block store for the active round. Each coordinate's
// backend write and cache update happen under that coordinate's stripe lock;
// there is no store-wide lock on the mutation path.
type Store struct {
	grid    region.Grid
	backend Backend
	dirty   Invalidator
	audit   Auditor
	log     *log.Logger
	now     func() time.Time

	roundMu sync.RWMutex
	round   string

	cache sync.Map // geom.Pos -> Block
	locks [lockStripes]sync.Mutex
}

func (s *Store) lockFor(p geom.Pos) *sync.Mutex {
	h := uint32(p.X)*73856093 ^ uint32(p.Y)*19349663 ^ uint32(p.Z)*83492791
	return &s.locks[h%lockStripes]
}

// lockAll takes every stripe in index order.
func (s *Store) lockAll() func() {
	for i := range s.locks {
		s.locks[i].Lock()
	}
	return func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}
}

func NewStore(opts StoreOptions) *Store {
	s := &Store{
		grid:    opts.Grid,
		backend: opts.Backend,
		dirty:   opts.Dirty,
		audit:   opts.Audit,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) Grid() region.Grid { return s.grid }

func (s *Store) Round() string {
	s.roundMu.RLock()
	defer s.roundMu.RUnlock()
	return s.round
}

// SetRound switches the active round and drops the coordinate cache.
func (s *Store) SetRound(round string) {
	s.roundMu.Lock()
	changed := s.round != round
	s.round = round
	s.roundMu.Unlock()
	if changed {
		unlock := s.lockAll()
		s.DropCache()
		unlock()
	}
}

func (s *Store) DropCache() {
	s.cache.Range(func(k, _ any) bool {
		s.cache.Delete(k)
		return true
	})
}

func (s *Store) markDirty(team string) {
	if s.dirty != nil && team != "" {
		s.dirty.MarkDirty(team)
	}
}

func (s *Store) writeAudit(e AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.WriteRoadAudit(e); err != nil {
		s.log.Printf("road audit: %v", err)
	}
}

// Place upserts the road block at pos for team and schedules a recalculation.
// With no active round, or outside the grid, it is a quiet no-op.
func (s *Store) Place(ctx context.Context, pos geom.Pos, actor Actor, team string) error {
	round := s.Round()
	if round == "" || team == "" {
		return nil
	}
	id, ok := s.grid.At(pos.X, pos.Z)
	if !ok {
		return nil
	}
	b := Block{Pos: pos, Region: id, Team: team, Actor: actor, PlacedAt: s.now().UTC()}
	mu := s.lockFor(pos)
	mu.Lock()
	prev, hadPrev := s.getLocked(ctx, round, pos)
	if err := s.backend.Upsert(ctx, round, b); err != nil {
		mu.Unlock()
		return fmt.Errorf("place road %s: %w", pos, err)
	}
	s.cache.Store(pos, b)
	mu.Unlock()
	if hadPrev && prev.Team != team {
		s.markDirty(prev.Team)
	}
	s.markDirty(team)
	s.writeAudit(AuditEntry{Time: b.PlacedAt, Round: round, Action: ActionPlace, Pos: pos, Region: id, Team: team, Actor: actor})
	return nil
}

// PlaceNoRecalc bulk-inserts blocks without invalidating or scheduling anything.
// Callers pair it with exactly one recalculation per team once the batch is done.
// Blocks outside the grid are skipped; it returns the number stored.
func (s *Store) PlaceNoRecalc(ctx context.Context, bs []Block) (int, error) {
	round := s.Round()
	if round == "" || len(bs) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	rows := make([]Block, 0, len(bs))
	for _, b := range bs {
		id, ok := s.grid.At(b.Pos.X, b.Pos.Z)
		if !ok || b.Team == "" {
			continue
		}
		b.Region = id
		if b.PlacedAt.IsZero() {
			b.PlacedAt = now
		}
		if b.Actor.IsZero() {
			b.Actor = System
		}
		rows = append(rows, b)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.backend.UpsertMany(ctx, round, rows); err != nil {
		return 0, fmt.Errorf("import %d roads: %w", len(rows), err)
	}
	// Invalidate rather than fill: a concurrent Remove may already have won.
	for _, b := range rows {
		mu := s.lockFor(b.Pos)
		mu.Lock()
		s.cache.Delete(b.Pos)
		mu.Unlock()
	}
	s.writeAudit(AuditEntry{Time: now, Round: round, Action: ActionImport, Team: rows[0].Team, Actor: System, Count: len(rows)})
	return len(rows), nil
}

// Remove deletes the block at pos and returns the team that owned it.
func (s *Store) Remove(ctx context.Context, pos geom.Pos) (string, bool, error) {
	round := s.Round()
	if round == "" {
		return "", false, nil
	}
	mu := s.lockFor(pos)
	mu.Lock()
	b, ok, err := s.backend.Delete(ctx, round, pos)
	if err != nil {
		mu.Unlock()
		return "", false, fmt.Errorf("remove road %s: %w", pos, err)
	}
	s.cache.Delete(pos)
	mu.Unlock()
	if !ok {
		return "", false, nil
	}
	s.markDirty(b.Team)
	s.writeAudit(AuditEntry{Time: s.now().UTC(), Round: round, Action: ActionRemove, Pos: pos, Region: b.Region, Team: b.Team, Actor: b.Actor})
	return b.Team, true, nil
}

// Get reads through the cache. Backend read failures are logged and reported as absent.
func (s *Store) Get(ctx context.Context, pos geom.Pos) (Block, bool) {
	if v, ok := s.cache.Load(pos); ok {
		return v.(Block), true
	}
	round := s.Round()
	if round == "" {
		return Block{}, false
	}
	mu := s.lockFor(pos)
	mu.Lock()
	defer mu.Unlock()
	return s.getLocked(ctx, round, pos)
}

// getLocked fills the cache from the backend. The caller holds pos's stripe.
func (s *Store) getLocked(ctx context.Context, round string, pos geom.Pos) (Block, bool) {
	if v, ok := s.cache.Load(pos); ok {
		return v.(Block), true
	}
	b, ok, err := s.backend.Get(ctx, round, pos)
	if err != nil {
		s.log.Printf("get road %s: %v", pos, err)
		return Block{}, false
	}
	if ok && s.Round() == round {
		s.cache.Store(pos, b)
	}
	return b, ok
}

func (s *Store) ExistsAt(ctx context.Context, pos geom.Pos) bool {
	_, ok := s.Get(ctx, pos)
	return ok
}

func (s *Store) BlocksInRegion(ctx context.Context, id region.ID, team string) []Block {
	round := s.Round()
	if round == "" {
		return nil
	}
	bs, err := s.backend.RegionBlocks(ctx, round, id, team)
	if err != nil {
		s.log.Printf("region roads %s/%s: %v", id, team, err)
		return nil
	}
	return bs
}

func (s *Store) CountInRegion(ctx context.Context, id region.ID, team string) int {
	round := s.Round()
	if round == "" {
		return 0
	}
	n, err := s.backend.CountRegion(ctx, round, id, team)
	if err != nil {
		s.log.Printf("count roads %s/%s: %v", id, team, err)
		return 0
	}
	return n
}

func (s *Store) BlocksInArea(ctx context.Context, a geom.Area, team string) []Block {
	round := s.Round()
	if round == "" || a.Empty() {
		return nil
	}
	bs, err := s.backend.AreaBlocks(ctx, round, a, team)
	if err != nil {
		s.log.Printf("area roads %+v/%s: %v", a, team, err)
		return nil
	}
	return bs
}

// Snapshot loads the team's whole network once. An unreadable backend yields an empty snapshot.
func (s *Store) Snapshot(ctx context.Context, team string) *Snapshot {
	round := s.Round()
	if round == "" || team == "" {
		return NewSnapshot(s.grid, team, nil)
	}
	bs, err := s.backend.TeamBlocks(ctx, round, team)
	if err != nil {
		s.log.Printf("snapshot roads %s: %v", team, err)
		bs = nil
	}
	return NewSnapshot(s.grid, team, bs)
}

// ClearRound wipes the round's blocks. The cache is dropped when round is active.
func (s *Store) ClearRound(ctx context.Context, round string) error {
	if round == "" {
		return nil
	}
	unlock := s.lockAll()
	if err := s.backend.ClearRound(ctx, round); err != nil {
		unlock()
		return fmt.Errorf("clear round %s: %w", round, err)
	}
	if round == s.Round() {
		s.DropCache()
	}
	unlock()
	s.writeAudit(AuditEntry{Time: s.now().UTC(), Round: round, Action: ActionClear, Reason: "round"})
	return nil
}

// ClearRegion wipes one region in the active round and marks every affected team dirty.
func (s *Store) ClearRegion(ctx context.Context, id region.ID) ([]string, error) {
	round := s.Round()
	if round == "" {
		return nil, nil
	}
	unlock := s.lockAll()
	teams, err := s.backend.ClearRegion(ctx, round, id)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("clear region %s: %w", id, err)
	}
	s.cache.Range(func(k, v any) bool {
		if v.(Block).Region == id {
			s.cache.Delete(k)
		}
		return true
	})
	unlock()
	for _, t := range teams {
		s.markDirty(t)
	}
	s.writeAudit(AuditEntry{Time: s.now().UTC(), Round: round, Action: ActionClear, Region: id, Reason: "region"})
	return teams, nil
}
