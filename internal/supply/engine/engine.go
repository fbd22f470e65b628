// Package engine wires the road store, the connectivity searches and the
// debounced recalculation into the supply API consumed by gameplay code.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/gaps"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/pathfind"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/schedule"
)

// Teams resolves a team's configured home region.
type Teams interface {
	Home(team string) (region.ID, bool)
}

type Options struct {
	Regions region.Service
	Teams   Teams
	Backend roads.Backend
	// Statuses persists computed records. May be nil.
	Statuses level.StatusStore
	// Audit receives road mutations. May be nil.
	Audit roads.Auditor

	Border border.Params
	Gaps   gaps.Params
	Finder pathfind.Params
	Levels level.Table

	Logger  *log.Logger
	Verbose bool
	Now     func() time.Time
}

// Update is published after a team's records were recomputed.
type Update struct {
	Round   string         `json:"round"`
	Team    string         `json:"team"`
	Records []level.Record `json:"records"`
}

type Engine struct {
	regions  region.Service
	teams    Teams
	store    *roads.Store
	border   *border.Checker
	gaps     *gaps.Detector
	finder   *pathfind.Finder
	calc     *level.Calculator
	cache    level.Cache
	sched    *schedule.Scheduler
	statuses level.StatusStore
	levels   level.Table
	log      *log.Logger

	listenMu  sync.RWMutex
	listeners map[int]func(Update)
	nextID    int
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	verbose := log.New(io.Discard, "", 0)
	if opts.Verbose {
		verbose = logger
	}
	levels := opts.Levels
	if levels == nil {
		levels = level.DefaultTable()
	}
	e := &Engine{
		regions:   opts.Regions,
		teams:     opts.Teams,
		statuses:  opts.Statuses,
		levels:    levels,
		log:       logger,
		listeners: map[int]func(Update){},
	}
	e.sched = schedule.New(e.cache.PurgeTeam)
	e.store = roads.NewStore(roads.StoreOptions{
		Grid:    opts.Regions.Grid(),
		Backend: opts.Backend,
		Dirty:   e.sched,
		Audit:   opts.Audit,
		Logger:  logger,
		Now:     opts.Now,
	})
	e.border = border.New(opts.Border, verbose)
	e.gaps = gaps.New(opts.Gaps, e.border, opts.Regions, verbose)
	e.finder = pathfind.New(opts.Finder, opts.Regions, e.border, e.gaps, verbose)
	e.calc = level.NewCalculator(opts.Regions, e.finder, opts.Now)
	return e
}

func (e *Engine) Store() *roads.Store { return e.store }

func (e *Engine) Grid() region.Grid { return e.regions.Grid() }

func (e *Engine) Round() string { return e.store.Round() }

// SetRound activates round. Cached records of the previous round are dropped.
func (e *Engine) SetRound(round string) {
	if e.store.Round() == round {
		return
	}
	e.store.SetRound(round)
	e.cache.Clear()
}

// Home returns the team's home region; false for unknown teams.
func (e *Engine) Home(team string) (region.ID, bool) {
	if e.teams == nil || team == "" {
		return "", false
	}
	return e.teams.Home(team)
}

func (e *Engine) snapshot(ctx context.Context, team string) *roads.Snapshot {
	return e.store.Snapshot(ctx, team)
}

// Record returns the cached record for (id, team), computing the whole team on a miss.
func (e *Engine) Record(ctx context.Context, id region.ID, team string) level.Record {
	norm, ok := e.Grid().Normalize(id)
	if !ok {
		return level.Record{Region: id, Team: team, Level: level.Isolated, Hops: -1}
	}
	if e.Round() == "" {
		rec := level.Record{Region: norm, Team: team, Level: level.Isolated, Hops: -1}
		if home, ok := e.Home(team); ok && home == norm {
			rec.Level, rec.Connected, rec.Hops = level.Supplied, true, 0
		}
		return rec
	}
	if rec, ok := e.cache.Get(norm, team); ok {
		return rec
	}
	recs := e.compute(ctx, team)
	if err := e.persist(ctx, recs); err != nil {
		e.log.Printf("persist supply %s: %v", team, err)
	}
	for _, r := range recs {
		if r.Region == norm {
			return r
		}
	}
	return level.Record{Region: norm, Team: team, Level: level.Isolated, Hops: -1}
}

// Records returns the team's record for every region of the grid.
func (e *Engine) Records(ctx context.Context, team string) []level.Record {
	ids := e.Grid().All()
	out := make([]level.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.Record(ctx, id, team))
	}
	return out
}

func (e *Engine) SupplyLevel(ctx context.Context, id region.ID, team string) level.Level {
	return e.Record(ctx, id, team).Level
}

// IsConnectedToHome reports whether id is road-linked to the team's home at region level.
func (e *Engine) IsConnectedToHome(ctx context.Context, id region.ID, team string) bool {
	return e.Record(ctx, id, team).Connected
}

func (e *Engine) ConnectedRegions(ctx context.Context, team string) []region.ID {
	home, ok := e.Home(team)
	if !ok || e.Round() == "" {
		return nil
	}
	return e.finder.ConnectedRegions(e.snapshot(ctx, team), home)
}

func (e *Engine) HopsToHome(ctx context.Context, id region.ID, team string) int {
	home, ok := e.Home(team)
	if !ok || e.Round() == "" {
		return -1
	}
	g := e.Grid()
	target, ok := g.Normalize(id)
	if !ok {
		return -1
	}
	if target == home {
		return 0
	}
	if st, ok := e.regions.Status(target); !ok || st.Owner != team {
		return -1
	}
	return e.finder.HopsToHome(e.snapshot(ctx, team), target, home)
}

func (e *Engine) HasBorderConnection(ctx context.Context, a, b region.ID, team string) bool {
	if e.Round() == "" || team == "" {
		return false
	}
	g := e.Grid()
	a, okA := g.Normalize(a)
	b, okB := g.Normalize(b)
	if !okA || !okB {
		return false
	}
	return e.border.Connected(e.snapshot(ctx, team), a, b)
}

func (e *Engine) HasCriticalGap(ctx context.Context, id region.ID, team string) bool {
	home, ok := e.Home(team)
	if !ok || e.Round() == "" {
		return false
	}
	id, ok = e.Grid().Normalize(id)
	if !ok {
		return false
	}
	return e.gaps.HasCriticalGap(e.snapshot(ctx, team), id, home)
}

func (e *Engine) GapReport(ctx context.Context, id region.ID, team string) []string {
	if e.Round() == "" {
		return []string{"no active round"}
	}
	norm, ok := e.Grid().Normalize(id)
	if !ok {
		return []string{fmt.Sprintf("unknown region %s", id)}
	}
	return e.gaps.Report(e.snapshot(ctx, team), norm)
}

func (e *Engine) Levels() level.Table { return e.levels }

func (e *Engine) RespawnDelaySeconds(l level.Level) int { return e.levels.RespawnDelaySeconds(l) }

func (e *Engine) HealthRegenMultiplier(l level.Level) float64 {
	return e.levels.HealthRegenMultiplier(l)
}

func (e *Engine) Place(ctx context.Context, pos geom.Pos, actor roads.Actor, team string) error {
	return e.store.Place(ctx, pos, actor, team)
}

// PlaceBulk stores blocks without scheduling anything. Follow it with Recalculate.
func (e *Engine) PlaceBulk(ctx context.Context, bs []roads.Block) (int, error) {
	return e.store.PlaceNoRecalc(ctx, bs)
}

func (e *Engine) Remove(ctx context.Context, pos geom.Pos) (string, bool, error) {
	return e.store.Remove(ctx, pos)
}

func (e *Engine) ExistsAt(ctx context.Context, pos geom.Pos) bool { return e.store.ExistsAt(ctx, pos) }

func (e *Engine) MarkDirty(team string) { e.sched.MarkDirty(team) }

func (e *Engine) Pending() []string { return e.sched.Pending() }

// OwnershipChanged is called after a region capture; both sides are recalculated.
func (e *Engine) OwnershipChanged(id region.ID, oldTeam, newTeam string) {
	e.log.Printf("region %s: %q -> %q", id, oldTeam, newTeam)
	e.sched.MarkDirty(oldTeam)
	e.sched.MarkDirty(newTeam)
}

// Recalculate recomputes team immediately, outside the debounce.
func (e *Engine) Recalculate(ctx context.Context, team string) error {
	if team == "" {
		return nil
	}
	e.cache.PurgeTeam(team)
	return e.recalculate(ctx, team)
}

func (e *Engine) recalculate(ctx context.Context, team string) error {
	round := e.Round()
	if round == "" {
		return nil
	}
	recs := e.compute(ctx, team)
	err := e.persist(ctx, recs)
	e.publish(Update{Round: round, Team: team, Records: recs})
	return err
}

func (e *Engine) compute(ctx context.Context, team string) []level.Record {
	home, ok := e.Home(team)
	recs := e.calc.CalculateTeam(e.snapshot(ctx, team), home, ok)
	for _, r := range recs {
		e.cache.Put(r)
	}
	return recs
}

func (e *Engine) persist(ctx context.Context, recs []level.Record) error {
	if e.statuses == nil || len(recs) == 0 {
		return nil
	}
	round := e.Round()
	if round == "" {
		return nil
	}
	if err := e.statuses.PutStatuses(ctx, round, recs); err != nil {
		return fmt.Errorf("persist supply status: %w", err)
	}
	return nil
}

// Flush recomputes every dirty team once.
func (e *Engine) Flush(ctx context.Context) error {
	return e.sched.Flush(ctx, e.recalculate)
}

// Run flushes on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := e.Flush(ctx); err != nil {
				e.log.Printf("flush: %v", err)
			}
		}
	}
}

// ClearAll wipes round and makes it the active round.
func (e *Engine) ClearAll(ctx context.Context, round string) error {
	if err := e.store.ClearRound(ctx, round); err != nil {
		return err
	}
	if e.statuses != nil {
		if err := e.statuses.ClearStatuses(ctx, round); err != nil {
			return fmt.Errorf("clear supply status %s: %w", round, err)
		}
	}
	e.cache.Clear()
	e.store.SetRound(round)
	e.store.DropCache()
	return nil
}

// ClearRegion wipes one region's roads in the active round.
func (e *Engine) ClearRegion(ctx context.Context, id region.ID) error {
	norm, ok := e.Grid().Normalize(id)
	if !ok {
		return fmt.Errorf("unknown region %q", id)
	}
	_, err := e.store.ClearRegion(ctx, norm)
	return err
}

// Subscribe registers fn for every published update. The returned func removes it.
// fn runs on the recalculating goroutine and must not block.
func (e *Engine) Subscribe(fn func(Update)) func() {
	e.listenMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.listenMu.Unlock()
	return func() {
		e.listenMu.Lock()
		delete(e.listeners, id)
		e.listenMu.Unlock()
	}
}

func (e *Engine) publish(u Update) {
	e.listenMu.RLock()
	fns := make([]func(Update), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenMu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}
