package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/gaps"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/pathfind"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/spatial"
)

var testGrid = region.Grid{Size: 128, Rows: 4, Cols: 4}

type homes map[string]region.ID

func (h homes) Home(team string) (region.ID, bool) {
	id, ok := h[team]
	return id, ok
}

type fixture struct {
	e        *Engine
	reg      *region.Registry
	statuses *level.MemoryStatusStore
}

func newFixture(t *testing.T, owned ...region.ID) fixture {
	t.Helper()
	reg := region.NewRegistry(testGrid)
	for _, id := range owned {
		if _, err := reg.SetOwner(id, "red"); err != nil {
			t.Fatalf("SetOwner(%s): %v", id, err)
		}
	}
	statuses := level.NewMemoryStatusStore()
	e := New(testOptions(reg, roads.NewMemoryBackend(), statuses))
	e.SetRound("r1")
	return fixture{e: e, reg: reg, statuses: statuses}
}

func testOptions(reg *region.Registry, backend roads.Backend, statuses level.StatusStore) Options {
	nb := spatial.Params{Radius: 2, Tolerance: 3}
	return Options{
		Regions:  reg,
		Teams:    homes{"red": "A1", "blue": "D4"},
		Backend:  backend,
		Statuses: statuses,
		Border:   border.Params{Width: 8, Neighbor: nb, BFSCap: 2000, ExtendedWidth: 16, ExtendedProximity: 4},
		Gaps: gaps.Params{
			Enabled:           true,
			MinBlocks:         50,
			MinEntryBlocks:    3,
			ReachableFraction: 0.15,
			FloodCap:          50000,
			MinSegmentBlocks:  10,
			ReportMaxPairs:    6,
			Neighbor:          nb,
		},
		Finder: pathfind.Params{TransitCap: 20000, Neighbor: nb},
	}
}

func place(t *testing.T, e *Engine, xs []int, zs ...int) {
	t.Helper()
	ctx := context.Background()
	for _, x := range xs {
		for _, z := range zs {
			if err := e.Place(ctx, geom.Pos{X: x, Y: 64, Z: z}, roads.Player("p1"), "red"); err != nil {
				t.Fatalf("place: %v", err)
			}
		}
	}
}

func remove(t *testing.T, e *Engine, xs []int, zs ...int) {
	t.Helper()
	ctx := context.Background()
	for _, x := range xs {
		for _, z := range zs {
			if _, _, err := e.Remove(ctx, geom.Pos{X: x, Y: 64, Z: z}); err != nil {
				t.Fatalf("remove: %v", err)
			}
		}
	}
}

func span(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for x := from; x <= to; x++ {
		out = append(out, x)
	}
	return out
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func wantLevel(t *testing.T, e *Engine, id region.ID, want level.Level) {
	t.Helper()
	if got := e.SupplyLevel(context.Background(), id, "red"); got != want {
		t.Fatalf("supply %s: got %s want %s", id, got, want)
	}
}

func TestOwnedNeighbourWithoutRoadsIsUnsupplied(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	wantLevel(t, f.e, "A2", level.Unsupplied)
	wantLevel(t, f.e, "A1", level.Supplied)
	wantLevel(t, f.e, "A3", level.Isolated)
	if f.e.IsConnectedToHome(context.Background(), "A2", "red") {
		t.Fatalf("A2 has no road link")
	}
}

func TestContinuousRoadSupplies(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Supplied)

	ctx := context.Background()
	if !f.e.IsConnectedToHome(ctx, "A2", "red") || f.e.HopsToHome(ctx, "A2", "red") != 1 {
		t.Fatalf("A2 should be one verified hop from home")
	}
	if !f.e.HasBorderConnection(ctx, "A1", "a2", "red") {
		t.Fatalf("border connection expected")
	}
	if got := f.e.ConnectedRegions(ctx, "red"); !reflect.DeepEqual(got, []region.ID{"A1", "A2"}) {
		t.Fatalf("connected: %v", got)
	}
}

func TestBrokenCrossingDowngrades(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Supplied)

	remove(t, f.e, span(126, 130), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Unsupplied)
	if f.e.HasBorderConnection(context.Background(), "A1", "A2", "red") {
		t.Fatalf("crossing is broken")
	}
}

func TestInteriorSplitIsPartial(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	place(t, f.e, span(100, 210), 39, 40, 41)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Supplied)

	remove(t, f.e, span(135, 144), 39, 40, 41)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Partial)

	report := f.e.GapReport(context.Background(), "A2", "red")
	if len(report) == 0 || report[0] != "region A2 team red: 219 road blocks in 2 segments" {
		t.Fatalf("report header: %q", report)
	}
	segments := 0
	for _, line := range report {
		if strings.HasPrefix(line, "segment ") {
			segments++
			if !strings.Contains(line, "bounds (") {
				t.Fatalf("segment without bounds: %q", line)
			}
		}
	}
	if segments != 2 {
		t.Fatalf("segments: %d in %q", segments, report)
	}
	if !strings.Contains(report[1], "bounds (128,64,39)-(134,64,41)") || !strings.Contains(report[2], "bounds (145,64,39)-(210,64,41)") {
		t.Fatalf("segment bounds: %q", report[1:3])
	}
}

func TestGappedIntermediateRejectsPath(t *testing.T) {
	f := newFixture(t, "A1", "A2", "A3")
	place(t, f.e, span(100, 300), 39, 40, 41)
	flush(t, f.e)
	ctx := context.Background()
	if got := f.e.HopsToHome(ctx, "A3", "red"); got != 2 {
		t.Fatalf("intact chain: A3 hops %d", got)
	}

	remove(t, f.e, span(135, 144), 39, 40, 41)
	flush(t, f.e)
	if got := f.e.HopsToHome(ctx, "A3", "red"); got != -1 {
		t.Fatalf("A3 behind gapped A2: hops %d", got)
	}
	if !f.e.HasCriticalGap(ctx, "A2", "red") {
		t.Fatalf("A2 should report a critical gap")
	}
	wantLevel(t, f.e, "A3", level.Partial)
}

func TestIdempotentPlacement(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()
	p := geom.Pos{X: 150, Y: 64, Z: 40}
	for i := 0; i < 2; i++ {
		if err := f.e.Place(ctx, p, roads.Player("p1"), "red"); err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	if n := f.e.Store().CountInRegion(ctx, "A2", "red"); n != 1 {
		t.Fatalf("records: %d", n)
	}
}

func TestPlaceRemoveRoundTrip(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()
	before := f.e.SupplyLevel(ctx, "A2", "red")

	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Supplied)

	remove(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	if f.e.ExistsAt(ctx, geom.Pos{X: 150, Y: 64, Z: 40}) {
		t.Fatalf("block still exists")
	}
	wantLevel(t, f.e, "A2", before)
}

func TestHomeAlwaysSupplied(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()
	wantLevel(t, f.e, "A1", level.Supplied)
	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A1", level.Supplied)

	prev, _ := f.reg.SetOwner("A1", "blue")
	f.e.OwnershipChanged("A1", prev, "blue")
	flush(t, f.e)
	wantLevel(t, f.e, "A1", level.Supplied)
	if f.e.HopsToHome(ctx, "A1", "red") != 0 {
		t.Fatalf("home hops must be 0")
	}
}

func TestRemovingRegionRoadsDisconnects(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Supplied)

	if err := f.e.ClearRegion(context.Background(), "A2"); err != nil {
		t.Fatalf("clear region: %v", err)
	}
	flush(t, f.e)
	got := f.e.SupplyLevel(context.Background(), "A2", "red")
	if !got.Worse(level.Supplied) || got == level.Partial {
		t.Fatalf("without an alternative path A2 must be unsupplied or isolated, got %s", got)
	}
}

func TestSparseRegionNeverGaps(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	place(t, f.e, span(100, 134), 40)
	place(t, f.e, []int{150, 160, 170, 180, 190, 200, 210, 220, 230, 240, 250}, 40)
	flush(t, f.e)
	if f.e.HasCriticalGap(context.Background(), "A2", "red") {
		t.Fatalf("regions under the block minimum never gap")
	}
	wantLevel(t, f.e, "A2", level.Supplied)
}

type updates struct {
	mu  sync.Mutex
	got []Update
}

func (u *updates) add(up Update) {
	u.mu.Lock()
	u.got = append(u.got, up)
	u.mu.Unlock()
}

func (u *updates) teams() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, up := range u.got {
		out = append(out, up.Team)
	}
	return out
}

func TestBurstOfEditsRecalculatesOnce(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	var u updates
	cancel := f.e.Subscribe(u.add)
	defer cancel()

	place(t, f.e, span(100, 300), 40)
	remove(t, f.e, span(201, 300), 40)
	if got := f.e.Pending(); !reflect.DeepEqual(got, []string{"red"}) {
		t.Fatalf("pending: %v", got)
	}
	flush(t, f.e)
	flush(t, f.e)
	if got := u.teams(); !reflect.DeepEqual(got, []string{"red"}) {
		t.Fatalf("updates: %v", got)
	}
	if len(u.got[0].Records) != 16 || u.got[0].Round != "r1" {
		t.Fatalf("update payload: %+v", u.got[0])
	}
}

func TestBulkImportIsQuiet(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	var u updates
	defer f.e.Subscribe(u.add)()

	var bs []roads.Block
	for _, x := range span(100, 200) {
		bs = append(bs, roads.Block{Pos: geom.Pos{X: x, Y: 64, Z: 40}, Team: "red"})
	}
	n, err := f.e.PlaceBulk(context.Background(), bs)
	if err != nil || n != len(bs) {
		t.Fatalf("bulk: %d %v", n, err)
	}
	if len(f.e.Pending()) != 0 || len(u.teams()) != 0 {
		t.Fatalf("bulk import must not schedule work")
	}
	if err := f.e.Recalculate(context.Background(), "red"); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if len(u.teams()) != 1 {
		t.Fatalf("updates: %v", u.teams())
	}
	wantLevel(t, f.e, "A2", level.Supplied)
	b, ok := f.e.Store().Get(context.Background(), geom.Pos{X: 150, Y: 64, Z: 40})
	if !ok || !b.Actor.IsSystem() {
		t.Fatalf("imported block actor: %+v", b)
	}
}

func TestNoRoundIsQuiet(t *testing.T) {
	reg := region.NewRegistry(testGrid)
	_, _ = reg.SetOwner("A1", "red")
	_, _ = reg.SetOwner("A2", "red")
	e := New(testOptions(reg, roads.NewMemoryBackend(), nil))
	ctx := context.Background()

	if err := e.Place(ctx, geom.Pos{X: 150, Y: 64, Z: 40}, roads.Player("p1"), "red"); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(e.Pending()) != 0 {
		t.Fatalf("no round, nothing to schedule")
	}
	if e.SupplyLevel(ctx, "A2", "red") != level.Isolated || e.SupplyLevel(ctx, "A1", "red") != level.Supplied {
		t.Fatalf("idle levels wrong")
	}
	if e.ConnectedRegions(ctx, "red") != nil || e.HopsToHome(ctx, "A2", "red") != -1 {
		t.Fatalf("idle queries should be empty")
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestUnknownInputsAreTotal(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()
	if f.e.SupplyLevel(ctx, "Z99", "red") != level.Isolated {
		t.Fatalf("unknown region")
	}
	if f.e.HopsToHome(ctx, "Z99", "red") != -1 || f.e.HopsToHome(ctx, "A2", "green") != -1 {
		t.Fatalf("unknown hops")
	}
	if f.e.SupplyLevel(ctx, "A2", "green") != level.Isolated {
		t.Fatalf("team without home")
	}
	if got := f.e.GapReport(ctx, "Z99", "red"); len(got) != 1 || !strings.Contains(got[0], "unknown region") {
		t.Fatalf("report: %v", got)
	}
	if err := f.e.ClearRegion(ctx, "Z99"); err == nil {
		t.Fatalf("clearing an unknown region should fail")
	}
}

func TestOwnershipChangeMarksBothTeams(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	prev, _ := f.reg.SetOwner("A2", "blue")
	f.e.OwnershipChanged("A2", prev, "blue")
	if got := f.e.Pending(); !reflect.DeepEqual(got, []string{"blue", "red"}) {
		t.Fatalf("pending: %v", got)
	}
	flush(t, f.e)
	wantLevel(t, f.e, "A2", level.Isolated)
}

func TestClearAllWipesRound(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	ctx := context.Background()
	place(t, f.e, span(100, 200), 40)
	flush(t, f.e)
	if recs, _ := f.statuses.Statuses(ctx, "r1", "red"); len(recs) != 16 {
		t.Fatalf("persisted: %d", len(recs))
	}

	if err := f.e.ClearAll(ctx, "r1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if recs, _ := f.statuses.Statuses(ctx, "r1", "red"); len(recs) != 0 {
		t.Fatalf("statuses survived: %d", len(recs))
	}
	if f.e.ExistsAt(ctx, geom.Pos{X: 150, Y: 64, Z: 40}) {
		t.Fatalf("roads survived")
	}
	wantLevel(t, f.e, "A2", level.Unsupplied)

	if err := f.e.ClearAll(ctx, "r2"); err != nil || f.e.Round() != "r2" {
		t.Fatalf("new round: %q %v", f.e.Round(), err)
	}
}

type failingStatuses struct{ level.MemoryStatusStore }

func (*failingStatuses) PutStatuses(context.Context, string, []level.Record) error {
	return errors.New("disk full")
}

func TestFlushSurfacesPersistenceFailure(t *testing.T) {
	reg := region.NewRegistry(testGrid)
	_, _ = reg.SetOwner("A1", "red")
	e := New(testOptions(reg, roads.NewMemoryBackend(), &failingStatuses{}))
	e.SetRound("r1")
	e.MarkDirty("red")
	err := e.Flush(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err: %v", err)
	}
	if e.SupplyLevel(context.Background(), "A1", "red") != level.Supplied {
		t.Fatalf("cache should still be served")
	}
}

func TestRunFlushesOnTick(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	got := make(chan Update, 1)
	defer f.e.Subscribe(func(u Update) {
		select {
		case got <- u:
		default:
		}
	})()

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan struct{})
	go func() {
		f.e.Run(ctx, tick)
		close(done)
	}()

	place(t, f.e, span(100, 200), 40)
	tick <- time.Now()
	select {
	case u := <-got:
		if u.Team != "red" {
			t.Fatalf("update team: %s", u.Team)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no flush after tick")
	}
	cancel()
	<-done
}

func TestRecordsCoverGrid(t *testing.T) {
	f := newFixture(t, "A1", "A2")
	recs := f.e.Records(context.Background(), "red")
	if len(recs) != 16 || recs[0].Region != "A1" || recs[0].Level != level.Supplied {
		t.Fatalf("records: %+v", recs)
	}
}
