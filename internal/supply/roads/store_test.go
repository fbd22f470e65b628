package roads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
)

type recordingDirty struct {
	mu    sync.Mutex
	teams []string
}

func (r *recordingDirty) MarkDirty(team string) {
	r.mu.Lock()
	r.teams = append(r.teams, team)
	r.mu.Unlock()
}

type recordingAudit struct{ entries []AuditEntry }

func (r *recordingAudit) WriteRoadAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

type failingBackend struct{ *MemoryBackend }

var errDown = errors.New("store down")

func (failingBackend) Upsert(context.Context, string, Block) error { return errDown }
func (failingBackend) Delete(context.Context, string, geom.Pos) (Block, bool, error) {
	return Block{}, false, errDown
}
func (failingBackend) TeamBlocks(context.Context, string, string) ([]Block, error) {
	return nil, errDown
}

func newTestStore(b Backend) (*Store, *recordingDirty, *recordingAudit) {
	d := &recordingDirty{}
	a := &recordingAudit{}
	s := NewStore(StoreOptions{
		Grid:    region.Grid{Size: 128, Rows: 4, Cols: 4},
		Backend: b,
		Dirty:   d,
		Audit:   a,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	s.SetRound("r1")
	return s, d, a
}

func TestPlaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s, dirty, _ := newTestStore(mem)
	p := geom.Pos{X: 10, Y: 64, Z: 10}
	if err := s.Place(ctx, p, Player("alice"), "red"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Place(ctx, p, Player("bob"), "red"); err != nil {
		t.Fatalf("Place again: %v", err)
	}
	if n := s.CountInRegion(ctx, "A1", "red"); n != 1 {
		t.Fatalf("want exactly one record, got %d", n)
	}
	b, ok := s.Get(ctx, p)
	if !ok || b.Region != "A1" {
		t.Fatalf("Get: %+v %v", b, ok)
	}
	if id, _ := b.Actor.PlayerID(); id != "bob" {
		t.Fatalf("metadata should be overwritten, actor=%s", b.Actor)
	}
	if len(dirty.teams) != 2 || dirty.teams[0] != "red" {
		t.Fatalf("dirty marks: %v", dirty.teams)
	}
}

func TestPlaceThenRemove(t *testing.T) {
	ctx := context.Background()
	s, dirty, audit := newTestStore(NewMemoryBackend())
	p := geom.Pos{X: 200, Y: 70, Z: 5}
	_ = s.Place(ctx, p, Player("alice"), "blue")
	team, ok, err := s.Remove(ctx, p)
	if err != nil || !ok || team != "blue" {
		t.Fatalf("Remove: team=%q ok=%v err=%v", team, ok, err)
	}
	if s.ExistsAt(ctx, p) {
		t.Fatalf("block should be gone")
	}
	if _, ok, _ := s.Remove(ctx, p); ok {
		t.Fatalf("second remove should report absent")
	}
	if len(dirty.teams) != 2 {
		t.Fatalf("dirty marks: %v", dirty.teams)
	}
	if len(audit.entries) != 2 || audit.entries[1].Action != ActionRemove || audit.entries[1].Region != "A2" {
		t.Fatalf("audit: %+v", audit.entries)
	}
}

func TestTeamChangeDirtiesPreviousOwner(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(NewMemoryBackend())
	p := geom.Pos{X: 1, Y: 1, Z: 1}
	_ = s.Place(ctx, p, Player("a"), "red")
	_ = s.Place(ctx, p, Player("b"), "blue")
	want := []string{"red", "red", "blue"}
	if len(dirty.teams) != 3 {
		t.Fatalf("dirty: %v", dirty.teams)
	}
	for i := range want {
		if dirty.teams[i] != want[i] {
			t.Fatalf("dirty: %v want %v", dirty.teams, want)
		}
	}
}

func TestNoRoundIsQuiet(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(NewMemoryBackend())
	s.SetRound("")
	if err := s.Place(ctx, geom.Pos{}, Player("a"), "red"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if _, ok, err := s.Remove(ctx, geom.Pos{}); ok || err != nil {
		t.Fatalf("Remove: %v %v", ok, err)
	}
	if s.Snapshot(ctx, "red").Len() != 0 || len(dirty.teams) != 0 {
		t.Fatalf("expected no effects without a round")
	}
}

func TestPlaceOutsideGridIgnored(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(NewMemoryBackend())
	if err := s.Place(ctx, geom.Pos{X: -5, Y: 0, Z: 0}, Player("a"), "red"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(dirty.teams) != 0 || s.ExistsAt(ctx, geom.Pos{X: -5}) {
		t.Fatalf("outside-grid block should be ignored")
	}
}

func TestPlaceNoRecalcDoesNotDirty(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(NewMemoryBackend())
	var bs []Block
	for x := 0; x < 20; x++ {
		bs = append(bs, Block{Pos: geom.Pos{X: x, Y: 64, Z: 3}, Team: "red"})
	}
	n, err := s.PlaceNoRecalc(ctx, bs)
	if err != nil || n != 20 {
		t.Fatalf("PlaceNoRecalc: n=%d err=%v", n, err)
	}
	if len(dirty.teams) != 0 {
		t.Fatalf("bulk insert must not schedule: %v", dirty.teams)
	}
	b, _ := s.Get(ctx, geom.Pos{X: 4, Y: 64, Z: 3})
	if !b.Actor.IsSystem() {
		t.Fatalf("bulk blocks default to the system actor, got %s", b.Actor)
	}
}

func TestWriteFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(failingBackend{NewMemoryBackend()})
	if err := s.Place(ctx, geom.Pos{X: 1}, Player("a"), "red"); !errors.Is(err, errDown) {
		t.Fatalf("Place err = %v", err)
	}
	if _, _, err := s.Remove(ctx, geom.Pos{X: 1}); !errors.Is(err, errDown) {
		t.Fatalf("Remove err = %v", err)
	}
	if len(dirty.teams) != 0 {
		t.Fatalf("failed writes must not dirty: %v", dirty.teams)
	}
	if s.Snapshot(ctx, "red").Len() != 0 {
		t.Fatalf("read failure should give an empty snapshot")
	}
}

func TestClearRegion(t *testing.T) {
	ctx := context.Background()
	s, dirty, _ := newTestStore(NewMemoryBackend())
	_ = s.Place(ctx, geom.Pos{X: 1, Z: 1}, Player("a"), "red")
	_ = s.Place(ctx, geom.Pos{X: 2, Z: 1}, Player("b"), "blue")
	_ = s.Place(ctx, geom.Pos{X: 300, Z: 1}, Player("b"), "blue")
	dirty.teams = nil
	teams, err := s.ClearRegion(ctx, "A1")
	if err != nil || len(teams) != 2 {
		t.Fatalf("ClearRegion: %v %v", teams, err)
	}
	if s.ExistsAt(ctx, geom.Pos{X: 1, Z: 1}) || !s.ExistsAt(ctx, geom.Pos{X: 300, Z: 1}) {
		t.Fatalf("only A1 should be wiped")
	}
	if len(dirty.teams) != 2 {
		t.Fatalf("dirty: %v", dirty.teams)
	}
}

func TestSnapshotGrouping(t *testing.T) {
	g := region.Grid{Size: 128, Rows: 4, Cols: 4}
	bs := []Block{
		{Pos: geom.Pos{X: 130, Z: 0}, Team: "red"},
		{Pos: geom.Pos{X: 5, Z: 0}, Team: "red"},
		{Pos: geom.Pos{X: 6, Z: 0}, Team: "blue"},
		{Pos: geom.Pos{X: 9999, Z: 0}, Team: "red"},
	}
	snap := NewSnapshot(g, "red", bs)
	if snap.Len() != 2 || snap.CountInRegion("A1") != 1 || snap.CountInRegion("A2") != 1 {
		t.Fatalf("snapshot grouping wrong: len=%d", snap.Len())
	}
	if got := snap.InArea(geom.Area{MinX: 0, MaxX: 127, MinZ: 0, MaxZ: 0}); len(got) != 1 || got[0].Pos.X != 5 {
		t.Fatalf("InArea: %+v", got)
	}
	if snap.All()[0].Pos.X != 5 {
		t.Fatalf("snapshot should be sorted")
	}
}

// gatedBackend parks Upsert after the write until release is closed.
type gatedBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Upsert(ctx context.Context, round string, b Block) error {
	err := g.MemoryBackend.Upsert(ctx, round, b)
	close(g.entered)
	<-g.release
	return err
}

func TestConcurrentPlaceRemoveKeepsCacheConsistent(t *testing.T) {
	ctx := context.Background()
	gb := &gatedBackend{MemoryBackend: NewMemoryBackend(), entered: make(chan struct{}), release: make(chan struct{})}
	s, _, _ := newTestStore(gb)
	p := geom.Pos{X: 5, Y: 64, Z: 5}

	placed := make(chan error, 1)
	go func() { placed <- s.Place(ctx, p, Player("alice"), "red") }()
	<-gb.entered

	type removal struct {
		team string
		ok   bool
		err  error
	}
	removed := make(chan removal, 1)
	go func() {
		team, ok, err := s.Remove(ctx, p)
		removed <- removal{team, ok, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(gb.release)

	if err := <-placed; err != nil {
		t.Fatalf("Place: %v", err)
	}
	r := <-removed
	if r.err != nil || !r.ok || r.team != "red" {
		t.Fatalf("Remove: %+v", r)
	}
	_, inBackend, _ := gb.MemoryBackend.Get(ctx, "r1", p)
	if s.ExistsAt(ctx, p) || inBackend {
		t.Fatalf("cache=%v backend=%v, want both absent", s.ExistsAt(ctx, p), inBackend)
	}
	if n := s.Snapshot(ctx, "red").Len(); n != 0 {
		t.Fatalf("snapshot has %d blocks", n)
	}
}

func TestGetAfterRoundSwitchDoesNotCacheOldRound(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(NewMemoryBackend())
	p := geom.Pos{X: 3, Y: 64, Z: 3}
	if err := s.Place(ctx, p, Player("a"), "red"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	s.SetRound("r2")
	if s.ExistsAt(ctx, p) {
		t.Fatal("block from r1 visible in r2")
	}
}
