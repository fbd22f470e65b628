package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	persistlog "frontline.gg/internal/persistence/log"
	"frontline.gg/internal/persistence/roaddb"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

func TestArchiveRound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := roaddb.Open(filepath.Join(dir, "roads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	placed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	bs := []roads.Block{
		{Pos: geom.Pos{X: 1, Y: 64, Z: 1}, Region: "A1", Team: "red", Actor: roads.Player("p1"), PlacedAt: placed},
		{Pos: geom.Pos{X: 2, Y: 64, Z: 1}, Region: "A1", Team: "red", Actor: roads.System, PlacedAt: placed},
		{Pos: geom.Pos{X: 500, Y: 64, Z: 500}, Region: "D4", Team: "blue", Actor: roads.Player("p2"), PlacedAt: placed},
	}
	if err := db.UpsertMany(ctx, "spring/1", bs); err != nil {
		t.Fatal(err)
	}
	recs := []level.Record{{Region: "A1", Team: "red", Level: level.Supplied, Connected: true, UpdatedAt: placed}}
	if err := db.PutStatuses(ctx, "spring/1", recs); err != nil {
		t.Fatal(err)
	}

	files, err := ArchiveRound(ctx, dir, "spring/1", db, map[region.ID]string{"A1": "red", "D4": "blue"}, placed)
	if err != nil {
		t.Fatalf("ArchiveRound: %v", err)
	}
	if len(files) != 3 || filepath.Dir(files[0]) != Dir(dir, "spring/1") {
		t.Fatalf("files = %v", files)
	}
	if filepath.Base(Dir(dir, "spring/1")) != "round_spring_1" {
		t.Fatalf("dir = %s", Dir(dir, "spring/1"))
	}

	var got []roads.Block
	if err := persistlog.ReadJSONL(files[0], func(b roads.Block) error {
		got = append(got, b)
		return nil
	}); err != nil {
		t.Fatalf("read roads: %v", err)
	}
	if len(got) != 3 || got[0].Actor != roads.Player("p1") || !got[1].Actor.IsSystem() {
		t.Fatalf("archived roads = %+v", got)
	}

	metas, err := ReadMeta(dir)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if len(metas) != 1 || metas[0].Blocks != 3 || metas[0].Teams["red"] != 2 || metas[0].Statuses != 1 {
		t.Fatalf("meta = %+v", metas)
	}

	r, err := ReadRound(dir, "spring/1")
	if err != nil {
		t.Fatalf("ReadRound: %v", err)
	}
	if len(r.Blocks) != 3 || len(r.Statuses) != 1 || r.Meta.Owners["D4"] != "blue" {
		t.Fatalf("round = %+v", r)
	}
	if r.Statuses[0].Level != level.Supplied {
		t.Fatalf("status = %+v", r.Statuses[0])
	}
}

func TestReadRoundMissing(t *testing.T) {
	if _, err := ReadRound(t.TempDir(), "nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestArchiveRoundRequiresName(t *testing.T) {
	if _, err := ArchiveRound(context.Background(), t.TempDir(), "", nil, nil, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
