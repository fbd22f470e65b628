package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"frontline.gg/internal/supply/geom"
)

const exportText = `{"x":1,"y":64,"z":2,"material":"dirt_path"}

{"x":3,"y":64,"z":2,"material":"GRAVEL"}
{"x":5,"y":64,"z":2,"material":""}
`

func TestReadWorld(t *testing.T) {
	w, err := ReadWorld(strings.NewReader(exportText))
	if err != nil {
		t.Fatalf("ReadWorld: %v", err)
	}
	if len(w) != 2 {
		t.Fatalf("len = %d, want 2", len(w))
	}
	if got := w.Material(1, 64, 2); got != "DIRT_PATH" {
		t.Fatalf("material = %q", got)
	}
	if got := w.Material(5, 64, 2); got != "AIR" {
		t.Fatalf("missing block = %q, want AIR", got)
	}
	if _, err := ReadWorld(strings.NewReader("{not json}\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadWorldZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.jsonl.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte(exportText)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	w, err := LoadWorld(path)
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if w[geom.Pos{X: 3, Y: 64, Z: 2}] != "GRAVEL" {
		t.Fatalf("world = %v", w)
	}
}

func TestScanThroughLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(1)
	go loop.Run(ctx)

	w := MapWorld{}
	for x := 0; x < 40; x++ {
		w[geom.Pos{X: x, Y: 64, Z: 5}] = "DIRT_PATH"
	}
	target := newTarget()
	s := New(testParams(), w, loop, target, nil)
	res, err := s.Run(ctx, Job{Area: geom.Area{MinX: 0, MaxX: 39, MinZ: 0, MaxZ: 10}, MinY: 64, MaxY: 64, Team: "red"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Inserted != 40 || res.Slices != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLoopDoCancelled(t *testing.T) {
	loop := NewLoop(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := loop.Do(ctx, func() {}); err == nil {
		t.Fatalf("expected error with no running loop")
	}
}
