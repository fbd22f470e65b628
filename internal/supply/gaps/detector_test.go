package gaps

import (
	"strings"
	"testing"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/spatial"
)

var testGrid = region.Grid{Size: 128, Rows: 4, Cols: 4}

func newDetector(t *testing.T, owned ...region.ID) (*Detector, *region.Registry) {
	t.Helper()
	reg := region.NewRegistry(testGrid)
	for _, id := range owned {
		if _, err := reg.SetOwner(id, "red"); err != nil {
			t.Fatalf("SetOwner: %v", err)
		}
	}
	nb := spatial.Params{Radius: 2, Tolerance: 3}
	b := border.New(border.Params{Width: 8, Neighbor: nb, BFSCap: 2000, ExtendedWidth: 16, ExtendedProximity: 4}, nil)
	d := New(Params{
		Enabled:           true,
		MinBlocks:         50,
		MinEntryBlocks:    3,
		ReachableFraction: 0.15,
		FloodCap:          50000,
		MinSegmentBlocks:  10,
		ReportMaxPairs:    6,
		Neighbor:          nb,
	}, b, reg, nil)
	return d, reg
}

// wideRoad is a three-wide road along X at z=31..33, skipping x in [holeFrom, holeTo].
func wideRoad(fromX, toX, holeFrom, holeTo int) []roads.Block {
	var out []roads.Block
	for x := fromX; x <= toX; x++ {
		if x >= holeFrom && x <= holeTo {
			continue
		}
		for z := 31; z <= 33; z++ {
			out = append(out, roads.Block{Pos: geom.Pos{X: x, Y: 64, Z: z}, Team: "red"})
		}
	}
	return out
}

func TestIntactRoadHasNoGap(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	snap := roads.NewSnapshot(testGrid, "red", wideRoad(100, 250, 1, 0))
	if d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("intact road must not report a gap")
	}
	entry, ok := d.EntryRegion(snap, "A2", "A1")
	if !ok || entry != "A1" {
		t.Fatalf("entry region: %q %v", entry, ok)
	}
}

func TestSevereSplitIsCritical(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	snap := roads.NewSnapshot(testGrid, "red", wideRoad(100, 250, 135, 144))
	if !d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("21 of 339 blocks reachable should be a critical gap")
	}
	if d.HasCriticalGap(snap, "A1", "A1") {
		t.Fatalf("home never has a gap")
	}
}

func TestGapNeedsOwnedEntry(t *testing.T) {
	d, _ := newDetector(t, "A2")
	snap := roads.NewSnapshot(testGrid, "red", wideRoad(100, 250, 135, 144))
	if d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("without an owned entry neighbour there is nothing to measure from")
	}
}

func TestSparseNetworkNeverGaps(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	// 30 blocks of entry road plus scattered terrain: below MinBlocks in A2.
	var bs []roads.Block
	for x := 110; x <= 131; x++ {
		bs = append(bs, roads.Block{Pos: geom.Pos{X: x, Y: 64, Z: 40}, Team: "red"})
	}
	for i := 0; i < 40; i++ {
		bs = append(bs, roads.Block{Pos: geom.Pos{X: 150 + (i%8)*10, Y: 64, Z: 60 + (i/8)*10}, Team: "red"})
	}
	snap := roads.NewSnapshot(testGrid, "red", bs)
	if snap.CountInRegion("A2") >= 50 {
		t.Fatalf("fixture should stay below MinBlocks, got %d", snap.CountInRegion("A2"))
	}
	if d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("a region below MinBlocks never reports a gap")
	}
}

func TestDisabledDetector(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	d.p.Enabled = false
	snap := roads.NewSnapshot(testGrid, "red", wideRoad(100, 250, 135, 144))
	if d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("disabled detection must never flag")
	}
}

func TestReportListsSegments(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	bs := wideRoad(100, 250, 135, 144)
	bs = append(bs, roads.Block{Pos: geom.Pos{X: 200, Y: 64, Z: 90}, Team: "red"})
	snap := roads.NewSnapshot(testGrid, "red", bs)
	lines := d.Report(snap, "A2")
	var segs []string
	for _, l := range lines {
		if strings.HasPrefix(l, "segment ") {
			segs = append(segs, l)
		}
	}
	if len(segs) != 2 {
		t.Fatalf("want 2 segments, got %d:\n%s", len(segs), strings.Join(lines, "\n"))
	}
	if !strings.Contains(segs[0], "21 blocks") || !strings.Contains(segs[0], "(128,64,31)-(134,64,33)") || !strings.Contains(segs[0], "borders A1") {
		t.Fatalf("segment 1: %s", segs[0])
	}
	if !strings.Contains(segs[1], "318 blocks") || !strings.Contains(segs[1], "borders A3") {
		t.Fatalf("segment 2: %s", segs[1])
	}
	if !strings.Contains(strings.Join(lines, "\n"), "isolated: 1 blocks in 1 pieces") {
		t.Fatalf("missing isolated summary:\n%s", strings.Join(lines, "\n"))
	}
	if !strings.Contains(lines[len(lines)-1], "bridge (134,64,31) to (145,64,31), 11.0 blocks apart") {
		t.Fatalf("nearest suggestion: %s", lines[len(lines)-1])
	}
}

func TestReportEmptyAndUnknown(t *testing.T) {
	d, _ := newDetector(t, "A1")
	snap := roads.NewSnapshot(testGrid, "red", nil)
	if got := d.Report(snap, "B3"); len(got) != 1 || !strings.Contains(got[0], "no road blocks") {
		t.Fatalf("empty report: %v", got)
	}
	if got := d.Report(snap, "Z9"); got[0] != "unknown region" {
		t.Fatalf("unknown: %v", got)
	}
}

func TestFloodCapAssumesNoGap(t *testing.T) {
	d, _ := newDetector(t, "A1", "A2")
	d.p.FloodCap = 5
	snap := roads.NewSnapshot(testGrid, "red", wideRoad(100, 250, 135, 144))
	if d.HasCriticalGap(snap, "A2", "A1") {
		t.Fatalf("a flood stopped at the cap must not report a gap")
	}
}
