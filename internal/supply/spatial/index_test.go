package spatial

import (
	"reflect"
	"sort"
	"testing"

	"frontline.gg/internal/supply/geom"
)

func sortPos(ps []geom.Pos) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		if ps[i].Z != ps[j].Z {
			return ps[i].Z < ps[j].Z
		}
		return ps[i].Y < ps[j].Y
	})
}

func bruteNeighbors(p Params, all []geom.Pos, q geom.Pos) []geom.Pos {
	var out []geom.Pos
	for _, b := range all {
		if b == q {
			continue
		}
		if geom.Abs(b.X-q.X) <= p.Radius && geom.Abs(b.Z-q.Z) <= p.Radius && geom.Abs(b.Y-q.Y) <= p.Tolerance {
			out = append(out, b)
		}
	}
	return out
}

func TestNeighborsMatchesFullScan(t *testing.T) {
	var all []geom.Pos
	// A zig-zag road crossing bucket boundaries, including negative coordinates.
	for x := -40; x <= 40; x++ {
		all = append(all, geom.Pos{X: x, Y: 64 + (x%5+5)%5, Z: (x * 3) % 17})
	}
	p := Params{Radius: 2, Tolerance: 3}
	ix := New(p, all)
	for _, q := range all {
		got := ix.Neighbors(q)
		want := bruteNeighbors(p, all, q)
		sortPos(got)
		sortPos(want)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("neighbors of %v: got %v want %v", q, got, want)
		}
	}
}

func TestNeighborsExcludesSelfAndRespectsTolerance(t *testing.T) {
	p := Params{Radius: 1, Tolerance: 1}
	ix := New(p, []geom.Pos{{X: 0, Y: 10, Z: 0}, {X: 1, Y: 11, Z: 0}, {X: 1, Y: 13, Z: 0}, {X: 3, Y: 10, Z: 0}})
	got := ix.Neighbors(geom.Pos{X: 0, Y: 10, Z: 0})
	if len(got) != 1 || got[0] != (geom.Pos{X: 1, Y: 11, Z: 0}) {
		t.Fatalf("unexpected neighbours %v", got)
	}
	if ix.HasNeighbor(geom.Pos{X: 3, Y: 10, Z: 0}) {
		t.Fatalf("isolated block should have no neighbours")
	}
}

func TestSampleOffsets(t *testing.T) {
	if got := SampleOffsets(0); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("t=0: %v", got)
	}
	if got := SampleOffsets(3); !reflect.DeepEqual(got, []int{0, 1, -1, 2, -2, 3, -3}) {
		t.Fatalf("t=3: %v", got)
	}
	if got := SampleOffsets(8); !reflect.DeepEqual(got, []int{0, 1, -1, 2, -2, 4, -4, 8, -8}) {
		t.Fatalf("t=8: %v", got)
	}
}

func TestSampledProbeMissesUnsampledHeights(t *testing.T) {
	blocks := []geom.Pos{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 5, Z: 0}, {X: 0, Y: 4, Z: 1}}
	exact := New(Params{Radius: 1, Tolerance: 8}, blocks)
	sampled := New(Params{Radius: 1, Tolerance: 8, SampleY: true}, blocks)
	if n := len(exact.Neighbors(blocks[0])); n != 2 {
		t.Fatalf("exact: want 2 neighbours, got %d", n)
	}
	got := sampled.Neighbors(blocks[0])
	if len(got) != 1 || got[0] != blocks[2] {
		t.Fatalf("sampled: want only the +4 neighbour, got %v", got)
	}
}
