package spatial

import (
	"testing"

	"frontline.gg/internal/supply/geom"
)

func TestSearchReachAndGoal(t *testing.T) {
	var all []geom.Pos
	for x := 0; x < 10; x++ {
		all = append(all, geom.Pos{X: x})
	}
	for x := 20; x < 25; x++ {
		all = append(all, geom.Pos{X: x})
	}
	ix := New(Params{Radius: 1}, all)

	r := ix.Search([]geom.Pos{{X: 0}}, 0, nil)
	if r.Visited != 10 || r.Found || r.Capped {
		t.Fatalf("reach: %+v", r)
	}
	r = ix.Search([]geom.Pos{{X: 0}}, 0, func(p geom.Pos) bool { return p.X == 22 })
	if r.Found {
		t.Fatalf("disconnected goal must not be found")
	}
	r = ix.Search([]geom.Pos{{X: 0}}, 0, func(p geom.Pos) bool { return p.X == 9 })
	if !r.Found {
		t.Fatalf("connected goal should be found")
	}
	r = ix.Search([]geom.Pos{{X: 0}}, 4, nil)
	if !r.Capped {
		t.Fatalf("expected cap: %+v", r)
	}
}
