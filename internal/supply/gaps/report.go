package gaps

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

// maxPairWork bounds the brute-force nearest-point search between two segments.
const maxPairWork = 4_000_000

type segment struct {
	blocks  []geom.Pos
	box     geom.Box
	borders []region.ID
}

// Report decomposes the region's road into connected components and describes
// them for an operator. It is a diagnostic view and is not used for supply levels.
func (d *Detector) Report(snap *roads.Snapshot, id region.ID) []string {
	g := snap.Grid()
	id, ok := g.Normalize(id)
	if !ok {
		return []string{"unknown region"}
	}
	blocks := roads.Positions(snap.InRegion(id))
	head := fmt.Sprintf("region %s team %s", id, snap.Team)
	if len(blocks) == 0 {
		return []string{head + ": no road blocks"}
	}

	index := make(map[geom.Pos]int, len(blocks))
	for i, p := range blocks {
		index[p] = i
	}
	ix := snap.RegionIndex(id, d.p.Neighbor)
	uf := newUnionFind(len(blocks))
	for i, p := range blocks {
		ix.EachNeighbor(p, func(n geom.Pos) bool {
			if j, ok := index[n]; ok {
				uf.union(i, j)
			}
			return true
		})
	}

	edgeOf := map[geom.Pos][]region.ID{}
	for _, n := range g.Adjacent(id) {
		for _, p := range d.border.EdgeBlocks(snap, id, n) {
			edgeOf[p] = append(edgeOf[p], n)
		}
	}

	byRoot := map[int]*segment{}
	var roots []int
	for i, p := range blocks {
		r := uf.find(i)
		s := byRoot[r]
		if s == nil {
			s = &segment{box: geom.BoxOf(p)}
			byRoot[r] = s
			roots = append(roots, r)
		}
		s.blocks = append(s.blocks, p)
		s.box = s.box.Extend(p)
		for _, n := range edgeOf[p] {
			if !containsID(s.borders, n) {
				s.borders = append(s.borders, n)
			}
		}
	}

	var segs []*segment
	isolatedBlocks, isolatedPieces := 0, 0
	for _, r := range roots {
		s := byRoot[r]
		sort.Slice(s.borders, func(i, j int) bool { return s.borders[i] < s.borders[j] })
		if len(s.borders) > 0 || len(s.blocks) >= d.p.MinSegmentBlocks {
			segs = append(segs, s)
			continue
		}
		isolatedBlocks += len(s.blocks)
		isolatedPieces++
	}

	noun := "segments"
	if len(segs) == 1 {
		noun = "segment"
	}
	out := []string{fmt.Sprintf("%s: %d road blocks in %d %s", head, len(blocks), len(segs), noun)}
	for i, s := range segs {
		borders := "none"
		if len(s.borders) > 0 {
			parts := make([]string, len(s.borders))
			for j, b := range s.borders {
				parts[j] = string(b)
			}
			borders = strings.Join(parts, ",")
		}
		out = append(out, fmt.Sprintf("segment %d: %d blocks, bounds %s, borders %s", i+1, len(s.blocks), s.box, borders))
	}
	if isolatedPieces > 0 {
		out = append(out, fmt.Sprintf("isolated: %d blocks in %d pieces not on any supply route", isolatedBlocks, isolatedPieces))
	}
	if len(segs) <= 1 {
		out = append(out, "no gaps detected")
		return out
	}
	pairs := 0
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			if d.p.ReportMaxPairs > 0 && pairs >= d.p.ReportMaxPairs {
				return out
			}
			a, b, dist := nearest(segs[i].blocks, segs[j].blocks)
			out = append(out, fmt.Sprintf("gap %d-%d: bridge %s to %s, %.1f blocks apart", i+1, j+1, a, b, dist))
			pairs++
		}
	}
	return out
}

func containsID(ids []region.ID, id region.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// nearest finds the closest pair between two segments. Very large pairs are
// sampled with a stride over the larger side.
func nearest(as, bs []geom.Pos) (geom.Pos, geom.Pos, float64) {
	if len(as) < len(bs) {
		b, a, d := nearest(bs, as)
		return a, b, d
	}
	stride := 1
	if work := len(as) * len(bs); work > maxPairWork {
		stride = work/maxPairWork + 1
	}
	best := math.MaxInt
	var ba, bb geom.Pos
	for i := 0; i < len(as); i += stride {
		for _, q := range bs {
			if d := geom.DistSq(as[i], q); d < best {
				best, ba, bb = d, as[i], q
			}
		}
	}
	return ba, bb, math.Sqrt(float64(best))
}
