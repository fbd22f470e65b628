// Package spatial answers "which road blocks could a player step to from here"
// without scanning the whole network.
//
// Positions are bucketed into square chunks whose side is at least twice the
// horizontal radius, so a query only inspects the 3x3 chunk neighbourhood
// around the query position.
package spatial

import (
	"frontline.gg/internal/supply/geom"
)

const minBucketSide = 16

// Params controls what counts as adjacent.
type Params struct {
	// Radius is the horizontal reach: |dx| <= Radius and |dz| <= Radius.
	Radius int
	// Tolerance is the vertical reach: |dy| <= Tolerance.
	Tolerance int
	// SampleY probes only the offsets 0, ±1, ±2, ±4, ... ±Tolerance instead of
	// every offset. Neighbours at unsampled heights are missed once Tolerance >= 5.
	SampleY bool
}

type bucketKey struct{ bx, bz int }

type Index struct {
	p       Params
	side    int
	set     map[geom.Pos]struct{}
	buckets map[bucketKey][]geom.Pos
	yOffs   []int
}

// New indexes positions. Duplicates are ignored; iteration order follows the input.
func New(p Params, positions []geom.Pos) *Index {
	if p.Radius < 0 {
		p.Radius = 0
	}
	if p.Tolerance < 0 {
		p.Tolerance = 0
	}
	side := 2 * p.Radius
	if side < minBucketSide {
		side = minBucketSide
	}
	ix := &Index{
		p:       p,
		side:    side,
		set:     make(map[geom.Pos]struct{}, len(positions)),
		buckets: make(map[bucketKey][]geom.Pos),
	}
	if p.SampleY {
		ix.yOffs = SampleOffsets(p.Tolerance)
	}
	for _, pos := range positions {
		ix.Add(pos)
	}
	return ix
}

func (ix *Index) key(x, z int) bucketKey {
	return bucketKey{bx: geom.FloorDiv(x, ix.side), bz: geom.FloorDiv(z, ix.side)}
}

// Add inserts pos; it reports false when pos was already indexed.
func (ix *Index) Add(pos geom.Pos) bool {
	if _, ok := ix.set[pos]; ok {
		return false
	}
	ix.set[pos] = struct{}{}
	k := ix.key(pos.X, pos.Z)
	ix.buckets[k] = append(ix.buckets[k], pos)
	return true
}

func (ix *Index) Len() int { return len(ix.set) }

func (ix *Index) Has(pos geom.Pos) bool {
	_, ok := ix.set[pos]
	return ok
}

func (ix *Index) Params() Params { return ix.p }

// EachNeighbor calls fn for every indexed neighbour of pos until fn returns false.
// pos itself does not need to be indexed.
func (ix *Index) EachNeighbor(pos geom.Pos, fn func(geom.Pos) bool) {
	if ix.p.SampleY {
		ix.probe(pos, fn)
		return
	}
	r, t := ix.p.Radius, ix.p.Tolerance
	k := ix.key(pos.X, pos.Z)
	for dbx := -1; dbx <= 1; dbx++ {
		for dbz := -1; dbz <= 1; dbz++ {
			for _, q := range ix.buckets[bucketKey{bx: k.bx + dbx, bz: k.bz + dbz}] {
				if q == pos {
					continue
				}
				if geom.Abs(q.X-pos.X) > r || geom.Abs(q.Z-pos.Z) > r || geom.Abs(q.Y-pos.Y) > t {
					continue
				}
				if !fn(q) {
					return
				}
			}
		}
	}
}

func (ix *Index) probe(pos geom.Pos, fn func(geom.Pos) bool) {
	r := ix.p.Radius
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			for _, dy := range ix.yOffs {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				q := pos.Add(dx, dy, dz)
				if _, ok := ix.set[q]; ok {
					if !fn(q) {
						return
					}
				}
			}
		}
	}
}

func (ix *Index) Neighbors(pos geom.Pos) []geom.Pos {
	var out []geom.Pos
	ix.EachNeighbor(pos, func(q geom.Pos) bool {
		out = append(out, q)
		return true
	})
	return out
}

func (ix *Index) HasNeighbor(pos geom.Pos) bool {
	found := false
	ix.EachNeighbor(pos, func(geom.Pos) bool {
		found = true
		return false
	})
	return found
}

// SampleOffsets returns 0, ±1, ±2, ±4, ±8, ... and finally ±t.
func SampleOffsets(t int) []int {
	out := []int{0}
	if t <= 0 {
		return out
	}
	step := 1
	for step < t {
		out = append(out, step, -step)
		step *= 2
	}
	return append(out, t, -t)
}
