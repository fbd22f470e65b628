package main

import (
	"fmt"

	"frontline.gg/internal/protocol"
	"frontline.gg/internal/supply/region"
)

func gridOf(g protocol.GridRef) region.Grid {
	return region.Grid{OriginX: g.OriginX, OriginZ: g.OriginZ, Size: g.RegionSize, Rows: g.Rows, Cols: g.Cols}
}

// roadPath returns an L-shaped road from the centre of from to the centre of
// to: along X first, then along Z.
func roadPath(g protocol.GridRef, from, to string, y int) ([][3]int, error) {
	grid := gridOf(g)
	a, ok := grid.Bounds(region.ID(from))
	if !ok {
		return nil, fmt.Errorf("unknown region %q", from)
	}
	b, ok := grid.Bounds(region.ID(to))
	if !ok {
		return nil, fmt.Errorf("unknown region %q", to)
	}
	x0, z0 := (a.MinX+a.MaxX)/2, (a.MinZ+a.MaxZ)/2
	x1, z1 := (b.MinX+b.MaxX)/2, (b.MinZ+b.MaxZ)/2

	var out [][3]int
	for x := x0; ; x += sign(x1 - x0) {
		out = append(out, [3]int{x, y, z0})
		if x == x1 {
			break
		}
	}
	for z := z0; z != z1; {
		z += sign(z1 - z0)
		out = append(out, [3]int{x1, y, z})
	}
	return out, nil
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
