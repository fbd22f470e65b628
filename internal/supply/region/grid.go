// Package region models the fixed territorial grid: region codes, the coordinate
// to region mapping, static adjacency and shared borders.
package region

import (
	"sort"
	"strconv"
	"strings"

	"frontline.gg/internal/supply/geom"
)

// ID is a region code: a row letter followed by a 1-based column number ("B3").
type ID string

type Grid struct {
	OriginX int
	OriginZ int
	Size    int
	Rows    int
	Cols    int
}

// Parse returns the zero-based row/column of id. Lower-case row letters are
// accepted; the column must be plain decimal with no sign or leading zero.
func (g Grid) Parse(id ID) (row, col int, ok bool) {
	s := strings.TrimSpace(string(id))
	if len(s) < 2 {
		return 0, 0, false
	}
	letter := s[0]
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	if letter < 'A' || letter > 'Z' {
		return 0, 0, false
	}
	digits := s[1:]
	if digits[0] < '1' || digits[0] > '9' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, false
	}
	row, col = int(letter-'A'), n-1
	if row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, 0, false
	}
	return row, col, true
}

func (g Grid) Make(row, col int) (ID, bool) {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols || row >= 26 {
		return "", false
	}
	return ID(string(rune('A'+row)) + strconv.Itoa(col+1)), true
}

// Normalize returns the canonical spelling of id.
func (g Grid) Normalize(id ID) (ID, bool) {
	row, col, ok := g.Parse(id)
	if !ok {
		return "", false
	}
	return g.Make(row, col)
}

func (g Grid) Valid(id ID) bool {
	_, _, ok := g.Parse(id)
	return ok
}

// At maps a world column to its region.
func (g Grid) At(x, z int) (ID, bool) {
	if g.Size <= 0 {
		return "", false
	}
	col := geom.FloorDiv(x-g.OriginX, g.Size)
	row := geom.FloorDiv(z-g.OriginZ, g.Size)
	return g.Make(row, col)
}

func (g Grid) Bounds(id ID) (geom.Area, bool) {
	row, col, ok := g.Parse(id)
	if !ok {
		return geom.Area{}, false
	}
	minX := g.OriginX + col*g.Size
	minZ := g.OriginZ + row*g.Size
	return geom.Area{MinX: minX, MaxX: minX + g.Size - 1, MinZ: minZ, MaxZ: minZ + g.Size - 1}, true
}

func (g Grid) All() []ID {
	out := make([]ID, 0, g.Rows*g.Cols)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if id, ok := g.Make(r, c); ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// Adjacent lists the regions sharing an edge with id, sorted by code.
func (g Grid) Adjacent(id ID) []ID {
	row, col, ok := g.Parse(id)
	if !ok {
		return nil
	}
	var out []ID
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		if n, ok := g.Make(row+d[0], col+d[1]); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g Grid) IsAdjacent(a, b ID) bool {
	_, ok := g.SharedBorder(a, b)
	return ok
}

// Distance is the Manhattan distance between two regions in grid cells, or -1.
func (g Grid) Distance(a, b ID) int {
	ra, ca, ok1 := g.Parse(a)
	rb, cb, ok2 := g.Parse(b)
	if !ok1 || !ok2 {
		return -1
	}
	return geom.Abs(ra-rb) + geom.Abs(ca-cb)
}

// Border is the edge shared by two grid-adjacent regions.
type Border struct {
	A ID
	B ID
	// ConstX is true when the edge is a line of constant X (regions side by side along X).
	ConstX bool
	// Line is the first coordinate on the higher-index side of the edge.
	Line int
	// Lo/Hi is the inclusive span of the edge along the other axis.
	Lo int
	Hi int
}

func (g Grid) SharedBorder(a, b ID) (Border, bool) {
	ra, ca, ok1 := g.Parse(a)
	rb, cb, ok2 := g.Parse(b)
	if !ok1 || !ok2 {
		return Border{}, false
	}
	switch {
	case ra == rb && geom.Abs(ca-cb) == 1:
		hi := ca
		if cb > hi {
			hi = cb
		}
		lo := g.OriginZ + ra*g.Size
		return Border{A: a, B: b, ConstX: true, Line: g.OriginX + hi*g.Size, Lo: lo, Hi: lo + g.Size - 1}, true
	case ca == cb && geom.Abs(ra-rb) == 1:
		hi := ra
		if rb > hi {
			hi = rb
		}
		lo := g.OriginX + ca*g.Size
		return Border{A: a, B: b, ConstX: false, Line: g.OriginZ + hi*g.Size, Lo: lo, Hi: lo + g.Size - 1}, true
	}
	return Border{}, false
}

// Strip is the rectangle of width blocks on each side of the edge.
func (b Border) Strip(width int) geom.Area {
	if width < 1 {
		width = 1
	}
	if b.ConstX {
		return geom.Area{MinX: b.Line - width, MaxX: b.Line + width - 1, MinZ: b.Lo, MaxZ: b.Hi}
	}
	return geom.Area{MinX: b.Lo, MaxX: b.Hi, MinZ: b.Line - width, MaxZ: b.Line + width - 1}
}

// Band is the strip widened to width and also extended past both ends of the edge.
func (b Border) Band(width int) geom.Area {
	if width < 1 {
		width = 1
	}
	if b.ConstX {
		return geom.Area{MinX: b.Line - width, MaxX: b.Line + width - 1, MinZ: b.Lo - width, MaxZ: b.Hi + width}
	}
	return geom.Area{MinX: b.Lo - width, MaxX: b.Hi + width, MinZ: b.Line - width, MaxZ: b.Line + width - 1}
}

// Near reports whether the column (x,z) lies within width blocks of the edge line,
// measured perpendicular to it.
func (b Border) Near(x, z, width int) bool {
	return b.Strip(width).Contains(x, z)
}
