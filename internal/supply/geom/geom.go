package geom

import "fmt"

// Pos is an integer world coordinate. It is comparable and used as a map key.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) Add(dx, dy, dz int) Pos { return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Area is an inclusive column rectangle on the X/Z plane.
type Area struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinZ int `json:"min_z"`
	MaxZ int `json:"max_z"`
}

func (a Area) Contains(x, z int) bool {
	return x >= a.MinX && x <= a.MaxX && z >= a.MinZ && z <= a.MaxZ
}

func (a Area) Empty() bool { return a.MaxX < a.MinX || a.MaxZ < a.MinZ }

// Grow expands the rectangle by n blocks on every side.
func (a Area) Grow(n int) Area {
	return Area{MinX: a.MinX - n, MaxX: a.MaxX + n, MinZ: a.MinZ - n, MaxZ: a.MaxZ + n}
}

// Box is an inclusive 3-D bounding box.
type Box struct {
	Min Pos `json:"min"`
	Max Pos `json:"max"`
}

func BoxOf(p Pos) Box { return Box{Min: p, Max: p} }

func (b Box) Extend(p Pos) Box {
	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}
	return b
}

func (b Box) String() string { return b.Min.String() + "-" + b.Max.String() }

func Abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Chebyshev returns the horizontal (X/Z) chessboard distance between two positions.
func Chebyshev(a, b Pos) int {
	dx := Abs(a.X - b.X)
	dz := Abs(a.Z - b.Z)
	if dx > dz {
		return dx
	}
	return dz
}

// DistSq is the squared euclidean distance.
func DistSq(a, b Pos) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(v, d int) int {
	if v < 0 {
		return (v - d + 1) / d
	}
	return v / d
}
