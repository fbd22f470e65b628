// Package border decides whether a team's road crosses the edge shared by two
// grid-adjacent regions.
package border

import (
	"io"
	"log"

	"github.com/zyedidia/generic/mapset"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/spatial"
)

type Params struct {
	// Width is how far the strip reaches into each region from the edge.
	Width    int
	Neighbor spatial.Params
	// BFSCap bounds the strip search; past it the link is assumed.
	BFSCap int
	// ExtendedWidth is the half-width of the fallback band, which also
	// overhangs both ends of the edge by the same amount.
	ExtendedWidth int
	// ExtendedProximity is the horizontal reach between the two sides in the fallback.
	ExtendedProximity int
}

type Checker struct {
	p       Params
	verbose *log.Logger
}

// New returns a checker. verbose receives cap-reached notices; nil discards them.
func New(p Params, verbose *log.Logger) *Checker {
	if verbose == nil {
		verbose = log.New(io.Discard, "", 0)
	}
	return &Checker{p: p, verbose: verbose}
}

func (c *Checker) Params() Params { return c.p }

func split(g region.Grid, bs []roads.Block, a, b region.ID) (aSide, bSide []geom.Pos) {
	for _, blk := range bs {
		id, ok := g.At(blk.Pos.X, blk.Pos.Z)
		if !ok {
			continue
		}
		switch id {
		case a:
			aSide = append(aSide, blk.Pos)
		case b:
			bSide = append(bSide, blk.Pos)
		}
	}
	return aSide, bSide
}

// Presence reports whether the strip holds road on both sides of the edge.
func (c *Checker) Presence(snap *roads.Snapshot, a, b region.ID) bool {
	g := snap.Grid()
	edge, ok := g.SharedBorder(a, b)
	if !ok {
		return false
	}
	aSide, bSide := split(g, snap.InArea(edge.Strip(c.p.Width)), a, b)
	return len(aSide) > 0 && len(bSide) > 0
}

// EdgeBlocks returns the blocks of r lying within the strip along its edge with other.
func (c *Checker) EdgeBlocks(snap *roads.Snapshot, r, other region.ID) []geom.Pos {
	g := snap.Grid()
	edge, ok := g.SharedBorder(r, other)
	if !ok {
		return nil
	}
	strip := edge.Strip(c.p.Width)
	var out []geom.Pos
	for _, b := range snap.InRegion(r) {
		if strip.Contains(b.Pos.X, b.Pos.Z) {
			out = append(out, b.Pos)
		}
	}
	return out
}

// Connected reports road continuity across the a/b edge. Regions that are not
// grid-adjacent are never connected.
func (c *Checker) Connected(snap *roads.Snapshot, a, b region.ID) bool {
	g := snap.Grid()
	edge, ok := g.SharedBorder(a, b)
	if !ok {
		return false
	}
	strip := snap.InArea(edge.Strip(c.p.Width))
	aSide, bSide := split(g, strip, a, b)
	if len(aSide) > 0 && len(bSide) > 0 && c.stripLinked(roads.Positions(strip), aSide, bSide, a, b) {
		return true
	}
	return c.bandLinked(snap, edge, a, b)
}

func (c *Checker) stripLinked(all, aSide, bSide []geom.Pos, a, b region.ID) bool {
	targets := mapset.New[geom.Pos]()
	for _, p := range bSide {
		targets.Put(p)
	}
	res := spatial.New(c.p.Neighbor, all).Search(aSide, c.p.BFSCap, targets.Has)
	if res.Capped {
		c.verbose.Printf("border %s/%s: search cap %d reached, assuming connected", a, b, c.p.BFSCap)
		return true
	}
	return res.Found
}

func (c *Checker) bandLinked(snap *roads.Snapshot, edge region.Border, a, b region.ID) bool {
	if c.p.ExtendedWidth <= 0 || c.p.ExtendedProximity <= 0 {
		return false
	}
	aSide, bSide := split(snap.Grid(), snap.InArea(edge.Band(c.p.ExtendedWidth)), a, b)
	if len(aSide) == 0 || len(bSide) == 0 {
		return false
	}
	near := spatial.New(spatial.Params{Radius: c.p.ExtendedProximity, Tolerance: c.p.Neighbor.Tolerance}, bSide)
	for _, p := range aSide {
		if near.HasNeighbor(p) {
			return true
		}
	}
	return false
}
