// Package gaps finds severe internal breaks in a region's road network: the
// road entering from the home side still exists, but most of the region's road
// can no longer be reached from it.
package gaps

import (
	"io"
	"log"
	"sort"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/spatial"
)

type Params struct {
	Enabled bool
	// MinBlocks guards against sparse terrain blocks of a tracked material.
	MinBlocks      int
	MinEntryBlocks int
	// ReachableFraction: a gap needs reached/total strictly below this.
	ReachableFraction float64
	// FloodCap bounds the flood fill; past it the region counts as fully reached.
	FloodCap int
	// MinSegmentBlocks is the smallest non-border component the report lists as a segment.
	MinSegmentBlocks int
	// ReportMaxPairs bounds the nearest-point suggestions in a report.
	ReportMaxPairs int
	Neighbor       spatial.Params
}

type Detector struct {
	p       Params
	border  *border.Checker
	regions region.Service
	verbose *log.Logger
}

func New(p Params, b *border.Checker, regions region.Service, verbose *log.Logger) *Detector {
	if verbose == nil {
		verbose = log.New(io.Discard, "", 0)
	}
	return &Detector{p: p, border: b, regions: regions, verbose: verbose}
}

func (d *Detector) Params() Params { return d.p }

// EntryRegion picks the owned neighbour, closest to home, whose shared strip
// carries road on both sides. It uses the cheap presence check only.
func (d *Detector) EntryRegion(snap *roads.Snapshot, id, home region.ID) (region.ID, bool) {
	if id == home {
		return "", false
	}
	g := snap.Grid()
	var candidates []region.ID
	for _, n := range d.regions.Adjacent(id) {
		st, ok := d.regions.Status(n)
		if !ok || st.Owner != snap.Team {
			continue
		}
		if d.border.Presence(snap, n, id) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := g.Distance(candidates[i], home), g.Distance(candidates[j], home)
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}

// HasCriticalGap reports whether region id has a critical gap relative to its entry from home.
func (d *Detector) HasCriticalGap(snap *roads.Snapshot, id, home region.ID) bool {
	if !d.p.Enabled {
		return false
	}
	entry, ok := d.EntryRegion(snap, id, home)
	if !ok {
		return false
	}
	return d.CriticalFrom(snap, id, entry)
}

// CriticalFrom reports a gap when the region's network is large, the entry edge
// carries enough road, and only a small fraction is reachable from that edge.
func (d *Detector) CriticalFrom(snap *roads.Snapshot, id, entry region.ID) bool {
	if !d.p.Enabled {
		return false
	}
	total := snap.CountInRegion(id)
	if total == 0 || total < d.p.MinBlocks {
		return false
	}
	starts := d.border.EdgeBlocks(snap, id, entry)
	if len(starts) == 0 || len(starts) < d.p.MinEntryBlocks {
		return false
	}
	res := snap.RegionIndex(id, d.p.Neighbor).Search(starts, d.p.FloodCap, nil)
	if res.Capped {
		d.verbose.Printf("gaps %s/%s: flood cap %d reached, assuming no gap", id, snap.Team, d.p.FloodCap)
		return false
	}
	frac := float64(res.Visited) / float64(total)
	return frac < d.p.ReachableFraction
}
