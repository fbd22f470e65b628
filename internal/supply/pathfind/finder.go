// Package pathfind searches the region graph for road-verified routes home.
package pathfind

import (
	"io"
	"log"
	"sort"

	"github.com/zyedidia/generic/mapset"
	"github.com/zyedidia/generic/queue"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/gaps"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/spatial"
)

type Params struct {
	// TransitCap bounds the walk through an intermediate region; past it the
	// road is assumed continuous.
	TransitCap int
	Neighbor   spatial.Params
}

type Finder struct {
	p       Params
	regions region.Service
	border  *border.Checker
	gaps    *gaps.Detector
	verbose *log.Logger
}

func New(p Params, regions region.Service, b *border.Checker, g *gaps.Detector, verbose *log.Logger) *Finder {
	if verbose == nil {
		verbose = log.New(io.Discard, "", 0)
	}
	return &Finder{p: p, regions: regions, border: b, gaps: g, verbose: verbose}
}

// search holds per-call memo tables; border checks are symmetric and repeat a lot.
type search struct {
	f     *Finder
	snap  *roads.Snapshot
	links map[[2]region.ID]bool
	gaps  map[[2]region.ID]bool
}

func (f *Finder) newSearch(snap *roads.Snapshot) *search {
	return &search{f: f, snap: snap, links: map[[2]region.ID]bool{}, gaps: map[[2]region.ID]bool{}}
}

func (s *search) owned(id region.ID) bool {
	st, ok := s.f.regions.Status(id)
	return ok && st.Owner != "" && st.Owner == s.snap.Team
}

func (s *search) linked(a, b region.ID) bool {
	k := [2]region.ID{a, b}
	if b < a {
		k = [2]region.ID{b, a}
	}
	if v, ok := s.links[k]; ok {
		return v
	}
	v := s.f.border.Connected(s.snap, a, b)
	s.links[k] = v
	return v
}

// gapped is keyed by (region, entry); the flood depends on which side the road enters.
func (s *search) gapped(id, entry region.ID) bool {
	if s.f.gaps == nil {
		return false
	}
	k := [2]region.ID{id, entry}
	if v, ok := s.gaps[k]; ok {
		return v
	}
	v := s.f.gaps.CriticalFrom(s.snap, id, entry)
	s.gaps[k] = v
	return v
}

// ConnectedRegions returns every region reachable from home through owned
// regions whose shared borders carry road. Home is always included.
func (f *Finder) ConnectedRegions(snap *roads.Snapshot, home region.ID) []region.ID {
	home, ok := snap.Grid().Normalize(home)
	if !ok {
		return nil
	}
	s := f.newSearch(snap)
	seen := mapset.New[region.ID]()
	seen.Put(home)
	q := queue.New[region.ID]()
	q.Enqueue(home)
	out := []region.ID{home}
	for !q.Empty() {
		cur := q.Dequeue()
		for _, n := range f.regions.Adjacent(cur) {
			if seen.Has(n) || !s.owned(n) || !s.linked(cur, n) {
				continue
			}
			seen.Put(n)
			out = append(out, n)
			q.Enqueue(n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type hop struct {
	at   region.ID
	from region.ID
	hops int
}

// AllHops returns the verified hop count of every region reachable from home.
// Regions missing from the map are unreachable.
func (f *Finder) AllHops(snap *roads.Snapshot, home region.ID) map[region.ID]int {
	return f.walk(snap, home, "")
}

// HopsToHome returns the shortest road-verified hop count from target to home,
// or -1 when no verified route exists.
func (f *Finder) HopsToHome(snap *roads.Snapshot, target, home region.ID) int {
	g := snap.Grid()
	target, ok1 := g.Normalize(target)
	home, ok2 := g.Normalize(home)
	if !ok1 || !ok2 {
		return -1
	}
	if target == home {
		return 0
	}
	if n, ok := f.walk(snap, home, target)[target]; ok {
		return n
	}
	return -1
}

// walk is a breadth-first search over (region, entered-from) states so that a
// region rejected via one entry can still be reached via another. It stops
// early once stop is reached, when stop is set.
func (f *Finder) walk(snap *roads.Snapshot, home, stop region.ID) map[region.ID]int {
	home, ok := snap.Grid().Normalize(home)
	if !ok {
		return nil
	}
	s := f.newSearch(snap)
	best := map[region.ID]int{home: 0}
	seen := mapset.New[[2]region.ID]()
	q := queue.New[hop]()
	q.Enqueue(hop{at: home})
	for !q.Empty() {
		cur := q.Dequeue()
		for _, n := range f.regions.Adjacent(cur.at) {
			key := [2]region.ID{n, cur.at}
			if n == home || n == cur.from || seen.Has(key) || !s.owned(n) {
				continue
			}
			if !s.linked(cur.at, n) {
				continue
			}
			if cur.at != home && !f.transit(snap, cur.at, cur.from, n) {
				continue
			}
			if s.gapped(n, cur.at) {
				continue
			}
			seen.Put(key)
			if _, ok := best[n]; !ok {
				best[n] = cur.hops + 1
			}
			if n == stop {
				return best
			}
			q.Enqueue(hop{at: n, from: cur.at, hops: cur.hops + 1})
		}
	}
	return best
}

// transit reports whether the road entering via from can be followed inside
// via to its edge with to.
func (f *Finder) transit(snap *roads.Snapshot, via, from, to region.ID) bool {
	entry := f.border.EdgeBlocks(snap, via, from)
	exit := f.border.EdgeBlocks(snap, via, to)
	if len(entry) == 0 || len(exit) == 0 {
		return false
	}
	exits := mapset.New[geom.Pos]()
	for _, p := range exit {
		exits.Put(p)
	}
	res := snap.RegionIndex(via, f.p.Neighbor).Search(entry, f.p.TransitCap, exits.Has)
	if res.Capped {
		f.verbose.Printf("transit %s->%s->%s/%s: cap %d reached, assuming continuous", from, via, to, snap.Team, f.p.TransitCap)
		return true
	}
	return res.Found
}
