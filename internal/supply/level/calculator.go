package level

import (
	"time"

	"github.com/zyedidia/generic/mapset"

	"frontline.gg/internal/supply/pathfind"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

// Calculator derives supply records from one team snapshot.
type Calculator struct {
	regions region.Service
	finder  *pathfind.Finder
	now     func() time.Time
}

func NewCalculator(regions region.Service, finder *pathfind.Finder, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{regions: regions, finder: finder, now: now}
}

// Network is the team-wide search result shared by every region of one flush.
type Network struct {
	Home      region.ID
	HasHome   bool
	Connected mapset.Set[region.ID]
	Hops      map[region.ID]int
}

// Network runs the region searches once for the snapshot's team.
func (c *Calculator) Network(snap *roads.Snapshot, home region.ID, hasHome bool) Network {
	n := Network{Home: home, HasHome: hasHome, Connected: mapset.New[region.ID](), Hops: map[region.ID]int{}}
	if !hasHome {
		return n
	}
	home, ok := snap.Grid().Normalize(home)
	if !ok {
		n.HasHome = false
		return n
	}
	n.Home = home
	for _, id := range c.finder.ConnectedRegions(snap, home) {
		n.Connected.Put(id)
	}
	n.Hops = c.finder.AllHops(snap, home)
	return n
}

// Classify applies the level rules to one region:
//
//	unknown region or no home          -> ISOLATED
//	home                               -> SUPPLIED
//	not owned, or no owned neighbour   -> ISOLATED
//	verified hop path                  -> SUPPLIED
//	road-linked to home by region      -> PARTIAL
//	otherwise                          -> UNSUPPLIED
func (c *Calculator) Classify(team string, id region.ID, n Network) Record {
	rec := Record{Region: id, Team: team, Level: Isolated, Hops: -1, UpdatedAt: c.now().UTC()}
	g := c.regions.Grid()
	id, ok := g.Normalize(id)
	if !ok || !n.HasHome || team == "" {
		return rec
	}
	rec.Region = id
	if id == n.Home {
		rec.Level, rec.Connected, rec.Hops = Supplied, true, 0
		return rec
	}
	if !c.ownedBy(id, team) || !c.hasOwnedNeighbor(id, team) {
		return rec
	}
	rec.Connected = n.Connected.Has(id)
	if h, ok := n.Hops[id]; ok {
		rec.Hops = h
	}
	switch {
	case rec.Hops >= 0:
		rec.Level = Supplied
	case rec.Connected:
		rec.Level = Partial
	default:
		rec.Level = Unsupplied
	}
	return rec
}

// Calculate computes a single region.
func (c *Calculator) Calculate(snap *roads.Snapshot, id, home region.ID, hasHome bool) Record {
	return c.Classify(snap.Team, id, c.Network(snap, home, hasHome))
}

// CalculateTeam computes every region of the grid for the snapshot's team.
func (c *Calculator) CalculateTeam(snap *roads.Snapshot, home region.ID, hasHome bool) []Record {
	n := c.Network(snap, home, hasHome)
	ids := c.regions.Grid().All()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Classify(snap.Team, id, n))
	}
	return out
}

func (c *Calculator) ownedBy(id region.ID, team string) bool {
	st, ok := c.regions.Status(id)
	return ok && st.Owner == team
}

func (c *Calculator) hasOwnedNeighbor(id region.ID, team string) bool {
	for _, n := range c.regions.Adjacent(id) {
		if c.ownedBy(n, team) {
			return true
		}
	}
	return false
}
