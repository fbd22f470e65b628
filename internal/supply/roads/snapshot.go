package roads

import (
	"sync"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/spatial"
)

// Snapshot is an immutable view of one team's road network. Spatial indexes
// built from it are memoized, so a flush pays for each region index once.
type Snapshot struct {
	Team string

	grid     region.Grid
	blocks   []Block
	byRegion map[region.ID][]Block

	mu      sync.Mutex
	indexes map[indexKey]*spatial.Index
}

type indexKey struct {
	id region.ID
	p  spatial.Params
}

func NewSnapshot(g region.Grid, team string, bs []Block) *Snapshot {
	s := &Snapshot{
		Team:     team,
		grid:     g,
		byRegion: map[region.ID][]Block{},
		indexes:  map[indexKey]*spatial.Index{},
	}
	for _, b := range bs {
		if b.Team != team {
			continue
		}
		id, ok := g.At(b.Pos.X, b.Pos.Z)
		if !ok {
			continue
		}
		b.Region = id
		s.blocks = append(s.blocks, b)
	}
	SortBlocks(s.blocks)
	for _, b := range s.blocks {
		s.byRegion[b.Region] = append(s.byRegion[b.Region], b)
	}
	return s
}

func (s *Snapshot) Grid() region.Grid { return s.grid }

func (s *Snapshot) Len() int { return len(s.blocks) }

func (s *Snapshot) All() []Block { return s.blocks }

func (s *Snapshot) InRegion(id region.ID) []Block { return s.byRegion[id] }

func (s *Snapshot) CountInRegion(id region.ID) int { return len(s.byRegion[id]) }

// InArea returns the blocks inside a, in snapshot order.
func (s *Snapshot) InArea(a geom.Area) []Block {
	if a.Empty() {
		return nil
	}
	var out []Block
	for _, id := range s.grid.All() {
		bounds, _ := s.grid.Bounds(id)
		if bounds.MaxX < a.MinX || bounds.MinX > a.MaxX || bounds.MaxZ < a.MinZ || bounds.MinZ > a.MaxZ {
			continue
		}
		for _, b := range s.byRegion[id] {
			if a.Contains(b.Pos.X, b.Pos.Z) {
				out = append(out, b)
			}
		}
	}
	return out
}

// RegionIndex returns the memoized spatial index over the region's blocks.
func (s *Snapshot) RegionIndex(id region.ID, p spatial.Params) *spatial.Index {
	k := indexKey{id: id, p: p}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ix, ok := s.indexes[k]; ok {
		return ix
	}
	ix := spatial.New(p, Positions(s.byRegion[id]))
	s.indexes[k] = ix
	return ix
}
