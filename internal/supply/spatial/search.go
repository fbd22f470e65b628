package spatial

import (
	"github.com/zyedidia/generic/mapset"
	"github.com/zyedidia/generic/queue"

	"frontline.gg/internal/supply/geom"
)

// SearchResult describes a breadth-first walk over an index.
type SearchResult struct {
	Visited int
	// Found is set when goal accepted a position.
	Found bool
	// Capped is set when the walk stopped because it visited more than the limit.
	Capped bool
}

// Search walks breadth-first from starts over the index. A limit <= 0 means
// unbounded. goal may be nil, in which case the walk only counts what is reachable.
func (ix *Index) Search(starts []geom.Pos, limit int, goal func(geom.Pos) bool) SearchResult {
	visited := mapset.New[geom.Pos]()
	q := queue.New[geom.Pos]()
	for _, p := range starts {
		if !visited.Has(p) {
			visited.Put(p)
			q.Enqueue(p)
		}
	}
	for !q.Empty() {
		cur := q.Dequeue()
		if goal != nil && goal(cur) {
			return SearchResult{Visited: visited.Size(), Found: true}
		}
		if limit > 0 && visited.Size() > limit {
			return SearchResult{Visited: visited.Size(), Capped: true}
		}
		ix.EachNeighbor(cur, func(n geom.Pos) bool {
			if !visited.Has(n) {
				visited.Put(n)
				q.Enqueue(n)
			}
			return true
		})
	}
	return SearchResult{Visited: visited.Size()}
}
