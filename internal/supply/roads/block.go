// Package roads owns the road block records: the persistent store behind a
// coordinate-keyed cache, and the immutable per-team snapshots every
// connectivity computation runs against.
package roads

import (
	"context"
	"sort"
	"time"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
)

type Block struct {
	Pos      geom.Pos  `json:"pos"`
	Region   region.ID `json:"region"`
	Team     string    `json:"team"`
	Actor    Actor     `json:"actor"`
	PlacedAt time.Time `json:"placed_at"`
}

// Backend persists road blocks per round. Implementations must make every
// per-coordinate write atomic.
type Backend interface {
	Upsert(ctx context.Context, round string, b Block) error
	UpsertMany(ctx context.Context, round string, bs []Block) error
	Delete(ctx context.Context, round string, p geom.Pos) (Block, bool, error)
	Get(ctx context.Context, round string, p geom.Pos) (Block, bool, error)
	TeamBlocks(ctx context.Context, round, team string) ([]Block, error)
	RegionBlocks(ctx context.Context, round string, id region.ID, team string) ([]Block, error)
	AreaBlocks(ctx context.Context, round string, a geom.Area, team string) ([]Block, error)
	CountRegion(ctx context.Context, round string, id region.ID, team string) (int, error)
	ClearRound(ctx context.Context, round string) error
	// ClearRegion deletes every block in the region and returns the teams that lost blocks.
	ClearRegion(ctx context.Context, round string, id region.ID) ([]string, error)
}

// Invalidator is told about every team whose road network changed.
type Invalidator interface {
	MarkDirty(team string)
}

// Audit actions.
const (
	ActionPlace  = "PLACE"
	ActionRemove = "REMOVE"
	ActionImport = "IMPORT"
	ActionClear  = "CLEAR"
)

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Round  string    `json:"round"`
	Action string    `json:"action"`
	Pos    geom.Pos  `json:"pos"`
	Region region.ID `json:"region,omitempty"`
	Team   string    `json:"team,omitempty"`
	Actor  Actor     `json:"actor"`
	Count  int       `json:"count,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type Auditor interface {
	WriteRoadAudit(e AuditEntry) error
}

// SortBlocks orders blocks by X, then Z, then Y.
func SortBlocks(bs []Block) {
	sort.Slice(bs, func(i, j int) bool { return lessPos(bs[i].Pos, bs[j].Pos) })
}

func lessPos(a, b geom.Pos) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Y < b.Y
}

func Positions(bs []Block) []geom.Pos {
	out := make([]geom.Pos, len(bs))
	for i, b := range bs {
		out[i] = b.Pos
	}
	return out
}
