// Package tuning loads supply.yaml: grid geometry, search limits, gap
// thresholds, team homes and the per-level gameplay constants.
package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"frontline.gg/internal/supply/border"
	"frontline.gg/internal/supply/gaps"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/pathfind"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/scan"
	"frontline.gg/internal/supply/spatial"
)

type Config struct {
	Grid          GridSpec                 `yaml:"grid"`
	Roads         RoadsSpec                `yaml:"roads"`
	Search        SearchSpec               `yaml:"search"`
	Gaps          GapsSpec                 `yaml:"gaps"`
	Scheduler     SchedulerSpec            `yaml:"scheduler"`
	Scan          ScanSpec                 `yaml:"scan"`
	Feed          FeedSpec                 `yaml:"feed"`
	Teams         []TeamSpec               `yaml:"teams"`
	InitialOwners map[string]string        `yaml:"initial_owners,omitempty"`
	Levels        map[string]level.Effects `yaml:"levels"`
	Verbose       bool                     `yaml:"verbose"`
}

type GridSpec struct {
	OriginX    int `yaml:"origin_x"`
	OriginZ    int `yaml:"origin_z"`
	RegionSize int `yaml:"region_size"`
	Rows       int `yaml:"rows"`
	Cols       int `yaml:"cols"`
}

type RoadsSpec struct {
	// Materials are the world block types that count as road surface.
	Materials []string `yaml:"materials"`
}

type SearchSpec struct {
	BorderWidth         int  `yaml:"border_width"`
	Radius              int  `yaml:"radius"`
	VerticalTolerance   int  `yaml:"vertical_tolerance"`
	YSampling           bool `yaml:"y_sampling"`
	BorderBFSCap        int  `yaml:"border_bfs_cap"`
	ExtendedBorderWidth int  `yaml:"extended_border_width"`
	ExtendedProximity   int  `yaml:"extended_proximity"`
	TransitCap          int  `yaml:"transit_cap"`
}

type GapsSpec struct {
	Enabled           bool    `yaml:"enabled"`
	MinBlocks         int     `yaml:"min_blocks"`
	MinEntryBlocks    int     `yaml:"min_entry_blocks"`
	ReachableFraction float64 `yaml:"reachable_fraction"`
	FloodCap          int     `yaml:"flood_cap"`
	MinSegmentBlocks  int     `yaml:"min_segment_blocks"`
	ReportMaxPairs    int     `yaml:"report_max_pairs"`
}

type SchedulerSpec struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ScanSpec struct {
	SliceWidth      int     `yaml:"slice_width"`
	SlicesPerSecond float64 `yaml:"slices_per_second"`
	Burst           int     `yaml:"burst"`
}

// FeedSpec limits each game-server feed session.
type FeedSpec struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

type TeamSpec struct {
	Name string `yaml:"name"`
	Home string `yaml:"home"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("supply.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("supply.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Grid:  GridSpec{OriginX: 0, OriginZ: 0, RegionSize: 128, Rows: 4, Cols: 4},
		Roads: RoadsSpec{Materials: []string{"DIRT_PATH", "GRAVEL"}},
		Search: SearchSpec{
			BorderWidth:         8,
			Radius:              2,
			VerticalTolerance:   3,
			YSampling:           true,
			BorderBFSCap:        2000,
			ExtendedBorderWidth: 16,
			ExtendedProximity:   4,
			TransitCap:          20000,
		},
		Gaps: GapsSpec{
			Enabled:           true,
			MinBlocks:         50,
			MinEntryBlocks:    3,
			ReachableFraction: 0.15,
			FloodCap:          50000,
			MinSegmentBlocks:  10,
			ReportMaxPairs:    6,
		},
		Scheduler: SchedulerSpec{FlushInterval: 5 * time.Second},
		Scan:      ScanSpec{SliceWidth: 16, SlicesPerSecond: 20, Burst: 1},
		Feed:      FeedSpec{EventsPerSecond: 2000, Burst: 500},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	mats := make([]string, 0, len(c.Roads.Materials))
	seen := map[string]bool{}
	for _, m := range c.Roads.Materials {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		mats = append(mats, m)
	}
	c.Roads.Materials = mats
	c.Teams = append([]TeamSpec(nil), c.Teams...)
	for i := range c.Teams {
		c.Teams[i].Name = strings.TrimSpace(c.Teams[i].Name)
		c.Teams[i].Home = strings.ToUpper(strings.TrimSpace(c.Teams[i].Home))
	}
	if len(c.InitialOwners) > 0 {
		owners := make(map[string]string, len(c.InitialOwners))
		for id, team := range c.InitialOwners {
			owners[strings.ToUpper(strings.TrimSpace(id))] = strings.TrimSpace(team)
		}
		c.InitialOwners = owners
	}
	if len(c.Levels) > 0 {
		levels := make(map[string]level.Effects, len(c.Levels))
		for name, e := range c.Levels {
			levels[strings.ToUpper(strings.TrimSpace(name))] = e
		}
		c.Levels = levels
	}
	if c.Scan.Burst <= 0 {
		c.Scan.Burst = 1
	}
	if c.Feed.Burst <= 0 {
		c.Feed.Burst = 1
	}
	if c.Gaps.ReportMaxPairs < 0 {
		c.Gaps.ReportMaxPairs = 0
	}
}

func (c Config) Validate() error {
	c.Normalize()
	g := c.RegionGrid()
	if g.Size <= 0 {
		return fmt.Errorf("grid.region_size must be > 0")
	}
	if g.Rows <= 0 || g.Rows > 26 || g.Cols <= 0 {
		return fmt.Errorf("grid rows must be in [1,26] and cols > 0")
	}
	if len(c.Roads.Materials) == 0 {
		return fmt.Errorf("roads.materials must not be empty")
	}
	s := c.Search
	if s.BorderWidth <= 0 || s.BorderWidth*2 > g.Size {
		return fmt.Errorf("search.border_width must be in [1, region_size/2]")
	}
	if s.Radius <= 0 {
		return fmt.Errorf("search.radius must be > 0")
	}
	if s.VerticalTolerance < 0 {
		return fmt.Errorf("search.vertical_tolerance must be >= 0")
	}
	if s.BorderBFSCap <= 0 || s.TransitCap <= 0 {
		return fmt.Errorf("search.border_bfs_cap and search.transit_cap must be > 0")
	}
	if s.ExtendedBorderWidth < s.BorderWidth {
		return fmt.Errorf("search.extended_border_width must be >= border_width")
	}
	if s.ExtendedProximity < 0 {
		return fmt.Errorf("search.extended_proximity must be >= 0")
	}
	gp := c.Gaps
	if gp.MinBlocks < 0 || gp.MinEntryBlocks < 0 || gp.MinSegmentBlocks < 0 {
		return fmt.Errorf("gaps block thresholds must be >= 0")
	}
	if gp.ReachableFraction < 0 || gp.ReachableFraction > 1 {
		return fmt.Errorf("gaps.reachable_fraction must be in [0,1]")
	}
	if gp.FloodCap <= 0 {
		return fmt.Errorf("gaps.flood_cap must be > 0")
	}
	if c.Scheduler.FlushInterval <= 0 {
		return fmt.Errorf("scheduler.flush_interval must be > 0")
	}
	if c.Scan.SliceWidth <= 0 {
		return fmt.Errorf("scan.slice_width must be > 0")
	}
	if c.Scan.SlicesPerSecond < 0 {
		return fmt.Errorf("scan.slices_per_second must be >= 0")
	}
	if c.Feed.EventsPerSecond < 0 {
		return fmt.Errorf("feed.events_per_second must be >= 0")
	}
	seen := map[string]bool{}
	for i, t := range c.Teams {
		if t.Name == "" {
			return fmt.Errorf("teams[%d] name must not be empty", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate team: %s", t.Name)
		}
		seen[t.Name] = true
		if t.Home != "" && !g.Valid(region.ID(t.Home)) {
			return fmt.Errorf("team %s home %q is not a grid region", t.Name, t.Home)
		}
	}
	for id, team := range c.InitialOwners {
		if !g.Valid(region.ID(id)) {
			return fmt.Errorf("initial_owners: %q is not a grid region", id)
		}
		if team != "" && !seen[team] {
			return fmt.Errorf("initial_owners: %s owned by unknown team %q", id, team)
		}
	}
	for name, e := range c.Levels {
		if _, err := level.Parse(name); err != nil {
			return fmt.Errorf("levels: %w", err)
		}
		if e.RespawnDelaySeconds < 0 || e.HealthRegenMultiplier < 0 {
			return fmt.Errorf("levels.%s values must be >= 0", name)
		}
	}
	return nil
}

func (c Config) RegionGrid() region.Grid {
	return region.Grid{
		OriginX: c.Grid.OriginX,
		OriginZ: c.Grid.OriginZ,
		Size:    c.Grid.RegionSize,
		Rows:    c.Grid.Rows,
		Cols:    c.Grid.Cols,
	}
}

// Home returns the configured home region of team.
func (c Config) Home(team string) (region.ID, bool) {
	for _, t := range c.Teams {
		if t.Name == team {
			return c.RegionGrid().Normalize(region.ID(t.Home))
		}
	}
	return "", false
}

func (c Config) TeamNames() []string {
	out := make([]string, 0, len(c.Teams))
	for _, t := range c.Teams {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

// Registry builds the ownership registry seeded from initial_owners and team homes.
func (c Config) Registry() (*region.Registry, error) {
	reg := region.NewRegistry(c.RegionGrid())
	for _, t := range c.Teams {
		if home, ok := c.Home(t.Name); ok {
			if _, err := reg.SetOwner(home, t.Name); err != nil {
				return nil, err
			}
		}
	}
	ids := make([]string, 0, len(c.InitialOwners))
	for id := range c.InitialOwners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := reg.SetOwner(region.ID(id), c.InitialOwners[id]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (c Config) NeighborParams() spatial.Params {
	return spatial.Params{Radius: c.Search.Radius, Tolerance: c.Search.VerticalTolerance, SampleY: c.Search.YSampling}
}

func (c Config) BorderParams() border.Params {
	return border.Params{
		Width:             c.Search.BorderWidth,
		Neighbor:          c.NeighborParams(),
		BFSCap:            c.Search.BorderBFSCap,
		ExtendedWidth:     c.Search.ExtendedBorderWidth,
		ExtendedProximity: c.Search.ExtendedProximity,
	}
}

func (c Config) GapParams() gaps.Params {
	return gaps.Params{
		Enabled:           c.Gaps.Enabled,
		MinBlocks:         c.Gaps.MinBlocks,
		MinEntryBlocks:    c.Gaps.MinEntryBlocks,
		ReachableFraction: c.Gaps.ReachableFraction,
		FloodCap:          c.Gaps.FloodCap,
		MinSegmentBlocks:  c.Gaps.MinSegmentBlocks,
		ReportMaxPairs:    c.Gaps.ReportMaxPairs,
		Neighbor:          c.NeighborParams(),
	}
}

func (c Config) FinderParams() pathfind.Params {
	return pathfind.Params{TransitCap: c.Search.TransitCap, Neighbor: c.NeighborParams()}
}

func (c Config) ScanParams() scan.Params {
	return scan.Params{
		SliceWidth:      c.Scan.SliceWidth,
		SlicesPerSecond: c.Scan.SlicesPerSecond,
		Burst:           c.Scan.Burst,
		Materials:       append([]string(nil), c.Roads.Materials...),
	}
}

// LevelTable overlays the configured levels on the default table.
func (c Config) LevelTable() level.Table {
	t := level.DefaultTable()
	for name, e := range c.Levels {
		if l, err := level.Parse(name); err == nil {
			t[l] = e
		}
	}
	return t
}
