package main

import (
	"context"
	"fmt"
	"sort"

	"frontline.gg/internal/persistence/archive"
	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/tuning"
)

type mismatch struct {
	Region region.ID
	Team   string
	Want   level.Level
	Got    level.Level
}

type report struct {
	Teams      []string
	Checked    int
	Mismatches []mismatch
	Recomputed []level.Record
}

type recordKey struct {
	region region.ID
	team   string
}

// verifyRound recomputes every team of r on an in-memory store and compares
// the result with the archived statuses.
func verifyRound(ctx context.Context, cfg tuning.Config, r archive.Round) (report, error) {
	var rep report
	reg := region.NewRegistry(cfg.RegionGrid())
	for id, team := range r.Meta.Owners {
		if _, err := reg.SetOwner(id, team); err != nil {
			return rep, fmt.Errorf("owner %s: %w", id, err)
		}
	}
	eng := engine.New(engine.Options{
		Regions: reg,
		Teams:   cfg,
		Backend: roads.NewMemoryBackend(),
		Border:  cfg.BorderParams(),
		Gaps:    cfg.GapParams(),
		Finder:  cfg.FinderParams(),
		Levels:  cfg.LevelTable(),
	})
	eng.SetRound(r.Meta.Round)

	byTeam := map[string][]roads.Block{}
	for _, b := range r.Blocks {
		byTeam[b.Team] = append(byTeam[b.Team], b)
	}
	teams := map[string]bool{}
	for _, t := range cfg.TeamNames() {
		teams[t] = true
	}
	for t, bs := range byTeam {
		teams[t] = true
		if _, err := eng.PlaceBulk(ctx, bs); err != nil {
			return rep, fmt.Errorf("load %s roads: %w", t, err)
		}
	}
	for _, s := range r.Statuses {
		teams[s.Team] = true
	}
	for t := range teams {
		rep.Teams = append(rep.Teams, t)
	}
	sort.Strings(rep.Teams)

	got := map[recordKey]level.Record{}
	for _, t := range rep.Teams {
		if err := eng.Recalculate(ctx, t); err != nil {
			return rep, err
		}
		for _, rec := range eng.Records(ctx, t) {
			got[recordKey{rec.Region, rec.Team}] = rec
			rep.Recomputed = append(rep.Recomputed, rec)
		}
	}

	for _, want := range r.Statuses {
		rep.Checked++
		rec, ok := got[recordKey{want.Region, want.Team}]
		if !ok {
			rec = level.Record{Level: level.Isolated}
		}
		if rec.Level != want.Level {
			rep.Mismatches = append(rep.Mismatches, mismatch{Region: want.Region, Team: want.Team, Want: want.Level, Got: rec.Level})
		}
	}
	sort.Slice(rep.Mismatches, func(i, j int) bool {
		a, b := rep.Mismatches[i], rep.Mismatches[j]
		if a.Team != b.Team {
			return a.Team < b.Team
		}
		return a.Region < b.Region
	})
	return rep, nil
}
