package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"frontline.gg/internal/persistence/archive"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/tuning"
)

func testConfig(t *testing.T) tuning.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supply.yaml")
	body := "teams:\n  - {name: red, home: A1}\n  - {name: blue, home: D4}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := tuning.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// archivedRound has a red road from A1 into A2 and the statuses it produced.
func archivedRound() archive.Round {
	r := archive.Round{
		Meta: archive.RoundMeta{
			Round:  "r1",
			Owners: map[region.ID]string{"A1": "red", "A2": "red", "D4": "blue"},
		},
		Statuses: []level.Record{
			{Region: "A1", Team: "red", Level: level.Supplied},
			{Region: "A2", Team: "red", Level: level.Supplied},
			{Region: "B2", Team: "red", Level: level.Isolated},
			{Region: "D4", Team: "blue", Level: level.Supplied},
		},
	}
	for x := 100; x <= 160; x++ {
		r.Blocks = append(r.Blocks, roads.Block{Pos: geom.Pos{X: x, Y: 64, Z: 40}, Team: "red", Actor: roads.Player("p1")})
	}
	return r
}

func TestVerifyRoundMatches(t *testing.T) {
	rep, err := verifyRound(context.Background(), testConfig(t), archivedRound())
	if err != nil {
		t.Fatalf("verifyRound: %v", err)
	}
	if rep.Checked != 4 || len(rep.Mismatches) != 0 {
		t.Fatalf("report: checked=%d mismatches=%+v", rep.Checked, rep.Mismatches)
	}
	if len(rep.Teams) != 2 || rep.Teams[0] != "blue" || rep.Teams[1] != "red" {
		t.Fatalf("teams = %v", rep.Teams)
	}
	if len(rep.Recomputed) != 2*16 {
		t.Fatalf("recomputed %d records", len(rep.Recomputed))
	}
}

func TestVerifyRoundReportsDrift(t *testing.T) {
	r := archivedRound()
	r.Statuses[1].Level = level.Partial
	// Without the road A2 is no longer linked to home.
	r.Blocks = r.Blocks[:10]

	rep, err := verifyRound(context.Background(), testConfig(t), r)
	if err != nil {
		t.Fatalf("verifyRound: %v", err)
	}
	if len(rep.Mismatches) != 1 {
		t.Fatalf("mismatches = %+v", rep.Mismatches)
	}
	m := rep.Mismatches[0]
	if m.Region != "A2" || m.Team != "red" || m.Want != level.Partial || m.Got != level.Unsupplied {
		t.Fatalf("mismatch = %+v", m)
	}
}

func TestVerifyRoundRejectsBadOwner(t *testing.T) {
	r := archivedRound()
	r.Meta.Owners["Z9"] = "red"
	if _, err := verifyRound(context.Background(), testConfig(t), r); err == nil {
		t.Fatalf("expected error")
	}
}
