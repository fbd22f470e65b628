package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"frontline.gg/internal/persistence/roaddb"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
)

// dbCmd queries the road database directly: "stats", "statuses" or "blocks".
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/roads.db)")
	round := fs.String("round", "", "round (default: active round)")
	team := fs.String("team", "", "team filter")
	regionID := fs.String("region", "", "region filter (blocks)")
	limit := fs.Int("limit", 50, "result limit (blocks)")
	_ = fs.Parse(args)

	q := "stats"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "roads.db")
	}
	db, err := roaddb.Open(path)
	if err != nil {
		fail(1, "open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	r := strings.TrimSpace(*round)
	if r == "" {
		if r, err = db.ActiveRound(ctx); err != nil {
			fail(1, "active round: %v", err)
		}
	}

	switch q {
	case "stats":
		stats, err := db.Stats(ctx)
		if err != nil {
			fail(1, "stats: %v", err)
		}
		for _, s := range stats {
			fmt.Printf("%-20s blocks=%d teams=%s\n", s.Round, s.Blocks, formatCounts(s.Teams))
		}
	case "statuses":
		if r == "" {
			fail(2, "no active round; pass -round")
		}
		recs, err := db.Statuses(ctx, r, *team)
		if err != nil {
			fail(1, "statuses: %v", err)
		}
		printRecords(recs)
	case "blocks":
		if r == "" || *team == "" || *regionID == "" {
			fail(2, "blocks needs -team, -region and a round")
		}
		bs, err := db.RegionBlocks(ctx, r, region.ID(strings.ToUpper(*regionID)), *team)
		if err != nil {
			fail(1, "blocks: %v", err)
		}
		for i, b := range bs {
			if i >= *limit {
				fmt.Printf("... %d more\n", len(bs)-i)
				break
			}
			fmt.Printf("%s %s %s %s\n", b.Pos, b.Team, b.Actor, b.PlacedAt.Format("2006-01-02T15:04:05Z"))
		}
	default:
		fail(2, "unknown query %q (stats|statuses|blocks)", q)
	}
}

func printRecords(recs []level.Record) {
	level.SortRecords(recs)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEAM\tREGION\tLEVEL\tCONNECTED\tHOPS\tUPDATED")
	for _, r := range recs {
		updated := ""
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\n", r.Team, r.Region, styledLevel(r.Level), r.Connected, r.Hops, updated)
	}
	_ = tw.Flush()
}
