package main

import (
	"flag"
	"fmt"
	"sort"
	"strings"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/roads"
)

type blockState struct {
	present bool
	team    string
	actor   roads.Actor
}

type restoreOp struct {
	Pos   geom.Pos
	Place bool
	Team  string
	Actor roads.Actor
}

// planRestore returns the operations that put every position touched by a
// matching entry back to its state just before f.since. Entries must be in
// write order. Bulk imports are not position-level and are ignored.
func planRestore(entries []roads.AuditEntry, f auditFilter) []restoreOp {
	before := map[geom.Pos]blockState{}
	after := map[geom.Pos]blockState{}
	for _, e := range entries {
		if e.Round != f.round || (f.box != nil && !inBox(*f.box, e.Pos)) {
			continue
		}
		var st blockState
		switch e.Action {
		case roads.ActionPlace:
			st = blockState{present: true, team: e.Team, actor: e.Actor}
		case roads.ActionRemove:
		default:
			continue
		}
		if e.Time.Before(f.since) {
			before[e.Pos] = st
		} else {
			after[e.Pos] = st
		}
	}

	var ops []restoreOp
	for p, now := range after {
		want := before[p]
		if now == want {
			continue
		}
		if want.present {
			ops = append(ops, restoreOp{Pos: p, Place: true, Team: want.team, Actor: want.actor})
		} else {
			ops = append(ops, restoreOp{Pos: p})
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i].Pos, ops[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	return ops
}

func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	round := fs.String("round", "", "round (required)")
	box := fs.String("box", "", "box: x1,y1,z1:x2,y2,z2 (required)")
	since := fs.String("since", "", "restore the state at this RFC3339 time (required)")
	dryRun := fs.Bool("dry_run", false, "print the plan without applying it")
	_ = fs.Parse(args)

	if strings.TrimSpace(*round) == "" || strings.TrimSpace(*box) == "" || strings.TrimSpace(*since) == "" {
		fail(2, "rollback needs -round, -box and -since")
	}
	f, err := parseFilterFlags(*round, "", *box, *since)
	if err != nil {
		fail(2, "%v", err)
	}
	entries, err := readAudit(*dataDir)
	if err != nil {
		fail(1, "read audit: %v", err)
	}
	ops := planRestore(entries, f)
	if len(ops) == 0 {
		fmt.Println("no matching road changes; nothing to roll back")
		return
	}
	if *dryRun {
		for _, op := range ops {
			if op.Place {
				fmt.Printf("place  %s team=%s actor=%s\n", op.Pos, op.Team, op.Actor)
			} else {
				fmt.Printf("remove %s\n", op.Pos)
			}
		}
		fmt.Printf("%d operations (dry run)\n", len(ops))
		return
	}

	cl := newClient(*baseURL)
	applied := 0
	for _, op := range ops {
		if err := cl.apply(op); err != nil {
			fail(1, "after %d of %d: %v", applied, len(ops), err)
		}
		applied++
	}
	if _, err := cl.post("/v1/admin/recalculate", nil); err != nil {
		fail(1, "recalculate: %v", err)
	}
	fmt.Printf("rollback ok: round=%s box=%s since=%s applied=%d\n", *round, f.box, *since, applied)
}
