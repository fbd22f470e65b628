package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gookit/color"

	persistlog "frontline.gg/internal/persistence/log"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/roads"
)

type auditFilter struct {
	round string
	team  string
	box   *geom.Box
	since time.Time
}

func (f auditFilter) match(e roads.AuditEntry) bool {
	if f.round != "" && e.Round != f.round {
		return false
	}
	if f.team != "" && e.Team != f.team {
		return false
	}
	if f.box != nil && !inBox(*f.box, e.Pos) {
		return false
	}
	return f.since.IsZero() || !e.Time.Before(f.since)
}

// readAudit returns every audit entry under dataDir in write order.
func readAudit(dataDir string) ([]roads.AuditEntry, error) {
	files, err := persistlog.Files(filepath.Join(dataDir, "audit"), "roads")
	if err != nil {
		return nil, err
	}
	var out []roads.AuditEntry
	for _, f := range files {
		if err := persistlog.ReadRoadAudit(f, func(e roads.AuditEntry) error {
			out = append(out, e)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseFilterFlags(round, team, box, since string) (auditFilter, error) {
	f := auditFilter{round: strings.TrimSpace(round), team: strings.TrimSpace(team)}
	if strings.TrimSpace(box) != "" {
		b, err := parseBox(box)
		if err != nil {
			return f, fmt.Errorf("bad -box: %w", err)
		}
		f.box = &b
	}
	if strings.TrimSpace(since) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(since))
		if err != nil {
			return f, fmt.Errorf("bad -since: %w", err)
		}
		f.since = t
	}
	return f, nil
}

var actionStyles = map[string]color.Color{
	roads.ActionPlace:  color.FgGreen,
	roads.ActionRemove: color.FgRed,
	roads.ActionImport: color.FgCyan,
	roads.ActionClear:  color.FgMagenta,
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	round := fs.String("round", "", "round filter")
	team := fs.String("team", "", "team filter")
	box := fs.String("box", "", "box filter: x1,y1,z1:x2,y2,z2")
	since := fs.String("since", "", "RFC3339 lower time bound")
	limit := fs.Int("limit", 200, "max entries printed (most recent)")
	_ = fs.Parse(args)

	f, err := parseFilterFlags(*round, *team, *box, *since)
	if err != nil {
		fail(2, "%v", err)
	}
	all, err := readAudit(*dataDir)
	if err != nil {
		fail(1, "read audit: %v", err)
	}
	var hits []roads.AuditEntry
	for _, e := range all {
		if f.match(e) {
			hits = append(hits, e)
		}
	}
	if *limit > 0 && len(hits) > *limit {
		hits = hits[len(hits)-*limit:]
	}
	for _, e := range hits {
		action := actionStyles[e.Action].Sprintf("%-6s", e.Action)
		line := fmt.Sprintf("%s %s %s %-4s team=%s actor=%s", e.Time.Format(time.RFC3339), e.Round, action, e.Region, e.Team, e.Actor)
		if e.Action == roads.ActionImport || e.Action == roads.ActionClear {
			line += fmt.Sprintf(" count=%d", e.Count)
		} else {
			line += " pos=" + e.Pos.String()
		}
		if e.Reason != "" {
			line += " reason=" + e.Reason
		}
		fmt.Println(line)
	}
	fmt.Printf("%d entries\n", len(hits))
}
