package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gookit/color"

	"frontline.gg/internal/persistence/archive"
	"frontline.gg/internal/persistence/roaddb"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "supply":
			supplyCmd(os.Args[2:])
			return
		case "clear":
			clearCmd(os.Args[2:])
			return
		}
	}
	roundsCmd(os.Args[1:])
}

func fail(code int, format string, args ...any) {
	color.Error.Println(fmt.Sprintf(format, args...))
	os.Exit(code)
}

// roundsCmd lists live rounds from the database and archived rounds.
func roundsCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	db, err := roaddb.Open(filepath.Join(*dataDir, "roads.db"))
	if err != nil {
		fail(1, "open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	active, _ := db.ActiveRound(ctx)
	stats, err := db.Stats(ctx)
	if err != nil {
		fail(1, "stats: %v", err)
	}
	for _, s := range stats {
		mark := " "
		if s.Round == active {
			mark = color.Green.Sprint("*")
		}
		fmt.Printf("%s %-20s blocks=%d teams=%s\n", mark, s.Round, s.Blocks, formatCounts(s.Teams))
	}
	metas, err := archive.ReadMeta(*dataDir)
	if err != nil {
		fail(1, "archives: %v", err)
	}
	for _, m := range metas {
		fmt.Printf("%s %-20s blocks=%d teams=%s archived=%s\n", color.Gray.Sprint("a"), m.Round, m.Blocks, formatCounts(m.Teams), m.CreatedAt)
	}
}

var levelStyles = map[level.Level]color.Style{
	level.Supplied:   {color.FgGreen, color.OpBold},
	level.Partial:    {color.FgYellow},
	level.Unsupplied: {color.FgRed},
	level.Isolated:   {color.FgGray},
}

func styledLevel(l level.Level) string {
	if st, ok := levelStyles[l]; ok {
		return st.Sprintf("%-10s", l.String())
	}
	return l.String()
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.Itoa(m[k]))
	}
	return strings.Join(parts, ",")
}

// parseBox parses "x1,y1,z1:x2,y2,z2" into an inclusive box.
func parseBox(s string) (geom.Box, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return geom.Box{}, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return geom.Box{}, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return geom.Box{}, err
	}
	return geom.BoxOf(a).Extend(b), nil
}

func parseVec3(s string) (geom.Pos, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return geom.Pos{}, fmt.Errorf("expected x,y,z")
	}
	var v [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return geom.Pos{}, err
		}
		v[i] = n
	}
	return geom.Pos{X: v[0], Y: v[1], Z: v[2]}, nil
}

func inBox(b geom.Box, p geom.Pos) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}
