// Package archive freezes a finished round into data/archives before its
// rows are reused or cleared.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	persistlog "frontline.gg/internal/persistence/log"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

// Source is the read side of the road database. roaddb.SQLite satisfies it.
type Source interface {
	RoundBlocks(ctx context.Context, round string) ([]roads.Block, error)
	Statuses(ctx context.Context, round, team string) ([]level.Record, error)
}

type RoundMeta struct {
	Round     string         `json:"round"`
	CreatedAt string         `json:"created_at"`
	Blocks    int            `json:"blocks"`
	Teams     map[string]int `json:"teams"`
	Statuses  int            `json:"statuses"`
	// Owners is region ownership when the round was archived.
	Owners map[region.ID]string `json:"owners,omitempty"`
	Files  []string             `json:"files"`
}

// Round is an archived round loaded back into memory.
type Round struct {
	Meta     RoundMeta
	Blocks   []roads.Block
	Statuses []level.Record
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Dir returns the archive directory of round under dataDir.
func Dir(dataDir, round string) string {
	return filepath.Join(dataDir, "archives", "round_"+unsafeName.ReplaceAllString(round, "_"))
}

// ArchiveRound writes round's blocks and last computed statuses as zstd JSONL
// plus a meta.json carrying owners. It returns the paths written, meta.json last.
func ArchiveRound(ctx context.Context, dataDir, round string, src Source, owners map[region.ID]string, now time.Time) ([]string, error) {
	if round == "" {
		return nil, fmt.Errorf("archive: empty round")
	}
	blocks, err := src.RoundBlocks(ctx, round)
	if err != nil {
		return nil, fmt.Errorf("archive %s: read roads: %w", round, err)
	}
	recs, err := src.Statuses(ctx, round, "")
	if err != nil {
		return nil, fmt.Errorf("archive %s: read statuses: %w", round, err)
	}

	dir := Dir(dataDir, round)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	roadsPath := filepath.Join(dir, "roads.jsonl.zst")
	if err := writeJSONL(roadsPath, blocks); err != nil {
		return nil, fmt.Errorf("archive %s: %w", round, err)
	}
	supplyPath := filepath.Join(dir, "supply.jsonl.zst")
	if err := writeJSONL(supplyPath, recs); err != nil {
		return nil, fmt.Errorf("archive %s: %w", round, err)
	}

	meta := RoundMeta{
		Round:     round,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Blocks:    len(blocks),
		Teams:     map[string]int{},
		Statuses:  len(recs),
		Owners:    owners,
		Files:     []string{filepath.Base(roadsPath), filepath.Base(supplyPath)},
	}
	for _, b := range blocks {
		meta.Teams[b.Team]++
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return nil, err
	}
	return []string{roadsPath, supplyPath, metaPath}, nil
}

// ReadMeta loads meta.json of every archived round, ordered by round name.
func ReadMeta(dataDir string) ([]RoundMeta, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "archives", "round_*", "meta.json"))
	if err != nil {
		return nil, err
	}
	out := make([]RoundMeta, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var m RoundMeta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

// ReadRound loads an archived round back from dataDir.
func ReadRound(dataDir, round string) (Round, error) {
	dir := Dir(dataDir, round)
	var out Round
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out.Meta); err != nil {
		return out, fmt.Errorf("%s: %w", dir, err)
	}
	if err := persistlog.ReadJSONL(filepath.Join(dir, "roads.jsonl.zst"), func(b roads.Block) error {
		out.Blocks = append(out.Blocks, b)
		return nil
	}); err != nil {
		return out, err
	}
	if err := persistlog.ReadJSONL(filepath.Join(dir, "supply.jsonl.zst"), func(r level.Record) error {
		out.Statuses = append(out.Statuses, r)
		return nil
	}); err != nil {
		return out, err
	}
	return out, nil
}

func writeJSONL[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(enc, 64*1024)
	je := json.NewEncoder(w)
	for _, r := range rows {
		if err := je.Encode(r); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}
