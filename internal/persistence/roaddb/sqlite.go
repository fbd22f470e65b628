// Package roaddb persists road blocks and supply statuses in SQLite.
package roaddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

const schemaVersion = "1"

// SQLite implements roads.Backend and level.StatusStore. Writes are
// synchronous: a lost road write would silently corrupt connectivity.
type SQLite struct {
	db   *sql.DB
	once sync.Once
}

var (
	_ roads.Backend     = (*SQLite)(nil)
	_ level.StatusStore = (*SQLite)(nil)
)

func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS road_blocks (
			round TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			region TEXT NOT NULL,
			team TEXT NOT NULL,
			actor TEXT NOT NULL,
			placed_at TEXT NOT NULL,
			PRIMARY KEY (round, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_road_blocks_team_region ON road_blocks(round, team, region);`,
		`CREATE INDEX IF NOT EXISTS idx_road_blocks_team_xz ON road_blocks(round, team, x, z);`,
		`CREATE TABLE IF NOT EXISTS supply_status (
			region TEXT NOT NULL,
			round TEXT NOT NULL,
			team TEXT NOT NULL,
			level TEXT NOT NULL,
			connected INTEGER NOT NULL,
			hops INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (region, round, team)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_supply_status_round_team ON supply_status(round, team);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() { err = s.db.Close() })
	return err
}

// ActiveRound returns the round recorded by SetActiveRound, or "".
func (s *SQLite) ActiveRound(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='active_round'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *SQLite) SetActiveRound(ctx context.Context, round string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('active_round',?)`, round)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

const upsertBlock = `INSERT OR REPLACE INTO road_blocks(round,x,y,z,region,team,actor,placed_at) VALUES(?,?,?,?,?,?,?,?)`

func (s *SQLite) Upsert(ctx context.Context, round string, b roads.Block) error {
	_, err := s.db.ExecContext(ctx, upsertBlock,
		round, b.Pos.X, b.Pos.Y, b.Pos.Z, string(b.Region), b.Team, b.Actor.String(), formatTime(b.PlacedAt))
	return err
}

func (s *SQLite) UpsertMany(ctx context.Context, round string, bs []roads.Block) error {
	if len(bs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, upsertBlock)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, b := range bs {
		if _, err := stmt.ExecContext(ctx,
			round, b.Pos.X, b.Pos.Y, b.Pos.Z, string(b.Region), b.Team, b.Actor.String(), formatTime(b.PlacedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const selectBlock = `SELECT x,y,z,region,team,actor,placed_at FROM road_blocks`

func scanBlock(sc interface{ Scan(...any) error }) (roads.Block, error) {
	var (
		b               roads.Block
		id, actor, when string
	)
	if err := sc.Scan(&b.Pos.X, &b.Pos.Y, &b.Pos.Z, &id, &b.Team, &actor, &when); err != nil {
		return b, err
	}
	b.Region = region.ID(id)
	a, err := roads.ParseActor(actor)
	if err != nil {
		return b, fmt.Errorf("road %s: %w", b.Pos, err)
	}
	b.Actor = a
	b.PlacedAt = parseTime(when)
	return b, nil
}

func (s *SQLite) Delete(ctx context.Context, round string, p geom.Pos) (roads.Block, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return roads.Block{}, false, err
	}
	defer func() { _ = tx.Rollback() }()
	b, err := scanBlock(tx.QueryRowContext(ctx, selectBlock+` WHERE round=? AND x=? AND y=? AND z=?`, round, p.X, p.Y, p.Z))
	if err == sql.ErrNoRows {
		return roads.Block{}, false, nil
	}
	if err != nil {
		return roads.Block{}, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM road_blocks WHERE round=? AND x=? AND y=? AND z=?`, round, p.X, p.Y, p.Z); err != nil {
		return roads.Block{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return roads.Block{}, false, err
	}
	return b, true, nil
}

func (s *SQLite) Get(ctx context.Context, round string, p geom.Pos) (roads.Block, bool, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, selectBlock+` WHERE round=? AND x=? AND y=? AND z=?`, round, p.X, p.Y, p.Z))
	if err == sql.ErrNoRows {
		return roads.Block{}, false, nil
	}
	if err != nil {
		return roads.Block{}, false, err
	}
	return b, true, nil
}

func (s *SQLite) query(ctx context.Context, where string, args ...any) ([]roads.Block, error) {
	rows, err := s.db.QueryContext(ctx, selectBlock+" WHERE "+where+" ORDER BY x, z, y", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roads.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RoundBlocks returns every block of round, all teams.
func (s *SQLite) RoundBlocks(ctx context.Context, round string) ([]roads.Block, error) {
	return s.query(ctx, "round=?", round)
}

func (s *SQLite) TeamBlocks(ctx context.Context, round, team string) ([]roads.Block, error) {
	return s.query(ctx, "round=? AND team=?", round, team)
}

func (s *SQLite) RegionBlocks(ctx context.Context, round string, id region.ID, team string) ([]roads.Block, error) {
	return s.query(ctx, "round=? AND team=? AND region=?", round, team, string(id))
}

func (s *SQLite) AreaBlocks(ctx context.Context, round string, a geom.Area, team string) ([]roads.Block, error) {
	return s.query(ctx, "round=? AND team=? AND x BETWEEN ? AND ? AND z BETWEEN ? AND ?",
		round, team, a.MinX, a.MaxX, a.MinZ, a.MaxZ)
}

func (s *SQLite) CountRegion(ctx context.Context, round string, id region.ID, team string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM road_blocks WHERE round=? AND team=? AND region=?`,
		round, team, string(id)).Scan(&n)
	return n, err
}

func (s *SQLite) ClearRound(ctx context.Context, round string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM road_blocks WHERE round=?`, round)
	return err
}

func (s *SQLite) ClearRegion(ctx context.Context, round string, id region.ID) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT team FROM road_blocks WHERE round=? AND region=? ORDER BY team`, round, string(id))
	if err != nil {
		return nil, err
	}
	var teams []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, err
		}
		teams = append(teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM road_blocks WHERE round=? AND region=?`, round, string(id)); err != nil {
		return nil, err
	}
	return teams, tx.Commit()
}

func (s *SQLite) PutStatuses(ctx context.Context, round string, recs []level.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO supply_status(region,round,team,level,connected,hops,updated_at) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		connected := 0
		if r.Connected {
			connected = 1
		}
		if _, err := stmt.ExecContext(ctx, string(r.Region), round, r.Team, r.Level.String(), connected, r.Hops, formatTime(r.UpdatedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Statuses returns the round's records for team, or for every team when team is empty.
func (s *SQLite) Statuses(ctx context.Context, round, team string) ([]level.Record, error) {
	q := `SELECT region,team,level,connected,hops,updated_at FROM supply_status WHERE round=?`
	args := []any{round}
	if team != "" {
		q += ` AND team=?`
		args = append(args, team)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []level.Record
	for rows.Next() {
		var (
			r             level.Record
			id, lvl, when string
			connected     int
		)
		if err := rows.Scan(&id, &r.Team, &lvl, &connected, &r.Hops, &when); err != nil {
			return nil, err
		}
		l, err := level.Parse(lvl)
		if err != nil {
			return nil, err
		}
		r.Region, r.Level, r.Connected, r.UpdatedAt = region.ID(id), l, connected != 0, parseTime(when)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	level.SortRecords(out)
	return out, nil
}

func (s *SQLite) ClearStatuses(ctx context.Context, round string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM supply_status WHERE round=?`, round)
	return err
}

type RoundStats struct {
	Round  string
	Blocks int
	Teams  map[string]int
}

// Stats summarises block counts per round and team.
func (s *SQLite) Stats(ctx context.Context) ([]RoundStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT round, team, COUNT(*) FROM road_blocks GROUP BY round, team`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byRound := map[string]*RoundStats{}
	for rows.Next() {
		var (
			round, team string
			n           int
		)
		if err := rows.Scan(&round, &team, &n); err != nil {
			return nil, err
		}
		rs := byRound[round]
		if rs == nil {
			rs = &RoundStats{Round: round, Teams: map[string]int{}}
			byRound[round] = rs
		}
		rs.Blocks += n
		rs.Teams[team] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]RoundStats, 0, len(byRound))
	for _, rs := range byRound {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}
