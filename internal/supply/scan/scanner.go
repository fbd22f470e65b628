// Package scan registers road blocks that already exist in the world: it
// classifies X-slices of an area on the primary context, stores the hits in
// bulk off it, and recalculates the team once at the end.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
	"golang.org/x/time/rate"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/roads"
)

// World reads physical blocks. It is only safe to call from the primary context.
type World interface {
	Material(x, y, z int) string
}

// Primary runs fn on the primary context and waits for it.
type Primary interface {
	Do(ctx context.Context, fn func()) error
}

type PrimaryFunc func(ctx context.Context, fn func()) error

func (f PrimaryFunc) Do(ctx context.Context, fn func()) error { return f(ctx, fn) }

// Inline runs fn on the calling goroutine.
var Inline Primary = PrimaryFunc(func(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
})

// Target is the road store side of a scan.
type Target interface {
	ExistsAt(ctx context.Context, pos geom.Pos) bool
	PlaceBulk(ctx context.Context, bs []roads.Block) (int, error)
	Recalculate(ctx context.Context, team string) error
}

type Params struct {
	SliceWidth int
	// SlicesPerSecond paces slices; zero means unpaced.
	SlicesPerSecond float64
	Burst           int
	Materials       []string
}

type Job struct {
	ID   string
	Area geom.Area
	MinY int
	MaxY int
	Team string
}

type Result struct {
	JobID    string        `json:"job_id"`
	Slices   int           `json:"slices"`
	Matched  int           `json:"matched"`
	Inserted int           `json:"inserted"`
	Elapsed  time.Duration `json:"elapsed"`
}

type Scanner struct {
	p         Params
	world     World
	primary   Primary
	target    Target
	materials mapset.Set[string]
	log       *log.Logger
}

func New(p Params, world World, primary Primary, target Target, logger *log.Logger) *Scanner {
	if p.SliceWidth <= 0 {
		p.SliceWidth = 16
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
	if primary == nil {
		primary = Inline
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	mats := mapset.New[string]()
	for _, m := range p.Materials {
		mats.Put(strings.ToUpper(strings.TrimSpace(m)))
	}
	return &Scanner{p: p, world: world, primary: primary, target: target, materials: mats, log: logger}
}

func (s *Scanner) limiter() *rate.Limiter {
	if s.p.SlicesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, s.p.Burst)
	}
	return rate.NewLimiter(rate.Limit(s.p.SlicesPerSecond), s.p.Burst)
}

// Run scans job.Area between MinY and MaxY. Whatever was inserted before a
// failure or cancellation is still recalculated.
func (s *Scanner) Run(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	res := Result{JobID: job.ID}
	if job.Team == "" {
		return res, errors.New("scan: team is required")
	}
	if job.Area.Empty() || job.MinY > job.MaxY {
		return res, fmt.Errorf("scan %s: empty volume", job.ID)
	}
	if s.materials.Size() == 0 {
		return res, fmt.Errorf("scan %s: no road materials configured", job.ID)
	}

	start := time.Now()
	lim := s.limiter()
	s.log.Printf("scan %s: team=%s area=%+v y=%d..%d", job.ID, job.Team, job.Area, job.MinY, job.MaxY)

	var runErr error
	for x0 := job.Area.MinX; x0 <= job.Area.MaxX; x0 += s.p.SliceWidth {
		if err := lim.Wait(ctx); err != nil {
			runErr = err
			break
		}
		slice := job.Area
		slice.MinX = x0
		slice.MaxX = min(x0+s.p.SliceWidth-1, job.Area.MaxX)

		var hits []geom.Pos
		if err := s.primary.Do(ctx, func() { hits = s.classify(slice, job.MinY, job.MaxY) }); err != nil {
			runErr = err
			break
		}
		res.Slices++
		res.Matched += len(hits)

		bs := make([]roads.Block, 0, len(hits))
		for _, p := range hits {
			if s.target.ExistsAt(ctx, p) {
				continue
			}
			bs = append(bs, roads.Block{Pos: p, Team: job.Team, Actor: roads.System})
		}
		if len(bs) == 0 {
			continue
		}
		n, err := s.target.PlaceBulk(ctx, bs)
		res.Inserted += n
		if err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil || res.Inserted > 0 {
		if err := s.target.Recalculate(context.WithoutCancel(ctx), job.Team); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	res.Elapsed = time.Since(start)
	if runErr != nil {
		s.log.Printf("scan %s: stopped after %d slices, %d inserted: %v", job.ID, res.Slices, res.Inserted, runErr)
		return res, fmt.Errorf("scan %s: %w", job.ID, runErr)
	}
	s.log.Printf("scan %s: %d slices, %d matched, %d inserted in %s", job.ID, res.Slices, res.Matched, res.Inserted, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (s *Scanner) classify(a geom.Area, minY, maxY int) []geom.Pos {
	var out []geom.Pos
	for x := a.MinX; x <= a.MaxX; x++ {
		for z := a.MinZ; z <= a.MaxZ; z++ {
			for y := minY; y <= maxY; y++ {
				if s.materials.Has(strings.ToUpper(s.world.Material(x, y, z))) {
					out = append(out, geom.Pos{X: x, Y: y, Z: z})
				}
			}
		}
	}
	return out
}
