// Package api exposes the supply engine over HTTP/JSON for gameplay
// services and operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/scan"
)

// Owners records region captures. region.Registry satisfies it.
type Owners interface {
	SetOwner(id region.ID, team string) (string, error)
}

type Server struct {
	eng     *engine.Engine
	owners  Owners
	scanner *scan.Scanner
	log     *log.Logger

	// AllowRemoteAdmin lets non-loopback clients use /v1/admin/*.
	AllowRemoteAdmin bool
	// MaxScanBlocks bounds the X*Z*Y volume of one /v1/admin/scan request.
	MaxScanBlocks int64
	// OnNewRound runs before /v1/admin/clear switches rounds; prev may be
	// empty. An error aborts the clear.
	OnNewRound func(ctx context.Context, prev, next string) error
}

// DefaultMaxScanBlocks covers a full 4x4 grid of 128-block regions over 256 Y levels.
const DefaultMaxScanBlocks int64 = 512 * 512 * 256

// New returns the API server. scanner may be nil, which disables /v1/admin/scan.
func New(eng *engine.Engine, owners Owners, scanner *scan.Scanner, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{eng: eng, owners: owners, scanner: scanner, log: logger, MaxScanBlocks: DefaultMaxScanBlocks}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/roads/place", s.post(s.handlePlace))
	mux.HandleFunc("/v1/roads/remove", s.post(s.handleRemove))
	mux.HandleFunc("/v1/regions/owner", s.post(s.handleOwner))
	mux.HandleFunc("/v1/supply", s.get(s.handleSupply))
	mux.HandleFunc("/v1/supply/connected", s.get(s.handleConnected))
	mux.HandleFunc("/v1/supply/hops", s.get(s.handleHops))
	mux.HandleFunc("/v1/supply/border", s.get(s.handleBorder))
	mux.HandleFunc("/v1/supply/gaps", s.get(s.handleGaps))
	mux.HandleFunc("/v1/levels", s.get(s.handleLevels))
	mux.HandleFunc("/v1/status", s.get(s.handleStatus))
	mux.HandleFunc("/v1/admin/clear", s.admin(s.handleClear))
	mux.HandleFunc("/v1/admin/recalculate", s.admin(s.handleRecalculate))
	mux.HandleFunc("/v1/admin/scan", s.admin(s.handleScan))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &apiError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &apiError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

type handlerFunc func(r *http.Request) (any, error)

func (s *Server) serve(rw http.ResponseWriter, r *http.Request, h handlerFunc) {
	out, err := h(r)
	if err != nil {
		status := http.StatusInternalServerError
		var ae *apiError
		if errors.As(err, &ae) {
			status = ae.status
		} else {
			s.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		writeJSON(rw, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) get(h handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.serve(rw, r, h)
	}
}

func (s *Server) post(h handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.serve(rw, r, h)
	}
}

func (s *Server) admin(h handlerFunc) http.HandlerFunc {
	post := s.post(h)
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemoteAdmin && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		post(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("bad json: %v", err)
	}
	return nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		host = strings.TrimSpace(remoteAddr)
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// team validates the team query parameter.
func (s *Server) team(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", badRequest("missing team")
	}
	if _, ok := s.eng.Home(name); !ok {
		return "", notFound("unknown team %q", name)
	}
	return name, nil
}

func (s *Server) region(raw string) (region.ID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", badRequest("missing region")
	}
	id, ok := s.eng.Grid().Normalize(region.ID(strings.TrimSpace(raw)))
	if !ok {
		return "", notFound("unknown region %q", raw)
	}
	return id, nil
}

type placeReq struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Team  string `json:"team"`
	Actor string `json:"actor"`
}

type placeResp struct {
	Region region.ID `json:"region,omitempty"`
	Stored bool      `json:"stored"`
}

func (s *Server) handlePlace(r *http.Request) (any, error) {
	var req placeReq
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	team, err := s.team(req.Team)
	if err != nil {
		return nil, err
	}
	actor := roads.System
	if req.Actor != "" {
		if actor, err = roads.ParseActor(req.Actor); err != nil {
			return nil, badRequest("%v", err)
		}
	}
	pos := geom.Pos{X: req.X, Y: req.Y, Z: req.Z}
	if err := s.eng.Place(r.Context(), pos, actor, team); err != nil {
		return nil, err
	}
	id, inGrid := s.eng.Grid().At(pos.X, pos.Z)
	return placeResp{Region: id, Stored: inGrid && s.eng.Round() != ""}, nil
}

type removeReq struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type removeResp struct {
	Removed bool   `json:"removed"`
	Team    string `json:"team,omitempty"`
}

func (s *Server) handleRemove(r *http.Request) (any, error) {
	var req removeReq
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	team, removed, err := s.eng.Remove(r.Context(), geom.Pos{X: req.X, Y: req.Y, Z: req.Z})
	if err != nil {
		return nil, err
	}
	return removeResp{Removed: removed, Team: team}, nil
}

type ownerReq struct {
	Region string `json:"region"`
	Team   string `json:"team"`
}

type ownerResp struct {
	Region   region.ID `json:"region"`
	Previous string    `json:"previous,omitempty"`
	Team     string    `json:"team,omitempty"`
}

func (s *Server) handleOwner(r *http.Request) (any, error) {
	var req ownerReq
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	id, err := s.region(req.Region)
	if err != nil {
		return nil, err
	}
	team := strings.TrimSpace(req.Team)
	if team != "" {
		if team, err = s.team(team); err != nil {
			return nil, err
		}
	}
	prev, err := s.owners.SetOwner(id, team)
	if err != nil {
		return nil, err
	}
	if prev != team {
		s.eng.OwnershipChanged(id, prev, team)
	}
	return ownerResp{Region: id, Previous: prev, Team: team}, nil
}

// RecordView is a record plus the gameplay effects of its level.
type RecordView struct {
	level.Record
	RespawnDelaySeconds   int     `json:"respawn_delay_seconds"`
	HealthRegenMultiplier float64 `json:"health_regen_multiplier"`
}

func (s *Server) view(rec level.Record) RecordView {
	return RecordView{
		Record:                rec,
		RespawnDelaySeconds:   s.eng.RespawnDelaySeconds(rec.Level),
		HealthRegenMultiplier: s.eng.HealthRegenMultiplier(rec.Level),
	}
}

func (s *Server) handleSupply(r *http.Request) (any, error) {
	q := r.URL.Query()
	team, err := s.team(q.Get("team"))
	if err != nil {
		return nil, err
	}
	if q.Get("region") == "" {
		recs := s.eng.Records(r.Context(), team)
		out := make([]RecordView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, s.view(rec))
		}
		return out, nil
	}
	id, err := s.region(q.Get("region"))
	if err != nil {
		return nil, err
	}
	return s.view(s.eng.Record(r.Context(), id, team)), nil
}

func (s *Server) handleConnected(r *http.Request) (any, error) {
	team, err := s.team(r.URL.Query().Get("team"))
	if err != nil {
		return nil, err
	}
	regions := s.eng.ConnectedRegions(r.Context(), team)
	if regions == nil {
		regions = []region.ID{}
	}
	return map[string]any{"team": team, "regions": regions}, nil
}

func (s *Server) handleHops(r *http.Request) (any, error) {
	q := r.URL.Query()
	team, err := s.team(q.Get("team"))
	if err != nil {
		return nil, err
	}
	id, err := s.region(q.Get("region"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"region": id, "team": team, "hops": s.eng.HopsToHome(r.Context(), id, team)}, nil
}

func (s *Server) handleBorder(r *http.Request) (any, error) {
	q := r.URL.Query()
	team, err := s.team(q.Get("team"))
	if err != nil {
		return nil, err
	}
	a, err := s.region(q.Get("a"))
	if err != nil {
		return nil, err
	}
	b, err := s.region(q.Get("b"))
	if err != nil {
		return nil, err
	}
	if !s.eng.Grid().IsAdjacent(a, b) {
		return nil, badRequest("%s and %s are not adjacent", a, b)
	}
	return map[string]any{"a": a, "b": b, "team": team, "connected": s.eng.HasBorderConnection(r.Context(), a, b, team)}, nil
}

func (s *Server) handleGaps(r *http.Request) (any, error) {
	q := r.URL.Query()
	team, err := s.team(q.Get("team"))
	if err != nil {
		return nil, err
	}
	id, err := s.region(q.Get("region"))
	if err != nil {
		return nil, err
	}
	ctx := r.Context()
	return map[string]any{
		"region":   id,
		"team":     team,
		"critical": s.eng.HasCriticalGap(ctx, id, team),
		"report":   s.eng.GapReport(ctx, id, team),
	}, nil
}

type levelView struct {
	Level                 level.Level `json:"level"`
	RespawnDelaySeconds   int         `json:"respawn_delay_seconds"`
	HealthRegenMultiplier float64     `json:"health_regen_multiplier"`
}

func (s *Server) handleLevels(*http.Request) (any, error) {
	var out []levelView
	for _, l := range level.All() {
		out = append(out, levelView{Level: l, RespawnDelaySeconds: s.eng.RespawnDelaySeconds(l), HealthRegenMultiplier: s.eng.HealthRegenMultiplier(l)})
	}
	return out, nil
}

func (s *Server) handleStatus(*http.Request) (any, error) {
	pending := s.eng.Pending()
	if pending == nil {
		pending = []string{}
	}
	return map[string]any{"round": s.eng.Round(), "pending": pending}, nil
}

func (s *Server) handleClear(r *http.Request) (any, error) {
	q := r.URL.Query()
	ctx := r.Context()
	if raw := q.Get("region"); raw != "" {
		id, err := s.region(raw)
		if err != nil {
			return nil, err
		}
		if err := s.eng.ClearRegion(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"region": id, "round": s.eng.Round()}, nil
	}
	round := strings.TrimSpace(q.Get("round"))
	if round == "" {
		return nil, badRequest("missing round or region")
	}
	prev := s.eng.Round()
	if s.OnNewRound != nil && prev != round {
		if err := s.OnNewRound(ctx, prev, round); err != nil {
			return nil, fmt.Errorf("close round %s: %w", prev, err)
		}
	}
	if err := s.eng.ClearAll(ctx, round); err != nil {
		return nil, err
	}
	return map[string]any{"round": round, "previous": prev}, nil
}

func (s *Server) handleRecalculate(r *http.Request) (any, error) {
	ctx := r.Context()
	if raw := r.URL.Query().Get("team"); raw != "" {
		team, err := s.team(raw)
		if err != nil {
			return nil, err
		}
		if err := s.eng.Recalculate(ctx, team); err != nil {
			return nil, err
		}
		return map[string]any{"teams": []string{team}}, nil
	}
	teams := s.eng.Pending()
	if err := s.eng.Flush(ctx); err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []string{}
	}
	return map[string]any{"teams": teams}, nil
}

type scanReq struct {
	Area geom.Area `json:"area"`
	MinY int       `json:"min_y"`
	MaxY int       `json:"max_y"`
	Team string    `json:"team"`
}

func (s *Server) handleScan(r *http.Request) (any, error) {
	if s.scanner == nil {
		return nil, notFound("scanning is not configured")
	}
	var req scanReq
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	team, err := s.team(req.Team)
	if err != nil {
		return nil, err
	}
	if req.Area.Empty() || req.MinY > req.MaxY {
		return nil, badRequest("empty scan volume")
	}
	vol := int64(req.Area.MaxX-req.Area.MinX+1) * int64(req.Area.MaxZ-req.Area.MinZ+1) * int64(req.MaxY-req.MinY+1)
	if s.MaxScanBlocks > 0 && vol > s.MaxScanBlocks {
		return nil, badRequest("scan volume %d exceeds limit %d", vol, s.MaxScanBlocks)
	}
	if s.eng.Round() == "" {
		return nil, badRequest("no active round")
	}
	// Slices stop when the client goes away; the final recalculation still runs.
	res, err := s.scanner.Run(r.Context(), scan.Job{Area: req.Area, MinY: req.MinY, MaxY: req.MaxY, Team: team})
	if err != nil {
		return nil, err
	}
	return res, nil
}
