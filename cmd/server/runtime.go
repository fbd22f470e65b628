package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"frontline.gg/internal/persistence/archive"
	"frontline.gg/internal/persistence/indexdb"
	persistlog "frontline.gg/internal/persistence/log"
	"frontline.gg/internal/persistence/r2s3"
	"frontline.gg/internal/persistence/roaddb"
	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
	"frontline.gg/internal/supply/scan"
	"frontline.gg/internal/supply/tuning"
	"frontline.gg/internal/transport/api"
	"frontline.gg/internal/transport/observer"
	"frontline.gg/internal/transport/ws"
)

type runtimeConfig struct {
	DataDir      string
	Round        string
	DisableAudit bool
	WorldPath    string
	AllowRemote  bool
	Getenv       func(string) string
}

// runtime owns everything main wires together, so tests can build it
// without a listener.
type runtime struct {
	cfg     tuning.Config
	dataDir string
	logger  *log.Logger

	db        *roaddb.SQLite
	reg       *region.Registry
	eng       *engine.Engine
	audit     *persistlog.RoadAuditLogger
	supplyLog *persistlog.SupplyLogger
	mirror    *r2s3.Mirror
	index     *indexdb.D1Index
	obs       *observer.Server
	loop      *scan.Loop
	mux       *http.ServeMux

	unsubscribe func()
	closeOnce   sync.Once
}

func newRuntime(rc runtimeConfig, cfg tuning.Config, logger *log.Logger) (*runtime, error) {
	if rc.Getenv == nil {
		rc.Getenv = func(string) string { return "" }
	}
	if err := os.MkdirAll(rc.DataDir, 0o755); err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, dataDir: rc.DataDir, logger: logger}

	var err error
	if rt.reg, err = cfg.Registry(); err != nil {
		return nil, fmt.Errorf("region registry: %w", err)
	}
	if rt.mirror, err = buildMirror(rc.DataDir, rc.Getenv, logger); err != nil {
		return nil, fmt.Errorf("r2 mirror: %w", err)
	}
	if rt.index, err = buildIndex(rc.Getenv, logger); err != nil {
		rt.mirror.Close()
		return nil, fmt.Errorf("d1 index: %w", err)
	}
	if rt.db, err = roaddb.Open(filepath.Join(rc.DataDir, "roads.db")); err != nil {
		rt.mirror.Close()
		_ = rt.index.Close()
		return nil, fmt.Errorf("open road db: %w", err)
	}

	var sinks auditors
	if !rc.DisableAudit {
		rt.audit = persistlog.NewRoadAuditLogger(rc.DataDir)
		rt.audit.OnClosed(rt.mirror.Enqueue)
		sinks = append(sinks, rt.audit)
	}
	if rt.index != nil {
		sinks = append(sinks, rt.index)
	}
	var auditor roads.Auditor
	if len(sinks) > 0 {
		auditor = sinks
	}
	rt.eng = engine.New(engine.Options{
		Regions:  rt.reg,
		Teams:    cfg,
		Backend:  rt.db,
		Statuses: rt.db,
		Audit:    auditor,
		Border:   cfg.BorderParams(),
		Gaps:     cfg.GapParams(),
		Finder:   cfg.FinderParams(),
		Levels:   cfg.LevelTable(),
		Logger:   logger,
		Verbose:  cfg.Verbose,
	})

	round, err := rt.initialRound(context.Background(), rc.Round)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.eng.SetRound(round)

	rt.supplyLog = persistlog.NewSupplyLogger(rc.DataDir)
	rt.supplyLog.OnClosed(rt.mirror.Enqueue)
	rt.unsubscribe = rt.eng.Subscribe(func(u engine.Update) {
		if err := rt.supplyLog.WriteUpdate(u); err != nil {
			logger.Printf("supply log: %v", err)
		}
		rt.index.RecordSupply(u.Round, u.Team, u.Records)
	})

	var scanner *scan.Scanner
	if rc.WorldPath != "" {
		world, err := scan.LoadWorld(rc.WorldPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("load world %s: %w", rc.WorldPath, err)
		}
		logger.Printf("world export %s: %d blocks", rc.WorldPath, len(world))
		rt.loop = scan.NewLoop(16)
		scanner = scan.New(cfg.ScanParams(), world, rt.loop, rt.eng, logger)
	}

	apiSrv := api.New(rt.eng, rt.reg, scanner, logger)
	apiSrv.AllowRemoteAdmin = rc.AllowRemote
	apiSrv.OnNewRound = rt.startRound

	rt.obs = observer.NewServer(rt.eng, cfg.TeamNames, logger)
	rt.obs.AllowRemote = rc.AllowRemote
	feed := ws.NewServer(rt.eng, rt.reg, cfg.TeamNames, ws.Options{
		EventsPerSecond: cfg.Feed.EventsPerSecond,
		Burst:           cfg.Feed.Burst,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)
	apiSrv.Register(mux)
	mux.HandleFunc("/v1/observer/ws", rt.obs.WSHandler())
	mux.HandleFunc("/v1/feed/ws", feed.Handler())
	rt.mux = mux
	return rt, nil
}

// initialRound prefers the flag, then the round persisted at the last clear.
func (rt *runtime) initialRound(ctx context.Context, flagRound string) (string, error) {
	stored, err := rt.db.ActiveRound(ctx)
	if err != nil {
		return "", fmt.Errorf("read active round: %w", err)
	}
	if flagRound == "" || flagRound == stored {
		return stored, nil
	}
	if err := rt.db.SetActiveRound(ctx, flagRound); err != nil {
		return "", fmt.Errorf("store active round: %w", err)
	}
	return flagRound, nil
}

// startRound archives the outgoing round and records the new one.
func (rt *runtime) startRound(ctx context.Context, prev, next string) error {
	var files []string
	if prev != "" {
		if err := rt.eng.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", prev, err)
		}
		var err error
		files, err = archive.ArchiveRound(ctx, rt.dataDir, prev, rt.db, rt.reg.Owners(), time.Now())
		if err != nil {
			return err
		}
		for _, f := range files {
			rt.mirror.Enqueue(f)
		}
		rt.logger.Printf("archived round %s to %s", prev, archive.Dir(rt.dataDir, prev))
	}
	if err := rt.db.SetActiveRound(ctx, next); err != nil {
		return err
	}
	rt.index.RecordRound(prev, next, files)
	return nil
}

func (rt *runtime) Handler() http.Handler { return rt.mux }

// Start launches the debounced flush loop and the world loop.
func (rt *runtime) Start(ctx context.Context) {
	ticker := time.NewTicker(rt.cfg.Scheduler.FlushInterval)
	go func() {
		defer ticker.Stop()
		rt.eng.Run(ctx, ticker.C)
	}()
	if rt.loop != nil {
		go rt.loop.Run(ctx)
	}
}

// Close flushes pending teams and releases files in dependency order.
func (rt *runtime) Close() {
	rt.closeOnce.Do(func() {
		if rt.eng != nil {
			if err := rt.eng.Flush(context.Background()); err != nil {
				rt.logger.Printf("final flush: %v", err)
			}
		}
		if rt.obs != nil {
			rt.obs.Close()
		}
		if rt.unsubscribe != nil {
			rt.unsubscribe()
		}
		if rt.audit != nil {
			_ = rt.audit.Close()
		}
		if rt.supplyLog != nil {
			_ = rt.supplyLog.Close()
		}
		rt.mirror.Close()
		_ = rt.index.Close()
		if rt.db != nil {
			_ = rt.db.Close()
		}
	})
}

func (rt *runtime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	ctx := r.Context()
	round := rt.eng.Round()

	fmt.Fprintf(rw, "# HELP frontline_supply_round_info Active round.\n")
	fmt.Fprintf(rw, "# TYPE frontline_supply_round_info gauge\n")
	fmt.Fprintf(rw, "frontline_supply_round_info{round=%q} 1\n", round)

	fmt.Fprintf(rw, "# HELP frontline_supply_pending_teams Teams awaiting recalculation.\n")
	fmt.Fprintf(rw, "# TYPE frontline_supply_pending_teams gauge\n")
	fmt.Fprintf(rw, "frontline_supply_pending_teams %d\n", len(rt.eng.Pending()))

	fmt.Fprintf(rw, "# HELP frontline_observer_sessions Connected observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE frontline_observer_sessions gauge\n")
	fmt.Fprintf(rw, "frontline_observer_sessions %d\n", rt.obs.Sessions())

	fmt.Fprintf(rw, "# HELP frontline_supply_regions Regions per team and supply level.\n")
	fmt.Fprintf(rw, "# TYPE frontline_supply_regions gauge\n")
	for _, team := range rt.cfg.TeamNames() {
		counts := map[level.Level]int{}
		for _, rec := range rt.eng.Records(ctx, team) {
			counts[rec.Level]++
		}
		for _, l := range level.All() {
			fmt.Fprintf(rw, "frontline_supply_regions{team=%q,level=%q} %d\n", team, l.String(), counts[l])
		}
	}

	writeMirrorMetrics(rw, rt.mirror)
	writeIndexMetrics(rw, rt.index)
}
