package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"frontline.gg/internal/supply/tuning"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configPath   = flag.String("config", "./configs/supply.yaml", "path to supply.yaml")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		round        = flag.String("round", "", "round to activate (default: the round active at last shutdown)")
		disableAudit = flag.Bool("disable_audit", false, "disable the road audit log")
		worldPath    = flag.String("world", "", "block export (JSONL, .zst allowed) that enables /v1/admin/scan")
		allowRemote  = flag.Bool("allow_remote_admin", false, "serve /v1/admin/* and the observer to non-loopback clients")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	rt, err := newRuntime(runtimeConfig{
		DataDir:      *dataDir,
		Round:        *round,
		DisableAudit: *disableAudit,
		WorldPath:    *worldPath,
		AllowRemote:  *allowRemote,
		Getenv:       os.Getenv,
	}, cfg, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()
	rt.Start(ctx)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (round=%q)", *addr, rt.eng.Round())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
