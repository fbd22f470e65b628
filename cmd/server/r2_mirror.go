package main

import (
	"fmt"
	"io"
	"log"

	"frontline.gg/internal/persistence/r2s3"
)

// buildMirror returns nil when FRONTLINE_R2_MIRROR is off.
func buildMirror(dataDir string, getenv func(string) string, logger *log.Logger) (*r2s3.Mirror, error) {
	cfg, ok, err := r2s3.ConfigFromEnv(getenv)
	if err != nil || !ok {
		return nil, err
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.Printf("r2 mirror enabled bucket=%s prefix=%q workers=%d", cfg.Bucket, cfg.Prefix, cfg.Workers)
	return r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir: dataDir,
		Prefix:  cfg.Prefix,
		Workers: cfg.Workers,
	}, logger), nil
}

func writeMirrorMetrics(w io.Writer, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	fmt.Fprintf(w, "# HELP frontline_r2_mirror_queue_depth Current R2 mirror queue depth.\n")
	fmt.Fprintf(w, "# TYPE frontline_r2_mirror_queue_depth gauge\n")
	fmt.Fprintf(w, "frontline_r2_mirror_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(w, "# HELP frontline_r2_mirror_total R2 mirror counters.\n")
	fmt.Fprintf(w, "# TYPE frontline_r2_mirror_total counter\n")
	fmt.Fprintf(w, "frontline_r2_mirror_total{event=%q} %d\n", "enqueued", s.EnqueuedTotal)
	fmt.Fprintf(w, "frontline_r2_mirror_total{event=%q} %d\n", "saturated", s.QueueSaturatedTotal)
	fmt.Fprintf(w, "frontline_r2_mirror_total{event=%q} %d\n", "dropped", s.DroppedTotal)
	fmt.Fprintf(w, "frontline_r2_mirror_total{event=%q} %d\n", "uploaded", s.UploadSuccessTotal)
	fmt.Fprintf(w, "frontline_r2_mirror_total{event=%q} %d\n", "failed", s.UploadFailTotal)
}
