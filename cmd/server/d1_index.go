package main

import (
	"fmt"
	"io"
	"log"

	"frontline.gg/internal/persistence/indexdb"
	"frontline.gg/internal/supply/roads"
)

// buildIndex returns nil when FRONTLINE_D1_ENDPOINT is unset.
func buildIndex(getenv func(string) string, logger *log.Logger) (*indexdb.D1Index, error) {
	cfg, ok, err := indexdb.D1ConfigFromEnv(getenv)
	if err != nil || !ok {
		return nil, err
	}
	cfg.Logger = logger
	idx, err := indexdb.OpenD1(cfg)
	if err != nil {
		return nil, err
	}
	logger.Printf("d1 index enabled endpoint=%s source=%q", cfg.Endpoint, cfg.Source)
	return idx, nil
}

// auditors fans road audit entries out to every non-nil sink.
type auditors []roads.Auditor

func (a auditors) WriteRoadAudit(e roads.AuditEntry) error {
	var first error
	for _, s := range a {
		if err := s.WriteRoadAudit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func writeIndexMetrics(w io.Writer, idx *indexdb.D1Index) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP frontline_d1_index_queue_depth Current D1 index queue depth.\n")
	fmt.Fprintf(w, "# TYPE frontline_d1_index_queue_depth gauge\n")
	fmt.Fprintf(w, "frontline_d1_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(w, "# HELP frontline_d1_index_total D1 index counters.\n")
	fmt.Fprintf(w, "# TYPE frontline_d1_index_total counter\n")
	fmt.Fprintf(w, "frontline_d1_index_total{event=%q} %d\n", "enqueued", s.EnqueuedTotal)
	fmt.Fprintf(w, "frontline_d1_index_total{event=%q} %d\n", "dropped", s.QueueDroppedTotal)
	fmt.Fprintf(w, "frontline_d1_index_total{event=%q} %d\n", "flush_ok", s.FlushOKTotal)
	fmt.Fprintf(w, "frontline_d1_index_total{event=%q} %d\n", "flush_fail", s.FlushFailTotal)
	fmt.Fprintf(w, "frontline_d1_index_total{event=%q} %d\n", "retained_dropped", s.RetainedDroppedTotal)
}
