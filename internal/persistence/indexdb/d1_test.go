package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/roads"
)

type ingest struct {
	mu     sync.Mutex
	reqs   int
	fail   int
	kinds  []string
	tokens []string
}

func (g *ingest) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.reqs++
		if g.reqs <= g.fail {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		var body struct {
			Events []struct {
				Kind   string          `json:"kind"`
				Source string          `json:"source"`
				Raw    json.RawMessage `json:"payload"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, ev := range body.Events {
			g.kinds = append(g.kinds, ev.Source+"/"+ev.Kind)
		}
		g.tokens = append(g.tokens, r.Header.Get("x-frontline-index-token"))
		w.WriteHeader(http.StatusOK)
	}
}

func (g *ingest) delivered() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.kinds...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestD1IndexDeliversEveryKind(t *testing.T) {
	g := &ingest{}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	idx, err := OpenD1(D1Config{Endpoint: srv.URL, Token: "s3cret", Source: "eu-1", BatchSize: 8, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	_ = idx.WriteRoadAudit(roads.AuditEntry{Round: "r1", Action: roads.ActionPlace, Pos: geom.Pos{X: 1, Y: 64, Z: 1}, Team: "red"})
	idx.RecordSupply("r1", "red", []level.Record{{Region: "A1", Team: "red", Level: level.Supplied}})
	idx.RecordRound("r1", "r2", []string{"/data/archives/round_r1/meta.json"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := g.delivered()
	want := []string{"eu-1/road", "eu-1/supply", "eu-1/round"}
	if len(got) != len(want) {
		t.Fatalf("delivered %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v want %v", got, want)
		}
	}
	if g.tokens[0] != "s3cret" {
		t.Fatalf("token = %q", g.tokens[0])
	}
	if st := idx.Stats(); st.EnqueuedTotal != 3 || st.FlushOKTotal == 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestD1IndexRetainsBatchOnFlushFailure(t *testing.T) {
	g := &ingest{fail: 3}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	idx, err := OpenD1(D1Config{Endpoint: srv.URL, BatchSize: 1, FlushInterval: 20 * time.Millisecond, HTTPTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	idx.RecordRound("", "r1", nil)
	waitFor(t, func() bool { return len(g.delivered()) >= 1 })

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded")
	}
	if st.QueueDroppedTotal != 0 || st.RetainedDroppedTotal != 0 {
		t.Fatalf("unexpected drops: %+v", st)
	}
}

func TestD1IndexQueueFullDrops(t *testing.T) {
	d := &D1Index{ch: make(chan d1Event, 1)}
	d.RecordRound("", "r1", nil)
	d.RecordRound("r1", "r2", nil)
	_ = d.WriteRoadAudit(roads.AuditEntry{})

	st := d.Stats()
	if st.EnqueuedTotal != 1 || st.QueueDroppedTotal != 2 || st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestD1NilIsNoop(t *testing.T) {
	var d *D1Index
	_ = d.WriteRoadAudit(roads.AuditEntry{})
	d.RecordSupply("r1", "red", nil)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := d.Stats(); st != (D1Stats{}) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestD1ConfigFromEnv(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	if _, ok, err := D1ConfigFromEnv(getenv); ok || err != nil {
		t.Fatalf("expected disabled, ok=%v err=%v", ok, err)
	}
	env["FRONTLINE_D1_ENDPOINT"] = "https://ingest.example.com/v1/events"
	env["FRONTLINE_D1_SOURCE"] = "eu-1"
	env["FRONTLINE_D1_BATCH"] = "64"
	cfg, ok, err := D1ConfigFromEnv(getenv)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if cfg.Source != "eu-1" || cfg.BatchSize != 64 {
		t.Fatalf("cfg = %+v", cfg)
	}
	env["FRONTLINE_D1_BATCH"] = "zero"
	if _, _, err := D1ConfigFromEnv(getenv); err == nil {
		t.Fatalf("expected bad batch error")
	}
}
