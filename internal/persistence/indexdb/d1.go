// Package indexdb forwards road, supply and round events to a remote D1
// ingest endpoint in batches, so dashboards can query them without touching
// the game host.
package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"frontline.gg/internal/supply/level"
	"frontline.gg/internal/supply/roads"
)

type D1Config struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	QueueCapacity int
	// MaxRetained bounds events kept across failed flushes; the oldest go first.
	MaxRetained int
	Logger      *log.Logger
}

// D1ConfigFromEnv reads FRONTLINE_D1_*. ok is false when no endpoint is set.
func D1ConfigFromEnv(getenv func(string) string) (cfg D1Config, ok bool, err error) {
	cfg.Endpoint = strings.TrimSpace(getenv("FRONTLINE_D1_ENDPOINT"))
	if cfg.Endpoint == "" {
		return cfg, false, nil
	}
	cfg.Token = strings.TrimSpace(getenv("FRONTLINE_D1_TOKEN"))
	cfg.Source = strings.TrimSpace(getenv("FRONTLINE_D1_SOURCE"))
	if raw := strings.TrimSpace(getenv("FRONTLINE_D1_BATCH")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return cfg, false, fmt.Errorf("FRONTLINE_D1_BATCH: bad value %q", raw)
		}
		cfg.BatchSize = n
	}
	return cfg, true, nil
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	enqueued     atomic.Uint64
	queueDropped atomic.Uint64
	flushOK      atomic.Uint64
	flushFail    atomic.Uint64
	retainDrop   atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Payload any    `json:"payload"`
}

type d1SupplyPayload struct {
	Round   string         `json:"round"`
	Team    string         `json:"team"`
	Records []level.Record `json:"records"`
}

type d1RoundPayload struct {
	Previous   string   `json:"previous,omitempty"`
	Round      string   `json:"round"`
	Archived   []string `json:"archived,omitempty"`
	RecordedAt string   `json:"recorded_at"`
}

type D1Stats struct {
	QueueDepth           int    `json:"queue_depth"`
	QueueCapacity        int    `json:"queue_capacity"`
	EnqueuedTotal        uint64 `json:"enqueued_total"`
	QueueDroppedTotal    uint64 `json:"queue_dropped_total"`
	FlushOKTotal         uint64 `json:"flush_ok_total"`
	FlushFailTotal       uint64 `json:"flush_fail_total"`
	RetainedDroppedTotal uint64 `json:"retained_dropped_total"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.Source == "" {
		cfg.Source = "frontline"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 32768
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 16 * cfg.BatchSize
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan d1Event, cfg.QueueCapacity),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

// Close drains the queue with one last flush attempt.
func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

// WriteRoadAudit makes the index a roads.Auditor.
func (d *D1Index) WriteRoadAudit(e roads.AuditEntry) error {
	d.enqueue("road", e)
	return nil
}

func (d *D1Index) RecordSupply(round, team string, recs []level.Record) {
	d.enqueue("supply", d1SupplyPayload{Round: round, Team: team, Records: recs})
}

func (d *D1Index) RecordRound(prev, next string, archived []string) {
	d.enqueue("round", d1RoundPayload{
		Previous:   prev,
		Round:      next,
		Archived:   archived,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:           len(d.ch),
		QueueCapacity:        cap(d.ch),
		EnqueuedTotal:        d.enqueued.Load(),
		QueueDroppedTotal:    d.queueDropped.Load(),
		FlushOKTotal:         d.flushOK.Load(),
		FlushFailTotal:       d.flushFail.Load(),
		RetainedDroppedTotal: d.retainDrop.Load(),
	}
}

func (d *D1Index) enqueue(kind string, payload any) {
	if d == nil || d.closed.Load() {
		return
	}
	ev := d1Event{Kind: kind, Source: d.cfg.Source, Payload: payload}
	select {
	case d.ch <- ev:
		d.enqueued.Add(1)
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s", kind)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("x-frontline-index-token", d.cfg.Token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
