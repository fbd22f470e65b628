package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/roads"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	// onClosed receives the path of each finished file. It runs under the
	// writer lock.
	onClosed func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnClosed registers fn for every file finished by rotation or Close.
func (w *JSONLZstdWriter) OnClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Push a complete block to disk; the frame is finished on rotation.
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	var finished string
	if w.f != nil {
		finished = w.pathForHour(w.curHour)
	}
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if finished != "" && err1 == nil && w.onClosed != nil {
		w.onClosed(finished)
	}
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the prefix's log files under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	out, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// RoadAuditLogger writes one compressed JSONL entry per road mutation.
type RoadAuditLogger struct{ w *JSONLZstdWriter }

func NewRoadAuditLogger(dataDir string) *RoadAuditLogger {
	return &RoadAuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "roads")}
}

func (l *RoadAuditLogger) WriteRoadAudit(e roads.AuditEntry) error { return l.w.Write(e) }
func (l *RoadAuditLogger) OnClosed(fn func(path string))           { l.w.OnClosed(fn) }
func (l *RoadAuditLogger) Close() error                            { return l.w.Close() }

// SupplyLogger records every published recalculation.
type SupplyLogger struct{ w *JSONLZstdWriter }

func NewSupplyLogger(dataDir string) *SupplyLogger {
	return &SupplyLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "supply"), "supply")}
}

func (l *SupplyLogger) WriteUpdate(u engine.Update) error { return l.w.Write(u) }
func (l *SupplyLogger) OnClosed(fn func(path string))     { l.w.OnClosed(fn) }
func (l *SupplyLogger) Close() error                      { return l.w.Close() }
