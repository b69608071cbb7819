// Package journal appends mesh lifecycle events to hourly-rotated,
// zstd-compressed JSONL files. The journal is an audit trail: it never
// feeds back into routing decisions, and a write failure must not take the
// proxy down.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/transfer"
)

// EventKind names one journaled mesh event.
type EventKind string

const (
	EventServerRegistered   EventKind = "server_registered"
	EventServerDeregistered EventKind = "server_deregistered"
	EventStatusChanged      EventKind = "status_changed"
	EventTransferInitiated  EventKind = "transfer_initiated"
	EventTransferCompleted  EventKind = "transfer_completed"
	EventTransferFailed     EventKind = "transfer_failed"
	EventServerUnhealthy    EventKind = "server_unhealthy"
)

// Entry is one journal line.
type Entry struct {
	Kind      EventKind                  `json:"kind"`
	Timestamp time.Time                  `json:"timestamp"`
	ServerID  server.ServerID            `json:"server_id,omitempty"`
	PlayerID  player.PlayerID            `json:"player_id,omitempty"`
	Region    spatial.RegionCoordinate   `json:"region,omitempty"`
	Status    server.ServerStatus        `json:"status,omitempty"`
	TokenID   string                     `json:"token_id,omitempty"`
	ErrorCode transfer.TransferErrorCode `json:"error_code,omitempty"`
	Detail    string                     `json:"detail,omitempty"`
}

// Writer appends entries to hourly files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type Writer struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{baseDir: baseDir, prefix: prefix}
}

// Write appends one entry, stamping the timestamp when unset.
func (w *Writer) Write(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := e.Timestamp.Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
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

func (w *Writer) closeLocked() error {
	var err1 error
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
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Read decodes every entry from one journal file, oldest first.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
