package db

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/selfsrc"
)

// Recorder writes events under a fixed parent. Failures are logged and
// swallowed: persistence must never stop the loop.
type Recorder struct {
	DB     *sql.DB
	Parent *int64
	RunID  string
	Logger *zap.Logger
}

// Event logs an event under the recorder's parent and returns its id (0 on failure).
func (r *Recorder) Event(eventType string, payload map[string]any) int64 {
	if r == nil || r.DB == nil {
		return 0
	}
	id, err := LogEvent(r.DB, r.Parent, eventType, payload)
	if err != nil {
		r.warn("log event failed", err, zap.String("event_type", eventType))
		return 0
	}
	return id
}

// Child returns a recorder whose events nest under id.
func (r *Recorder) Child(id int64) *Recorder {
	if r == nil {
		return nil
	}
	if id == 0 {
		return r
	}
	parent := id
	return &Recorder{DB: r.DB, Parent: &parent, RunID: r.RunID, Logger: r.Logger}
}

// Quarantined records a quarantined tool module.
func (r *Recorder) Quarantined(path, deadPath, errText string) {
	if r == nil || r.DB == nil {
		return
	}
	if err := InsertQuarantine(r.DB, QuarantineEntry{Path: path, DeadPath: deadPath, Error: errText, RunID: r.RunID}); err != nil {
		r.warn("record quarantine failed", err, zap.String("path", path))
	}
	r.Event(EventToolQuarantined, map[string]any{"path": path, "dead_path": deadPath, "error": errText})
}

// SourcePatched stores the base and patched source revisions and logs the swap.
// The base insert is a no-op when that digest is already known.
func (r *Recorder) SourcePatched(path string, base, next selfsrc.Snapshot, generation int) {
	if r == nil || r.DB == nil {
		return
	}
	if err := InsertRevision(r.DB, base.Digest, "", path, base.Content, generation); err != nil {
		r.warn("record base revision failed", err, zap.String("digest", base.Digest))
	}
	if err := InsertRevision(r.DB, next.Digest, base.Digest, path, next.Content, generation); err != nil {
		r.warn("record revision failed", err, zap.String("digest", next.Digest))
	}
	r.Event(EventSourcePatched, map[string]any{
		"path":        path,
		"base_digest": base.Digest,
		"digest":      next.Digest,
		"generation":  generation,
	})
}

func (r *Recorder) warn(msg string, err error, fields ...zap.Field) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
