package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/safego"
)

// Sink persists audit rows; *repositories.AuditRepository satisfies it
type Sink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes entries off the request path. Entries are queued on a bounded
// channel and drained by a single worker; when the queue is full the entry is
// dropped and logged.
type Recorder struct {
	sink    Sink
	shipper Shipper
	queue   chan *LogEntry
	done    chan struct{}
	once    sync.Once
}

// DefaultQueueSize bounds the number of pending entries
const DefaultQueueSize = 1024

// NewRecorder starts a recorder. sink and shipper may each be nil.
func NewRecorder(sink Sink, shipper Shipper, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		sink:    sink,
		shipper: shipper,
		queue:   make(chan *LogEntry, queueSize),
		done:    make(chan struct{}),
	}
	safego.Go("audit-recorder", func() {
		defer close(r.done)
		for e := range r.queue {
			r.write(e)
		}
	})
	return r
}

// Record queues entry for writing
func (r *Recorder) Record(entry *LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case r.queue <- entry:
	default:
		slog.Warn("audit queue full, entry dropped", "action", entry.Action, "resource_id", entry.ResourceID)
	}
}

// Close stops accepting entries and waits until the queue is drained or ctx ends
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.queue) })
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.shipper != nil {
		return r.shipper.Close()
	}
	return nil
}

func (r *Recorder) write(e *LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.sink != nil {
		if err := r.sink.CreateAuditLog(ctx, ToModel(e)); err != nil {
			slog.Error("failed to write audit log", "action", e.Action, "error", err)
		}
	}
	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, e); err != nil {
			slog.Warn("failed to ship audit log", "action", e.Action, "error", err)
		}
	}
}

// ToModel converts a shipped entry into the database row
func ToModel(e *LogEntry) *models.AuditLog {
	row := &models.AuditLog{
		Action:    e.Action,
		CreatedAt: e.Timestamp,
	}
	if e.ActorID != "" {
		row.ActorID = strPtr(e.ActorID)
	}
	if e.ResourceType != "" {
		row.ResourceType = strPtr(e.ResourceType)
	}
	if e.ResourceID != "" {
		row.ResourceID = strPtr(e.ResourceID)
	}
	if e.IPAddress != "" {
		row.IPAddress = strPtr(e.IPAddress)
	}

	meta := make(map[string]interface{}, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	if e.StatusCode != 0 {
		meta["status_code"] = e.StatusCode
	}
	if len(meta) > 0 {
		row.Metadata = meta
	}
	return row
}

func strPtr(s string) *string { return &s }
