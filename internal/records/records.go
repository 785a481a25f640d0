// Package records persists per-request call records for the call-history
// collaborator.
package records

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/storage"
)

const persistTimeout = 5 * time.Second

// Recorder writes call records asynchronously. A failed write is logged and
// never surfaces to the request that produced it.
type Recorder struct {
	store  storage.CallRecordStore
	logger *slog.Logger
	wg     sync.WaitGroup
}

func New(store storage.CallRecordStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists the record on its own goroutine with a detached context,
// so client disconnects do not drop rows. Missing ID and CreatedAt fields
// are filled in.
func (r *Recorder) Record(rec *domain.CallRecord) {
	if r == nil || r.store == nil || rec == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = "call_" + uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// Decouple persistence from the request lifecycle; still enforce
		// a short timeout.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := r.store.InsertCallRecord(ctx, rec); err != nil {
			r.logger.Error("failed to record call",
				slog.String("record_id", rec.ID),
				slog.String("tenant_id", rec.TenantID),
				slog.String("process_id", rec.ProcessID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Flush waits for in-flight writes, bounded by the context. Called at
// shutdown so the last records land before the store closes.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
