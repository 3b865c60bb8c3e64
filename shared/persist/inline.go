package persist

import (
	"context"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

// Inline writes synchronously on the caller's goroutine. It suits the file
// backend, whose writes are local and already serialized by the store.
type Inline struct {
	store      leaderboard.Store
	timeout    time.Duration
	onRecorded RecordedFunc
}

var _ Writer = (*Inline)(nil)

// NewInline wraps store. OnRecorded runs synchronously after a successful record.
func NewInline(store leaderboard.Store, onRecorded RecordedFunc) *Inline {
	return &Inline{store: store, timeout: 5 * time.Second, onRecorded: onRecorded}
}

func (w *Inline) do(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	apply(ctx, w.store, j, w.onRecorded)
}

func (w *Inline) RecordRun(run models.FinishedRun) {
	w.do(job{kind: jobRecord, key: pairKey(run.Course, run.Entity), course: run.Course, entity: run.Entity, name: run.Name, elapsed: run.Duration})
}

func (w *Inline) SaveOngoingRun(run models.OngoingRun) {
	w.do(job{kind: jobOngoing, key: pairKey(run.Course, run.Entity), course: run.Course, entity: run.Entity, name: run.Name, elapsed: run.Elapsed})
}

func (w *Inline) ClearOngoingRun(course string, entity uuid.UUID) {
	w.do(job{kind: jobClear, key: pairKey(course, entity), course: course, entity: entity})
}

func (w *Inline) Flush(context.Context) error { return nil }

func (w *Inline) Close() {}
