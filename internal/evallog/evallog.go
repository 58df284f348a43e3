// Package evallog records EvaluationLog rows: one append-only entry per
// sampled decision, queued on a buffered channel and drained by a
// background worker so logging never blocks the decision path. Adapted
// from internal/audit.Service's buffered-channel-plus-worker shape
// (queue chan, stopCh, atomic close guard), repurposed here for decision
// rows instead of config-mutation rows, and the worker batches writes
// with pgx's CopyFrom instead of one INSERT per event.
package evallog

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devrimkaya/flagship/internal/decision"
)

// Entry is one EvaluationLog row.
type Entry struct {
	ProjectKey      string
	FlagKey         string
	EnvironmentKey  string
	SubjectID       string
	ContextSnapshot map[string]any
	Outcome         bool
	VariantKey      *string
	MatchedRule     *string
	Reason          decision.Reason
	EvaluatedAt     time.Time
}

// Sink persists a batch of entries. PostgresSink is the production
// implementation; a nil Sink (no EVALLOG_DSN configured) means logging
// is a no-op.
type Sink interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// flushInterval bounds how long an entry can sit in the queue before
// the worker flushes a partial batch.
const (
	flushInterval = 2 * time.Second
	batchSize     = 200
)

// Logger queues entries and flushes them to sink in batches.
type Logger struct {
	sink   Sink
	queue  chan Entry
	stopCh chan struct{}
	closed int32
}

func New(sink Sink, queueSize int) *Logger {
	l := &Logger{
		sink:   sink,
		queue:  make(chan Entry, queueSize),
		stopCh: make(chan struct{}),
	}
	go l.worker()
	return l
}

// Log queues e for asynchronous persistence. Non-blocking: if the queue
// is full the entry is dropped rather than stalling the decision path.
// A nil sink makes this a pure no-op, so callers can always invoke Log
// regardless of whether EVALLOG_DSN was configured.
func (l *Logger) Log(e Entry) {
	if l == nil || l.sink == nil {
		return
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now().UTC()
	}
	select {
	case l.queue <- e:
	default:
		log.Printf("[evallog] queue full, dropping entry for %s/%s/%s", e.ProjectKey, e.FlagKey, e.EnvironmentKey)
	}
}

func (l *Logger) worker() {
	batch := make([]Entry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.sink.WriteBatch(ctx, batch); err != nil {
			log.Printf("[evallog] write batch failed, discarding %d entries: %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stopCh:
			for {
				select {
				case e := <-l.queue:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the worker, flushing any entries still queued. Safe to
// call multiple times.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.stopCh)
	return nil
}

// PostgresSink batches EvaluationLog inserts with pgx's CopyFrom.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

var evalLogColumns = []string{
	"id", "project_key", "flag_key", "environment_key", "subject_id",
	"context_snapshot", "outcome", "variant_key", "matched_rule", "reason", "evaluated_at",
}

func (s *PostgresSink) WriteBatch(ctx context.Context, entries []Entry) error {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		var snapshot []byte
		if e.ContextSnapshot != nil {
			snapshot, _ = json.Marshal(e.ContextSnapshot)
		}
		rows[i] = []any{
			uuid.New(), e.ProjectKey, e.FlagKey, e.EnvironmentKey, e.SubjectID,
			snapshot, e.Outcome, e.VariantKey, e.MatchedRule, string(e.Reason), e.EvaluatedAt,
		}
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"evaluation_logs"}, evalLogColumns, pgx.CopyFromRows(rows))
	return err
}
