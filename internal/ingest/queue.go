package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/relayforge/corpus-engine/internal/observability"
)

// ErrQueueStopped is returned for enqueues after shutdown began.
var ErrQueueStopped = errors.New("ingest queue is stopped")

const (
	defaultWorkers    = 3
	defaultQueueDepth = 64
)

type recoveryStore interface {
	ResetUnfinished(ctx context.Context) ([]uuid.UUID, error)
}

// QueueConfig holds queue configuration.
type QueueConfig struct {
	// Workers caps documents processed in parallel.
	Workers int
	// Depth is the bounded buffer size; full means enqueues block.
	Depth int
}

// Queue feeds documents to the pipeline through a bounded buffer, with
// a weighted semaphore capping documents in flight.
type Queue struct {
	logger    *observability.Logger
	pipeline  *Pipeline
	documents recoveryStore
	tasks     chan uuid.UUID
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewQueue creates the ingestion queue and starts its dispatcher.
func NewQueue(logger *observability.Logger, pipeline *Pipeline, documents recoveryStore, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Depth <= 0 {
		cfg.Depth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger:    logger.WithComponent("ingest"),
		pipeline:  pipeline,
		documents: documents,
		tasks:     make(chan uuid.UUID, cfg.Depth),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:       ctx,
		cancel:    cancel,
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Enqueue queues a document for processing. It blocks while the buffer
// is full and fails once the queue is stopped.
func (q *Queue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.tasks <- documentID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueStopped
	}
}

// Recover re-enqueues documents a previous run left in a non-terminal
// status, resetting them to pending first.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ids, err := q.documents.ResetUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := q.Enqueue(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		q.logger.Info().Int("documents", len(ids)).Msg("re-enqueued interrupted documents")
	}
	return len(ids), nil
}

func (q *Queue) dispatch() {
	defer q.wg.Done()
	for documentID := range q.tasks {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			// Shutdown canceled the queue context. The document stays
			// pending and Recover picks it up on the next start.
			q.logger.Warn().
				Str("document_id", documentID.String()).
				Msg("queue shutting down, leaving document pending")
			continue
		}
		q.wg.Add(1)
		go func(id uuid.UUID) {
			defer q.wg.Done()
			defer q.sem.Release(1)
			if _, err := q.pipeline.Process(q.ctx, id); err != nil {
				q.logger.Error().
					Err(err).
					Str("document_id", id.String()).
					Msg("ingestion failed")
			}
		}(documentID)
	}
}

// Stop drains the queue. In-flight documents get until ctx expires to
// finish; after that their contexts are canceled and they land in error
// status for later reingestion.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
