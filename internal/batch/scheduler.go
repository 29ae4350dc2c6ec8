// Package batch implements the batch processor (spec.md §4.5): bulk
// request submission, priority-queued scheduling, and bounded-concurrency
// dispatch through the router.
//
// Grounded on the teacher's internal/app.App lifecycle idiom
// (errgroup-bounded background work, explicit Close) and on
// internal/logger.Logger's single-background-goroutine-plus-channel shape,
// adapted here to drive a priority queue instead of a flush ticker.
package batch

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/internal/router"
)

// queuedBatch is one entry in the scheduler's priority heap.
type queuedBatch struct {
	id        string
	priority  core.Priority
	createdAt time.Time
	index     int
}

// priorityQueue orders queuedBatch entries by priority rank, then by
// creation time (FIFO within a priority tier) — container/heap is used
// directly per spec.md §4.5's note that the corpus ships no priority-queue
// dependency, so this is the one place the core falls back to stdlib.
type priorityQueue []*queuedBatch

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority.Rank() != q[j].priority.Rank() {
		return q[i].priority.Rank() < q[j].priority.Rank()
	}
	return q[i].createdAt.Before(q[j].createdAt)
}
func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *priorityQueue) Push(x any) {
	item := x.(*queuedBatch)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// NotifyFunc is invoked once a batch completes (every child request has
// terminated); a cancelled batch is not reported. The webhook dispatcher's
// batch.completed event is wired through this callback (see internal/app).
type NotifyFunc func(ctx context.Context, b core.Batch)

// Validator is the narrow capability Scheduler needs from internal/validator;
// *validator.Validator already has exactly this shape. Intake validates every
// child request independently per spec.md §4.5.
type Validator interface {
	Validate(req *core.ModelRequest) error
}

// Scheduler owns the batch queue and a single dispatch loop that drains it,
// running each batch's child requests with bounded concurrency.
type Scheduler struct {
	mu      sync.Mutex
	batches map[string]*core.Batch
	queue   priorityQueue
	ready   chan struct{} // signalled whenever the queue gains work

	router        *router.Router
	validator     Validator
	maxConcurrent int
	notify        NotifyFunc
	log           *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler dispatching through r, validating intake through v,
// running up to maxConcurrent child requests at once per batch, and starts
// its background dispatch loop bound to ctx.
func New(ctx context.Context, r *router.Router, v Validator, maxConcurrent int, notify NotifyFunc, log *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if log == nil {
		log = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		batches:       make(map[string]*core.Batch),
		ready:         make(chan struct{}, 1),
		router:        r,
		validator:     v,
		maxConcurrent: maxConcurrent,
		notify:        notify,
		log:           log,
		cancel:        cancel,
	}
	s.wg.Add(1)
	go s.run(runCtx)
	return s
}

// Close stops the dispatch loop and waits for the in-flight batch (if any)
// to finish.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateBatch validates every child request independently (spec.md §4.5
// Intake) and rejects the whole batch iff every child is invalid. Valid
// children are accepted and enqueued for dispatch; invalid children are
// recorded at their original index in the returned Batch's Results (with
// CompletedCount/FailedCount already reflecting them) so they are "reported
// alongside the batch creation result" without blocking the valid ones.
func (s *Scheduler) CreateBatch(owner string, reqs []core.ModelRequest, priority core.Priority, callbackURL string, metadata map[string]string) (*core.Batch, error) {
	if !priority.Valid() {
		priority = core.PriorityNormal
	}

	results := make([]*core.BatchResult, len(reqs))
	invalidCount := 0
	for i := range reqs {
		if s.validator == nil {
			continue
		}
		if err := s.validator.Validate(&reqs[i]); err != nil {
			results[i] = &core.BatchResult{Error: err.Error()}
			invalidCount++
		}
	}
	if len(reqs) > 0 && invalidCount == len(reqs) {
		return nil, core.NewError(core.ErrInvalidRequest, "all requests in batch failed validation")
	}

	now := time.Now()
	b := &core.Batch{
		ID:           uuid.NewString(),
		Owner:        owner,
		Requests:     reqs,
		State:        core.BatchPending,
		Priority:     priority,
		RequestCount: len(reqs),
		FailedCount:  invalidCount,
		Results:      results,
		CallbackURL:  callbackURL,
		Metadata:     metadata,
		CreatedAt:    now,
	}

	s.mu.Lock()
	s.batches[b.ID] = b
	heap.Push(&s.queue, &queuedBatch{id: b.ID, priority: priority, createdAt: now})
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}

	cp := *b
	return &cp, nil
}

// GetBatch returns the batch with id iff caller is its owner.
func (s *Scheduler) GetBatch(id, caller string) (*core.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Owner != caller {
		return nil, core.NewError(core.ErrNotFound, "batch not found")
	}
	cp := *b
	return &cp, nil
}

// ListBatches returns every batch owned by caller.
func (s *Scheduler) ListBatches(caller string) []*core.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Batch, 0)
	for _, b := range s.batches {
		if b.Owner == caller {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out
}

// CancelBatch removes a still-pending batch from the queue. A batch that
// has already entered Processing cannot be interrupted mid-flight — its
// child requests are already dispatched — so CancelBatch returns an error
// in that case, matching spec.md §4.5's "pending batches may be cancelled".
func (s *Scheduler) CancelBatch(id, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok || b.Owner != caller {
		return core.NewError(core.ErrNotFound, "batch not found")
	}
	if b.State != core.BatchPending {
		return core.NewError(core.ErrInvalidRequest, "batch is no longer pending")
	}

	for i, qb := range s.queue {
		if qb.id == id {
			heap.Remove(&s.queue, i)
			break
		}
	}
	b.State = core.BatchFailed
	b.Error = "cancelled"
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		batchID, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.ready:
				continue
			}
		}
		s.process(ctx, batchID)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return "", false
	}
	qb := heap.Pop(&s.queue).(*queuedBatch)
	return qb.id, true
}

func (s *Scheduler) process(ctx context.Context, batchID string) {
	s.mu.Lock()
	b, ok := s.batches[batchID]
	if ok {
		b.State = core.BatchProcessing
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for i, req := range b.Requests {
		i, req := i, req
		if b.Results[i] != nil {
			// Already resolved at intake (failed validation) — not dispatched.
			continue
		}
		g.Go(func() error {
			result := s.runOne(gctx, &req)
			s.mu.Lock()
			b.Results[i] = result
			if result.Error == "" {
				b.CompletedCount++
			} else {
				b.FailedCount++
			}
			s.mu.Unlock()
			return nil // child failures are recorded per-result, not fatal to the batch
		})
	}
	_ = g.Wait()

	// Every child has terminated (dispatched or resolved at intake): this is
	// a normal completion per spec.md §4.5, even when every child's result
	// carries an error. `failed` is reserved for a scheduler fault, which
	// this dispatch loop has no path for today.
	s.mu.Lock()
	b.State = core.BatchCompleted
	now := time.Now()
	b.CompletedAt = &now
	cp := *b
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(ctx, cp)
	}
}

func (s *Scheduler) runOne(ctx context.Context, req *core.ModelRequest) *core.BatchResult {
	res, err := s.router.Route(ctx, req)
	if err != nil {
		s.log.Warn("batch child request failed", slog.String("error", err.Error()))
		return &core.BatchResult{Error: err.Error()}
	}
	return &core.BatchResult{Response: res.Response}
}
