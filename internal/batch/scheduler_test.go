package batch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nulpointcorp/modelgate/internal/catalog"
	"github.com/nulpointcorp/modelgate/internal/core"
	"github.com/nulpointcorp/modelgate/internal/router"
	"github.com/nulpointcorp/modelgate/internal/validator"
)

// chatReq builds a minimal request that passes validator.Validator — the
// zero-value {Model: id} used throughout this file's earlier revision has no
// messages and would now be rejected at intake.
func chatReq(model string) core.ModelRequest {
	return core.ModelRequest{
		Model:    model,
		Messages: []core.ChatMessage{{Role: "user", Text: "hi"}},
	}
}

type instantAdapter struct{}

func (instantAdapter) Available(context.Context, string) bool { return true }
func (instantAdapter) Complete(_ context.Context, modelID string, _ *core.ModelRequest) (*core.ModelResponse, error) {
	return &core.ModelResponse{Model: modelID}, nil
}
func (instantAdapter) Stream(context.Context, string, *core.ModelRequest) (<-chan core.StreamDelta, error) {
	return nil, nil
}

// failingAdapter simulates every upstream call failing, so a batch's
// children all terminate with an error rather than a response.
type failingAdapter struct{}

func (failingAdapter) Available(context.Context, string) bool { return true }
func (failingAdapter) Complete(context.Context, string, *core.ModelRequest) (*core.ModelResponse, error) {
	return nil, core.NewError(core.ErrUpstreamError, "simulated upstream failure")
}
func (failingAdapter) Stream(context.Context, string, *core.ModelRequest) (<-chan core.StreamDelta, error) {
	return nil, core.NewError(core.ErrUpstreamError, "simulated upstream failure")
}

func newFailingTestScheduler(t *testing.T, notify NotifyFunc) *Scheduler {
	t.Helper()
	cat := catalog.New()
	r := router.New(cat, failingAdapter{}, router.WithProbeConfig(router.ProbeConfig{
		Timeout: 50 * time.Millisecond, Retries: 0, Base: time.Millisecond,
	}))
	s := New(context.Background(), r, validator.New(cat), 2, notify, slog.Default())
	t.Cleanup(s.Close)
	return s
}

func newTestScheduler(t *testing.T, notify NotifyFunc) *Scheduler {
	t.Helper()
	r := router.New(catalog.New(), instantAdapter{}, router.WithProbeConfig(router.ProbeConfig{
		Timeout: 50 * time.Millisecond, Retries: 0, Base: time.Millisecond,
	}))
	s := New(context.Background(), r, validator.New(catalog.New()), 2, notify, slog.Default())
	t.Cleanup(s.Close)
	return s
}

func waitForTerminal(t *testing.T, s *Scheduler, id, owner string) *core.Batch {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, err := s.GetBatch(id, owner)
		if err != nil {
			t.Fatalf("GetBatch: %v", err)
		}
		if b.Terminal() {
			return b
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("batch never reached a terminal state")
	return nil
}

func TestScheduler_CreateAndCompleteBatch(t *testing.T) {
	s := newTestScheduler(t, nil)
	reqs := []core.ModelRequest{chatReq("openai/gpt-4o"), chatReq("openai/gpt-4o-mini")}
	b, err := s.CreateBatch("alice", reqs, core.PriorityNormal, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	done := waitForTerminal(t, s, b.ID, "alice")
	if done.State != core.BatchCompleted {
		t.Errorf("expected BatchCompleted, got %s (err=%s)", done.State, done.Error)
	}
	if done.CompletedCount != 2 {
		t.Errorf("expected 2 completed, got %d", done.CompletedCount)
	}
}

func TestScheduler_GetBatch_WrongOwnerNotFound(t *testing.T) {
	s := newTestScheduler(t, nil)
	b, err := s.CreateBatch("alice", []core.ModelRequest{chatReq("openai/gpt-4o")}, core.PriorityNormal, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	_, err = s.GetBatch(b.ID, "mallory")
	if core.KindOf(err) != core.ErrNotFound {
		t.Fatalf("expected NOT_FOUND for a non-owner caller, got %v", err)
	}
}

func TestScheduler_CancelPendingBatch(t *testing.T) {
	s := newTestScheduler(t, nil)
	// Flood the queue with higher-priority work so our target batch stays
	// pending long enough to cancel.
	for i := 0; i < 5; i++ {
		if _, err := s.CreateBatch("bob", []core.ModelRequest{chatReq("openai/gpt-4o")}, core.PriorityHigh, "", nil); err != nil {
			t.Fatalf("CreateBatch: %v", err)
		}
	}
	target, err := s.CreateBatch("alice", []core.ModelRequest{chatReq("openai/gpt-4o")}, core.PriorityLow, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := s.CancelBatch(target.ID, "alice"); err != nil {
		// The dispatcher may have already started it; that's an acceptable
		// race in this test's setup, not a correctness bug.
		t.Skipf("batch already left pending state before cancel: %v", err)
	}

	b, err := s.GetBatch(target.ID, "alice")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.State != core.BatchFailed || b.Error != "cancelled" {
		t.Errorf("expected a cancelled batch to be Failed/cancelled, got %s/%s", b.State, b.Error)
	}
}

func TestScheduler_NotifyCalledOnCompletion(t *testing.T) {
	notified := make(chan core.Batch, 1)
	s := newTestScheduler(t, func(_ context.Context, b core.Batch) {
		notified <- b
	})
	b, err := s.CreateBatch("alice", []core.ModelRequest{chatReq("openai/gpt-4o")}, core.PriorityNormal, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	select {
	case got := <-notified:
		if got.ID != b.ID {
			t.Errorf("notified about wrong batch: %s != %s", got.ID, b.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notify callback was never invoked")
	}
}

func TestScheduler_CreateBatch_AllInvalidRejected(t *testing.T) {
	s := newTestScheduler(t, nil)
	reqs := []core.ModelRequest{{Model: "openai/gpt-4o"}, {Model: "nonexistent/model"}}

	_, err := s.CreateBatch("alice", reqs, core.PriorityNormal, "", nil)
	if core.KindOf(err) != core.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest when every child fails validation, got %v", err)
	}
}

func TestScheduler_CreateBatch_PartiallyInvalidReportedAndCompletes(t *testing.T) {
	s := newTestScheduler(t, nil)
	reqs := []core.ModelRequest{chatReq("openai/gpt-4o"), {Model: "openai/gpt-4o-mini"}}

	b, err := s.CreateBatch("alice", reqs, core.PriorityNormal, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.FailedCount != 1 {
		t.Fatalf("expected the one invalid child to be pre-counted as failed, got %d", b.FailedCount)
	}
	if b.Results[1] == nil || b.Results[1].Error == "" {
		t.Fatalf("expected the invalid child's error to be reported at its original index")
	}

	done := waitForTerminal(t, s, b.ID, "alice")
	if done.State != core.BatchCompleted {
		t.Errorf("expected BatchCompleted even with an invalid child, got %s", done.State)
	}
	if done.CompletedCount != 1 || done.FailedCount != 1 {
		t.Errorf("expected 1 completed and 1 failed, got completed=%d failed=%d", done.CompletedCount, done.FailedCount)
	}
}

func TestScheduler_AllChildrenFailedStillCompletes(t *testing.T) {
	notified := make(chan core.Batch, 1)
	s := newFailingTestScheduler(t, func(_ context.Context, b core.Batch) {
		notified <- b
	})
	reqs := []core.ModelRequest{chatReq("openai/gpt-4o"), chatReq("openai/gpt-4o-mini")}
	b, err := s.CreateBatch("alice", reqs, core.PriorityNormal, "", nil)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	done := waitForTerminal(t, s, b.ID, "alice")
	// Every child individually failed upstream, but the scheduler itself
	// never faulted — spec.md §4.5 reserves BatchFailed for that, not for
	// "every child happened to error".
	if done.State != core.BatchCompleted {
		t.Errorf("expected BatchCompleted even though every child failed, got %s", done.State)
	}
	if done.FailedCount != 2 || done.CompletedCount != 0 {
		t.Errorf("expected 2 failed / 0 completed, got failed=%d completed=%d", done.FailedCount, done.CompletedCount)
	}

	select {
	case got := <-notified:
		if got.State != core.BatchCompleted {
			t.Errorf("batch.completed webhook should still fire with state=completed, got %s", got.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch.completed notify was never invoked for an all-failed-children batch")
	}
}
