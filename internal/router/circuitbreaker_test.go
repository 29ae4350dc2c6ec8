package router

import "testing"

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{})
	if cb.State("openai/gpt-4o") != "closed" {
		t.Errorf("new model should start closed, got %s", cb.State("openai/gpt-4o"))
	}
}

func TestCircuitBreaker_AllowClosedState(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{})
	if !cb.Allow("openai/gpt-4o") {
		t.Error("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 3})

	cb.RecordFailure("openai/gpt-4o")
	cb.RecordFailure("openai/gpt-4o")
	if cb.State("openai/gpt-4o") != "closed" {
		t.Fatal("should remain closed before threshold")
	}
	cb.RecordFailure("openai/gpt-4o")
	if cb.State("openai/gpt-4o") != "open" {
		t.Error("should be open after reaching threshold")
	}
}

func TestCircuitBreaker_OpenRejectsRequests(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1})
	cb.RecordFailure("openai/gpt-4o")
	if cb.Allow("openai/gpt-4o") {
		t.Error("open breaker should reject requests")
	}
}

func TestCircuitBreaker_IndependentPerModel(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1})
	cb.RecordFailure("openai/gpt-4o")
	if !cb.Allow("openai/gpt-4o-mini") {
		t.Error("a different model on the same provider must not share breaker state")
	}
}

func TestCircuitBreaker_SuccessResetsState(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 2})
	cb.RecordFailure("openai/gpt-4o")
	cb.RecordSuccess("openai/gpt-4o")
	cb.RecordFailure("openai/gpt-4o")
	if cb.State("openai/gpt-4o") != "closed" {
		t.Error("success should reset the error count, not just cosmetically close the breaker")
	}
}
