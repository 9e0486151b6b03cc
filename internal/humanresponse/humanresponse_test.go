package humanresponse

import (
	"context"
	"testing"
	"time"
)

func TestProvideResponseResolvesWait(t *testing.T) {
	r := New()
	resultCh := make(chan Result, 1)
	go func() {
		res, err := r.WaitForResponse(context.Background(), "req-1", time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- res
	}()

	for !r.Pending("req-1") {
		time.Sleep(time.Millisecond)
	}
	if !r.ProvideResponse("req-1", "approved") {
		t.Fatal("expected ProvideResponse to find the pending wait")
	}

	select {
	case res := <-resultCh:
		if res.Outcome != OutcomeResponded || res.Response != "approved" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestWaitForResponseTimesOutWithoutError(t *testing.T) {
	r := New()
	res, err := r.WaitForResponse(context.Background(), "req-2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("a timeout must not be an error, got %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected TimedOut, got %s", res.Outcome)
	}
}

func TestCancelRequestResolvesWait(t *testing.T) {
	r := New()
	resultCh := make(chan Result, 1)
	go func() {
		res, _ := r.WaitForResponse(context.Background(), "req-3", time.Second)
		resultCh <- res
	}()

	for !r.Pending("req-3") {
		time.Sleep(time.Millisecond)
	}
	if !r.CancelRequest("req-3") {
		t.Fatal("expected CancelRequest to find the pending wait")
	}

	select {
	case res := <-resultCh:
		if res.Outcome != OutcomeCancelled {
			t.Fatalf("expected Cancelled, got %s", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestProvideResponseWithoutPendingWaitReturnsFalse(t *testing.T) {
	r := New()
	if r.ProvideResponse("missing", "x") {
		t.Fatal("expected false for a request with no pending wait")
	}
}

func TestDuplicateWaitIsRejected(t *testing.T) {
	r := New()
	go r.WaitForResponse(context.Background(), "req-4", time.Second)
	for !r.Pending("req-4") {
		time.Sleep(time.Millisecond)
	}
	_, err := r.WaitForResponse(context.Background(), "req-4", time.Second)
	if err == nil {
		t.Fatal("expected an error for a duplicate pending request id")
	}
	r.CancelRequest("req-4")
}
