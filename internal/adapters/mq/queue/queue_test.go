package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/protofold/internal/domain/model"
)

func submission(jobID string) model.Submission {
	return model.Submission{
		JobID:  jobID,
		Record: &model.JobRecord{JobID: jobID, Stage: model.StageQueued, Status: model.StatusRunning},
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	// Test empty queue
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	// Test enqueue
	if !q.Enqueue(ctx, submission("job-1")) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	// Test dequeue
	subChan := q.Dequeue(ctx)
	sub := <-subChan
	if sub.JobID != "job-1" {
		t.Errorf("expected job-1, got %v", sub.JobID)
	}
	if sub.Record == nil || sub.Record.Stage != model.StageQueued {
		t.Error("expected the record to travel with the submission")
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, submission("job-1")) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, submission("job-2")) {
		t.Error("expected enqueue to succeed")
	}

	// Try to enqueue when full
	if q.Enqueue(ctx, submission("job-3")) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numGoroutines := 10
	numSubmissions := 100

	// Start producer goroutines
	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numSubmissions; j++ {
				sub := submission(fmt.Sprintf("job%d_%d", id, j))
				for !q.Enqueue(ctx, sub) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- true
		}(i)
	}

	// Start consumer goroutines
	consumed := make(chan string, numGoroutines*numSubmissions)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			subChan := q.Dequeue(ctx)
			for sub := range subChan {
				consumed <- sub.JobID
			}
		}()
	}

	// Wait for producers to finish
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	// Wait a bit for consumers to process
	time.Sleep(100 * time.Millisecond)

	// Check final queue length
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_CancelledConsumerKeepsSubmission(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if !q.Enqueue(ctx, submission("job-1")) {
		t.Fatal("expected enqueue to succeed")
	}

	dctx, cancel := context.WithCancel(ctx)
	out := q.Dequeue(dctx)

	// Wait until the dequeue goroutine has pulled the submission off the
	// buffer and is holding it for a consumer.
	deadline := time.Now().Add(time.Second)
	for q.Len(ctx) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dequeue goroutine never picked up the submission")
		}
		time.Sleep(time.Millisecond)
	}

	// Cancel before any consumer receives it. The held submission must go
	// back into the queue, not vanish.
	cancel()
	deadline = time.Now().Add(time.Second)
	for q.Len(ctx) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("cancelled consumer lost the in-flight submission")
		}
		time.Sleep(time.Millisecond)
	}

	if _, ok := <-out; ok {
		t.Fatal("expected the cancelled dequeue channel to close without delivering")
	}

	sub := <-q.Dequeue(ctx)
	if sub.JobID != "job-1" {
		t.Errorf("expected job-1 to survive the cancelled consumer, got %v", sub.JobID)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, submission("job-1")) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, submission("job-2")) {
		t.Error("expected enqueue to succeed")
	}

	// Check initial state
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	// Close the queue
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}

	// Check closed state
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	// Try to enqueue after closing (should fail)
	if q.Enqueue(ctx, submission("job-3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// Dequeue channel should drain the backlog, then close
	subChan := q.Dequeue(ctx)

	var drained []string
	timeout := time.After(time.Second)
	for {
		select {
		case sub, ok := <-subChan:
			if !ok {
				goto channelClosed
			}
			drained = append(drained, sub.JobID)
		case <-timeout:
			t.Error("expected dequeue channel to be closed within timeout")
			return
		}
	}
channelClosed:

	if len(drained) != 2 {
		t.Errorf("expected 2 drained submissions, got %d", len(drained))
	}

	// Close again should not error
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
