package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// TestJobStorage_ClaimNext_PriorityThenAge covers spec §4.1's claim_next
// ordering guarantee: highest priority first, oldest created_at on ties.
func TestJobStorage_ClaimNext_PriorityThenAge(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	lowID, err := storage.Create(ctx, &models.Job{Type: models.JobTypeExtract, Priority: 1})
	if err != nil {
		t.Fatalf("create low: %v", err)
	}
	highID, err := storage.Create(ctx, &models.Job{Type: models.JobTypeExtract, Priority: 10})
	if err != nil {
		t.Fatalf("create high: %v", err)
	}

	job, err := storage.ClaimNext(ctx, models.JobTypeExtract, 15*time.Minute)
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	if job == nil || job.ID != highID {
		t.Fatalf("expected to claim high-priority job %s, got %+v", highID, job)
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("expected status running, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("expected started_at to be set")
	}

	job2, err := storage.ClaimNext(ctx, models.JobTypeExtract, 15*time.Minute)
	if err != nil {
		t.Fatalf("claim next 2: %v", err)
	}
	if job2 == nil || job2.ID != lowID {
		t.Fatalf("expected to claim remaining low-priority job %s, got %+v", lowID, job2)
	}

	job3, err := storage.ClaimNext(ctx, models.JobTypeExtract, 15*time.Minute)
	if err != nil {
		t.Fatalf("claim next 3: %v", err)
	}
	if job3 != nil {
		t.Fatalf("expected no more queued jobs, got %+v", job3)
	}
}

// TestJobStorage_ClaimNext_ReclaimsStaleRunning exercises spec §8 invariant 1
// and seed scenario 4: a running job whose heartbeat is older than the stale
// threshold is reclaimed by the next ClaimNext call.
func TestJobStorage_ClaimNext_ReclaimsStaleRunning(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobID, err := storage.Create(ctx, &models.Job{Type: models.JobTypeScrape, Priority: 0})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := storage.ClaimNext(ctx, models.JobTypeScrape, time.Second)
	if err != nil || claimed == nil {
		t.Fatalf("initial claim failed: %v", err)
	}
	if claimed.ID != jobID {
		t.Fatalf("expected %s, got %s", jobID, claimed.ID)
	}

	// Simulate worker death: no further heartbeat. Wait past the threshold;
	// heartbeats are stored in whole seconds, so the wait is more than a
	// second longer than the threshold.
	time.Sleep(2100 * time.Millisecond)

	reclaimed, err := storage.ClaimNext(ctx, models.JobTypeScrape, time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != jobID {
		t.Fatalf("expected stale job %s to be reclaimed, got %+v", jobID, reclaimed)
	}
	if reclaimed.Status != models.JobStatusRunning {
		t.Errorf("expected reclaimed job status running, got %s", reclaimed.Status)
	}

	// Completion after reclaim succeeds exactly once.
	if err := storage.Complete(ctx, jobID, &models.JobResult{SourcesProcessed: 1}); err != nil {
		t.Fatalf("complete after reclaim: %v", err)
	}
	final, err := storage.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}

	// The dead worker's original claim never heartbeats again, so its
	// stale read is never re-asserted; a second ClaimNext call finds nothing.
	none, err := storage.ClaimNext(ctx, models.JobTypeScrape, time.Second)
	if err != nil {
		t.Fatalf("claim after complete: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no claimable job after completion, got %+v", none)
	}
}

// TestJobStorage_Heartbeat_FailsWhenTerminal matches spec §4.1's heartbeat
// contract: it must fail once a job has left running/cancelling.
func TestJobStorage_Heartbeat_FailsWhenTerminal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobID, _ := storage.Create(ctx, &models.Job{Type: models.JobTypeReport})
	if _, err := storage.ClaimNext(ctx, models.JobTypeReport, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := storage.Complete(ctx, jobID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := storage.Heartbeat(ctx, jobID); err == nil {
		t.Error("expected heartbeat on terminal job to fail")
	}
}

// TestJobStorage_RequestCancel_IdempotentAndMonotone exercises spec §8
// invariant 6: *→cancelled only from running/cancelling, and request_cancel
// is idempotent.
func TestJobStorage_RequestCancel_IdempotentAndMonotone(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobID, _ := storage.Create(ctx, &models.Job{Type: models.JobTypeExtract})
	if _, err := storage.ClaimNext(ctx, models.JobTypeExtract, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := storage.RequestCancel(ctx, jobID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if err := storage.RequestCancel(ctx, jobID); err != nil {
		t.Fatalf("request cancel (idempotent repeat): %v", err)
	}

	job, err := storage.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != models.JobStatusCancelling {
		t.Fatalf("expected cancelling, got %s", job.Status)
	}
	if !job.CancellationRequested {
		t.Error("expected cancellation_requested to be true")
	}

	cancelRequested, err := storage.IsCancelRequested(ctx, jobID)
	if err != nil || !cancelRequested {
		t.Fatalf("expected IsCancelRequested true, got %v err=%v", cancelRequested, err)
	}

	if err := storage.MarkCancelled(ctx, jobID, &models.JobResult{ChunksProcessed: 3}); err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
	final, _ := storage.Get(ctx, jobID)
	if final.Status != models.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}

	// Deleting a terminal job succeeds; deleting a non-terminal one does not.
	if err := storage.Delete(ctx, jobID); err != nil {
		t.Fatalf("delete terminal job: %v", err)
	}

	otherID, _ := storage.Create(ctx, &models.Job{Type: models.JobTypeExtract})
	if err := storage.Delete(ctx, otherID); err == nil {
		t.Error("expected delete of a non-terminal (queued) job to fail")
	}
}
