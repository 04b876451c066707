package journal

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lutra-labs/sospull/dbopen"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	return NewWithDB(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func entry(requestID, fileNumber, status string, at time.Time) *Entry {
	return &Entry{
		RequestID:    requestID,
		FileNumber:   fileNumber,
		Status:       status,
		StartedAt:    at,
		FinishedAt:   at.Add(30 * time.Second),
		DurationMs:   30_000,
		ArtifactPath: "results/" + requestID + ".json",
	}
}

func TestRecordAndHistory(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := j.Record(ctx, entry("r1", "09853537", "success", base)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, entry("r2", "09853537", "timeout", base.Add(time.Hour))); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, entry("r3", "11111111", "not_found", base)); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.History(ctx, "09853537", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history: got %d entries, want 2", len(got))
	}
	// Newest first.
	if got[0].RequestID != "r2" || got[1].RequestID != "r1" {
		t.Errorf("order: got %s, %s", got[0].RequestID, got[1].RequestID)
	}
	if got[0].Status != "timeout" {
		t.Errorf("status: got %q", got[0].Status)
	}
}

func TestRecordDuplicateRequestID(t *testing.T) {
	// WHAT: The journal's primary key backs up the one-artifact-per-request
	// invariant; a second row for the same request id must fail.
	j := testJournal(t)
	ctx := context.Background()

	at := time.Now()
	if err := j.Record(ctx, entry("dup", "09853537", "success", at)); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := j.Record(ctx, entry("dup", "09853537", "success", at)); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
