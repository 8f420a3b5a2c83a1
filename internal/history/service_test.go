package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ratesync/ratesync/internal/refresh"
	"github.com/ratesync/ratesync/internal/testutil"
)

func sampleReport(started time.Time) *refresh.Report {
	return &refresh.Report{
		RunID:      uuid.NewString(),
		Trigger:    "scheduled",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
		Selected:   3,
		Updated:    2,
		Skipped:    1,
		Items: []refresh.ItemResult{
			{ItemID: 1, Title: "Movie A", Outcome: refresh.OutcomeUpdated, Rating: 7.5, Votes: 100},
			{ItemID: 2, Title: "Movie B", Outcome: refresh.OutcomeUpdated, Rating: 8.1, Votes: 55},
			{ItemID: 3, Title: "Movie C", Outcome: refresh.OutcomeSkipped, Reason: "no usable ratings"},
		},
	}
}

func TestService_RecordAndGet(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	report := sampleReport(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC))
	if err := service.Record(ctx, report); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := service.Get(ctx, report.RunID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Selected != 3 || got.Updated != 2 || got.Skipped != 1 || got.Failed != 0 {
		t.Errorf("counts = %d/%d/%d/%d, want 3/2/1/0", got.Selected, got.Updated, got.Skipped, got.Failed)
	}
	if len(got.Items) != 3 {
		t.Fatalf("Items = %d, want 3", len(got.Items))
	}
	if got.Items[2].Reason != "no usable ratings" {
		t.Errorf("Items[2].Reason = %q, want skip reason preserved", got.Items[2].Reason)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not persisted")
	}
}

func TestService_GetMissingRun(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Conn, tdb.Logger)

	_, err := service.Get(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() error = %v, want ErrRunNotFound", err)
	}
}

func TestService_ListNewestFirst(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var newest string
	for i := 0; i < 3; i++ {
		report := sampleReport(base.Add(time.Duration(i) * time.Hour))
		newest = report.RunID
		if err := service.Record(ctx, report); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	runs, err := service.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("List() returned %d runs, want 3", len(runs))
	}
	if runs[0].RunID != newest {
		t.Errorf("List()[0] = %s, want newest run %s", runs[0].RunID, newest)
	}
}

func TestService_LastCompleted(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	last, err := service.LastCompleted(ctx)
	if err != nil {
		t.Fatalf("LastCompleted() error = %v", err)
	}
	if last != nil {
		t.Errorf("LastCompleted() = %+v on empty history, want nil", last)
	}

	report := sampleReport(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC))
	if err := service.Record(ctx, report); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	last, err = service.LastCompleted(ctx)
	if err != nil {
		t.Fatalf("LastCompleted() error = %v", err)
	}
	if last == nil || last.RunID != report.RunID {
		t.Errorf("LastCompleted() = %+v, want run %s", last, report.RunID)
	}
}

func TestService_Prune(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	old := sampleReport(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	recent := sampleReport(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	for _, r := range []*refresh.Report{old, recent} {
		if err := service.Record(ctx, r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	deleted, err := service.Prune(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune() deleted %d, want 1", deleted)
	}

	runs, err := service.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != recent.RunID {
		t.Errorf("remaining runs = %+v, want only the recent one", runs)
	}
}
