package taskstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/ob1/internal/domain"
)

func newRun(id string, started time.Time) *domain.Run {
	return &domain.Run{
		ID:         id,
		RepoRoot:   "/work/app",
		BaseBranch: "main",
		Prompt:     "add a health check",
		K:          2,
		StartedAt:  started,
	}
}

func TestStore_SaveAndListRuns(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	if err := store.SaveRun(newRun("aaa111", now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(newRun("bbb222", now)); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun("bbb222", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "bbb222" {
		t.Errorf("newest run = %s, want bbb222", runs[0].ID)
	}
	if runs[0].FinishedAt == nil {
		t.Error("bbb222 should have a finish time")
	}
	if runs[1].FinishedAt != nil {
		t.Error("aaa111 should not have a finish time")
	}
	if runs[0].Prompt != "add a health check" || runs[0].K != 2 {
		t.Errorf("unexpected run fields: %+v", runs[0].Run)
	}

	limited, err := store.ListRecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d runs", len(limited))
	}
}

func TestStore_FinishUnknownRun(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.FinishRun("nope", time.Now()); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestStore_Outcomes(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	start := time.Now().Add(-time.Minute)
	if err := store.SaveRun(newRun("abc123", start)); err != nil {
		t.Fatal(err)
	}

	outcomes := []domain.Outcome{
		{
			Agent: "coder-1", Status: domain.OutcomeSuccess, State: domain.StatePublished,
			Published: true, PRURL: "https://github.com/acme/app/pull/1", Branch: "ai-agent/coder-1-abc123",
			FilesTouched: 3, StartedAt: start, FinishedAt: start.Add(30 * time.Second),
		},
		{
			Agent: "coder-2", Status: domain.OutcomeFailure, State: domain.StateWorktreeReady,
			Branch: "ai-agent/coder-2-abc123", ApplyFailed: true, Err: errors.New("agent coder-2: exit 1"),
			StartedAt: start, FinishedAt: start.Add(10 * time.Second),
		},
	}
	for _, out := range outcomes {
		if err := store.SaveOutcome("abc123", out); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListOutcomes("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}

	if got[0].Agent != "coder-1" || !got[0].Published || got[0].PRURL != outcomes[0].PRURL {
		t.Errorf("coder-1 outcome = %+v", got[0])
	}
	if got[0].FilesTouched != 3 || got[0].Err != nil {
		t.Errorf("coder-1 outcome = %+v", got[0])
	}
	if d := got[0].Duration(); d < 29*time.Second || d > 31*time.Second {
		t.Errorf("coder-1 duration = %v, want ~30s", d)
	}

	if got[1].Status != domain.OutcomeFailure || got[1].State != domain.StateWorktreeReady {
		t.Errorf("coder-2 outcome = %+v", got[1])
	}
	if !got[1].ApplyFailed {
		t.Error("coder-2 should record the failed apply")
	}
	if got[1].Err == nil || got[1].Err.Error() != "agent coder-2: exit 1" {
		t.Errorf("coder-2 error = %v", got[1].Err)
	}

	runs, err := store.ListRecentRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].Succeeded != 1 || runs[0].Failed != 1 || runs[0].Published != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", runs[0].Succeeded, runs[0].Failed, runs[0].Published)
	}
}

func TestStore_SaveOutcomeUpserts(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.SaveRun(newRun("abc123", time.Now())); err != nil {
		t.Fatal(err)
	}

	out := domain.Outcome{Agent: "coder-1", Status: domain.OutcomeFailure, State: domain.StateInitializing}
	if err := store.SaveOutcome("abc123", out); err != nil {
		t.Fatal(err)
	}
	out.Status = domain.OutcomeSuccess
	out.State = domain.StateSkipped
	if err := store.SaveOutcome("abc123", out); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListOutcomes("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != domain.OutcomeSuccess || got[0].State != domain.StateSkipped {
		t.Errorf("outcomes = %+v", got)
	}
}

func TestStore_OutcomeNeedsRun(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	err = store.SaveOutcome("missing", domain.Outcome{Agent: "x-1", Status: domain.OutcomeSuccess, State: domain.StateSkipped})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestStore_ConcurrentOutcomes(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.SaveRun(newRun("abc123", time.Now())); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := domain.Outcome{Agent: fmt.Sprintf("coder-%d", i+1), Status: domain.OutcomeSuccess, State: domain.StateSkipped}
			errs <- store.SaveOutcome("abc123", out)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListOutcomes("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Errorf("got %d outcomes, want 8", len(got))
	}
}
