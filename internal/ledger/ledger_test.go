package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"kanline/internal/domain"
	"kanline/internal/ledger"
)

func newLedger(t *testing.T) ledger.Ledger {
	t.Helper()
	return ledger.New(filepath.Join(t.TempDir(), "tasks.json"))
}

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) LedgerChanged() { n.calls++ }

type panickyNotifier struct{}

func (panickyNotifier) LedgerChanged() { panic("boom") }

func TestLoadEmptyLedger(t *testing.T) {
	led := newLedger(t)
	tasks, err := led.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty ledger, got %d tasks", len(tasks))
	}
}

func TestUpdatePersists(t *testing.T) {
	led := newLedger(t)
	ctx := context.Background()
	_, err := led.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		return append(tasks, domain.Task{ID: "KAN-20260301-001", Title: "t"}), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	tasks, err := led.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "KAN-20260301-001" {
		t.Fatalf("update not persisted: %+v", tasks)
	}
}

func TestUpdateFiresNotifier(t *testing.T) {
	led := newLedger(t)
	n := &countingNotifier{}
	led.Notify = n
	ctx := context.Background()
	if _, err := led.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		return tasks, nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n.calls != 1 {
		t.Fatalf("notifier fired %d times, want 1", n.calls)
	}

	// a failed update must not notify
	_, err := led.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		return nil, context.Canceled
	})
	if err == nil {
		t.Fatal("expected update error")
	}
	if n.calls != 1 {
		t.Fatalf("failed update notified: %d", n.calls)
	}
}

func TestNotifierPanicDoesNotFailUpdate(t *testing.T) {
	led := newLedger(t)
	led.Notify = panickyNotifier{}
	_, err := led.Update(context.Background(), func(tasks []domain.Task) ([]domain.Task, error) {
		return append(tasks, domain.Task{ID: "x"}), nil
	})
	if err != nil {
		t.Fatalf("notifier panic surfaced: %v", err)
	}
}

func TestFindByID(t *testing.T) {
	tasks := []domain.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if i := ledger.FindByID(tasks, "b"); i != 1 {
		t.Fatalf("FindByID(b) = %d", i)
	}
	if i := ledger.FindByID(tasks, "zz"); i != -1 {
		t.Fatalf("FindByID(zz) = %d", i)
	}
	if i := ledger.FindByID(nil, "a"); i != -1 {
		t.Fatalf("FindByID on nil = %d", i)
	}
}
