// Package ledger exposes typed operations over the locked store,
// specialized to the ordered list of tasks that is the system's sole
// durable state.
package ledger

import (
	"context"
	"log"

	"kanline/internal/domain"
	"kanline/internal/store"
)

// Notifier is the fire-and-forget port used to refresh derived views
// after a successful mutation. Implementations must return quickly and do
// their work asynchronously; the ledger never waits on them.
type Notifier interface {
	LedgerChanged()
}

// Ledger is a handle to the shared task file. The zero Logger falls back
// to the default logger.
type Ledger struct {
	Path   string
	Notify Notifier
	Logger *log.Logger
}

func New(path string) Ledger {
	return Ledger{Path: path}
}

func (l Ledger) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}

// Load returns a snapshot of all tasks. A missing or corrupt file reads
// as an empty ledger.
func (l Ledger) Load(ctx context.Context) ([]domain.Task, error) {
	return store.Read(ctx, l.Path, []domain.Task{})
}

// Update runs fn over the task list under the exclusive lock and persists
// the result atomically. Every workflow operation is built on exactly one
// Update call; splitting a lookup and a later write across two lock
// acquisitions is a lost-update race. A successful update triggers the
// notifier; a failed trigger is the notifier's problem, never the caller's.
func (l Ledger) Update(ctx context.Context, fn func([]domain.Task) ([]domain.Task, error)) ([]domain.Task, error) {
	tasks, err := store.Update(ctx, l.Path, []domain.Task{}, fn)
	if err != nil {
		return nil, err
	}
	if l.Notify != nil {
		defer func() {
			if r := recover(); r != nil {
				l.logger().Printf("ledger: refresh trigger panicked: %v", r)
			}
		}()
		l.Notify.LedgerChanged()
	}
	return tasks, nil
}

// FindByID returns the index of the task with the given id, or -1. Ledger
// sizes are small; a linear scan beats maintaining an index.
func FindByID(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
