// Package refresh derives the dashboard view file from the ledger. The
// refresher listens for ledger changes and rebuilds live_status.json in
// the background, coalescing bursts of mutations into one rebuild.
package refresh

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"kanline/internal/config"
	"kanline/internal/domain"
	"kanline/internal/heartbeat"
	"kanline/internal/ledger"
	"kanline/internal/store"
)

// Metrics are the board-level counters shown on the dashboard header.
type Metrics struct {
	TodayDone  int `json:"todayDone"`
	InProgress int `json:"inProgress"`
	Blocked    int `json:"blocked"`
}

// Health records the outcome of the last rebuild so the dashboard can
// show whether its data is fresh.
type Health struct {
	OK            bool   `json:"ok"`
	LastRefreshAt string `json:"lastRefreshAt"`
	DurationMs    int64  `json:"durationMs"`
	RecordCount   int    `json:"recordCount"`
	Error         string `json:"error,omitempty"`
}

// LiveStatus is the full derived document written to live_path.
type LiveStatus struct {
	GeneratedAt string        `json:"generatedAt"`
	Tasks       []domain.Task `json:"tasks"`
	History     []domain.Task `json:"history"`
	Metrics     Metrics       `json:"metrics"`
	SyncStatus  Health        `json:"syncStatus"`
}

// Refresher rebuilds the live view. It satisfies ledger.Notifier; wire it
// into the ledger and call Run on a goroutine.
type Refresher struct {
	Ledger ledger.Ledger
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time

	wake chan struct{}
}

func New(l ledger.Ledger, cfg *config.Config) *Refresher {
	return &Refresher{
		Ledger: l,
		Config: cfg,
		Now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

func (r *Refresher) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// LedgerChanged requests a rebuild. Non-blocking: a request while one is
// already pending folds into it.
func (r *Refresher) LedgerChanged() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run services rebuild requests until ctx is cancelled. Rebuild failures
// are logged and the loop keeps going.
func (r *Refresher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			if err := r.Rebuild(ctx); err != nil {
				r.logger().Printf("refresh: rebuild failed: %v", err)
			}
		}
	}
}

// Rebuild regenerates the live view once, synchronously. The ledger read
// and the view write each take their own lock; the post-refresh command
// runs outside both.
func (r *Refresher) Rebuild(ctx context.Context) error {
	started := r.now()
	tasks, err := r.Ledger.Load(ctx)

	status := LiveStatus{GeneratedAt: started.UTC().Format(time.RFC3339)}
	if err != nil {
		status.SyncStatus = Health{
			OK:            false,
			LastRefreshAt: status.GeneratedAt,
			Error:         err.Error(),
		}
	} else {
		status = r.build(tasks, started)
	}
	status.SyncStatus.DurationMs = time.Since(started).Milliseconds()

	if werr := store.Write(ctx, r.Config.Refresh.LivePath, status); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	r.runCommand(ctx)
	return nil
}

func (r *Refresher) build(all []domain.Task, now time.Time) LiveStatus {
	th := heartbeat.Thresholds{
		Active:  r.Config.HeartbeatActive(),
		Stalled: r.Config.HeartbeatStalled(),
	}
	today := now.UTC().Format("2006-01-02")

	tasks := make([]domain.Task, 0, len(all))
	history := make([]domain.Task, 0)
	var m Metrics
	for _, t := range all {
		if t.Archived {
			continue
		}
		t.Heartbeat = heartbeat.Classify(t, now, th)
		t.OutputMeta = statOutput(t.Output)
		switch {
		case t.State == domain.StateDone:
			history = append(history, t)
			if strings.HasPrefix(t.UpdatedAt, today) {
				m.TodayDone++
			}
		case t.State == domain.StateBlocked:
			m.Blocked++
			tasks = append(tasks, t)
		default:
			if t.State.InFlight() {
				m.InProgress++
			}
			tasks = append(tasks, t)
		}
	}
	return LiveStatus{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Tasks:       tasks,
		History:     history,
		Metrics:     m,
		SyncStatus: Health{
			OK:            true,
			LastRefreshAt: now.UTC().Format(time.RFC3339),
			RecordCount:   len(all),
		},
	}
}

func statOutput(path string) *domain.OutputMeta {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return &domain.OutputMeta{Exists: false}
	}
	mod := info.ModTime().UTC().Format(time.RFC3339)
	return &domain.OutputMeta{Exists: true, LastModified: &mod}
}

// runCommand executes the configured post-refresh hook, if any. The hook
// is an argv list, never parsed through a shell.
func (r *Refresher) runCommand(ctx context.Context) {
	argv := r.Config.Refresh.Command
	if len(argv) == 0 {
		return
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.logger().Printf("refresh: command %q failed: %v (%s)", argv[0], err, out)
	}
}
