// Package engine enforces the workflow state machine over the task
// ledger. Every operation validates its preconditions, mutates task
// fields, appends one flow-log record, and persists, all inside a single
// locked ledger update, so a rejected operation never leaves a partial
// write behind.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"kanline/internal/config"
	"kanline/internal/domain"
	"kanline/internal/heartbeat"
	"kanline/internal/ledger"
	"kanline/internal/sanitize"
)

type Engine struct {
	Ledger    ledger.Ledger
	Config    *config.Config
	Sanitizer sanitize.Sanitizer
	Now       func() time.Time
}

func New(l ledger.Ledger, cfg *config.Config) Engine {
	return Engine{
		Ledger: l,
		Config: cfg,
		Sanitizer: sanitize.Sanitizer{
			Markers:  cfg.Sanitizer.Markers,
			Prefixes: cfg.Sanitizer.Prefixes,
		},
		Now: time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowISO() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) thresholds() heartbeat.Thresholds {
	return heartbeat.Thresholds{
		Active:  e.Config.HeartbeatActive(),
		Stalled: e.Config.HeartbeatStalled(),
	}
}

// CreateOptions are parameters for creating a task.
type CreateOptions struct {
	Title      string
	Org        string
	Official   string
	Assignee   string
	Priority   string
	Remark     string
	ETA        string
	Output     string
	AC         string
	Initiator  string
	TemplateID string
	Params     map[string]string
}

// CreateTask sanitizes and validates the title, allocates a day-scoped
// sequential id, and inserts the new task at the head of the ledger in
// the pipeline's drafting stage.
func (e Engine) CreateTask(ctx context.Context, opts CreateOptions) (domain.Task, error) {
	title, err := e.Sanitizer.CleanTitle(opts.Title)
	if err != nil {
		return domain.Task{}, err
	}
	todos, err := e.templateTodos(opts.TemplateID, opts.Params)
	if err != nil {
		return domain.Task{}, err
	}
	remark := e.Sanitizer.Clean(opts.Remark)
	if remark == "" {
		remark = fmt.Sprintf("created: %s", title)
	}
	initiator := opts.Initiator
	if initiator == "" {
		initiator = e.Config.Ledger.Initiator
	}

	var created domain.Task
	_, err = e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		now := e.nowISO()
		org := opts.Org
		if org == "" {
			org = e.Config.StageLabel(domain.StateZhongshu)
		}
		created = domain.Task{
			ID:       e.allocateID(tasks),
			Title:    title,
			State:    domain.StateZhongshu,
			Org:      org,
			Official: opts.Official,
			Assignee: opts.Assignee,
			Priority: opts.Priority,
			ETA:      opts.ETA,
			Output:   opts.Output,
			AC:       opts.AC,
			Todos:    todos,
			FlowLog: []domain.FlowEntry{{
				At:     now,
				From:   initiator,
				To:     org,
				Remark: remark,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		// most-recent-first is a display convenience
		return append([]domain.Task{created}, tasks...), nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

// allocateID builds <prefix>-<YYYYMMDD>-<seq> with the sequence scoped to
// the prefix and the current day.
func (e Engine) allocateID(tasks []domain.Task) string {
	day := e.now().Format("20060102")
	idPrefix := fmt.Sprintf("%s-%s-", e.Config.Ledger.IDPrefix, day)
	max := 0
	for _, t := range tasks {
		rest, ok := strings.CutPrefix(t.ID, idPrefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", idPrefix, max+1)
}

func (e Engine) templateTodos(templateID string, params map[string]string) ([]domain.Todo, error) {
	if templateID == "" {
		return nil, nil
	}
	tpl, ok := e.Config.Templates[templateID]
	if !ok {
		return nil, sanitize.ValidationError{Reason: fmt.Sprintf("unknown template %q", templateID)}
	}
	todos := make([]domain.Todo, 0, len(tpl.Todos))
	for _, title := range tpl.Todos {
		expanded := expandParams(title, params)
		todos = append(todos, domain.Todo{
			ID:     uuid.NewString(),
			Title:  expanded,
			Status: "not-started",
		})
	}
	return todos, nil
}

func expandParams(in string, params map[string]string) string {
	out := in
	for k, v := range params {
		out = strings.ReplaceAll(out, "${"+k+"}", v)
	}
	return out
}

// Advance moves a task one hop along the configured graph. States without
// a graph entry (terminal and hold states) reject the operation.
func (e Engine) Advance(ctx context.Context, id, comment string) (from, to domain.State, err error) {
	_, err = e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		next, ok := e.Config.NextState(t.State)
		if !ok {
			return nil, TransitionError{ID: id, From: t.State, Op: "advance"}
		}
		from, to = t.State, next
		remark := e.Sanitizer.Clean(comment)
		if remark == "" {
			remark = fmt.Sprintf("advance: %s → %s", from, to)
		}
		e.transition(t, next, remark)
		return tasks, nil
	})
	return from, to, err
}

// Pause saves the current state and parks the task in Blocked with the
// given reason. Pausing an already-held task keeps the saved active state
// so pause/resume cycles never lose it.
func (e Engine) Pause(ctx context.Context, id, reason string) error {
	return e.hold(ctx, id, reason, domain.StateBlocked, "pause")
}

// Cancel is Pause with Cancelled as the target state. The reason lands in
// the flow log; Block stays reserved for Blocked tasks.
func (e Engine) Cancel(ctx context.Context, id, reason string) error {
	return e.hold(ctx, id, reason, domain.StateCancelled, "cancel")
}

func (e Engine) hold(ctx context.Context, id, reason string, target domain.State, op string) error {
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		if t.State == domain.StateDone {
			return nil, TransitionError{ID: id, From: t.State, Op: op}
		}
		if !t.State.Paused() {
			prev := t.State
			t.PrevState = &prev
		}
		remark := e.Sanitizer.Clean(reason)
		if remark == "" {
			remark = op
		}
		e.transition(t, target, remark)
		if target == domain.StateBlocked {
			t.Block = remark
		} else {
			t.Block = ""
		}
		return tasks, nil
	})
	return err
}

// Resume restores a Blocked or Cancelled task to its saved state,
// defaulting to Doing when none was recorded.
func (e Engine) Resume(ctx context.Context, id string) error {
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		if !t.State.Paused() {
			return nil, TransitionError{ID: id, From: t.State, Op: "resume"}
		}
		target := domain.StateDoing
		if t.PrevState != nil {
			target = *t.PrevState
		}
		e.transition(t, target, fmt.Sprintf("resume: back to %s", target))
		t.PrevState = nil
		t.Block = ""
		return tasks, nil
	})
	return err
}

// ReviewAction is the verdict passed to Review.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReject  ReviewAction = "reject"
)

// Review resolves a task sitting at one of the two review gates. Approval
// at Menxia hands off to dispatch; approval at Review completes the task.
// Rejection from either gate sends the task back to drafting and counts a
// rework round.
func (e Engine) Review(ctx context.Context, id string, action ReviewAction, comment string) error {
	if action != ReviewApprove && action != ReviewReject {
		return sanitize.ValidationError{Reason: fmt.Sprintf("unknown review action %q", action)}
	}
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		if t.State != domain.StateReview && t.State != domain.StateMenxia {
			return nil, TransitionError{ID: id, From: t.State, Op: "review"}
		}
		reviewer := e.Config.StageLabel(t.State)
		remark := e.Sanitizer.Clean(comment)
		var target domain.State
		switch {
		case action == ReviewReject:
			target = domain.StateZhongshu
			t.ReviewRound++
			if remark == "" {
				remark = fmt.Sprintf("rejected by %s, rework round %d", reviewer, t.ReviewRound)
			}
		case t.State == domain.StateMenxia:
			target = domain.StateAssigned
			if remark == "" {
				remark = fmt.Sprintf("approved by %s, handed to %s", reviewer, e.Config.StageLabel(target))
			}
		default:
			target = domain.StateDone
			if remark == "" {
				remark = fmt.Sprintf("approved by %s, completed", reviewer)
			}
		}
		e.transition(t, target, remark)
		return tasks, nil
	})
	return err
}

// UpdateTodos wholesale-replaces the todo list. No transition and no flow
// entry; the update timestamp still moves.
func (e Engine) UpdateTodos(ctx context.Context, id string, todos []domain.Todo) error {
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		if t.State == domain.StateDone {
			return nil, TransitionError{ID: id, From: t.State, Op: "update todos"}
		}
		for j := range todos {
			if todos[j].ID == "" {
				todos[j].ID = uuid.NewString()
			}
			if todos[j].Status == "" {
				todos[j].Status = "not-started"
			}
		}
		t.Todos = todos
		t.UpdatedAt = e.nowISO()
		return tasks, nil
	})
	return err
}

// SetArchived soft-deletes or restores one task. Archival never touches
// the state, and is the only mutation allowed on a Done task.
func (e Engine) SetArchived(ctx context.Context, id string, archived bool) error {
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := ledger.FindByID(tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &tasks[i]
		if t.Archived == archived {
			return tasks, nil
		}
		t.Archived = archived
		if archived {
			at := e.nowISO()
			t.ArchivedAt = &at
		} else {
			t.ArchivedAt = nil
		}
		t.UpdatedAt = e.nowISO()
		return tasks, nil
	})
	return err
}

// ArchiveTerminal archives every Done or Cancelled task not already
// archived and returns how many it touched.
func (e Engine) ArchiveTerminal(ctx context.Context) (int, error) {
	count := 0
	_, err := e.Ledger.Update(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		now := e.nowISO()
		for i := range tasks {
			t := &tasks[i]
			if !t.State.Terminal() || t.Archived {
				continue
			}
			t.Archived = true
			at := now
			t.ArchivedAt = &at
			t.UpdatedAt = now
			count++
		}
		return tasks, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Snapshot returns the ledger enriched with heartbeats, excluding
// archived tasks unless asked for.
func (e Engine) Snapshot(ctx context.Context, includeArchived bool) ([]domain.Task, error) {
	tasks, err := e.Ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !includeArchived {
		visible := tasks[:0]
		for _, t := range tasks {
			if !t.Archived {
				visible = append(visible, t)
			}
		}
		tasks = visible
	}
	heartbeat.Enrich(tasks, e.now(), e.thresholds())
	return tasks, nil
}

// GetTask returns one task by id, heartbeat attached.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	tasks, err := e.Ledger.Load(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	i := ledger.FindByID(tasks, id)
	if i < 0 {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t := tasks[i]
	t.Heartbeat = heartbeat.Classify(t, e.now(), e.thresholds())
	return t, nil
}

// transition applies a state change: stage relabel, flow-log append, and
// the update timestamp. Every state-changing operation funnels through
// here so the flow log grows by exactly one entry per change.
func (e Engine) transition(t *domain.Task, target domain.State, remark string) {
	now := e.nowISO()
	t.FlowLog = append(t.FlowLog, domain.FlowEntry{
		At:     now,
		From:   e.Config.StageLabel(t.State),
		To:     e.Config.StageLabel(target),
		Remark: remark,
	})
	t.State = target
	t.Org = e.Config.StageLabel(target)
	t.Now = remark
	t.UpdatedAt = now
}
