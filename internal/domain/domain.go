package domain

// State is a task's position in the fixed approval/execution pipeline.
type State string

const (
	StatePending   State = "Pending"
	StateTaizi     State = "Taizi"
	StateZhongshu  State = "Zhongshu"
	StateMenxia    State = "Menxia"
	StateAssigned  State = "Assigned"
	StateNext      State = "Next"
	StateDoing     State = "Doing"
	StateReview    State = "Review"
	StateDone      State = "Done"
	StateBlocked   State = "Blocked"
	StateCancelled State = "Cancelled"
)

// Terminal reports whether s has no outgoing progression. Cancelled is
// terminal only until resumed, which is the resume operation's business.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// Paused reports whether s is one of the two hold states that carry a
// saved previous state.
func (s State) Paused() bool {
	return s == StateBlocked || s == StateCancelled
}

// InFlight reports whether s is actively worked on and therefore subject
// to heartbeat classification.
func (s State) InFlight() bool {
	return s == StateDoing || s == StateAssigned || s == StateReview
}

// FlowEntry is one hop in a task's append-only transition history.
type FlowEntry struct {
	At     string `json:"at" format:"date-time"`
	From   string `json:"from"`
	To     string `json:"to"`
	Remark string `json:"remark,omitempty"`
}

// Todo is a sub-item owned wholesale by the caller that last replaced the
// task's todo list.
type Todo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status" enum:"not-started,in-progress,completed"`
}

// Heartbeat is the derived liveness classification for an in-flight task.
// Computed from elapsed time since the last update; never persisted back
// into the ledger.
type Heartbeat struct {
	Status string `json:"status" enum:"active,warn,stalled,unknown"`
	Label  string `json:"label"`
	AgeSec *int   `json:"ageSec"`
}

// OutputMeta describes the deliverable file a task points at, if any.
// Derived by the refresher, never persisted.
type OutputMeta struct {
	Exists       bool    `json:"exists"`
	LastModified *string `json:"lastModified"`
}

// Task is a unit of work moving through the pipeline. The pointer fields
// carry present-iff semantics: PrevState exists exactly while the task is
// Blocked or Cancelled, ArchivedAt exactly while it is archived.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	State       State       `json:"state"`
	Org         string      `json:"org,omitempty"`
	Official    string      `json:"official,omitempty"`
	Assignee    string      `json:"assignee,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	Now         string      `json:"now,omitempty"`
	ETA         string      `json:"eta,omitempty"`
	Output      string      `json:"output,omitempty"`
	AC          string      `json:"ac,omitempty"`
	Block       string      `json:"block,omitempty"`
	Archived    bool        `json:"archived,omitempty"`
	ArchivedAt  *string     `json:"archivedAt,omitempty" format:"date-time"`
	FlowLog     []FlowEntry `json:"flow_log"`
	Todos       []Todo      `json:"todos,omitempty"`
	PrevState   *State      `json:"_prev_state,omitempty"`
	ReviewRound int         `json:"review_round,omitempty"`
	CreatedAt   string      `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt   string      `json:"updatedAt" format:"date-time"`

	// Derived view fields, attached by snapshot/refresh passes only.
	Heartbeat  *Heartbeat  `json:"heartbeat,omitempty"`
	OutputMeta *OutputMeta `json:"outputMeta,omitempty"`
}

// TodoProgress returns completed and total todo counts.
func (t Task) TodoProgress() (done, total int) {
	for _, td := range t.Todos {
		if td.Status == "completed" {
			done++
		}
	}
	return done, len(t.Todos)
}
