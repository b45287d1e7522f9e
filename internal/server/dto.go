package server

import (
	"kanline/internal/domain"
	"kanline/internal/refresh"
)

// Every success body carries ok:true so callers can branch on one field
// without inspecting the status code.

type CreateTaskRequest struct {
	Title     string            `json:"title"`
	Org       string            `json:"org,omitempty"`
	Official  string            `json:"official,omitempty"`
	Assignee  string            `json:"assignee,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	Remark    string            `json:"remark,omitempty"`
	ETA       string            `json:"eta,omitempty"`
	Output    string            `json:"output,omitempty"`
	AC        string            `json:"ac,omitempty"`
	Template  string            `json:"template,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Initiator string            `json:"initiator,omitempty"`
}

type TaskResponse struct {
	OK   bool        `json:"ok"`
	Task domain.Task `json:"task"`
}

type TaskListResponse struct {
	OK    bool          `json:"ok"`
	Tasks []domain.Task `json:"tasks"`
}

type CommentRequest struct {
	Comment string `json:"comment,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AdvanceResponse struct {
	OK   bool         `json:"ok"`
	From domain.State `json:"from"`
	To   domain.State `json:"to"`
}

type ReviewRequest struct {
	Action  string `json:"action" enum:"approve,reject"`
	Comment string `json:"comment,omitempty"`
}

type TodosRequest struct {
	Todos []domain.Todo `json:"todos"`
}

type ArchiveRequest struct {
	Archived *bool `json:"archived,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ArchiveCountResponse struct {
	OK       bool `json:"ok"`
	Archived int  `json:"archived"`
}

type LiveStatusResponse struct {
	OK bool `json:"ok"`
	refresh.LiveStatus
}
