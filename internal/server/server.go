// Package server exposes the task ledger over HTTP. Built on huma over
// chi; every response body carries an ok flag and failures use the
// {ok:false, error} envelope regardless of where they originate.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"kanline/internal/engine"
	"kanline/internal/refresh"
	"kanline/internal/sanitize"
	"kanline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Refresher *refresh.Refresher
	BasePath  string
	Auth      AuthConfig
}

// apiError is the failure envelope. All error paths, including huma's own
// request validation, funnel into this shape.
type apiError struct {
	status  int
	OK      bool   `json:"ok"`
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

// New returns an HTTP handler exposing the Kanline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Kanline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerLiveStatus(group, cfg)

	return router, nil
}

// handleError maps domain failures onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, err.Error())
	}
	var ve sanitize.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, err.Error())
	}
	if errors.Is(err, engine.ErrNotFound) {
		return newAPIError(http.StatusNotFound, err.Error())
	}
	return newAPIError(http.StatusInternalServerError, err.Error())
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	type TaskPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		IncludeArchived bool `query:"include_archived"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		tasks, err := e.Snapshot(ctx, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{OK: true, Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{OK: true, Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		initiator := input.Body.Initiator
		if initiator == "" {
			initiator = actorFromContext(ctx)
		}
		t, err := e.CreateTask(ctx, engine.CreateOptions{
			Title:      input.Body.Title,
			Org:        input.Body.Org,
			Official:   input.Body.Official,
			Assignee:   input.Body.Assignee,
			Priority:   input.Body.Priority,
			Remark:     input.Body.Remark,
			ETA:        input.Body.ETA,
			Output:     input.Body.Output,
			AC:         input.Body.AC,
			Initiator:  initiator,
			TemplateID: input.Body.Template,
			Params:     input.Body.Params,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{OK: true, Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/advance",
		Summary:     "Advance task to its next stage",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		from, to, err := e.Advance(ctx, input.ID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: AdvanceResponse{OK: true, From: from, To: to}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/pause",
		Summary:     "Pause (block) a task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ReasonRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if err := e.Pause(ctx, input.ID, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/cancel",
		Summary:     "Cancel a task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ReasonRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if err := e.Cancel(ctx, input.ID, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/resume",
		Summary:     "Resume a blocked or cancelled task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if err := e.Resume(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Approve or reject a task under review",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if err := e.Review(ctx, input.ID, engine.ReviewAction(input.Body.Action), input.Body.Comment); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-todos",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/todos",
		Summary:     "Replace a task's todo list",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body TodosRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if err := e.UpdateTodos(ctx, input.ID, input.Body.Todos); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/archive",
		Summary:     "Archive or restore a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ArchiveRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		archived := true
		if input.Body.Archived != nil {
			archived = *input.Body.Archived
		}
		if err := e.SetArchived(ctx, input.ID, archived); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-terminal",
		Method:      http.MethodPost,
		Path:        "/tasks/archive-terminal",
		Summary:     "Archive all done and cancelled tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ArchiveCountResponse `json:"body"`
	}, error) {
		n, err := e.ArchiveTerminal(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArchiveCountResponse `json:"body"`
		}{Body: ArchiveCountResponse{OK: true, Archived: n}}, nil
	})
}

func registerLiveStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "live-status",
		Method:      http.MethodGet,
		Path:        "/live-status",
		Summary:     "Dashboard view of the board",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LiveStatusResponse `json:"body"`
	}, error) {
		live, err := readLive(ctx, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LiveStatusResponse `json:"body"`
		}{Body: LiveStatusResponse{OK: true, LiveStatus: live}}, nil
	})
}

// readLive returns the current view file, rebuilding it first if it has
// never been generated.
func readLive(ctx context.Context, cfg Config) (refresh.LiveStatus, error) {
	path := cfg.Engine.Config.Refresh.LivePath
	live, err := store.Read(ctx, path, refresh.LiveStatus{})
	if err != nil {
		return refresh.LiveStatus{}, err
	}
	if live.GeneratedAt == "" && cfg.Refresher != nil {
		if err := cfg.Refresher.Rebuild(ctx); err != nil {
			return refresh.LiveStatus{}, err
		}
		return store.Read(ctx, path, refresh.LiveStatus{})
	}
	return live, nil
}
