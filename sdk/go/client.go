// Package kanlinesdk is a minimal client for the Kanline HTTP API.
package kanlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Kanline server. BasePath must match the server's
// --base-path flag.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "api",
		Timeout:  10 * time.Second,
	}
}

// Task mirrors the API task model (partial).
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	State    string `json:"state"`
	Org      string `json:"org"`
	Assignee string `json:"assignee"`
	Archived bool   `json:"archived"`
	Now      string `json:"now"`
}

// Todo mirrors the API todo model.
type Todo struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d error=%s", e.StatusCode, e.Message)
}

// CreateTask creates a task with the given title.
func (c *Client) CreateTask(ctx context.Context, title string, fields map[string]any) (Task, error) {
	body := map[string]any{"title": title}
	for k, v := range fields {
		body[k] = v
	}
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp.Task, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp.Task, err
}

// ListTasks fetches the board.
func (c *Client) ListTasks(ctx context.Context, includeArchived bool) ([]Task, error) {
	endpoint := "tasks"
	if includeArchived {
		endpoint += "?include_archived=true"
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

// Advance moves a task one stage forward.
func (c *Client) Advance(ctx context.Context, id, comment string) (from, to string, err error) {
	var resp struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	err = c.do(ctx, http.MethodPost, c.taskPath(id, "advance"), map[string]any{"comment": comment}, &resp)
	return resp.From, resp.To, err
}

// Pause blocks a task.
func (c *Client) Pause(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, c.taskPath(id, "pause"), map[string]any{"reason": reason}, nil)
}

// Cancel cancels a task.
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, c.taskPath(id, "cancel"), map[string]any{"reason": reason}, nil)
}

// Resume restores a blocked or cancelled task.
func (c *Client) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.taskPath(id, "resume"), struct{}{}, nil)
}

// Review approves or rejects a task at a review gate.
func (c *Client) Review(ctx context.Context, id, action, comment string) error {
	body := map[string]any{"action": action, "comment": comment}
	return c.do(ctx, http.MethodPost, c.taskPath(id, "review"), body, nil)
}

// UpdateTodos replaces a task's todo list.
func (c *Client) UpdateTodos(ctx context.Context, id string, todos []Todo) error {
	return c.do(ctx, http.MethodPost, c.taskPath(id, "todos"), map[string]any{"todos": todos}, nil)
}

// Archive archives (or restores) a task.
func (c *Client) Archive(ctx context.Context, id string, archived bool) error {
	return c.do(ctx, http.MethodPost, c.taskPath(id, "archive"), map[string]any{"archived": archived}, nil)
}

// ArchiveTerminal archives all done and cancelled tasks.
func (c *Client) ArchiveTerminal(ctx context.Context) (int, error) {
	var resp struct {
		Archived int `json:"archived"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/archive-terminal", struct{}{}, &resp)
	return resp.Archived, err
}

// LiveStatus fetches the raw dashboard document.
func (c *Client) LiveStatus(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "live-status", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var envelope struct {
			Error string `json:"error"`
		}
		msg := string(b)
		if json.Unmarshal(b, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) taskPath(id, op string) string {
	p := "tasks/" + url.PathEscape(id)
	if op != "" {
		p += "/" + op
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
