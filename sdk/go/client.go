package crewlinesdk

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

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Operator represents the API operator model.
type Operator struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	IsBusy      bool   `json:"is_busy"`
	ActiveCount int    `json:"active_count"`
	Online      bool   `json:"online"`
}

// Request represents a project request.
type Request struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	ClientID        string  `json:"client_id"`
	Status          string  `json:"status"`
	ManagerID       *string `json:"manager_id,omitempty"`
	EngineerID      *string `json:"engineer_id,omitempty"`
	RoomID          *string `json:"room_id,omitempty"`
	Accepted        bool    `json:"accepted"`
	ReopenRequested bool    `json:"reopen_requested"`
}

// Task represents a work item on a request.
type Task struct {
	ID         string  `json:"id"`
	RequestID  string  `json:"request_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	EngineerID string  `json:"engineer_id"`
	Deadline   *string `json:"deadline,omitempty"`
}

// Rating is one of the three slots on a request in review.
type Rating struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
}

// Notification is a persisted in-app notification.
type Notification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	RequestID *string `json:"request_id,omitempty"`
	TaskID    *string `json:"task_id,omitempty"`
	Read      bool    `json:"read"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest submits a project request.
func (c *Client) CreateRequest(ctx context.Context, title, description string) (Request, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/requests/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// AssignEngineer sets the engineer on a request.
func (c *Client) AssignEngineer(ctx context.Context, requestID, engineerID string) (Request, error) {
	body := map[string]any{"engineer_id": engineerID}
	var resp Request
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/engineer", url.PathEscape(requestID)), body, &resp)
	return resp, err
}

// AcceptRequest accepts a request as the assigned engineer.
func (c *Client) AcceptRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/accept", url.PathEscape(requestID)), nil, &resp)
	return resp, err
}

// Rate attaches a rating slot to a request in review.
func (c *Client) Rate(ctx context.Context, requestID, target string, score int, comment string) (Rating, error) {
	body := map[string]any{
		"target":  target,
		"score":   score,
		"comment": comment,
	}
	var resp Rating
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/ratings", url.PathEscape(requestID)), body, &resp)
	return resp, err
}

// CloseRequest closes a fully rated request.
func (c *Client) CloseRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/close", url.PathEscape(requestID)), nil, &resp)
	return resp, err
}

// RequestReopen asks to reopen a closed request.
func (c *Client) RequestReopen(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/reopen-request", url.PathEscape(requestID)), nil, &resp)
	return resp, err
}

// CreateTask cuts a task on a request.
func (c *Client) CreateTask(ctx context.Context, requestID, title, details string) (Task, error) {
	body := map[string]any{
		"title":   title,
		"details": details,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/requests/%s/tasks", url.PathEscape(requestID)), body, &resp)
	return resp, err
}

// AcceptTask starts work on a task.
func (c *Client) AcceptTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/accept", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// CompleteTask finishes a task.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Heartbeat records an operator heartbeat.
func (c *Client) Heartbeat(ctx context.Context, operatorID string) (Operator, error) {
	var resp Operator
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/operators/%s/heartbeat", url.PathEscape(operatorID)), nil, &resp)
	return resp, err
}

// Notifications lists notifications for the authenticated operator.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
