package tasktrailsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal tasktrail HTTP API client.
type Client struct {
	BaseURL     string
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

// WithToken returns a copy of c authenticating as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.BearerToken = token
	return &cp
}

// User represents an actor.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedByID string  `json:"created_by_id"`
	CreatedAt   string  `json:"created_at"`
}

// AuditEntry represents one recorded change.
type AuditEntry struct {
	ID         int64          `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	TS         string         `json:"ts"`
}

// PaginatedAudit wraps audit listings with a cursor.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// Token is a login result.
type Token struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// TaskInput is used for create and update. Nil fields are omitted.
type TaskInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

// AuditQuery filters audit listings.
type AuditQuery struct {
	ActorID    string
	EntityKind string
	EntityID   string
	Action     string
	Limit      int
	Cursor     string
}

func (q AuditQuery) encode() string {
	v := url.Values{}
	if q.ActorID != "" {
		v.Set("actor_id", q.ActorID)
	}
	if q.EntityKind != "" {
		v.Set("entity_kind", q.EntityKind)
	}
	if q.EntityID != "" {
		v.Set("entity_id", q.EntityID)
	}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates a MEMBER account and returns its token.
func (c *Client) Register(ctx context.Context, email, password string) (User, Token, error) {
	var resp struct {
		User  User  `json:"user"`
		Token Token `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "api/auth/register", map[string]string{"email": email, "password": password}, &resp)
	return resp.User, resp.Token, err
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "api/auth/login", map[string]string{"email": email, "password": password}, &resp)
	return resp, err
}

// Me returns the authenticated actor.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "api/users/me", nil, &resp)
	return resp, err
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "api/users", nil, &resp)
	return resp, err
}

func (c *Client) AssignableUsers(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "api/users/assignable", nil, &resp)
	return resp, err
}

// SetRole changes an actor's role.
func (c *Client) SetRole(ctx context.Context, userID, role string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("api/users/%s/role", url.PathEscape(userID)), map[string]string{"role": role}, &resp)
	return resp, err
}

func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "api/tasks", nil, &resp)
	return resp, err
}

func (c *Client) Task(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "api/tasks", in, &resp)
	return resp, err
}

// UpdateTask sends the set fields of in.
func (c *Client) UpdateTask(ctx context.Context, id int64, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, taskPath(id), in, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// Audit lists entries from every actor.
func (c *Client) Audit(ctx context.Context, q AuditQuery) (PaginatedAudit, error) {
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, "api/audit"+q.encode(), nil, &resp)
	return resp, err
}

// MyAudit lists entries recorded for the authenticated actor.
func (c *Client) MyAudit(ctx context.Context, q AuditQuery) (PaginatedAudit, error) {
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, "api/audit/me"+q.encode(), nil, &resp)
	return resp, err
}

func taskPath(id int64) string {
	return "api/tasks/" + strconv.FormatInt(id, 10)
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
