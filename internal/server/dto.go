package server

import (
	"encoding/json"

	"tasktrail/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty" nullable:"true"`
	AssigneeID  *string `json:"assignee_id,omitempty" nullable:"true"`
}

// UpdateTaskRequest fields are all optional; unknown keys are ignored.
type UpdateTaskRequest struct {
	_           struct{} `json:"-" additionalProperties:"true"`
	Title       *string  `json:"title,omitempty" nullable:"true"`
	Description *string  `json:"description,omitempty" nullable:"true"`
	Status      *string  `json:"status,omitempty" nullable:"true" enum:"TODO,DOING,DONE"`
	AssigneeID  *string  `json:"assignee_id,omitempty" nullable:"true"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" enum:"ADMIN,MANAGER,MEMBER,VIEWER"`
}

// Response payloads

type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type" example:"Bearer"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type RegisterResponse struct {
	User  ActorResponse `json:"user"`
	Token TokenResponse `json:"token"`
}

type ActorResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"ADMIN,MANAGER,MEMBER,VIEWER"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status" enum:"TODO,DOING,DONE"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedByID string  `json:"created_by_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID         int64          `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action" enum:"CREATE,UPDATE,DELETE"`
	EntityKind string         `json:"entity_kind" enum:"TASK,USER"`
	EntityID   string         `json:"entity_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	TS         string         `json:"ts" format:"date-time"`
}

type paginatedAudit struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:        a.ID,
		Email:     a.Email,
		Role:      string(a.Role),
		CreatedAt: a.CreatedAt,
	}
}

func mapActors(items []domain.Actor) []ActorResponse {
	out := make([]ActorResponse, 0, len(items))
	for _, a := range items {
		out = append(out, actorResponse(a))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		AssigneeID:  t.AssigneeID,
		CreatedByID: t.CreatedByID,
		CreatedAt:   t.CreatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Before:     decodeSnapshot(e.Before),
		After:      decodeSnapshot(e.After),
		TS:         e.TS,
	}
}

func decodeSnapshot(raw *string) map[string]any {
	if raw == nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return map[string]any{"raw": *raw}
	}
	return out
}
