package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
	RoleViewer  Role = "VIEWER"
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleAdmin, RoleManager, RoleMember, RoleViewer}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember, RoleViewer:
		return true
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// Status is the task state. TODO -> DOING -> DONE is the forward order.
type Status string

const (
	StatusTodo  Status = "TODO"
	StatusDoing Status = "DOING"
	StatusDone  Status = "DONE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return st, nil
}

type Actor struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role" enum:"ADMIN,MANAGER,MEMBER,VIEWER"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      Status  `json:"status" enum:"TODO,DOING,DONE"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedByID string  `json:"created_by_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// AssignedTo reports whether the task is assigned to actorID.
func (t Task) AssignedTo(actorID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == actorID
}

// TaskSnapshot is the observable field set of a task stored in audit entries.
type TaskSnapshot struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      Status  `json:"status"`
	AssigneeID  *string `json:"assigneeId"`
	CreatedByID string  `json:"createdById"`
	CreatedAt   string  `json:"createdAt"`
}

func (t Task) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		AssigneeID:  t.AssigneeID,
		CreatedByID: t.CreatedByID,
		CreatedAt:   t.CreatedAt,
	}
}

// ActorSnapshot is the audited view of an actor; it never carries credentials.
type ActorSnapshot struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (a Actor) Snapshot() ActorSnapshot {
	return ActorSnapshot{ID: a.ID, Email: a.Email, Role: a.Role}
}

type AuditAction string

const (
	ActionCreate AuditAction = "CREATE"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"
)

const (
	EntityTask = "TASK"
	EntityUser = "USER"
)

type AuditEntry struct {
	ID         int64       `json:"id"`
	ActorID    string      `json:"actor_id"`
	Action     AuditAction `json:"action" enum:"CREATE,UPDATE,DELETE"`
	EntityKind string      `json:"entity_kind" enum:"TASK,USER"`
	EntityID   string      `json:"entity_id"`
	Before     *string     `json:"before,omitempty"`
	After      *string     `json:"after,omitempty"`
	TS         string      `json:"ts" format:"date-time"`
}
