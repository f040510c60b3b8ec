package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"tasktrail/internal/domain"
	"tasktrail/internal/engine/auth"
	"tasktrail/internal/repo"
)

type TaskCreate struct {
	Title       string
	Description *string
	AssigneeID  *string
}

// TaskUpdate carries the requested fields. Nil fields are not part of the
// request and are never compared.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *domain.Status
	AssigneeID  *string
}

// Empty reports whether no recognized field was supplied.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil && u.AssigneeID == nil
}

func taskEntityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ListTasks returns every task for roles holding LIST_ALL_TASKS and only the
// actor's assigned tasks otherwise.
func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	if err := e.authorize(actor, auth.ListAllTasks, auth.ListOwnTasks); err != nil {
		return nil, err
	}
	if !auth.Allowed(actor.Role, auth.ListAllTasks) {
		f.AssigneeID = actor.ID
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return e.Repo.ListTasks(ctx, f)
}

// GetTask reads a single task under the same visibility rules as ListTasks.
func (e Engine) GetTask(ctx context.Context, actor domain.Actor, id int64) (domain.Task, error) {
	if err := e.authorize(actor, auth.ListAllTasks, auth.ListOwnTasks); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.Allowed(actor.Role, auth.ListAllTasks) && !t.AssignedTo(actor.ID) {
		return domain.Task{}, e.deny(actor, auth.ListOwnTasks, "task not assigned to current actor")
	}
	return t, nil
}

// CreateTask stores a TODO task created by actor and records a CREATE entry.
// An audit failure is returned after the task has been stored.
func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, in TaskCreate) (domain.Task, error) {
	if err := e.authorize(actor, auth.CreateTask); err != nil {
		return domain.Task{}, err
	}
	title, err := e.validateTitle(in.Title)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		Title:       title,
		Description: normalizeDescription(in.Description),
		Status:      domain.StatusTodo,
		CreatedByID: actor.ID,
		CreatedAt:   e.timestamp(),
	}
	if in.AssigneeID != nil {
		assignee, err := e.Repo.GetActor(ctx, *in.AssigneeID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("assignee: %w", err)
		}
		t.AssigneeID = &assignee.ID
	}
	t, err = e.Repo.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Audit.Record(ctx, actor.ID, domain.ActionCreate, domain.EntityTask, taskEntityID(t.ID), nil, t.Snapshot()); err != nil {
		return t, err
	}
	return t, nil
}

// UpdateTask applies the requested fields under the actor's role rules. When
// no compared field differs the stored task is returned with no write and no
// audit entry.
func (e Engine) UpdateTask(ctx context.Context, actor domain.Actor, id int64, in TaskUpdate) (domain.Task, error) {
	if err := e.authorize(actor, auth.UpdateTaskFull, auth.UpdateTaskStatusOwn); err != nil {
		return domain.Task{}, err
	}
	current, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	var next domain.Task
	var changed bool
	if auth.Allowed(actor.Role, auth.UpdateTaskFull) {
		next, changed, err = e.applyFull(ctx, current, in)
	} else {
		next, changed, err = e.applyStatusOwn(actor, current, in)
	}
	if err != nil {
		return domain.Task{}, err
	}
	if !changed {
		return current, nil
	}
	if err := e.Repo.UpdateTask(ctx, next); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Audit.Record(ctx, actor.ID, domain.ActionUpdate, domain.EntityTask, taskEntityID(id), current.Snapshot(), next.Snapshot()); err != nil {
		return next, err
	}
	return next, nil
}

// applyStatusOwn lets the assignee move status forward one step.
func (e Engine) applyStatusOwn(actor domain.Actor, t domain.Task, in TaskUpdate) (domain.Task, bool, error) {
	if !t.AssignedTo(actor.ID) {
		return t, false, e.deny(actor, auth.UpdateTaskStatusOwn, "task not assigned to current actor")
	}
	if in.Title != nil || in.Description != nil || in.AssigneeID != nil {
		return t, false, e.deny(actor, auth.UpdateTaskStatusOwn, "only status may be changed")
	}
	if in.Status == nil || *in.Status == t.Status {
		return t, false, nil
	}
	if !in.Status.Valid() {
		return t, false, ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *in.Status)}
	}
	if !forwardTransition(t.Status, *in.Status) {
		return t, false, ValidationError{Field: "status", Message: fmt.Sprintf("transition %s -> %s not allowed", t.Status, *in.Status)}
	}
	t.Status = *in.Status
	return t, true, nil
}

// applyFull sets any subset of title, description, status and assignee with
// no ordering constraint on status.
func (e Engine) applyFull(ctx context.Context, t domain.Task, in TaskUpdate) (domain.Task, bool, error) {
	changed := false
	if in.Title != nil {
		title, err := e.validateTitle(*in.Title)
		if err != nil {
			return t, false, err
		}
		if title != t.Title {
			t.Title = title
			changed = true
		}
	}
	if in.Description != nil {
		desc := normalizeDescription(in.Description)
		if !equalStringPtr(desc, t.Description) {
			t.Description = desc
			changed = true
		}
	}
	if in.Status != nil && *in.Status != t.Status {
		if !in.Status.Valid() {
			return t, false, ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *in.Status)}
		}
		t.Status = *in.Status
		changed = true
	}
	if in.AssigneeID != nil && !t.AssignedTo(*in.AssigneeID) {
		assignee, err := e.Repo.GetActor(ctx, *in.AssigneeID)
		if err != nil {
			return t, false, fmt.Errorf("assignee: %w", err)
		}
		t.AssigneeID = &assignee.ID
		changed = true
	}
	return t, changed, nil
}

// DeleteTask records the DELETE entry and then removes the task. If the entry
// cannot be recorded the task is kept.
func (e Engine) DeleteTask(ctx context.Context, actor domain.Actor, id int64) error {
	if err := e.authorize(actor, auth.DeleteTask); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.Audit.Record(ctx, actor.ID, domain.ActionDelete, domain.EntityTask, taskEntityID(id), t.Snapshot(), nil); err != nil {
		return err
	}
	return e.Repo.DeleteTask(ctx, id)
}

func forwardTransition(from, to domain.Status) bool {
	return (from == domain.StatusTodo && to == domain.StatusDoing) ||
		(from == domain.StatusDoing && to == domain.StatusDone)
}

func (e Engine) validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ValidationError{Field: "title", Message: "must not be empty"}
	}
	if limit := e.titleMaxLength(); utf8.RuneCountInString(title) > limit {
		return "", ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", limit)}
	}
	return title, nil
}

func normalizeDescription(d *string) *string {
	if d == nil || strings.TrimSpace(*d) == "" {
		return nil
	}
	s := *d
	return &s
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
