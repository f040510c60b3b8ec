package repo

import (
	"context"
	"errors"
	"testing"

	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/migrate"
)

func newRepo(t *testing.T) (Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}, ctx
}

func insertActor(t *testing.T, r Repo, ctx context.Context, id, email string, role domain.Role) {
	t.Helper()
	if err := r.InsertActor(ctx, domain.Actor{ID: id, Email: email, PasswordHash: "h", Role: role, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert actor %s: %v", id, err)
	}
}

func TestActorsByEmailAreCaseInsensitive(t *testing.T) {
	r, ctx := newRepo(t)
	insertActor(t, r, ctx, "a1", "Ann@Example.com", domain.RoleMember)

	a, err := r.GetActorByEmail(ctx, " ann@example.COM ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if a.ID != "a1" || a.Email != "ann@example.com" {
		t.Fatalf("unexpected actor: %+v", a)
	}
	err = r.InsertActor(ctx, domain.Actor{ID: "a2", Email: "ANN@example.com", PasswordHash: "h", Role: domain.RoleViewer, CreatedAt: "2024-01-01T00:00:00Z"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := r.GetActorByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateActorRole(t *testing.T) {
	r, ctx := newRepo(t)
	insertActor(t, r, ctx, "a1", "a1@example.com", domain.RoleMember)
	if err := r.UpdateActorRole(ctx, "a1", domain.RoleManager); err != nil {
		t.Fatalf("update role: %v", err)
	}
	a, err := r.GetActor(ctx, "a1")
	if err != nil || a.Role != domain.RoleManager {
		t.Fatalf("role = %s err=%v", a.Role, err)
	}
	if err := r.UpdateActorRole(ctx, "missing", domain.RoleViewer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	r, ctx := newRepo(t)
	insertActor(t, r, ctx, "m1", "m1@example.com", domain.RoleManager)
	insertActor(t, r, ctx, "u1", "u1@example.com", domain.RoleMember)
	assignee := "u1"

	first, err := r.InsertTask(ctx, domain.Task{Title: "one", Status: domain.StatusTodo, AssigneeID: &assignee, CreatedByID: "m1", CreatedAt: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := r.InsertTask(ctx, domain.Task{Title: "two", Status: domain.StatusDoing, CreatedByID: "m1", CreatedAt: "2024-01-01T00:00:01Z"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not ascending: %d then %d", first.ID, second.ID)
	}

	got, err := r.GetTask(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != nil || got.AssigneeID == nil || *got.AssigneeID != "u1" {
		t.Fatalf("unexpected task: %+v", got)
	}

	desc := "details"
	got.Description = &desc
	got.Status = domain.StatusDoing
	if err := r.UpdateTask(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	mine, err := r.ListTasks(ctx, TaskFilters{AssigneeID: "u1"})
	if err != nil || len(mine) != 1 || *mine[0].Description != "details" {
		t.Fatalf("list by assignee: %+v %v", mine, err)
	}
	doing, err := r.ListTasks(ctx, TaskFilters{Status: domain.StatusDoing})
	if err != nil || len(doing) != 2 {
		t.Fatalf("list by status: %d %v", len(doing), err)
	}

	if err := r.DeleteTask(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetTask(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := r.DeleteTask(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := r.UpdateTask(ctx, domain.Task{ID: 999, Title: "x", Status: domain.StatusTodo}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestAuditEntriesFilterAndCursor(t *testing.T) {
	r, ctx := newRepo(t)
	insertActor(t, r, ctx, "a1", "a1@example.com", domain.RoleAdmin)
	insertActor(t, r, ctx, "a2", "a2@example.com", domain.RoleManager)
	after := `{"status":"TODO"}`
	for _, e := range []domain.AuditEntry{
		{ActorID: "a1", Action: domain.ActionCreate, EntityKind: domain.EntityTask, EntityID: "1", After: &after},
		{ActorID: "a2", Action: domain.ActionUpdate, EntityKind: domain.EntityTask, EntityID: "1", Before: &after, After: &after},
		{ActorID: "a1", Action: domain.ActionUpdate, EntityKind: domain.EntityUser, EntityID: "a2", Before: &after, After: &after},
		{ActorID: "a1", Action: domain.ActionDelete, EntityKind: domain.EntityTask, EntityID: "1", Before: &after},
	} {
		e.TS = "2024-01-01T00:00:00Z"
		if _, err := r.InsertAuditEntry(ctx, e); err != nil {
			t.Fatalf("insert audit: %v", err)
		}
	}

	byActor, err := r.ListAuditEntries(ctx, AuditFilters{ActorID: "a1"})
	if err != nil || len(byActor) != 3 {
		t.Fatalf("by actor: %d %v", len(byActor), err)
	}
	tasks, err := r.ListAuditEntries(ctx, AuditFilters{EntityKind: domain.EntityTask, Action: domain.ActionUpdate})
	if err != nil || len(tasks) != 1 || tasks[0].ActorID != "a2" {
		t.Fatalf("by kind/action: %+v %v", tasks, err)
	}
	page, err := r.ListAuditEntries(ctx, AuditFilters{AfterID: byActor[0].ID, Limit: 2})
	if err != nil || len(page) != 2 || page[0].ID <= byActor[0].ID {
		t.Fatalf("cursor page: %+v %v", page, err)
	}
	if page[1].Before == nil || page[1].After == nil {
		t.Fatalf("snapshots not round-tripped: %+v", page[1])
	}

	if _, err := r.InsertAuditEntry(ctx, domain.AuditEntry{ActorID: "a1", Action: domain.ActionCreate}); err == nil {
		t.Fatalf("expected error for missing entity")
	}
}
