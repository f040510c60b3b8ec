package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tasktrail/internal/domain"
)

const taskColumns = `id, title, description, status, assignee_id, created_by, created_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var description, assigneeID sql.NullString
	var status string
	if err := row.Scan(&t.ID, &t.Title, &description, &status, &assigneeID, &t.CreatedByID, &t.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Description = stringPtr(description)
	t.AssigneeID = stringPtr(assigneeID)
	return t, nil
}

// InsertTask stores t and returns it with the store-assigned id.
func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(title, description, status, assignee_id, created_by, created_at) VALUES (?,?,?,?,?,?)`,
		t.Title, nullableStringPtr(t.Description), string(t.Status), nullableStringPtr(t.AssigneeID), t.CreatedByID, t.CreatedAt)
	if err != nil {
		return t, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, err
	}
	t.ID = id
	return t, nil
}

// UpdateTask writes the mutable fields of t. Creator and creation time never change.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, assignee_id=? WHERE id=?`,
		t.Title, nullableStringPtr(t.Description), string(t.Status), nullableStringPtr(t.AssigneeID), t.ID)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return fmt.Errorf("task %d: %w", t.ID, err)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}
	return nil
}

type TaskFilters struct {
	AssigneeID string
	Status     domain.Status
}

// ListTasks returns tasks in store order (ascending id).
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
