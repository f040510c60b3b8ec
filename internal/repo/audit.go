package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tasktrail/internal/domain"
)

// InsertAuditEntry appends an entry and returns it with its id. Entries are never updated.
func (r Repo) InsertAuditEntry(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	if e.ActorID == "" || e.EntityKind == "" || e.EntityID == "" {
		return e, errors.New("actor_id, entity_kind and entity_id required")
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO audit_entries(actor_id, action, entity_kind, entity_id, before_json, after_json, ts) VALUES (?,?,?,?,?,?,?)`,
		e.ActorID, string(e.Action), e.EntityKind, e.EntityID, nullableStringPtr(e.Before), nullableStringPtr(e.After), e.TS)
	if err != nil {
		return e, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return e, err
	}
	e.ID = id
	return e, nil
}

type AuditFilters struct {
	ActorID    string
	EntityKind string
	EntityID   string
	Action     domain.AuditAction
	// AfterID returns only entries with a larger id (cursor).
	AfterID int64
	// Limit of 0 means no limit.
	Limit int
}

// ListAuditEntries returns entries in append order.
func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, string(f.Action))
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := `SELECT id, actor_id, action, entity_kind, entity_id, before_json, after_json, ts FROM audit_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.EntityKind, &e.EntityID, &before, &after, &e.TS); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.Before = stringPtr(before)
		e.After = stringPtr(after)
		res = append(res, e)
	}
	return res, rows.Err()
}
