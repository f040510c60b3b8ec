package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktrail/internal/domain"
)

const actorColumns = `id, email, password_hash, role, created_at`

func scanActor(row interface{ Scan(...any) error }) (domain.Actor, error) {
	var a domain.Actor
	var role string
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.CreatedAt); err != nil {
		return domain.Actor{}, err
	}
	a.Role = domain.Role(role)
	return a, nil
}

// InsertActor stores a new actor. A taken email yields ErrDuplicate.
func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	if a.ID == "" || a.Email == "" {
		return errors.New("actor id and email required")
	}
	if !a.Role.Valid() {
		return fmt.Errorf("invalid role %q", a.Role)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?)`,
		a.ID, normalizeEmail(a.Email), a.PasswordHash, string(a.Role), a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("actor %s: %w", a.Email, ErrDuplicate)
	}
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	a, err := scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, fmt.Errorf("actor %s: %w", id, ErrNotFound)
	}
	return a, err
}

// GetActorByEmail is the identity lookup used for token subjects and logins.
func (r Repo) GetActorByEmail(ctx context.Context, email string) (domain.Actor, error) {
	a, err := scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE email=?`, normalizeEmail(email)))
	if err == sql.ErrNoRows {
		return a, fmt.Errorf("actor %s: %w", email, ErrNotFound)
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateActorRole(ctx context.Context, id string, role domain.Role) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET role=? WHERE id=?`, string(role), id)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return fmt.Errorf("actor %s: %w", id, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
