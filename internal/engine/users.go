package engine

import (
	"context"
	"fmt"

	"tasktrail/internal/domain"
	"tasktrail/internal/engine/auth"
)

func (e Engine) ListUsers(ctx context.Context, actor domain.Actor) ([]domain.Actor, error) {
	if err := e.authorize(actor, auth.ListUsers); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx)
}

// ListAssignableUsers returns every actor a task may be assigned to.
func (e Engine) ListAssignableUsers(ctx context.Context, actor domain.Actor) ([]domain.Actor, error) {
	if err := e.authorize(actor, auth.ListAssignableUsers); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx)
}

// ChangeRole sets the role of the target actor. A USER UPDATE entry is
// recorded only when the role actually changes.
func (e Engine) ChangeRole(ctx context.Context, actor domain.Actor, targetID string, role domain.Role) (domain.Actor, error) {
	if err := e.authorize(actor, auth.ChangeUserRole); err != nil {
		return domain.Actor{}, err
	}
	if !role.Valid() {
		return domain.Actor{}, ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	target, err := e.Repo.GetActor(ctx, targetID)
	if err != nil {
		return domain.Actor{}, err
	}
	if target.Role == role {
		return target, nil
	}
	before := target.Snapshot()
	if err := e.Repo.UpdateActorRole(ctx, target.ID, role); err != nil {
		return domain.Actor{}, err
	}
	target.Role = role
	if _, err := e.Audit.Record(ctx, actor.ID, domain.ActionUpdate, domain.EntityUser, target.ID, before, target.Snapshot()); err != nil {
		return target, err
	}
	return target, nil
}
