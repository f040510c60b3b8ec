package engine

import (
	"context"

	"tasktrail/internal/domain"
	"tasktrail/internal/engine/auth"
	"tasktrail/internal/repo"
)

// ListAudit returns entries from every actor, filtered by f.
func (e Engine) ListAudit(ctx context.Context, actor domain.Actor, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	if err := e.authorize(actor, auth.ListAllAudit); err != nil {
		return nil, err
	}
	return e.Audit.ListAll(ctx, f)
}

// ListMyAudit returns only entries recorded for actor.
func (e Engine) ListMyAudit(ctx context.Context, actor domain.Actor, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	if err := e.authorize(actor, auth.ListOwnAudit); err != nil {
		return nil, err
	}
	return e.Audit.ListForActor(ctx, actor.ID, f)
}
