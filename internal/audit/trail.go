package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tasktrail/internal/domain"
	"tasktrail/internal/metrics"
	"tasktrail/internal/repo"
)

// SerializationError means a snapshot could not be encoded. The mutation it
// describes has usually already been committed; callers must surface it and
// must not retry.
type SerializationError struct {
	Side string
	Err  error
}

func (e SerializationError) Error() string {
	return fmt.Sprintf("serialize audit %s snapshot: %v", e.Side, e.Err)
}

func (e SerializationError) Unwrap() error { return e.Err }

// Trail appends and reads audit entries.
type Trail struct {
	Repo    repo.Repo
	Now     func() time.Time
	Encode  func(any) ([]byte, error)
	Metrics *metrics.Metrics
}

func New(r repo.Repo, m *metrics.Metrics) Trail {
	return Trail{Repo: r, Now: time.Now, Encode: json.Marshal, Metrics: m}
}

// Record stores one entry synchronously. A nil before or after is stored as absent.
func (t Trail) Record(ctx context.Context, actorID string, action domain.AuditAction, entityKind, entityID string, before, after any) (domain.AuditEntry, error) {
	beforeJSON, err := t.encode(before)
	if err != nil {
		t.Metrics.AuditFailed()
		return domain.AuditEntry{}, SerializationError{Side: "before", Err: err}
	}
	afterJSON, err := t.encode(after)
	if err != nil {
		t.Metrics.AuditFailed()
		return domain.AuditEntry{}, SerializationError{Side: "after", Err: err}
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	entry, err := t.Repo.InsertAuditEntry(ctx, domain.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityKind: entityKind,
		EntityID:   entityID,
		Before:     beforeJSON,
		After:      afterJSON,
		TS:         now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Metrics.AuditFailed()
		return entry, fmt.Errorf("append audit entry: %w", err)
	}
	t.Metrics.AuditRecorded(string(action), entityKind)
	return entry, nil
}

func (t Trail) encode(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	enc := t.Encode
	if enc == nil {
		enc = json.Marshal
	}
	b, err := enc(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ListAll returns every entry matching f.
func (t Trail) ListAll(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	return t.Repo.ListAuditEntries(ctx, f)
}

// ListForActor returns only entries recorded for actorID, whatever f.ActorID says.
func (t Trail) ListForActor(ctx context.Context, actorID string, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	if actorID == "" {
		return nil, fmt.Errorf("actor id required")
	}
	f.ActorID = actorID
	return t.Repo.ListAuditEntries(ctx, f)
}
