package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasktrail/internal/audit"
	"tasktrail/internal/config"
	"tasktrail/internal/credentials"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine/auth"
	"tasktrail/internal/metrics"
	"tasktrail/internal/repo"
)

var (
	// ErrUnauthenticated means no usable identity was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrConflict means the identity is already registered.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports unprocessable input, including illegal status
// transitions.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Engine executes every task, user and audit operation for an explicit actor.
type Engine struct {
	Repo    repo.Repo
	Audit   audit.Trail
	Tokens  auth.TokenCodec
	Hasher  credentials.Hasher
	Config  *config.Config
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, tokens auth.TokenCodec, m *metrics.Metrics) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		Repo:    r,
		Audit:   audit.New(r, m),
		Tokens:  tokens,
		Hasher:  credentials.Bcrypt{},
		Config:  cfg,
		Metrics: m,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// authorize gates an operation class before any store access.
func (e Engine) authorize(actor domain.Actor, ops ...auth.Operation) error {
	err := auth.Authorize(actor, ops...)
	if err != nil {
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			e.Metrics.Denied(string(fe.Role), string(fe.Operation))
		}
	}
	return err
}

func (e Engine) deny(actor domain.Actor, op auth.Operation, reason string) error {
	e.Metrics.Denied(string(actor.Role), string(op))
	return auth.ForbiddenError{Role: actor.Role, Operation: op, Reason: reason}
}

func (e Engine) titleMaxLength() int {
	if e.Config != nil && e.Config.Tasks.TitleMaxLength > 0 {
		return e.Config.Tasks.TitleMaxLength
	}
	return 200
}
