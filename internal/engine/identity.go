package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"tasktrail/internal/domain"
	"tasktrail/internal/repo"
)

// Resolve loads the current actor for a verified token subject. The role is
// always read from the store, never from the token.
func (e Engine) Resolve(ctx context.Context, subject string) (domain.Actor, error) {
	if strings.TrimSpace(subject) == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return e.Repo.GetActorByEmail(ctx, subject)
}

// Authenticate verifies a bearer token and resolves its actor.
func (e Engine) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	subject, err := e.Tokens.Verify(token)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return e.Resolve(ctx, subject)
}

// Register creates a MEMBER actor and returns it with a fresh token.
func (e Engine) Register(ctx context.Context, email, password string) (domain.Actor, string, error) {
	a, err := e.createActor(ctx, email, password, domain.RoleMember)
	if err != nil {
		return a, "", err
	}
	token, err := e.Tokens.Issue(a.Email)
	if err != nil {
		return a, "", err
	}
	return a, token, nil
}

// Login checks credentials and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (e Engine) Login(ctx context.Context, email, password string) (string, error) {
	a, err := e.Repo.GetActorByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.AuthFailed("unknown_identity")
			return "", fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		}
		return "", err
	}
	if !e.Hasher.Verify(password, a.PasswordHash) {
		e.Metrics.AuthFailed("bad_password")
		return "", fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	}
	return e.Tokens.Issue(a.Email)
}

// IssueToken mints a token for an existing actor without a password check.
// Used by local tooling only.
func (e Engine) IssueToken(ctx context.Context, email string) (string, error) {
	a, err := e.Resolve(ctx, email)
	if err != nil {
		return "", err
	}
	return e.Tokens.Issue(a.Email)
}

// EnsureActor creates the actor if the email is unknown. Existing actors are
// left untouched, including their role.
func (e Engine) EnsureActor(ctx context.Context, email, password string, role domain.Role) (domain.Actor, bool, error) {
	existing, err := e.Repo.GetActorByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, false, err
	}
	a, err := e.createActor(ctx, email, password, role)
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

func (e Engine) createActor(ctx context.Context, email, password string, role domain.Role) (domain.Actor, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.Actor{}, err
	}
	if !role.Valid() {
		return domain.Actor{}, ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	if _, err := e.Repo.GetActorByEmail(ctx, email); err == nil {
		return domain.Actor{}, fmt.Errorf("%w: email %s already registered", ErrConflict, email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, err
	}
	hash, err := e.Hasher.Hash(password)
	if err != nil {
		return domain.Actor{}, ValidationError{Field: "password", Message: err.Error()}
	}
	a := domain.Actor{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    e.timestamp(),
	}
	if err := e.Repo.InsertActor(ctx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Actor{}, fmt.Errorf("%w: email %s already registered", ErrConflict, email)
		}
		return domain.Actor{}, err
	}
	return a, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	return email, nil
}
