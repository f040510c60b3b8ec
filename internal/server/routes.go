package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/repo"
)

const maxPageSize = 200

func (h handlers) tokenResponse(token string) TokenResponse {
	return TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: h.e.Tokens.ExpiresAt().UTC().Format(time.RFC3339),
	}
}

func (h handlers) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register a MEMBER account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body RegisterResponse `json:"body"`
	}, error) {
		a, token, err := h.e.Register(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, h.fail("register", err)
		}
		h.log.Info("actor registered", "id", a.ID, "email", a.Email)
		return &struct {
			Body RegisterResponse `json:"body"`
		}{Body: RegisterResponse{User: actorResponse(a), Token: h.tokenResponse(token)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		token, err := h.e.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			h.log.Warn("login failed", "email", input.Body.Email)
			return nil, h.fail("login", err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: h.tokenResponse(token)}, nil
	})
}

func (h handlers) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/users/me",
		Summary:     "Current actor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(actor)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List all actors",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ActorResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := h.e.ListUsers(ctx, actor)
		if err != nil {
			return nil, h.fail("list-users", err)
		}
		return &struct {
			Body []ActorResponse `json:"body"`
		}{Body: mapActors(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignable-users",
		Method:      http.MethodGet,
		Path:        "/users/assignable",
		Summary:     "List actors a task can be assigned to",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ActorResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := h.e.ListAssignableUsers(ctx, actor)
		if err != nil {
			return nil, h.fail("list-assignable-users", err)
		}
		return &struct {
			Body []ActorResponse `json:"body"`
		}{Body: mapActors(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-user-role",
		Method:      http.MethodPut,
		Path:        "/users/{id}/role",
		Summary:     "Change an actor's role",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ChangeRoleRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := h.e.ChangeRole(ctx, actor, input.ID, domain.Role(input.Body.Role))
		if err != nil {
			return nil, h.fail("change-user-role", err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(updated)}, nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"TODO,DOING,DONE"`
		AssigneeID string `query:"assignee_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := h.e.ListTasks(ctx, actor, repo.TaskFilters{AssigneeID: input.AssigneeID, Status: domain.Status(input.Status)})
		if err != nil {
			return nil, h.fail("list-tasks", err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.CreateTask(ctx, actor, engine.TaskCreate{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssigneeID:  input.Body.AssigneeID,
		})
		if err != nil {
			return nil, h.fail("create-task", err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.GetTask(ctx, actor, input.ID)
		if err != nil {
			return nil, h.fail("get-task", err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Description: "Only fields present and different from the stored value are applied. A request that changes nothing returns the task unchanged and records no audit entry.",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.TaskUpdate{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssigneeID:  input.Body.AssigneeID,
		}
		if input.Body.Status != nil {
			s := domain.Status(*input.Body.Status)
			in.Status = &s
		}
		t, err := h.e.UpdateTask(ctx, actor, input.ID, in)
		if err != nil {
			return nil, h.fail("update-task", err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteTask(ctx, actor, input.ID); err != nil {
			return nil, h.fail("delete-task", err)
		}
		return nil, nil
	})
}

type auditQuery struct {
	ActorID    string `query:"actor_id"`
	EntityKind string `query:"entity_kind" enum:"TASK,USER"`
	EntityID   string `query:"entity_id"`
	Action     string `query:"action" enum:"CREATE,UPDATE,DELETE"`
	Limit      int    `query:"limit" default:"50" minimum:"1"`
	Cursor     string `query:"cursor"`
}

func (q auditQuery) filters() (repo.AuditFilters, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	f := repo.AuditFilters{
		ActorID:    q.ActorID,
		EntityKind: q.EntityKind,
		EntityID:   q.EntityID,
		Action:     domain.AuditAction(q.Action),
		Limit:      limit + 1,
	}
	if q.Cursor != "" {
		id, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil || id < 0 {
			return f, 0, fmt.Errorf("invalid cursor %q", q.Cursor)
		}
		f.AfterID = id
	}
	return f, limit, nil
}

func pageAudit(items []domain.AuditEntry, limit int) paginatedAudit {
	resp := paginatedAudit{Items: []AuditEntryResponse{}}
	if len(items) > limit {
		items = items[:limit]
		resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
	}
	for _, e := range items {
		resp.Items = append(resp.Items, auditEntryResponse(e))
	}
	return resp
}

func (h handlers) registerAudit(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries from every actor",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *auditQuery) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, err := input.filters()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"cursor": input.Cursor})
		}
		items, err := h.e.ListAudit(ctx, actor, f)
		if err != nil {
			return nil, h.fail("list-audit", err)
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: pageAudit(items, limit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-audit",
		Method:      http.MethodGet,
		Path:        "/audit/me",
		Summary:     "List audit entries recorded for the current actor",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *auditQuery) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, err := input.filters()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"cursor": input.Cursor})
		}
		items, err := h.e.ListMyAudit(ctx, actor, f)
		if err != nil {
			return nil, h.fail("list-my-audit", err)
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: pageAudit(items, limit)}, nil
	})
}
