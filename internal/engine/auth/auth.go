package auth

import (
	"errors"
	"fmt"

	"tasktrail/internal/domain"
)

// ErrInvalidToken covers bad signatures, expired or malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// ForbiddenError indicates the role may not perform the operation, or an
// instance rule denied it.
type ForbiddenError struct {
	Role      domain.Role
	Operation Operation
	Reason    string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Operation)
}

// Operation is a coarse operation class gated by role.
type Operation string

const (
	ListAllTasks        Operation = "LIST_ALL_TASKS"
	ListOwnTasks        Operation = "LIST_OWN_TASKS"
	CreateTask          Operation = "CREATE_TASK"
	UpdateTaskFull      Operation = "UPDATE_TASK_FULL"
	UpdateTaskStatusOwn Operation = "UPDATE_TASK_STATUS_OWN"
	DeleteTask          Operation = "DELETE_TASK"
	ListAllAudit        Operation = "LIST_ALL_AUDIT"
	ListOwnAudit        Operation = "LIST_OWN_AUDIT"
	ListUsers           Operation = "LIST_USERS"
	ListAssignableUsers Operation = "LIST_ASSIGNABLE_USERS"
	ChangeUserRole      Operation = "CHANGE_USER_ROLE"
)

// Operations lists every operation class.
var Operations = []Operation{
	ListAllTasks, ListOwnTasks, CreateTask, UpdateTaskFull, UpdateTaskStatusOwn, DeleteTask,
	ListAllAudit, ListOwnAudit, ListUsers, ListAssignableUsers, ChangeUserRole,
}

var capabilities = map[domain.Role]map[Operation]bool{
	domain.RoleAdmin: {
		ListAllTasks:        true,
		CreateTask:          true,
		UpdateTaskFull:      true,
		DeleteTask:          true,
		ListAllAudit:        true,
		ListOwnAudit:        true,
		ListUsers:           true,
		ListAssignableUsers: true,
		ChangeUserRole:      true,
	},
	domain.RoleManager: {
		ListAllTasks:        true,
		CreateTask:          true,
		UpdateTaskFull:      true,
		ListOwnAudit:        true,
		ListAssignableUsers: true,
	},
	domain.RoleMember: {
		ListOwnTasks:        true,
		UpdateTaskStatusOwn: true,
		ListOwnAudit:        true,
	},
	domain.RoleViewer: {
		ListAllTasks: true,
	},
}

// Allowed reports whether role may perform op. Unknown roles get nothing.
func Allowed(role domain.Role, op Operation) bool {
	return capabilities[role][op]
}

// Authorize returns a ForbiddenError unless the actor's role allows any of ops.
func Authorize(actor domain.Actor, ops ...Operation) error {
	for _, op := range ops {
		if Allowed(actor.Role, op) {
			return nil
		}
	}
	var op Operation
	if len(ops) > 0 {
		op = ops[0]
	}
	return ForbiddenError{Role: actor.Role, Operation: op}
}

// Capabilities returns the operations role may perform, in declaration order.
func Capabilities(role domain.Role) []Operation {
	var res []Operation
	for _, op := range Operations {
		if Allowed(role, op) {
			res = append(res, op)
		}
	}
	return res
}
