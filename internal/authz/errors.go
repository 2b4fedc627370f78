package authz

import "errors"

// Sentinel errors returned by the authorization core. Handlers map
// these to problem responses; the core never renders messages itself.
var (
	// ErrValidation indicates malformed input such as an unknown
	// decision value or role code.
	ErrValidation = errors.New("authz: validation failed")
	// ErrPermissionDenied indicates insufficient authority level or
	// line-of-business scope.
	ErrPermissionDenied = errors.New("authz: permission denied")
	// ErrNotFound indicates an unknown change-request id.
	ErrNotFound = errors.New("authz: not found")
	// ErrCollaborator wraps failures from the storage or identity
	// collaborators.
	ErrCollaborator = errors.New("authz: collaborator failure")
)
