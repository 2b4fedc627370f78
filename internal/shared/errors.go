package shared

import "errors"

// CSRF verification failures. The middleware maps both to 403 without
// detail, so the split only matters for logs.
var (
	ErrCSRFTokenMissing  = errors.New("csrf token missing")
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
