package handlers

// Stable machine-readable error codes carried in the ErrorResponse envelope.
// Generic codes mirror HTTP status semantics; the rest name the operation
// that failed so clients can branch without parsing messages. Codes are
// lowercase snake_case and never change once shipped.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Operation-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeSaveFailed       = "save_failed"
	ErrCodeDeleteFailed     = "delete_failed"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeRunDisabled      = "run_disabled"
	ErrCodeRunFailed        = "run_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
