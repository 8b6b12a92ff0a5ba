package apperrors

import (
	"errors"
	"net/http"
)

// 协议层使用的哨兵错误。服务层用 fmt.Errorf("%w") 包装它们，
// 边界处用 errors.Is 判断类别。
var (
	// ErrForbidden indicates the caller is not allowed to act on the target,
	// e.g. the sender is not a member of the conversation, or the editor is
	// not the original sender.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the referenced message or receipt entry does not
	// exist. Never swallowed silently: a dropped ack would leave the receipt
	// in undelivered limbo forever.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate client-generated message id on
	// append. Callers treat it as "already done", not as a user-visible
	// failure, so that send retries are idempotent.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates a missing or invalid identity assertion.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest indicates a malformed client event or query parameter.
	ErrBadRequest = errors.New("bad request")
)

// IsClientFault reports whether the error belongs to the sentinel taxonomy
// and is therefore safe to surface to the initiating client verbatim.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrBadRequest)
}

// HTTPStatusFromError maps a (possibly wrapped) sentinel error to the HTTP
// status used by the REST read API.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
