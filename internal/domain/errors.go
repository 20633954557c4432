package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency. Operations wrap one
// of these with a caller-visible reason:
//
//	fmt.Errorf("%w: lock amount below minimum", domain.ErrInvalidInput)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrResourceLimit     = errors.New("resource limit exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInternal          = errors.New("internal error")
	ErrNetwork           = errors.New("network error")
	ErrAlreadyExists     = errors.New("already exists")
)

// Kind classifies an error for callers (HTTP status mapping, CLI exit text).
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindUnauthorized      Kind = "Unauthorized"
	KindInvalidInput      Kind = "InvalidInput"
	KindInvalidState      Kind = "InvalidState"
	KindResourceLimit     Kind = "ResourceLimit"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindInternal          Kind = "InternalError"
	KindNetwork           Kind = "NetworkError"
	KindAlreadyExists     Kind = "AlreadyExists"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidState, KindInvalidState},
	{ErrResourceLimit, KindResourceLimit},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrInternal, KindInternal},
	{ErrNetwork, KindNetwork},
	{ErrAlreadyExists, KindAlreadyExists},
}

// KindOf returns the kind of err. Errors that wrap no sentinel are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Reason returns the caller-visible text of err. Errors that wrap no
// sentinel may carry infrastructure detail and are reported generically.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return err.Error()
		}
	}
	return ErrInternal.Error()
}
