package authz

import "errors"

var (
	ErrNotFound         = errors.New("authz: not found")
	ErrConflict         = errors.New("authz: resource conflict")
	ErrInvalidInput     = errors.New("authz: invalid input")
	ErrSystemRole       = errors.New("authz: system role is immutable")
	ErrUnknownToken     = errors.New("authz: unknown permission token")
	ErrSeatsExhausted   = errors.New("authz: license seats exhausted")
	ErrStoreUnavailable = errors.New("authz: store unavailable")
)
