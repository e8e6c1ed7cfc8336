package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoteNotFound       = errors.New("note not found")
	ErrStorageUnavailable = errors.New("local storage unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrOffline            = errors.New("remote unreachable")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConnectivityError covers transport failures and server-side 5xx answers.
// It is retried on the next scheduled cycle.
type ConnectivityError struct {
	Op     string
	Status int
	Err    error
}

func (e *ConnectivityError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// AuthError is a 401/403 answer. The stored credential must be cleared.
type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, http.StatusText(e.Status), e.Status)
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// ConflictError carries the remote's current record after a stale push.
type ConflictError struct {
	ServerNote *Note
}

func (e *ConflictError) Error() string {
	if e.ServerNote == nil {
		return "conflict detected"
	}
	return fmt.Sprintf("conflict detected: server holds version %d of %s", e.ServerNote.Version, e.ServerNote.ID)
}

func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
