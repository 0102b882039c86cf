// internal/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Outcome sentinels. Every error returned by the registry, ledger and
// download catalog matches exactly one of these through errors.Is.
var (
	ErrNotFound         = stderrors.New("not found")
	ErrConflict         = stderrors.New("conflict")
	ErrUnknownProject   = stderrors.New("unknown project")
	ErrMalformedInput   = stderrors.New("malformed input")
	ErrUnauthorized     = stderrors.New("caller identity required")
	ErrStoreUnavailable = stderrors.New("store unavailable")
	ErrCancelled        = stderrors.New("cancelled")
	ErrTimeout          = stderrors.New("timeout")
)

// NotFoundError signals an absent project, commit or download.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when creating a record whose key is already taken.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnknownProjectError is returned when a commit targets a project that has no
// resolvable partition.
type UnknownProjectError struct {
	Project string
}

func (e *UnknownProjectError) Error() string {
	return fmt.Sprintf("project %q has no commit partition", e.Project)
}

func (e *UnknownProjectError) Is(target error) bool { return target == ErrUnknownProject }

// MalformedInputError wraps a parse or validation failure of caller input.
type MalformedInputError struct {
	Input string
	Err   error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed %s", e.Input)
	}
	return fmt.Sprintf("malformed %s: %v", e.Input, e.Err)
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Malformed builds a MalformedInputError.
func Malformed(input string, err error) error {
	return &MalformedInputError{Input: input, Err: err}
}

// StoreFailure classifies an error coming back from the document store.
// Cancellation and deadline expiry keep their own outcome so callers never
// mistake them for an outage (or for an absent record).
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, ErrCancelled, err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

// ErrInvalidSourceFormat is returned when a sync source in the config is not in
// 'project/branch=owner/repo' format.
type ErrInvalidSourceFormat struct {
	Source string
}

func (e *ErrInvalidSourceFormat) Error() string {
	return fmt.Sprintf("invalid sync source format: %q, expected 'project/branch=owner/repo'", e.Source)
}

func (e *ErrInvalidSourceFormat) Is(target error) bool { return target == ErrMalformedInput }
