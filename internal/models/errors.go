package models

import (
	"errors"
	"fmt"
)

var (
	ErrClassification      = errors.New("classification failed")
	ErrBackendUnavailable  = errors.New("completion backend unavailable")
	ErrInvalidPatch        = errors.New("invalid patch")
	ErrMergeInvariant      = errors.New("merge invariant violation")
	ErrIterationInProgress = errors.New("iteration already in progress")
	ErrArtifactNotFound    = errors.New("artifact not found")
)

// ClassificationError is returned when the backend's intent could not be
// parsed or validated after all attempts.
type ClassificationError struct {
	Attempts int
	Raw      string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() []error { return []error{ErrClassification, e.Err} }

// InvalidPatchError carries the stage at which a patch was rejected.
type InvalidPatchError struct {
	Stage string // parse, validate, apply, verify
	Err   error
}

func (e *InvalidPatchError) Error() string {
	return fmt.Sprintf("invalid patch (%s): %v", e.Stage, e.Err)
}

func (e *InvalidPatchError) Unwrap() []error { return []error{ErrInvalidPatch, e.Err} }

// MergeInvariantError aborts a split-and-merge before anything is written.
type MergeInvariantError struct {
	Section string
	Reason  string
	Err     error
}

func (e *MergeInvariantError) Error() string {
	msg := "merge invariant violation"
	if e.Section != "" {
		msg += " in " + e.Section
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MergeInvariantError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMergeInvariant}
	}
	return []error{ErrMergeInvariant, e.Err}
}
