package model

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Both the memory store and the Postgres repository
// return these so callers never depend on driver errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrStaleState      = errors.New("record state changed concurrently")
	ErrBatchTerminal   = errors.New("batch already terminal")
)

var (
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrOwnerRequired           = errors.New("owner is required")
	ErrForbidden               = errors.New("action not permitted for role")
	ErrSweepInProgress         = errors.New("dedup sweep already running")
)

// MalformedFileError aborts a whole batch before any row is processed.
type MalformedFileError struct {
	Reason string
	Err    error
}

func (e *MalformedFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed file: %s: %v", e.Reason, e.Err)
	}
	return "malformed file: " + e.Reason
}

func (e *MalformedFileError) Unwrap() error { return e.Err }

// RowError is a non-fatal failure attached to one input row. Column is empty
// for row-level failures such as duplicate keys or write errors.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Column, e.Message)
}

// DuplicateKeyError reports an exact dedup-key collision, either against a
// committed record or an earlier row of the same batch.
type DuplicateKeyError struct {
	Kind     RecordKind
	Key      string
	FirstRow int
}

func (e *DuplicateKeyError) Error() string {
	if e.FirstRow > 0 {
		return fmt.Sprintf("duplicate %s: same key as row %d", e.Kind, e.FirstRow)
	}
	return fmt.Sprintf("duplicate %s: a record with the same key already exists", e.Kind)
}

// InvalidTransitionError is returned when a lifecycle call does not start from
// the state it requires. No state changes accompany it.
type InvalidTransitionError struct {
	Kind   RecordKind
	ID     string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %q", e.Action, e.Kind, e.ID, e.From)
}

// ParentNotApprovedError blocks person creation under a non-approved parent.
type ParentNotApprovedError struct {
	OrganizationID string
	Status         OrganizationStatus
}

func (e *ParentNotApprovedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("organization %s does not exist", e.OrganizationID)
	}
	return fmt.Sprintf("organization %s is %s, not approved", e.OrganizationID, e.Status)
}

type UnknownSubjectError struct {
	Kind SubjectKind
	ID   string
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("no %s with id %s", e.Kind, e.ID)
}

type DuplicateAssignmentError struct {
	Kind    SubjectKind
	ID      string
	OwnerID string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("owner %s already assigned to %s %s", e.OwnerID, e.Kind, e.ID)
}
