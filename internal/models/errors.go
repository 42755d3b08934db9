package models

import (
	"fmt"
	"time"
)

// ErrorKind names an entry of the error taxonomy.
type ErrorKind string

const (
	KindDiscoveryError        ErrorKind = "DiscoveryError"
	KindPartialDiscovery      ErrorKind = "PartialDiscoveryWarning"
	KindPathSelectionConflict ErrorKind = "PathSelectionConflict"
	KindUnmappedField         ErrorKind = "UnmappedFieldWarning"
	KindIndexScopeWidened     ErrorKind = "IndexScopeWidened"
	KindProvisioningTimeout   ErrorKind = "ProvisioningTimeout"
	KindFatalProvisioning     ErrorKind = "FatalProvisioningError"
	KindValidationFailure     ErrorKind = "ValidationFailure"
	KindCitationMissing       ErrorKind = "CitationMissing"
	KindMissingRoleAssignment ErrorKind = "MissingRoleAssignment"
	KindCancelled             ErrorKind = "Cancelled"
	KindRollback              ErrorKind = "Rollback"
)

// Severity of an ErrorRecord or a validation finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ErrorRecord is one entry of a session's append-only error log.
type ErrorRecord struct {
	Kind     ErrorKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Stage    string    `json:"stage,omitempty"`
	Step     string    `json:"step,omitempty"`
	Resource string    `json:"resource,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// DiscoveryError reports that a resource collection could not be enumerated.
type DiscoveryError struct {
	Collection ResourceKind
	Scope      string
	Err        error
}

var _ error = (*DiscoveryError)(nil)

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to enumerate %s in %s: %v", e.Collection, e.Scope, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// PartialDiscoveryWarning reports a single resource that could not be enumerated.
type PartialDiscoveryWarning struct {
	Kind       ResourceKind
	ResourceID string
	Err        error
}

var _ error = (*PartialDiscoveryWarning)(nil)

func (e *PartialDiscoveryWarning) Error() string {
	return fmt.Sprintf("skipped %s listing for %s: %v", e.Kind, e.ResourceID, e.Err)
}

func (e *PartialDiscoveryWarning) Unwrap() error { return e.Err }

// TransientProvisioningError marks an error as likely to resolve with time.
type TransientProvisioningError struct {
	Err error
}

var _ error = (*TransientProvisioningError)(nil)

func (e *TransientProvisioningError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientProvisioningError) Unwrap() error { return e.Err }

// ProvisioningTimeout is returned when the retry budget is exhausted.
type ProvisioningTimeout struct {
	Step     string
	Attempts int
	Err      error
}

var _ error = (*ProvisioningTimeout)(nil)

func (e *ProvisioningTimeout) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("step %s gave up after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *ProvisioningTimeout) Unwrap() error { return e.Err }

// FatalProvisioningError is returned for errors that retrying will not fix.
type FatalProvisioningError struct {
	Step string
	Err  error
}

var _ error = (*FatalProvisioningError)(nil)

func (e *FatalProvisioningError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("fatal: %v", e.Err)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *FatalProvisioningError) Unwrap() error { return e.Err }

// IndexScopeError is returned when a widened index scope was not confirmed.
type IndexScopeError struct {
	Connection string
	IndexName  string
}

var _ error = (*IndexScopeError)(nil)

func (e *IndexScopeError) Error() string {
	return fmt.Sprintf("index name could not be read from the source; using %q on connection %s was not confirmed", e.IndexName, e.Connection)
}

// SessionNotFoundError is returned for an unknown session id.
type SessionNotFoundError struct {
	ID string
}

var _ error = (*SessionNotFoundError)(nil)

func (e *SessionNotFoundError) Error() string { return fmt.Sprintf("session %s not found", e.ID) }

// SessionCorruptError is returned when a stored record cannot be decoded or migrated.
type SessionCorruptError struct {
	ID     string
	Reason string
	Err    error
}

var _ error = (*SessionCorruptError)(nil)

func (e *SessionCorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s is corrupt: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("session %s is corrupt: %s", e.ID, e.Reason)
}

func (e *SessionCorruptError) Unwrap() error { return e.Err }

// SessionConflictError is returned when another writer owns the session.
type SessionConflictError struct {
	ID     string
	Reason string
}

var _ error = (*SessionConflictError)(nil)

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session %s is in use: %s", e.ID, e.Reason)
}

// RunError is the terminal error of an orchestrator run.
type RunError struct {
	SessionID string
	Stage     string
	Step      string
	Err       error
	Resumable bool
}

var _ error = (*RunError)(nil)

func (e *RunError) Error() string {
	where := e.Stage
	if e.Step != "" {
		where = fmt.Sprintf("%s (step %s)", e.Stage, e.Step)
	}
	hint := "session cannot be resumed; roll it back or start a new session"
	if e.Resumable {
		hint = fmt.Sprintf("resume with: migrate interactive --resume %s", e.SessionID)
	}
	return fmt.Sprintf("session %s stopped at %s: %v; %s", e.SessionID, where, e.Err, hint)
}

func (e *RunError) Unwrap() error { return e.Err }
