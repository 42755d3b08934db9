// Package state persists migration sessions. Every backend stores one JSON
// record per session, rejects stale writes with an optimistic version check
// and offers an exclusive lease for the duration of a run.
package state

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Store is durable session storage. Errors for unknown, corrupt or contended
// sessions are *models.SessionNotFoundError, *models.SessionCorruptError and
// *models.SessionConflictError.
type Store interface {
	// Create writes a new session. It fails with a conflict if the id exists.
	Create(ctx context.Context, sess *models.Session) error
	// Load reads a session, migrating older schema versions.
	Load(ctx context.Context, id string) (*models.Session, error)
	// Save writes sess if the stored version equals sess.Version, then
	// increments sess.Version.
	Save(ctx context.Context, sess *models.Session) error
	// List returns summaries of all readable sessions, newest first.
	List(ctx context.Context) ([]models.SessionSummary, error)
	// Delete removes a session. It fails with a conflict while leased.
	Delete(ctx context.Context, id string) error
	// Acquire takes exclusive write ownership of a session.
	Acquire(ctx context.Context, id string) (Lease, error)
}

// Lease is exclusive ownership of a session.
type Lease interface {
	Release() error
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

func sortSummaries(out []models.SessionSummary) {
	slices.SortFunc(out, func(a, b models.SessionSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func conflict(id string, format string, args ...any) error {
	return &models.SessionConflictError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
