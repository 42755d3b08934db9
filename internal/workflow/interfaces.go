// Package workflow drives a migration session through discovery, path
// selection, mapping, provisioning and validation.
package workflow

import (
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/provision"
)

// Handler implements the path-specific parts of a migration.
// Each handler serves exactly one migration path.
type Handler interface {
	// Name returns a display name (e.g., "Azure AI Search tool")
	Name() string

	// Path returns the migration path the handler serves
	Path() models.MigrationPath

	// Plan returns the ordered provisioning steps for a mapped session
	Plan(sess *models.Session) ([]provision.Step, error)

	// RequiredRoles returns the role assignments the provisioned agent needs
	RequiredRoles(sess *models.Session) []models.RoleRequirement
}
