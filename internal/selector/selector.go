// Package selector chooses the migration path for a deployment.
package selector

import (
	"fmt"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Select returns the migration path for the deployment with the given id.
// An explicit hint wins. Otherwise any data source the search tool cannot
// serve selects knowledge base retrieval, and the search tool is the default.
func Select(discovery *models.DiscoveryResult, deploymentID string, hint models.MigrationPath) models.MigrationPath {
	if hint != "" {
		return hint
	}
	if discovery != nil {
		if dep, ok := discovery.Find(deploymentID); ok && dep.Deployment != nil {
			for _, ds := range dep.Deployment.DataSources {
				if !ds.SupportsDirectIndex() {
					return models.PathKnowledgeBaseRetrieval
				}
			}
		}
	}
	return models.PathDirectIndexTool
}

// Unsupported lists the data sources of a deployment the search tool cannot serve.
func Unsupported(dep models.Resource) []models.DataSource {
	if dep.Deployment == nil {
		return nil
	}
	var out []models.DataSource
	for _, ds := range dep.Deployment.DataSources {
		if !ds.SupportsDirectIndex() {
			out = append(out, ds)
		}
	}
	return out
}

// Reconcile keeps the stored path. When a fresh evaluation disagrees, the
// returned record describes the conflict.
func Reconcile(stored, recomputed models.MigrationPath, now time.Time) (models.MigrationPath, *models.ErrorRecord) {
	if stored == "" {
		return recomputed, nil
	}
	if stored == recomputed {
		return stored, nil
	}
	return stored, &models.ErrorRecord{
		Kind:     models.KindPathSelectionConflict,
		Severity: models.SeverityWarning,
		Stage:    models.StepPathSelected.String(),
		Message:  fmt.Sprintf("re-evaluation selects %s but the session keeps %s; roll back to change it", recomputed, stored),
		At:       now,
	}
}
