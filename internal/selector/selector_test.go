package selector

import (
	"testing"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const depID = "/subscriptions/s/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/chat"

func snapshot(sources ...models.DataSource) *models.DiscoveryResult {
	return &models.DiscoveryResult{
		Resources: []models.Resource{{
			ID:   depID,
			Kind: models.KindDeployment,
			Name: "chat",
			Deployment: &models.DeploymentDetails{
				AccountName: "aoai",
				DataSources: sources,
			},
		}},
	}
}

func TestSelect(t *testing.T) {
	search := models.DataSource{Type: models.SourceAzureSearch, Endpoint: "https://srch.search.windows.net", IndexName: "docs"}
	sharepoint := models.DataSource{Type: models.SourceSharePoint, Endpoint: "https://contoso.sharepoint.com/sites/hr"}
	blobWithIndex := models.DataSource{Type: models.SourceBlobStorage, IndexName: "blob-idx"}
	cosmos := models.DataSource{Type: models.SourceCosmosDB, DatabaseName: "db"}

	tests := []struct {
		name     string
		snapshot *models.DiscoveryResult
		hint     models.MigrationPath
		want     models.MigrationPath
	}{
		{"search only defaults to direct", snapshot(search), "", models.PathDirectIndexTool},
		{"sharepoint selects knowledge base", snapshot(sharepoint), "", models.PathKnowledgeBaseRetrieval},
		{"mixed sources select knowledge base", snapshot(search, cosmos), "", models.PathKnowledgeBaseRetrieval},
		{"blob with index stays direct", snapshot(blobWithIndex), "", models.PathDirectIndexTool},
		{"hint wins over unsupported source", snapshot(sharepoint), models.PathDirectIndexTool, models.PathDirectIndexTool},
		{"hint wins over default", snapshot(search), models.PathKnowledgeBaseRetrieval, models.PathKnowledgeBaseRetrieval},
		{"nil snapshot defaults to direct", nil, "", models.PathDirectIndexTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.snapshot, depID, tt.hint))
		})
	}
}

func TestSelectIsRepeatable(t *testing.T) {
	snap := snapshot(models.DataSource{Type: models.SourceSharePoint})
	first := Select(snap, depID, "")
	for range 5 {
		assert.Equal(t, first, Select(snap, depID, ""))
	}
}

func TestReconcile(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, warn := Reconcile("", models.PathDirectIndexTool, now)
	assert.Equal(t, models.PathDirectIndexTool, got)
	assert.Nil(t, warn)

	got, warn = Reconcile(models.PathDirectIndexTool, models.PathDirectIndexTool, now)
	assert.Equal(t, models.PathDirectIndexTool, got)
	assert.Nil(t, warn)

	got, warn = Reconcile(models.PathDirectIndexTool, models.PathKnowledgeBaseRetrieval, now)
	assert.Equal(t, models.PathDirectIndexTool, got, "stored path wins")
	require.NotNil(t, warn)
	assert.Equal(t, models.KindPathSelectionConflict, warn.Kind)
	assert.Equal(t, models.SeverityWarning, warn.Severity)
}

func TestUnsupported(t *testing.T) {
	dep := snapshot(
		models.DataSource{Type: models.SourceAzureSearch, IndexName: "a"},
		models.DataSource{Type: models.SourceURL},
	).Resources[0]
	out := Unsupported(dep)
	require.Len(t, out, 1)
	assert.Equal(t, models.SourceURL, out[0].Type)
}
