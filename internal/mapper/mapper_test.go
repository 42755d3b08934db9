package mapper

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func deployment(model string, sources ...models.DataSource) models.Resource {
	return models.Resource{
		ID:   "/subscriptions/s/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/Chat",
		Kind: models.KindDeployment,
		Name: "Chat",
		Deployment: &models.DeploymentDetails{
			AccountName: "aoai",
			ModelName:   model,
			DataSources: sources,
		},
	}
}

func searchSource() models.DataSource {
	return models.DataSource{
		Type:               models.SourceAzureSearch,
		Endpoint:           "https://srch.search.windows.net",
		IndexName:          "docs",
		QueryType:          "vector_semantic_hybrid",
		TopNDocuments:      5,
		InScope:            boolPtr(true),
		RoleInformation:    "You answer HR questions.",
		Filter:             "department eq 'hr'",
		AuthenticationType: "system_assigned_managed_identity",
	}
}

func TestMapDirectIndexScenario(t *testing.T) {
	cfg := New(Options{}).Map(deployment("gpt-4o", searchSource()), models.PathDirectIndexTool)

	assert.Equal(t, "VECTOR_SEMANTIC_HYBRID", cfg.QueryType)
	assert.Equal(t, 5, cfg.TopK)
	assert.Empty(t, cfg.UnmappedFields)
	assert.NotNil(t, cfg.UnmappedFields)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "chat-migrated", cfg.AgentName)
	assert.Equal(t, "department eq 'hr'", cfg.Filter)
	assert.True(t, strings.HasPrefix(cfg.Instructions, "You answer HR questions."))
	assert.Contains(t, cfg.Instructions, inScopeDirective)
	assert.False(t, cfg.IndexScopeWidened)

	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, models.ConnectionSpec{
		Name:          "srch-connection",
		Category:      "AzureAISearch",
		Target:        "https://srch.search.windows.net",
		AuthType:      "ManagedIdentity",
		SearchService: "srch",
	}, cfg.Connections[0])

	assert.Equal(t, models.ToolAzureAISearch, cfg.Tool.Type)
	require.Len(t, cfg.Tool.Indexes, 1)
	assert.Equal(t, models.IndexRef{
		Connection: "srch-connection",
		IndexName:  "docs",
		QueryType:  "VECTOR_SEMANTIC_HYBRID",
		TopK:       5,
		Filter:     "department eq 'hr'",
	}, cfg.Tool.Indexes[0])
	assert.Nil(t, cfg.KnowledgeBase)
}

func TestMapIsPure(t *testing.T) {
	src := searchSource()
	src.Strictness = 4
	src.Extra = map[string]string{"zeta": "1", "alpha": "2", "max_search_queries": "3"}
	dep := deployment("gpt-35-turbo", src, models.DataSource{Type: models.SourceCosmosDB, DatabaseName: "db"})
	m := New(Options{})

	for _, path := range []models.MigrationPath{models.PathDirectIndexTool, models.PathKnowledgeBaseRetrieval} {
		first, err := json.Marshal(m.Map(dep, path))
		require.NoError(t, err)
		second, err := json.Marshal(m.Map(dep, path))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second), "path %s", path)
	}
}

func TestMapUnmappedFields(t *testing.T) {
	src := searchSource()
	src.Strictness = 3
	src.SemanticConfiguration = "default"
	src.EmbeddingDependency = "ada"
	src.FieldsMapping = models.FieldsMapping{ContentFields: []string{"content"}, TitleField: "title"}
	src.Extra = map[string]string{"allow_partial_result": "true"}

	cfg := New(Options{}).Map(deployment("gpt-4.1", src), models.PathDirectIndexTool)

	var names []string
	for _, f := range cfg.UnmappedFields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{
		"data_sources[0].allow_partial_result",
		"data_sources[0].embedding_dependency",
		"data_sources[0].fields_mapping",
		"data_sources[0].semantic_configuration",
		"data_sources[0].strictness",
	}, names)
	assert.Equal(t, "content_fields=content title_field=title", cfg.UnmappedFields[2].Value)

	warnings := Warnings(cfg, time.Unix(0, 0))
	require.Len(t, warnings, 5)
	for _, w := range warnings {
		assert.Equal(t, models.KindUnmappedField, w.Kind)
		assert.Equal(t, models.SeverityWarning, w.Severity)
	}
}

func TestMapQueryTypes(t *testing.T) {
	tests := []struct {
		source   string
		expected string
		unmapped int
	}{
		{"simple", "SIMPLE", 0},
		{"semantic", "SEMANTIC", 0},
		{"vector", "VECTOR", 0},
		{"vector_simple_hybrid", "VECTOR_SIMPLE_HYBRID", 0},
		{"Vector_Semantic_Hybrid", "VECTOR_SEMANTIC_HYBRID", 0},
		{"", DefaultQueryType, 0},
		{"fuzzy", DefaultQueryType, 1},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			src := searchSource()
			src.QueryType = tt.source
			cfg := New(Options{}).Map(deployment("gpt-4.1", src), models.PathDirectIndexTool)
			assert.Equal(t, tt.expected, cfg.QueryType)
			assert.Len(t, cfg.UnmappedFields, tt.unmapped)
		})
	}
}

func TestMapOutOfScopeDirective(t *testing.T) {
	src := searchSource()
	src.InScope = boolPtr(false)
	src.RoleInformation = ""

	cfg := New(Options{}).Map(deployment("gpt-4.1", src), models.PathDirectIndexTool)

	assert.True(t, strings.HasPrefix(cfg.Instructions, defaultInstructions))
	assert.Contains(t, cfg.Instructions, openScopeDirective)
	assert.NotContains(t, cfg.Instructions, inScopeDirective)
}

func TestMapModel(t *testing.T) {
	cfg := New(Options{}).Map(deployment("gpt-35-turbo", searchSource()), models.PathDirectIndexTool)
	assert.Equal(t, DefaultModel, cfg.Model)
	require.Len(t, cfg.UnmappedFields, 1)
	assert.Equal(t, "model_name", cfg.UnmappedFields[0].Field)

	cfg = New(Options{Model: "gpt-4.1-mini"}).Map(deployment("gpt-35-turbo", searchSource()), models.PathDirectIndexTool)
	assert.Equal(t, "gpt-4.1-mini", cfg.Model)
	assert.Empty(t, cfg.UnmappedFields)
}

func TestMapMissingIndexWidensScope(t *testing.T) {
	src := searchSource()
	src.IndexName = ""

	cfg := New(Options{}).Map(deployment("gpt-4.1", src), models.PathDirectIndexTool)

	assert.True(t, cfg.IndexScopeWidened)
	require.Len(t, cfg.Tool.Indexes, 1)
	assert.Equal(t, "srch-index", cfg.Tool.Indexes[0].IndexName)

	warnings := Warnings(cfg, time.Unix(0, 0))
	require.Len(t, warnings, 1)
	assert.Equal(t, models.KindIndexScopeWidened, warnings[0].Kind)
}

func TestMapRecordsWidenedConnection(t *testing.T) {
	named := searchSource()
	named.Endpoint = "https://alpha.search.windows.net"
	named.IndexName = "alpha-index"
	unnamed := searchSource()
	unnamed.Endpoint = "https://beta.search.windows.net"
	unnamed.IndexName = ""

	for _, path := range []models.MigrationPath{models.PathDirectIndexTool, models.PathKnowledgeBaseRetrieval} {
		cfg := New(Options{}).Map(deployment("gpt-4.1", named, unnamed), path)

		assert.True(t, cfg.IndexScopeWidened, path)
		assert.Equal(t, "beta-connection", cfg.WidenedConnection, path)
		assert.Equal(t, "beta-index", cfg.WidenedIndex, path)
	}
}

func TestMapUnsupportedSourceOnDirectPath(t *testing.T) {
	dep := deployment("gpt-4.1", searchSource(), models.DataSource{Type: models.SourceSharePoint, Endpoint: "https://contoso.sharepoint.com"})

	cfg := New(Options{}).Map(dep, models.PathDirectIndexTool)

	require.Len(t, cfg.Tool.Indexes, 1)
	require.Len(t, cfg.UnmappedFields, 1)
	assert.Equal(t, "data_sources[1]", cfg.UnmappedFields[0].Field)
	assert.Equal(t, "sharepoint", cfg.UnmappedFields[0].Value)
}

func TestMapKnowledgeBase(t *testing.T) {
	dep := deployment("gpt-4.1",
		models.DataSource{Type: models.SourceSharePoint, Endpoint: "https://contoso.sharepoint.com/sites/hr"},
		searchSource(),
		models.DataSource{Type: models.SourcePinecone},
	)

	cfg := New(Options{}).Map(dep, models.PathKnowledgeBaseRetrieval)

	require.NotNil(t, cfg.KnowledgeBase)
	assert.Equal(t, "kb-srch", cfg.KnowledgeBase.Name)
	assert.Equal(t, "https://srch.search.windows.net", cfg.KnowledgeBase.SearchEndpoint)
	require.Len(t, cfg.KnowledgeBase.Sources, 2)
	assert.Equal(t, models.SourceSharePoint, cfg.KnowledgeBase.Sources[0].Type)
	assert.Equal(t, "docs-source", cfg.KnowledgeBase.Sources[1].Name)

	require.Len(t, cfg.Connections, 2)
	assert.Equal(t, "srch-connection", cfg.Connections[0].Name)
	mcp := cfg.Connections[1]
	assert.Equal(t, "kb-srch-mcp", mcp.Name)
	assert.Equal(t, "RemoteTool", mcp.Category)
	assert.Equal(t, "ProjectManagedIdentity", mcp.AuthType)
	assert.Equal(t, SearchAudience, mcp.Audience)
	assert.Equal(t, "https://srch.search.windows.net/knowledgebases/kb-srch/mcp?api-version="+SearchAPIVersion, mcp.Target)

	assert.Equal(t, models.ToolMCP, cfg.Tool.Type)
	assert.Equal(t, "kb_srch", cfg.Tool.ServerLabel)
	assert.Equal(t, []string{"knowledge_base_retrieve"}, cfg.Tool.AllowedTools)
	assert.Equal(t, "never", cfg.Tool.RequireApproval)

	var fields []string
	for _, f := range cfg.UnmappedFields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "data_sources[2]")
}

func TestMapKnowledgeBaseEndpointOption(t *testing.T) {
	dep := deployment("gpt-4.1", models.DataSource{Type: models.SourceURL, Endpoint: "https://contoso.com/docs"})

	cfg := New(Options{KnowledgeBaseEndpoint: "https://kbhost.search.windows.net/"}).Map(dep, models.PathKnowledgeBaseRetrieval)

	require.NotNil(t, cfg.KnowledgeBase)
	assert.Equal(t, "kb-kbhost", cfg.KnowledgeBase.Name)
	assert.Equal(t, "https://kbhost.search.windows.net", cfg.KnowledgeBase.SearchEndpoint)
}

func TestMapSecondarySourceSettings(t *testing.T) {
	second := searchSource()
	second.Endpoint = "https://other.search.windows.net"
	second.IndexName = "faq"
	second.QueryType = "simple"
	second.TopNDocuments = 3
	second.RoleInformation = "Different persona"

	cfg := New(Options{}).Map(deployment("gpt-4.1", searchSource(), second), models.PathDirectIndexTool)

	require.Len(t, cfg.Connections, 2)
	require.Len(t, cfg.Tool.Indexes, 2)
	assert.Equal(t, "SIMPLE", cfg.Tool.Indexes[1].QueryType)
	assert.Equal(t, 3, cfg.Tool.Indexes[1].TopK)
	require.Len(t, cfg.UnmappedFields, 1)
	assert.Equal(t, "data_sources[1].role_information", cfg.UnmappedFields[0].Field)
}
