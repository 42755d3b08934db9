package azure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

func TestParseDataSources(t *testing.T) {
	body := []byte(`{
		"data_sources": [{
			"type": "azure_search",
			"parameters": {
				"endpoint": "https://srch.search.windows.net",
				"index_name": "docs",
				"query_type": "vector_semantic_hybrid",
				"semantic_configuration": "default",
				"top_n_documents": 7,
				"strictness": 4,
				"in_scope": false,
				"authentication": {"type": "system_assigned_managed_identity"},
				"embedding_dependency": {"type": "deployment_name", "deployment_name": "ada"},
				"fields_mapping": {"content_fields": ["content"], "title_field": "title"},
				"max_search_queries": 3,
				"allow_partial_result": true,
				"include_contexts": ["citations", "intent"],
				"key": null
			}
		}, {
			"type": "azure_cosmos_db",
			"parameters": {"database_name": "db", "container_name": "items", "index_name": "vec"}
		}]
	}`)

	sources, err := parseDataSources(body)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	s := sources[0]
	assert.Equal(t, models.SourceAzureSearch, s.Type)
	assert.Equal(t, "https://srch.search.windows.net", s.Endpoint)
	assert.Equal(t, "srch", s.SearchServiceName())
	assert.Equal(t, "docs", s.IndexName)
	assert.Equal(t, "vector_semantic_hybrid", s.QueryType)
	assert.Equal(t, "default", s.SemanticConfiguration)
	assert.Equal(t, 7, s.TopNDocuments)
	assert.Equal(t, 4, s.Strictness)
	require.NotNil(t, s.InScope)
	assert.False(t, *s.InScope)
	assert.Equal(t, "system_assigned_managed_identity", s.AuthenticationType)
	assert.Equal(t, "ada", s.EmbeddingDependency)
	assert.Equal(t, []string{"content"}, s.FieldsMapping.ContentFields)
	assert.Equal(t, "title", s.FieldsMapping.TitleField)
	assert.Equal(t, map[string]string{
		"max_search_queries":   "3",
		"allow_partial_result": "true",
		"include_contexts":     `["citations","intent"]`,
	}, s.Extra)

	c := sources[1]
	assert.Equal(t, models.SourceCosmosDB, c.Type)
	assert.Equal(t, "db", c.DatabaseName)
	assert.Equal(t, "items", c.ContainerName)
	assert.Nil(t, c.Extra)
	assert.Nil(t, c.InScope)
}

func TestParseDataSourcesErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing type", `{"data_sources": [{"parameters": {}}]}`},
		{"wrong parameter type", `{"data_sources": [{"type": "azure_search", "parameters": {"top_n_documents": "five"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDataSources([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseDataSourcesEmpty(t *testing.T) {
	sources, err := parseDataSources([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestIndexDetails(t *testing.T) {
	idx := indexPayload{
		Name: "docs",
		Fields: []indexField{
			{Name: "id", Type: "Edm.String"},
			{Name: "embedding", Type: "Collection(Edm.Single)", Dimensions: 1536},
		},
	}

	d := indexDetails("srch", idx)
	assert.Equal(t, "srch", d.ServiceName)
	assert.Equal(t, []string{"id", "embedding"}, d.Fields)
	assert.Equal(t, []string{"embedding"}, d.VectorFields)
	assert.Empty(t, d.SemanticConfigurations)
}

func TestParseResponse(t *testing.T) {
	t.Run("annotations and tool calls", func(t *testing.T) {
		body := []byte(`{
			"output": [
				{"type": "azure_ai_search_call"},
				{"type": "message", "content": [{
					"type": "output_text",
					"text": "Paris is the capital.",
					"annotations": [
						{"type": "url_citation", "url": "https://docs/1", "title": "one"},
						{"type": "file_citation", "filename": "two.pdf"}
					]
				}]}
			]
		}`)
		resp, err := parseResponse(body)
		require.NoError(t, err)
		assert.Equal(t, "Paris is the capital.", resp.Text)
		assert.Equal(t, []string{"https://docs/1", "two.pdf"}, resp.Citations)
		assert.Equal(t, 1, resp.ToolCalls)
	})

	t.Run("output_text wins", func(t *testing.T) {
		resp, err := parseResponse([]byte(`{"output_text": "hi", "output": [{"type": "message", "content": [{"text": "ignored"}]}]}`))
		require.NoError(t, err)
		assert.Equal(t, "hi", resp.Text)
		assert.Empty(t, resp.Citations)
		assert.Zero(t, resp.ToolCalls)
	})

	t.Run("flat citations", func(t *testing.T) {
		resp, err := parseResponse([]byte(`{"output_text": "x", "citations": ["a", {"url": "b"}], "tool_calls": [{}, {}]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", `{"url":"b"}`}, resp.Citations)
		assert.Equal(t, 2, resp.ToolCalls)
	})
}

func TestProjectEndpoint(t *testing.T) {
	assert.Equal(t, "https://acct.services.ai.azure.com/api/projects/proj",
		projectEndpoint("proj", projectProperties{Endpoints: map[string]string{"AI Foundry API": "https://acct.services.ai.azure.com/api/projects/proj/"}}))
	assert.Equal(t, "https://hub.services.ai.azure.com/api/projects/proj",
		projectEndpoint("proj", projectProperties{HubResourceID: "/subscriptions/s/resourceGroups/rg/providers/Microsoft.MachineLearningServices/workspaces/hub"}))
	assert.Equal(t, "https://proj.services.ai.azure.com/api/projects/proj", projectEndpoint("proj", projectProperties{}))
}

func TestAgentBody(t *testing.T) {
	t.Run("search tool", func(t *testing.T) {
		body, err := agentBody(&models.AgentSpec{
			Name:  "bot",
			Model: "gpt-4.1",
			Tool: models.ToolSpec{
				Type:    models.ToolAzureAISearch,
				Indexes: []models.IndexRef{{Connection: "srch-connection", IndexName: "docs", QueryType: "VECTOR_SEMANTIC_HYBRID", TopK: 5}},
			},
			ConnectionIDs: map[string]string{"srch-connection": "/conn/id"},
		})
		require.NoError(t, err)
		resources := body["tool_resources"].(map[string]any)[models.ToolAzureAISearch].(map[string]any)
		indexes := resources["indexes"].([]map[string]any)
		require.Len(t, indexes, 1)
		assert.Equal(t, "/conn/id", indexes[0]["index_connection_id"])
		assert.Equal(t, "vector_semantic_hybrid", indexes[0]["query_type"])
		assert.NotContains(t, indexes[0], "filter")
	})

	t.Run("mcp tool", func(t *testing.T) {
		body, err := agentBody(&models.AgentSpec{
			Name: "bot",
			Tool: models.ToolSpec{
				Type:            models.ToolMCP,
				ServerLabel:     "kb_docs",
				ServerURL:       "https://srch.search.windows.net/knowledgebases/kb-docs/mcp",
				Connection:      "kb-docs-mcp",
				AllowedTools:    []string{"knowledge_base_retrieve"},
				RequireApproval: "never",
			},
			ConnectionIDs: map[string]string{"kb-docs-mcp": "/conn/mcp"},
		})
		require.NoError(t, err)
		tools := body["tools"].([]map[string]any)
		require.Len(t, tools, 1)
		assert.Equal(t, "/conn/mcp", tools[0]["project_connection_id"])
		assert.NotContains(t, body, "tool_resources")
	})

	t.Run("unknown connection", func(t *testing.T) {
		_, err := agentBody(&models.AgentSpec{
			Tool: models.ToolSpec{Type: models.ToolMCP, Connection: "missing"},
		})
		assert.Error(t, err)
	})
}

func TestKnowledgeSourceBody(t *testing.T) {
	body, err := knowledgeSourceBody(models.KnowledgeSourceSpec{Name: "docs-source", Type: models.SourceAzureSearch, IndexName: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "searchIndex", body["kind"])

	_, err = knowledgeSourceBody(models.KnowledgeSourceSpec{Name: "x", Type: models.SourceBlobStorage})
	assert.Error(t, err)
	_, err = knowledgeSourceBody(models.KnowledgeSourceSpec{Name: "x", Type: models.SourcePinecone})
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://a.openai.azure.com/openai/deployments/my%20chat/extensions?api-version=2024-10-21",
		buildURL("https://a.openai.azure.com/", apiOpenAIData, "openai", "deployments", "my chat", "extensions"))
	assert.Equal(t, "https://management.azure.com/subscriptions/s/rg/connections/c?api-version=2025-06-01",
		armURL("https://management.azure.com", "/subscriptions/s/rg", apiFoundryProject, "connections", "c"))
	assert.Equal(t, apiHubProject, projectAPIVersion("/subscriptions/s/providers/Microsoft.MachineLearningServices/workspaces/p"))
}
