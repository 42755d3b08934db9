package models

// UnmappedField is a source field without a target equivalent.
type UnmappedField struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// ConnectionSpec describes a project connection to create.
type ConnectionSpec struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Target   string `json:"target"`
	AuthType string `json:"auth_type"`
	Audience string `json:"audience,omitempty"`
	// SearchService is the source search service the connection points at.
	SearchService string `json:"search_service,omitempty"`
}

// KnowledgeSourceSpec is one source of a knowledge base.
type KnowledgeSourceSpec struct {
	Name      string         `json:"name"`
	Type      DataSourceType `json:"type"`
	IndexName string         `json:"index_name,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
}

// KnowledgeBaseSpec describes a Foundry IQ knowledge base on a search service.
type KnowledgeBaseSpec struct {
	Name           string                `json:"name"`
	SearchService  string                `json:"search_service"`
	SearchEndpoint string                `json:"search_endpoint"`
	Description    string                `json:"description,omitempty"`
	Sources        []KnowledgeSourceSpec `json:"sources"`
}

// IndexRef is an index exposed through the Azure AI Search tool.
type IndexRef struct {
	Connection string `json:"connection"`
	IndexName  string `json:"index_name"`
	QueryType  string `json:"query_type"`
	TopK       int    `json:"top_k"`
	Filter     string `json:"filter,omitempty"`
}

// Tool types.
const (
	ToolAzureAISearch = "azure_ai_search"
	ToolMCP           = "mcp"
)

// ToolSpec is the agent tool definition. Indexes is set for the search tool,
// the MCP fields for knowledge base retrieval.
type ToolSpec struct {
	Type            string     `json:"type"`
	Indexes         []IndexRef `json:"indexes,omitempty"`
	KnowledgeBase   string     `json:"knowledge_base,omitempty"`
	ServerLabel     string     `json:"server_label,omitempty"`
	ServerURL       string     `json:"server_url,omitempty"`
	Connection      string     `json:"connection,omitempty"`
	AllowedTools    []string   `json:"allowed_tools,omitempty"`
	RequireApproval string     `json:"require_approval,omitempty"`
}

// MappedConfig is the target configuration derived from one deployment.
type MappedConfig struct {
	DeploymentID      string             `json:"deployment_id"`
	DeploymentName    string             `json:"deployment_name"`
	Path              MigrationPath      `json:"path"`
	Model             string             `json:"model"`
	AgentName         string             `json:"agent_name"`
	Instructions      string             `json:"instructions"`
	QueryType         string             `json:"query_type"`
	TopK              int                `json:"top_k"`
	Filter            string             `json:"filter,omitempty"`
	Connections       []ConnectionSpec   `json:"connections"`
	KnowledgeBase     *KnowledgeBaseSpec `json:"knowledge_base,omitempty"`
	Tool              ToolSpec           `json:"tool"`
	UnmappedFields    []UnmappedField    `json:"unmapped_fields"`
	IndexScopeWidened bool               `json:"index_scope_widened,omitempty"`
	WidenedConnection string             `json:"widened_connection,omitempty"`
	WidenedIndex      string             `json:"widened_index,omitempty"`
}

// AgentSpec is what the provider needs to create an agent.
type AgentSpec struct {
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Instructions string   `json:"instructions"`
	Tool         ToolSpec `json:"tool"`
	// ConnectionIDs maps connection names to their resource ids.
	ConnectionIDs map[string]string `json:"connection_ids,omitempty"`
}
