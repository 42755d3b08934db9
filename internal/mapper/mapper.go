// Package mapper translates an OYD deployment's data-source configuration
// into the configuration of a Foundry agent.
//
// Field table (source -> target):
//
//	query_type            -> query type enum (SIMPLE, SEMANTIC, VECTOR,
//	                         VECTOR_SIMPLE_HYBRID, VECTOR_SEMANTIC_HYBRID)
//	top_n_documents       -> top_k
//	role_information      -> instructions
//	in_scope              -> directive appended to the instructions
//	filter                -> filter, unchanged
//	endpoint              -> connection target
//	index_name            -> tool index
//	authentication.type   -> connection auth type
//	model name            -> target model
//
// Every other populated field is reported in unmapped_fields.
package mapper

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

const (
	DefaultModel     = "gpt-4.1"
	DefaultQueryType = "VECTOR_SEMANTIC_HYBRID"
	DefaultTopK      = 5

	// SearchAPIVersion is the Azure AI Search data-plane version that serves
	// knowledge bases and their MCP endpoint.
	SearchAPIVersion = "2025-11-01-preview"
	SearchAudience   = "https://search.azure.com/"

	defaultInstructions = "You are a helpful assistant that answers questions using the connected data sources. Cite the documents you used."
	inScopeDirective    = "Only answer with information found in the retrieved documents. If they do not contain the answer, say that you don't know."
	openScopeDirective  = "Prefer the retrieved documents and use general knowledge only when they do not cover the question."
)

// SupportedModels are the agent models a migration may target.
var SupportedModels = []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano", "gpt-4o", "gpt-4o-mini"}

var queryTypes = map[string]string{
	"simple":                 "SIMPLE",
	"semantic":               "SEMANTIC",
	"vector":                 "VECTOR",
	"vector_simple_hybrid":   "VECTOR_SIMPLE_HYBRID",
	"vector_semantic_hybrid": "VECTOR_SEMANTIC_HYBRID",
}

var authTypes = map[string]string{
	"":                                 "ManagedIdentity",
	"system_assigned_managed_identity": "ManagedIdentity",
	"user_assigned_managed_identity":   "ManagedIdentity",
	"api_key":                          "ApiKey",
}

// knowledge source kinds a knowledge base can host
var knowledgeSourceTypes = []models.DataSourceType{
	models.SourceAzureSearch,
	models.SourceBlobStorage,
	models.SourceSharePoint,
	models.SourceURL,
	models.SourceUploadedFile,
}

// Options adjust the mapping without breaking purity.
type Options struct {
	// Model overrides the target model.
	Model string
	// KnowledgeBaseEndpoint hosts the knowledge base when no source names a
	// search service.
	KnowledgeBaseEndpoint string
}

// Mapper maps deployments. It never calls out; the same input always yields
// the same output.
type Mapper struct {
	opts Options
}

// New creates a Mapper.
func New(opts Options) *Mapper {
	return &Mapper{opts: opts}
}

// Map derives the target configuration for a deployment on the given path.
func (m *Mapper) Map(dep models.Resource, path models.MigrationPath) models.MappedConfig {
	var sources []models.DataSource
	var modelName string
	if dep.Deployment != nil {
		sources = dep.Deployment.DataSources
		modelName = dep.Deployment.ModelName
	}

	u := &unmapped{}
	primaryIdx := primaryIndex(sources)
	var primary models.DataSource
	if primaryIdx >= 0 {
		primary = sources[primaryIdx]
	}

	cfg := models.MappedConfig{
		DeploymentID:   dep.ID,
		DeploymentName: dep.Name,
		Path:           path,
		Model:          m.model(modelName, u),
		AgentName:      common.AgentName(dep.Name),
		Instructions:   instructions(primary),
		QueryType:      queryType(primary.QueryType, field(primaryIdx, "query_type"), u),
		TopK:           topK(primary.TopNDocuments),
		Filter:         primary.Filter,
		Connections:    []models.ConnectionSpec{},
	}

	for i, src := range sources {
		collectUnmapped(i, src, u)
		if i != primaryIdx && primaryIdx >= 0 {
			ownSettings := path == models.PathDirectIndexTool && src.SupportsDirectIndex()
			compareToPrimary(i, src, primary, ownSettings, u)
		}
	}

	switch path {
	case models.PathKnowledgeBaseRetrieval:
		m.mapKnowledgeBase(&cfg, sources, u)
	default:
		mapSearchTool(&cfg, sources, primaryIdx, u)
	}

	cfg.UnmappedFields = u.sorted()
	return cfg
}

func mapSearchTool(cfg *models.MappedConfig, sources []models.DataSource, primaryIdx int, u *unmapped) {
	cfg.Tool = models.ToolSpec{Type: models.ToolAzureAISearch, Indexes: []models.IndexRef{}}
	for i, src := range sources {
		if !src.SupportsDirectIndex() {
			u.add(fmt.Sprintf("data_sources[%d]", i), string(src.Type), "source type is not supported by the Azure AI Search tool")
			continue
		}
		conn := searchConnection(src, i, u)
		cfg.Connections = appendConnection(cfg.Connections, conn)

		index := src.IndexName
		if index == "" {
			index = common.IndexFromConnection(conn.Name)
			markWidened(cfg, conn.Name, index)
		}
		ref := models.IndexRef{
			Connection: conn.Name,
			IndexName:  index,
			QueryType:  cfg.QueryType,
			TopK:       cfg.TopK,
			Filter:     cfg.Filter,
		}
		if i != primaryIdx {
			ref.QueryType = queryType(src.QueryType, "", nil)
			ref.TopK = topK(src.TopNDocuments)
			ref.Filter = src.Filter
		}
		cfg.Tool.Indexes = append(cfg.Tool.Indexes, ref)
	}
}

func (m *Mapper) mapKnowledgeBase(cfg *models.MappedConfig, sources []models.DataSource, u *unmapped) {
	endpoint := m.opts.KnowledgeBaseEndpoint
	for _, src := range sources {
		if src.SupportsDirectIndex() && src.Endpoint != "" {
			endpoint = src.Endpoint
			break
		}
	}
	endpoint = strings.TrimRight(endpoint, "/")
	service := common.HostName(endpoint)
	kbName := common.KnowledgeBaseName(service)

	kb := &models.KnowledgeBaseSpec{
		Name:           kbName,
		SearchService:  service,
		SearchEndpoint: endpoint,
		Description:    fmt.Sprintf("Knowledge base migrated from deployment %s", cfg.DeploymentName),
		Sources:        []models.KnowledgeSourceSpec{},
	}
	for i, src := range sources {
		if !slices.Contains(knowledgeSourceTypes, src.Type) {
			u.add(fmt.Sprintf("data_sources[%d]", i), string(src.Type), "source type has no knowledge source equivalent")
			continue
		}
		index := src.IndexName
		if src.Type == models.SourceAzureSearch && index == "" {
			conn := common.ConnectionName(src.SearchServiceName())
			index = common.IndexFromConnection(conn)
			markWidened(cfg, conn, index)
		}
		kb.Sources = append(kb.Sources, models.KnowledgeSourceSpec{
			Name:      knowledgeSourceName(kbName, i, src, index),
			Type:      src.Type,
			IndexName: index,
			Endpoint:  src.Endpoint,
		})
	}
	cfg.KnowledgeBase = kb

	if service != "" {
		cfg.Connections = appendConnection(cfg.Connections, models.ConnectionSpec{
			Name:          common.ConnectionName(service),
			Category:      "AzureAISearch",
			Target:        endpoint,
			AuthType:      "ManagedIdentity",
			SearchService: service,
		})
	}
	mcp := models.ConnectionSpec{
		Name:          kbName + "-mcp",
		Category:      "RemoteTool",
		Target:        fmt.Sprintf("%s/knowledgebases/%s/mcp?api-version=%s", endpoint, kbName, SearchAPIVersion),
		AuthType:      "ProjectManagedIdentity",
		Audience:      SearchAudience,
		SearchService: service,
	}
	cfg.Connections = appendConnection(cfg.Connections, mcp)

	cfg.Tool = models.ToolSpec{
		Type:            models.ToolMCP,
		KnowledgeBase:   kbName,
		ServerLabel:     common.ServerLabel(kbName),
		ServerURL:       mcp.Target,
		Connection:      mcp.Name,
		AllowedTools:    []string{"knowledge_base_retrieve"},
		RequireApproval: "never",
	}
}

// markWidened records the first connection whose index name was derived.
func markWidened(cfg *models.MappedConfig, connection, index string) {
	if !cfg.IndexScopeWidened {
		cfg.WidenedConnection, cfg.WidenedIndex = connection, index
	}
	cfg.IndexScopeWidened = true
}

func knowledgeSourceName(kb string, i int, src models.DataSource, index string) string {
	if index != "" {
		return common.SanitizeName(index) + "-source"
	}
	return fmt.Sprintf("%s-%s-%d", kb, strings.ReplaceAll(string(src.Type), "_", "-"), i)
}

func searchConnection(src models.DataSource, i int, u *unmapped) models.ConnectionSpec {
	service := src.SearchServiceName()
	auth, ok := authTypes[src.AuthenticationType]
	if !ok {
		auth = "ManagedIdentity"
		u.add(field(i, "authentication.type"), src.AuthenticationType, "authentication type has no connection equivalent; managed identity is used")
	}
	return models.ConnectionSpec{
		Name:          common.ConnectionName(service),
		Category:      "AzureAISearch",
		Target:        strings.TrimRight(src.Endpoint, "/"),
		AuthType:      auth,
		SearchService: service,
	}
}

func appendConnection(conns []models.ConnectionSpec, c models.ConnectionSpec) []models.ConnectionSpec {
	for _, existing := range conns {
		if existing.Name == c.Name {
			return conns
		}
	}
	return append(conns, c)
}

func (m *Mapper) model(source string, u *unmapped) string {
	if m.opts.Model != "" {
		return m.opts.Model
	}
	if slices.Contains(SupportedModels, strings.ToLower(source)) {
		return strings.ToLower(source)
	}
	if source != "" {
		u.add("model_name", source, "model is not available to agents; "+DefaultModel+" is used")
	}
	return DefaultModel
}

func primaryIndex(sources []models.DataSource) int {
	for i, src := range sources {
		if src.SupportsDirectIndex() {
			return i
		}
	}
	if len(sources) > 0 {
		return 0
	}
	return -1
}

func instructions(src models.DataSource) string {
	base := strings.TrimSpace(src.RoleInformation)
	if base == "" {
		base = defaultInstructions
	}
	directive := inScopeDirective
	if src.InScope != nil && !*src.InScope {
		directive = openScopeDirective
	}
	return base + "\n\n" + directive
}

func queryType(source, name string, u *unmapped) string {
	if source == "" {
		return DefaultQueryType
	}
	if target, ok := queryTypes[strings.ToLower(source)]; ok {
		return target
	}
	if u != nil {
		u.add(name, source, "unknown query type; "+DefaultQueryType+" is used")
	}
	return DefaultQueryType
}

func topK(n int) int {
	if n <= 0 {
		return DefaultTopK
	}
	return n
}

func field(i int, name string) string {
	if i < 0 {
		return name
	}
	return fmt.Sprintf("data_sources[%d].%s", i, name)
}

func collectUnmapped(i int, src models.DataSource, u *unmapped) {
	if src.SemanticConfiguration != "" {
		u.add(field(i, "semantic_configuration"), src.SemanticConfiguration, "agents use the index's default semantic configuration")
	}
	if src.Strictness != 0 {
		u.add(field(i, "strictness"), strconv.Itoa(src.Strictness), "agents have no strictness setting")
	}
	if !src.FieldsMapping.IsZero() {
		u.add(field(i, "fields_mapping"), fieldsMapping(src.FieldsMapping), "agents read fields from the index schema")
	}
	if src.EmbeddingDependency != "" {
		u.add(field(i, "embedding_dependency"), src.EmbeddingDependency, "configure a vectorizer on the index instead")
	}
	if src.ContainerName != "" {
		u.add(field(i, "container_name"), src.ContainerName, "no target equivalent")
	}
	if src.DatabaseName != "" {
		u.add(field(i, "database_name"), src.DatabaseName, "no target equivalent")
	}
	for k, v := range src.Extra {
		u.add(field(i, k), v, "unrecognized parameter")
	}
}

// compareToPrimary reports settings of a secondary source that the agent
// will not honor. With ownSettings the source keeps its own retrieval settings.
func compareToPrimary(i int, src, primary models.DataSource, ownSettings bool, u *unmapped) {
	const reason = "differs from the first data source, whose value the agent uses"
	if src.RoleInformation != "" && src.RoleInformation != primary.RoleInformation {
		u.add(field(i, "role_information"), src.RoleInformation, reason)
	}
	if src.InScope != nil && (primary.InScope == nil || *src.InScope != *primary.InScope) {
		u.add(field(i, "in_scope"), strconv.FormatBool(*src.InScope), reason)
	}
	if !ownSettings {
		if src.QueryType != "" && src.QueryType != primary.QueryType {
			u.add(field(i, "query_type"), src.QueryType, reason)
		}
		if src.TopNDocuments != 0 && src.TopNDocuments != primary.TopNDocuments {
			u.add(field(i, "top_n_documents"), strconv.Itoa(src.TopNDocuments), reason)
		}
		if src.Filter != "" && src.Filter != primary.Filter {
			u.add(field(i, "filter"), src.Filter, reason)
		}
	}
}

func fieldsMapping(f models.FieldsMapping) string {
	var parts []string
	if len(f.ContentFields) > 0 {
		parts = append(parts, "content_fields="+strings.Join(f.ContentFields, ","))
	}
	if f.TitleField != "" {
		parts = append(parts, "title_field="+f.TitleField)
	}
	if f.URLField != "" {
		parts = append(parts, "url_field="+f.URLField)
	}
	if f.FilepathField != "" {
		parts = append(parts, "filepath_field="+f.FilepathField)
	}
	if len(f.VectorFields) > 0 {
		parts = append(parts, "vector_fields="+strings.Join(f.VectorFields, ","))
	}
	return strings.Join(parts, " ")
}

type unmapped struct {
	fields []models.UnmappedField
}

func (u *unmapped) add(field, value, reason string) {
	u.fields = append(u.fields, models.UnmappedField{Field: field, Value: value, Reason: reason})
}

func (u *unmapped) sorted() []models.UnmappedField {
	out := slices.Clone(u.fields)
	if out == nil {
		out = []models.UnmappedField{}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Warnings turns the information loss of a mapping into session records.
func Warnings(cfg models.MappedConfig, now time.Time) []models.ErrorRecord {
	var out []models.ErrorRecord
	for _, f := range cfg.UnmappedFields {
		out = append(out, models.ErrorRecord{
			Kind:     models.KindUnmappedField,
			Severity: models.SeverityWarning,
			Stage:    models.StepConfigMapped.String(),
			Resource: cfg.DeploymentName,
			Message:  fmt.Sprintf("%s=%q not migrated: %s", f.Field, f.Value, f.Reason),
			At:       now,
		})
	}
	if cfg.IndexScopeWidened {
		out = append(out, models.ErrorRecord{
			Kind:     models.KindIndexScopeWidened,
			Severity: models.SeverityWarning,
			Stage:    models.StepConfigMapped.String(),
			Resource: cfg.DeploymentName,
			Message:  "index name missing from the source; a derived index name needs confirmation before provisioning",
			At:       now,
		})
	}
	return out
}
