// Package models defines the data model shared by the migration components.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
)

// ResourceKind identifies a kind of resource known to the capability interface.
type ResourceKind string

const (
	KindAccount       ResourceKind = "account"
	KindDeployment    ResourceKind = "deployment"
	KindSearchService ResourceKind = "search_service"
	KindIndex         ResourceKind = "index"
	KindProject       ResourceKind = "project"
	KindConnection    ResourceKind = "connection"
	KindKnowledgeBase ResourceKind = "knowledge_base"
	KindAgent         ResourceKind = "agent"
)

// Resource is a single resource record. The detail pointer matching Kind is set.
type Resource struct {
	ID            string                `json:"id"`
	Kind          ResourceKind          `json:"kind"`
	Name          string                `json:"name"`
	ResourceGroup string                `json:"resource_group,omitempty"`
	Location      string                `json:"location,omitempty"`
	Endpoint      string                `json:"endpoint,omitempty"`
	ParentID      string                `json:"parent_id,omitempty"`
	PrincipalID   string                `json:"principal_id,omitempty"`
	Account       *AccountDetails       `json:"account,omitempty"`
	Deployment    *DeploymentDetails    `json:"deployment,omitempty"`
	SearchService *SearchServiceDetails `json:"search_service,omitempty"`
	Index         *IndexDetails         `json:"index,omitempty"`
}

// AccountDetails describes an Azure OpenAI (or AI Services) account.
type AccountDetails struct {
	Kind string `json:"kind"`
	SKU  string `json:"sku,omitempty"`
}

// DeploymentDetails describes a model deployment and its On Your Data sources.
type DeploymentDetails struct {
	AccountName  string       `json:"account_name"`
	ModelName    string       `json:"model_name,omitempty"`
	ModelVersion string       `json:"model_version,omitempty"`
	DataSources  []DataSource `json:"data_sources,omitempty"`

	// DataSourceErr is set when the On Your Data configuration could not be
	// read; DataSources is then unknown rather than empty.
	DataSourceErr error `json:"-"`
}

// SearchServiceDetails describes an Azure AI Search service.
type SearchServiceDetails struct {
	SKU                 string `json:"sku,omitempty"`
	DisableLocalAuth    bool   `json:"disable_local_auth,omitempty"`
	PublicNetworkAccess string `json:"public_network_access,omitempty"`
	PrivateEndpoints    int    `json:"private_endpoints,omitempty"`
}

// IndexDetails describes a search index.
type IndexDetails struct {
	ServiceName            string   `json:"service_name"`
	Fields                 []string `json:"fields,omitempty"`
	VectorFields           []string `json:"vector_fields,omitempty"`
	SemanticConfigurations []string `json:"semantic_configurations,omitempty"`
}

// DataSourceType is the type tag of an On Your Data source.
type DataSourceType string

const (
	SourceAzureSearch  DataSourceType = "azure_search"
	SourceBlobStorage  DataSourceType = "azure_blob_storage"
	SourceCosmosDB     DataSourceType = "azure_cosmos_db"
	SourceElastic      DataSourceType = "elasticsearch"
	SourceMongoDB      DataSourceType = "mongo_db"
	SourcePinecone     DataSourceType = "pinecone"
	SourceSharePoint   DataSourceType = "sharepoint"
	SourceURL          DataSourceType = "url"
	SourceUploadedFile DataSourceType = "uploaded_file"
)

// FieldsMapping is the OYD fields_mapping block.
type FieldsMapping struct {
	ContentFields []string `json:"content_fields,omitempty"`
	TitleField    string   `json:"title_field,omitempty"`
	URLField      string   `json:"url_field,omitempty"`
	FilepathField string   `json:"filepath_field,omitempty"`
	VectorFields  []string `json:"vector_fields,omitempty"`
}

// IsZero reports whether no field mapping was configured.
func (f FieldsMapping) IsZero() bool {
	return len(f.ContentFields) == 0 && f.TitleField == "" && f.URLField == "" &&
		f.FilepathField == "" && len(f.VectorFields) == 0
}

// DataSource is one OYD data source attached to a deployment. Every parameter
// the parser understands has its own field; anything else lands in Extra.
type DataSource struct {
	Type                  DataSourceType    `json:"type"`
	Endpoint              string            `json:"endpoint,omitempty"`
	IndexName             string            `json:"index_name,omitempty"`
	QueryType             string            `json:"query_type,omitempty"`
	SemanticConfiguration string            `json:"semantic_configuration,omitempty"`
	Filter                string            `json:"filter,omitempty"`
	TopNDocuments         int               `json:"top_n_documents,omitempty"`
	Strictness            int               `json:"strictness,omitempty"`
	InScope               *bool             `json:"in_scope,omitempty"`
	RoleInformation       string            `json:"role_information,omitempty"`
	AuthenticationType    string            `json:"authentication_type,omitempty"`
	EmbeddingDependency   string            `json:"embedding_dependency,omitempty"`
	FieldsMapping         FieldsMapping     `json:"fields_mapping,omitzero"`
	ContainerName         string            `json:"container_name,omitempty"`
	DatabaseName          string            `json:"database_name,omitempty"`
	Extra                 map[string]string `json:"extra,omitempty"`
}

// SupportsDirectIndex reports whether the source can be served by the
// Azure AI Search agent tool.
func (d DataSource) SupportsDirectIndex() bool {
	switch d.Type {
	case SourceAzureSearch:
		return true
	case SourceBlobStorage:
		return d.IndexName != ""
	}
	return false
}

// SearchServiceName returns the search service name from the endpoint.
func (d DataSource) SearchServiceName() string {
	return common.HostName(d.Endpoint)
}

// DiscoveryResult is the immutable snapshot produced by discovery.
type DiscoveryResult struct {
	SubscriptionID string        `json:"subscription_id"`
	DiscoveredAt   time.Time     `json:"discovered_at"`
	Resources      []Resource    `json:"resources"`
	Warnings       []ErrorRecord `json:"warnings,omitempty"`
}

// OfKind returns the resources of the given kind in snapshot order.
func (r *DiscoveryResult) OfKind(kind ResourceKind) []Resource {
	var out []Resource
	for _, res := range r.Resources {
		if res.Kind == kind {
			out = append(out, res)
		}
	}
	return out
}

// Find returns the resource with the given id.
func (r *DiscoveryResult) Find(id string) (Resource, bool) {
	i := slices.IndexFunc(r.Resources, func(res Resource) bool { return strings.EqualFold(res.ID, id) })
	if i < 0 {
		return Resource{}, false
	}
	return r.Resources[i], true
}

// SearchServiceByName returns the discovered search service with the given name.
func (r *DiscoveryResult) SearchServiceByName(name string) (Resource, bool) {
	for _, res := range r.Resources {
		if res.Kind == KindSearchService && strings.EqualFold(res.Name, name) {
			return res, true
		}
	}
	return Resource{}, false
}

// IndexesOf returns the discovered indexes of a search service.
func (r *DiscoveryResult) IndexesOf(serviceName string) []Resource {
	var out []Resource
	for _, res := range r.Resources {
		if res.Kind == KindIndex && res.Index != nil && strings.EqualFold(res.Index.ServiceName, serviceName) {
			out = append(out, res)
		}
	}
	return out
}
