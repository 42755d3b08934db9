package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/retry"
)

type projectProperties struct {
	Endpoints     map[string]string `json:"endpoints"`
	WorkspaceURL  string            `json:"workspaceUrl"`
	HubResourceID string            `json:"hubResourceId"`
}

type armProject struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Identity *struct {
		PrincipalID string `json:"principalId"`
	} `json:"identity"`
	Properties projectProperties `json:"properties"`
}

// projectAPIVersion returns the api-version of a project and its connections.
// Hub-based projects live under Microsoft.MachineLearningServices.
func projectAPIVersion(projectID string) string {
	if strings.Contains(strings.ToLower(projectID), "/microsoft.machinelearningservices/") {
		return apiHubProject
	}
	return apiFoundryProject
}

// getProject reads the target project. Projects are never created.
func (p *Provider) getProject(ctx context.Context, spec cloud.CreateSpec) (models.Resource, error) {
	p.logger.Debugf("Getting project %s", spec.ParentID)
	var project armProject
	client := restClient{pipeline: p.arm.Pipeline()}
	_, err := client.do(ctx, http.MethodGet, armURL(p.arm.Endpoint(), spec.ParentID, projectAPIVersion(spec.ParentID)), nil, &project)
	if isNotFound(err) {
		return models.Resource{}, fmt.Errorf("project %s does not exist", spec.ParentID)
	}
	if err != nil {
		return models.Resource{}, fmt.Errorf("failed to get project: %w", err)
	}
	res := models.Resource{
		ID:            project.ID,
		Kind:          models.KindProject,
		Name:          project.Name,
		ResourceGroup: common.ResourceIDSegment(project.ID, "resourceGroups"),
		Location:      project.Location,
		Endpoint:      projectEndpoint(project.Name, project.Properties),
	}
	if project.Identity != nil {
		res.PrincipalID = project.Identity.PrincipalID
	}
	return res, nil
}

type armConnection struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Properties struct {
		Category string            `json:"category"`
		Target   string            `json:"target"`
		AuthType string            `json:"authType"`
		Audience string            `json:"audience,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"properties"`
}

func connectionResource(projectID string, c armConnection) models.Resource {
	return models.Resource{
		ID:            c.ID,
		Kind:          models.KindConnection,
		Name:          c.Name,
		ResourceGroup: common.ResourceIDSegment(projectID, "resourceGroups"),
		Endpoint:      c.Properties.Target,
		ParentID:      projectID,
	}
}

func (p *Provider) listConnections(ctx context.Context, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		client := restClient{pipeline: p.arm.Pipeline()}
		next := armURL(p.arm.Endpoint(), scope.ParentID, projectAPIVersion(scope.ParentID), "connections")
		for next != "" {
			var page struct {
				Value    []armConnection `json:"value"`
				NextLink string          `json:"nextLink"`
			}
			if _, err := client.do(ctx, http.MethodGet, next, nil, &page); err != nil {
				yield(models.Resource{}, fmt.Errorf("failed to list connections: %w", err))
				return
			}
			for _, c := range page.Value {
				if !yield(connectionResource(scope.ParentID, c), nil) {
					return
				}
			}
			next = page.NextLink
		}
	}
}

// createConnection returns the named project connection, creating it when
// it does not exist.
func (p *Provider) createConnection(ctx context.Context, spec cloud.CreateSpec) (models.Resource, error) {
	client := restClient{pipeline: p.arm.Pipeline()}
	endpoint := armURL(p.arm.Endpoint(), spec.ParentID, projectAPIVersion(spec.ParentID), "connections", spec.Name)

	var existing armConnection
	_, err := client.do(ctx, http.MethodGet, endpoint, nil, &existing)
	if err == nil {
		p.logger.Debugf("Connection %s already exists", spec.Name)
		return connectionResource(spec.ParentID, existing), nil
	}
	if !isNotFound(err) {
		return models.Resource{}, fmt.Errorf("failed to get connection %s: %w", spec.Name, err)
	}

	body := armConnection{}
	body.Properties.Category = spec.Connection.Category
	body.Properties.Target = spec.Connection.Target
	body.Properties.AuthType = spec.Connection.AuthType
	body.Properties.Audience = spec.Connection.Audience
	if spec.Connection.SearchService != "" {
		body.Properties.Metadata = map[string]string{"ApiType": "Azure"}
	}
	var created armConnection
	if _, err := client.do(ctx, http.MethodPut, endpoint, body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return models.Resource{}, fmt.Errorf("failed to create connection %s: %w", spec.Name, err)
	}
	p.logger.Debugf("Created connection %s", spec.Name)
	return connectionResource(spec.ParentID, created), nil
}

// knowledgeSourceKinds maps data source types to search knowledge source kinds.
var knowledgeSourceKinds = map[models.DataSourceType]string{
	models.SourceAzureSearch: "searchIndex",
	models.SourceBlobStorage: "searchIndex",
	models.SourceSharePoint:  "remoteSharePoint",
	models.SourceURL:         "web",
}

func knowledgeSourceBody(src models.KnowledgeSourceSpec) (map[string]any, error) {
	kind, ok := knowledgeSourceKinds[src.Type]
	if !ok || (kind == "searchIndex" && src.IndexName == "") {
		return nil, fmt.Errorf("knowledge source %s: %s sources cannot be created", src.Name, src.Type)
	}
	body := map[string]any{"name": src.Name, "kind": kind}
	if kind == "searchIndex" {
		body["searchIndexParameters"] = map[string]any{"searchIndexName": src.IndexName}
	}
	return body, nil
}

// createKnowledgeBase creates the knowledge sources and then the knowledge
// base on the search service at spec.ParentID. Existing objects are reused.
func (p *Provider) createKnowledgeBase(ctx context.Context, spec cloud.CreateSpec) (models.Resource, error) {
	kb := spec.KnowledgeBase
	endpoint := strings.TrimRight(spec.ParentID, "/")
	res := models.Resource{
		ID:       endpoint + "/knowledgebases/" + kb.Name,
		Kind:     models.KindKnowledgeBase,
		Name:     kb.Name,
		Endpoint: endpoint,
		ParentID: endpoint,
	}
	if _, err := p.search.do(ctx, http.MethodGet, buildURL(endpoint, apiSearchData, "knowledgebases", kb.Name), nil, nil); err == nil {
		p.logger.Debugf("Knowledge base %s already exists", kb.Name)
		return res, nil
	} else if !isNotFound(err) {
		return models.Resource{}, fmt.Errorf("failed to get knowledge base %s: %w", kb.Name, err)
	}

	refs := make([]map[string]string, 0, len(kb.Sources))
	for _, src := range kb.Sources {
		body, err := knowledgeSourceBody(src)
		if err != nil {
			return models.Resource{}, err
		}
		if _, err := p.search.do(ctx, http.MethodPut, buildURL(endpoint, apiSearchData, "knowledgesources", src.Name), body, nil,
			http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
			return models.Resource{}, fmt.Errorf("failed to create knowledge source %s: %w", src.Name, err)
		}
		refs = append(refs, map[string]string{"name": src.Name})
	}
	body := map[string]any{
		"name":             kb.Name,
		"description":      kb.Description,
		"knowledgeSources": refs,
	}
	if _, err := p.search.do(ctx, http.MethodPut, buildURL(endpoint, apiSearchData, "knowledgebases", kb.Name), body, nil,
		http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
		return models.Resource{}, fmt.Errorf("failed to create knowledge base %s: %w", kb.Name, err)
	}
	p.logger.Debugf("Created knowledge base %s with %d source(s)", kb.Name, len(refs))
	return res, nil
}

type assistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// agentBody builds the assistants API payload. The search tool carries its
// indexes in tool_resources; the MCP tool is self-contained.
func agentBody(spec *models.AgentSpec) (map[string]any, error) {
	body := map[string]any{
		"name":         spec.Name,
		"model":        spec.Model,
		"instructions": spec.Instructions,
	}
	switch spec.Tool.Type {
	case models.ToolAzureAISearch:
		indexes := make([]map[string]any, 0, len(spec.Tool.Indexes))
		for _, idx := range spec.Tool.Indexes {
			connID, ok := spec.ConnectionIDs[idx.Connection]
			if !ok {
				return nil, fmt.Errorf("index %s refers to unknown connection %s", idx.IndexName, idx.Connection)
			}
			entry := map[string]any{
				"index_connection_id": connID,
				"index_name":          idx.IndexName,
				"query_type":          strings.ToLower(idx.QueryType),
				"top_k":               idx.TopK,
			}
			if idx.Filter != "" {
				entry["filter"] = idx.Filter
			}
			indexes = append(indexes, entry)
		}
		body["tools"] = []map[string]any{{"type": models.ToolAzureAISearch}}
		body["tool_resources"] = map[string]any{
			models.ToolAzureAISearch: map[string]any{"indexes": indexes},
		}
	case models.ToolMCP:
		connID, ok := spec.ConnectionIDs[spec.Tool.Connection]
		if !ok {
			return nil, fmt.Errorf("mcp tool refers to unknown connection %s", spec.Tool.Connection)
		}
		body["tools"] = []map[string]any{{
			"type":                  models.ToolMCP,
			"server_label":          spec.Tool.ServerLabel,
			"server_url":            spec.Tool.ServerURL,
			"require_approval":      spec.Tool.RequireApproval,
			"allowed_tools":         spec.Tool.AllowedTools,
			"project_connection_id": connID,
		}}
	default:
		return nil, fmt.Errorf("unknown tool type %q", spec.Tool.Type)
	}
	return body, nil
}

// createAgent returns the agent with the requested name in the project at
// spec.ParentID (the project endpoint), creating it when absent.
func (p *Provider) createAgent(ctx context.Context, spec cloud.CreateSpec) (models.Resource, error) {
	endpoint := strings.TrimRight(spec.ParentID, "/")
	res := models.Resource{
		Kind:     models.KindAgent,
		Name:     spec.Agent.Name,
		Endpoint: endpoint,
		ParentID: endpoint,
	}
	body, err := agentBody(spec.Agent)
	if err != nil {
		return models.Resource{}, err
	}

	var list struct {
		Data []assistant `json:"data"`
	}
	if _, err := p.foundry.do(ctx, http.MethodGet, buildURL(endpoint, apiAgents, "assistants")+"&limit=100", nil, &list); err != nil {
		return models.Resource{}, fmt.Errorf("failed to list agents: %w", err)
	}
	for _, a := range list.Data {
		if a.Name == spec.Agent.Name {
			p.logger.Debugf("Agent %s already exists as %s", a.Name, a.ID)
			res.ID = a.ID
			return res, nil
		}
	}

	var created assistant
	if _, err := p.foundry.do(ctx, http.MethodPost, buildURL(endpoint, apiAgents, "assistants"), body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return models.Resource{}, fmt.Errorf("failed to create agent %s: %w", spec.Agent.Name, err)
	}
	res.ID = firstNonEmpty(created.ID, spec.Agent.Name)
	p.logger.Debugf("Created agent %s as %s", spec.Agent.Name, res.ID)
	return res, nil
}

// Query implements cloud.Provider. Each call opens a new conversation.
func (p *Provider) Query(ctx context.Context, agent models.Resource, input string) (*cloud.QueryResponse, error) {
	if agent.Endpoint == "" {
		return nil, fmt.Errorf("agent %s has no project endpoint", agent.Name)
	}
	var conversation struct {
		ID string `json:"id"`
	}
	if _, err := p.foundry.do(ctx, http.MethodPost, buildURL(agent.Endpoint, apiResponses, "openai", "conversations"), map[string]any{}, &conversation, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if conversation.ID == "" {
		return nil, retry.MarkTransient(fmt.Errorf("conversation created without an id"))
	}
	body := map[string]any{
		"conversation": conversation.ID,
		"input":        input,
		"agent": map[string]string{
			"name": agent.Name,
			"type": "agent_reference",
		},
	}
	var raw json.RawMessage
	if _, err := p.foundry.do(ctx, http.MethodPost, buildURL(agent.Endpoint, apiResponses, "openai", "responses"), body, &raw); err != nil {
		return nil, fmt.Errorf("failed to query agent %s: %w", agent.Name, err)
	}
	return parseResponse(raw)
}
