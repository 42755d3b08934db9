package validate

import (
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Built-in role definition ids.
const (
	RoleOpenAIUser               = "5e0bd9bd-7b93-4f28-af87-19fc36ad61bd"
	RoleSearchIndexDataReader    = "1407120a-92aa-4202-b7e9-c0e197c71c8f"
	RoleSearchServiceContributor = "7ca78c08-252a-4471-8644-bb5ff32d4ba0"
)

var roleNames = map[string]string{
	RoleOpenAIUser:               "Cognitive Services OpenAI User",
	RoleSearchIndexDataReader:    "Search Index Data Reader",
	RoleSearchServiceContributor: "Search Service Contributor",
}

// RoleName returns the display name of a built-in role id.
func RoleName(id string) string {
	if n, ok := roleNames[id]; ok {
		return n
	}
	return id
}

// Targets are the identities and resources a path's role table refers to.
// A search service without an ID was named by the mapped configuration but
// could not be found; its requirements are reported as unresolved.
type Targets struct {
	ProjectID          string
	ProjectPrincipalID string
	SearchServices     []models.Resource
	SourceAccount      models.Resource
}

type roleRule struct {
	role     string
	assignee string
	target   string
}

const (
	assigneeProject = "project"
	assigneeSearch  = "search_service"

	targetSearch  = "search_service"
	targetAccount = "source_account"
)

var commonRules = []roleRule{
	{RoleSearchIndexDataReader, assigneeProject, targetSearch},
}

var pathRules = map[models.MigrationPath][]roleRule{
	models.PathDirectIndexTool: {
		{RoleSearchServiceContributor, assigneeProject, targetSearch},
	},
	models.PathKnowledgeBaseRetrieval: {
		{RoleOpenAIUser, assigneeSearch, targetAccount},
	},
}

// Requirements expands the role table of path into concrete triples. Every
// rule yields at least one requirement, so a path never checks nothing.
func Requirements(path models.MigrationPath, t Targets) []models.RoleRequirement {
	rules := append(append([]roleRule{}, commonRules...), pathRules[path]...)
	services := t.SearchServices
	if len(services) == 0 {
		services = []models.Resource{{Kind: models.KindSearchService}}
	}
	var out []models.RoleRequirement
	for _, r := range rules {
		for _, svc := range services {
			req := models.RoleRequirement{Role: RoleName(r.role), RoleDefinitionID: r.role}
			if svc.ID == "" {
				req.Unresolved = "search service " + svc.Name
				if svc.Name == "" {
					req.Unresolved = "search service"
				}
			}
			switch r.assignee {
			case assigneeProject:
				req.Assignee = "project " + t.ProjectID
				req.PrincipalID = t.ProjectPrincipalID
			case assigneeSearch:
				req.Assignee = "search service " + svc.Name
				req.PrincipalID = svc.PrincipalID
			}
			switch r.target {
			case targetSearch:
				req.TargetScope = svc.ID
			case targetAccount:
				req.TargetScope = t.SourceAccount.ID
				if t.SourceAccount.ID == "" && req.Unresolved == "" {
					req.Unresolved = "source account"
				}
			}
			out = append(out, req)
		}
	}
	return out
}
