package workflow

import (
	"fmt"
	"strings"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/provision"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/validate"
)

// Step names. They are checkpoint keys and must not change between releases.
const (
	stepProject          = "project"
	stepConnectionPrefix = "connection/"
	stepKnowledgeBase    = "knowledge_base/"
	stepAgentPrefix      = "agent/"
)

// AgentStep returns the step name of the agent of a mapped config.
func AgentStep(cfg *models.MappedConfig) string {
	return stepAgentPrefix + cfg.AgentName
}

func mappedConfig(sess *models.Session) (*models.MappedConfig, error) {
	if sess.MappedConfig == nil {
		return nil, fmt.Errorf("session %s has no mapped configuration", sess.ID)
	}
	if sess.Inputs.ProjectID == "" {
		return nil, fmt.Errorf("session %s has no target project id", sess.ID)
	}
	return sess.MappedConfig, nil
}

func projectStep(in models.Inputs) provision.Step {
	name := common.ProjectNameFromEndpoint(in.ProjectEndpoint)
	if name == "" {
		name = common.LastSegment(in.ProjectID)
	}
	return provision.Step{
		Name: stepProject,
		Kind: models.KindProject,
		Build: func(map[string]models.StepResult) (cloud.CreateSpec, error) {
			return cloud.CreateSpec{Name: name, ParentID: in.ProjectID}, nil
		},
	}
}

func connectionSteps(cfg *models.MappedConfig) []provision.Step {
	steps := make([]provision.Step, 0, len(cfg.Connections))
	for _, conn := range cfg.Connections {
		steps = append(steps, provision.Step{
			Name:      stepConnectionPrefix + conn.Name,
			Kind:      models.KindConnection,
			DependsOn: []string{stepProject},
			Build: func(r map[string]models.StepResult) (cloud.CreateSpec, error) {
				project, ok := r[stepProject]
				if !ok {
					return cloud.CreateSpec{}, fmt.Errorf("project result missing")
				}
				return cloud.CreateSpec{Name: conn.Name, ParentID: project.ResourceID, Connection: &conn}, nil
			},
		})
	}
	return steps
}

func agentStep(cfg *models.MappedConfig, deps []string) provision.Step {
	return provision.Step{
		Name:      AgentStep(cfg),
		Kind:      models.KindAgent,
		DependsOn: deps,
		Build: func(r map[string]models.StepResult) (cloud.CreateSpec, error) {
			project, ok := r[stepProject]
			if !ok {
				return cloud.CreateSpec{}, fmt.Errorf("project result missing")
			}
			ids := map[string]string{}
			for _, conn := range cfg.Connections {
				res, ok := r[stepConnectionPrefix+conn.Name]
				if !ok {
					return cloud.CreateSpec{}, fmt.Errorf("connection %s has not been provisioned", conn.Name)
				}
				ids[conn.Name] = res.ResourceID
			}
			parent := project.ResourceID
			if ep := project.Outputs["endpoint"]; ep != "" {
				parent = ep
			}
			return cloud.CreateSpec{
				Name:     cfg.AgentName,
				ParentID: parent,
				Agent: &models.AgentSpec{
					Name:          cfg.AgentName,
					Model:         cfg.Model,
					Instructions:  cfg.Instructions,
					Tool:          cfg.Tool,
					ConnectionIDs: ids,
				},
			}, nil
		},
	}
}

func stepNames(steps []provision.Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// roleTargets resolves the identities and scopes of the role table. Search
// services come from the mapped connections and knowledge base; one missing
// from the discovery snapshot stays in the targets without an ID so its
// requirements are reported instead of dropped.
func roleTargets(sess *models.Session) validate.Targets {
	t := validate.Targets{ProjectID: sess.Inputs.ProjectID}
	if project, ok := sess.ProvisioningResults[stepProject]; ok {
		t.ProjectID = project.ResourceID
		t.ProjectPrincipalID = project.Outputs["principal_id"]
	}
	cfg := sess.MappedConfig
	if cfg == nil {
		return t
	}
	snap := sess.DiscoverySnapshot
	if snap == nil {
		snap = &models.DiscoveryResult{}
	}

	var names []string
	for _, conn := range cfg.Connections {
		names = append(names, conn.SearchService)
	}
	if cfg.KnowledgeBase != nil {
		names = append(names, cfg.KnowledgeBase.SearchService)
	}
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.ToLower(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		svc, ok := snap.SearchServiceByName(name)
		if !ok {
			svc = models.Resource{Kind: models.KindSearchService, Name: name}
		}
		t.SearchServices = append(t.SearchServices, svc)
	}

	var accountID string
	if before, _, ok := strings.Cut(cfg.DeploymentID, "/deployments/"); ok {
		accountID = before
	}
	if dep, ok := snap.Find(cfg.DeploymentID); ok && dep.ParentID != "" {
		accountID = dep.ParentID
	}
	if acct, ok := snap.Find(accountID); ok {
		t.SourceAccount = acct
	} else if accountID != "" {
		t.SourceAccount = models.Resource{ID: accountID, Kind: models.KindAccount}
	}
	return t
}
