package workflow

import (
	"fmt"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/provision"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/validate"
)

// KnowledgeBaseHandler migrates a deployment to an agent that retrieves from
// a Foundry IQ knowledge base over MCP.
type KnowledgeBaseHandler struct{}

func NewKnowledgeBaseHandler() *KnowledgeBaseHandler       { return &KnowledgeBaseHandler{} }
func (h *KnowledgeBaseHandler) Name() string               { return "Foundry IQ knowledge base" }
func (h *KnowledgeBaseHandler) Path() models.MigrationPath { return models.PathKnowledgeBaseRetrieval }

// Plan: project, connections, the knowledge base on the search service, then
// the agent.
func (h *KnowledgeBaseHandler) Plan(sess *models.Session) ([]provision.Step, error) {
	cfg, err := mappedConfig(sess)
	if err != nil {
		return nil, err
	}
	kb := cfg.KnowledgeBase
	if kb == nil || kb.SearchEndpoint == "" {
		return nil, fmt.Errorf("no search service can host the knowledge base; set KB_SEARCH_ENDPOINT")
	}
	if len(kb.Sources) == 0 {
		return nil, fmt.Errorf("knowledge base %s has no sources", kb.Name)
	}

	steps := []provision.Step{projectStep(sess.Inputs)}
	steps = append(steps, connectionSteps(cfg)...)
	steps = append(steps, provision.Step{
		Name: stepKnowledgeBase + kb.Name,
		Kind: models.KindKnowledgeBase,
		Build: func(map[string]models.StepResult) (cloud.CreateSpec, error) {
			return cloud.CreateSpec{Name: kb.Name, ParentID: kb.SearchEndpoint, KnowledgeBase: kb}, nil
		},
	})
	steps = append(steps, agentStep(cfg, stepNames(steps)))
	return steps, nil
}

func (h *KnowledgeBaseHandler) RequiredRoles(sess *models.Session) []models.RoleRequirement {
	return validate.Requirements(h.Path(), roleTargets(sess))
}
