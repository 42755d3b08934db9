package workflow

import (
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/provision"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/validate"
)

// DirectIndexToolHandler migrates a deployment to an agent that queries the
// existing search indexes through the Azure AI Search tool.
type DirectIndexToolHandler struct{}

func NewDirectIndexToolHandler() *DirectIndexToolHandler     { return &DirectIndexToolHandler{} }
func (h *DirectIndexToolHandler) Name() string               { return "Azure AI Search tool" }
func (h *DirectIndexToolHandler) Path() models.MigrationPath { return models.PathDirectIndexTool }

// Plan: project, one connection per search service, then the agent.
func (h *DirectIndexToolHandler) Plan(sess *models.Session) ([]provision.Step, error) {
	cfg, err := mappedConfig(sess)
	if err != nil {
		return nil, err
	}
	steps := []provision.Step{projectStep(sess.Inputs)}
	steps = append(steps, connectionSteps(cfg)...)
	steps = append(steps, agentStep(cfg, stepNames(steps)))
	return steps, nil
}

func (h *DirectIndexToolHandler) RequiredRoles(sess *models.Session) []models.RoleRequirement {
	return validate.Requirements(h.Path(), roleTargets(sess))
}
