package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/config"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/discovery"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/mapper"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/selector"
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Pick a deployment, path and target project interactively, then migrate",
	Args:  cobra.NoArgs,
	RunE:  runWizard,
}

// surveyConfirmer asks on the terminal before a derived index name is used.
type surveyConfirmer struct {
	logger *logger.Logger
}

func newSurveyConfirmer(log *logger.Logger) *surveyConfirmer {
	return &surveyConfirmer{logger: log}
}

func (c *surveyConfirmer) ConfirmIndexScope(cfg models.MappedConfig, connection, index string) (bool, error) {
	c.logger.Warningf("Deployment %s names no index for connection %s", cfg.DeploymentName, connection)
	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Use index %q derived from the connection? The agent may see more documents than before.", index),
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, fmt.Errorf("index scope confirmation: %w", err)
	}
	return ok, nil
}

func runWizard(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg

	e.log.Banner("Azure OpenAI On Your Data -> Foundry Agent Service")
	if err := survey.AskOne(&survey.Input{
		Message: "Azure subscription ID:",
		Default: cfg.AzureSubscriptionID,
	}, &cfg.AzureSubscriptionID, survey.WithValidator(survey.Required)); err != nil {
		return err
	}
	if err := survey.AskOne(&survey.Input{
		Message: "Resource group (empty for the whole subscription):",
		Default: cfg.AzureResourceGroup,
	}, &cfg.AzureResourceGroup); err != nil {
		return err
	}

	p, err := e.provider()
	if err != nil {
		return err
	}
	d := discovery.New(p, e.log, cfg.DiscoveryParallelism, cfg.CallTimeout)
	result, err := d.Discover(cmd.Context(),
		discovery.Scope{SubscriptionID: cfg.AzureSubscriptionID},
		discovery.Filters{ResourceGroup: cfg.AzureResourceGroup, AccountName: cfg.AzureAccountName})
	if err != nil {
		return err
	}

	dep, err := pickDeployment(result)
	if err != nil {
		return err
	}
	cfg.AzureAccountName = dep.Deployment.AccountName
	cfg.AzureDeploymentName = dep.Name

	if err := askPath(cfg, result, dep); err != nil {
		return err
	}
	if err := askTarget(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	e.log.KeyValues(
		"Deployment", dep.Deployment.AccountName+"/"+dep.Name,
		"Path", cfg.MigrationPath,
		"Model", cfg.TargetModel,
		"Project", cfg.TargetProjectID,
	)
	start := false
	if err := survey.AskOne(&survey.Confirm{Message: "Start the migration?", Default: true}, &start); err != nil {
		return err
	}
	if !start {
		e.log.Info("Nothing was changed")
		return nil
	}

	o, err := e.orchestrator(newSurveyConfirmer(e.log))
	if err != nil {
		return err
	}
	sess, err := o.StartSession(cmd.Context())
	if sess != nil {
		printSession(cmd.OutOrStdout(), sess)
	}
	return err
}

// pickDeployment offers the deployments that have On Your Data sources.
func pickDeployment(result *models.DiscoveryResult) (models.Resource, error) {
	var options []string
	byLabel := map[string]models.Resource{}
	for _, dep := range result.OfKind(models.KindDeployment) {
		if dep.Deployment == nil || len(dep.Deployment.DataSources) == 0 {
			continue
		}
		label := deploymentLabel(dep)
		options = append(options, label)
		byLabel[label] = dep
	}
	if len(options) == 0 {
		return models.Resource{}, fmt.Errorf("no deployments with On Your Data sources found in subscription %s", result.SubscriptionID)
	}

	choice := options[0]
	if len(options) > 1 {
		if err := survey.AskOne(&survey.Select{Message: "Deployment to migrate:", Options: options, Default: options[0]}, &choice); err != nil {
			return models.Resource{}, err
		}
	}
	return byLabel[choice], nil
}

func deploymentLabel(dep models.Resource) string {
	types := make([]string, 0, len(dep.Deployment.DataSources))
	for _, ds := range dep.Deployment.DataSources {
		types = append(types, string(ds.Type))
	}
	return fmt.Sprintf("%s/%s [%s]", dep.Deployment.AccountName, dep.Name, strings.Join(types, ", "))
}

func askPath(cfg *config.Config, result *models.DiscoveryResult, dep models.Resource) error {
	hint, _ := models.ParseMigrationPath(cfg.MigrationPath)
	recommended := selector.Select(result, dep.ID, hint)
	options := []string{string(models.PathDirectIndexTool), string(models.PathKnowledgeBaseRetrieval)}
	if len(selector.Unsupported(dep)) > 0 {
		// the search tool cannot serve every source of this deployment
		options = options[1:]
	}
	choice := string(recommended)
	if !slices.Contains(options, choice) {
		choice = options[0]
	}
	if err := survey.AskOne(&survey.Select{
		Message: "Migration path:",
		Options: options,
		Default: choice,
		Description: func(value string, _ int) string {
			if value == string(recommended) {
				return "recommended"
			}
			return ""
		},
	}, &choice); err != nil {
		return err
	}
	cfg.MigrationPath = choice

	if models.MigrationPath(choice) == models.PathKnowledgeBaseRetrieval {
		return survey.AskOne(&survey.Input{
			Message: "Search service endpoint for the knowledge base (empty to use the data source's):",
			Default: cfg.KBSearchEndpoint,
		}, &cfg.KBSearchEndpoint)
	}
	return nil
}

func askTarget(cfg *config.Config) error {
	answers := struct {
		ProjectID string `survey:"projectID"`
		Endpoint  string `survey:"endpoint"`
		Model     string `survey:"model"`
	}{cfg.TargetProjectID, cfg.TargetProjectEndpoint, strings.ToLower(cfg.TargetModel)}
	if !slices.Contains(mapper.SupportedModels, answers.Model) {
		answers.Model = mapper.DefaultModel
	}

	qs := []*survey.Question{
		{
			Name:     "projectID",
			Prompt:   &survey.Input{Message: "Foundry project resource ID:", Default: answers.ProjectID},
			Validate: survey.Required,
		},
		{
			Name:   "endpoint",
			Prompt: &survey.Input{Message: "Foundry project endpoint (empty to derive it):", Default: answers.Endpoint},
		},
		{
			Name:   "model",
			Prompt: &survey.Select{Message: "Agent model:", Options: mapper.SupportedModels, Default: answers.Model},
		},
	}
	if err := survey.Ask(qs, &answers); err != nil {
		return err
	}
	cfg.TargetProjectID = answers.ProjectID
	cfg.TargetProjectEndpoint = strings.TrimRight(answers.Endpoint, "/")
	cfg.TargetModel = answers.Model
	return nil
}
