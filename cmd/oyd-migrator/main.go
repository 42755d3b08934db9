// Package main provides the entry point for the OYD migrator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud/azure"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/config"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/state"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/workflow"
)

var (
	cfgFile string
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "oyd-migrator",
	Short:         "OYD migrator - Azure OpenAI On Your Data to Foundry Agent Service",
	Long:          `oyd-migrator moves Azure OpenAI "On Your Data" deployments to Foundry agents backed by the Azure AI Search tool or a Foundry IQ knowledge base.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.FileName+".env)")

	flags := []struct {
		name, usage string
	}{
		{"azure-subscription-id", "Azure subscription ID"},
		{"azure-resource-group", "Limit discovery to a resource group"},
		{"azure-account-name", "Limit discovery to an Azure OpenAI account"},
		{"azure-deployment-name", "Deployment to migrate"},
		{"target-project-endpoint", "Foundry project endpoint (https://<account>.services.ai.azure.com/api/projects/<project>)"},
		{"target-project-id", "Foundry project ARM resource ID"},
		{"target-model", "Agent model (gpt-4.1, gpt-4.1-mini, gpt-4.1-nano, gpt-4o, gpt-4o-mini)"},
		{"migration-path", "Force a migration path (direct_index_tool or knowledge_base_retrieval)"},
		{"kb-search-endpoint", "Search service hosting the knowledge base when no data source names one"},
		{"session-backend", "Session storage backend (file, sqlite or blob)"},
		{"session-dir", "Directory of the file session backend"},
		{"session-db", "Database path of the sqlite session backend"},
		{"session-blob-url", "Container URL of the blob session backend"},
		{"discovery-parallelism", "Concurrent discovery requests"},
		{"retry-max-attempts", "Attempts per provisioning step"},
		{"retry-settle-delay", "Wait before retrying a conflicting step (e.g. 10s)"},
		{"retry-intervals", "Comma-separated backoff intervals (e.g. 5s,15s,30s)"},
		{"call-timeout", "Timeout of a single cloud call"},
		{"validation-query", "Semicolon-separated validation queries"},
		{"output-dir", "Directory for generated samples"},
	}
	for _, f := range flags {
		rootCmd.PersistentFlags().String(f.name, "", f.usage)
	}

	boolFlags := []struct {
		name, usage string
	}{
		{"skip-validation", "Skip end-to-end validation"},
		{"skip-role-check", "Skip the role assignment check"},
		{"allow-index-scope-widening", "Accept index names derived from the connection without asking"},
		{"no-color", "Disable colored output"},
		{"debug", "Enable debug logging"},
	}
	for _, f := range boolFlags {
		rootCmd.PersistentFlags().Bool(f.name, false, f.usage)
	}

	bindings := map[string]string{
		"AZURE_SUBSCRIPTION_ID":      "azure-subscription-id",
		"AZURE_RESOURCE_GROUP":       "azure-resource-group",
		"AZURE_ACCOUNT_NAME":         "azure-account-name",
		"AZURE_DEPLOYMENT_NAME":      "azure-deployment-name",
		"TARGET_PROJECT_ENDPOINT":    "target-project-endpoint",
		"TARGET_PROJECT_ID":          "target-project-id",
		"TARGET_MODEL":               "target-model",
		"MIGRATION_PATH":             "migration-path",
		"KB_SEARCH_ENDPOINT":         "kb-search-endpoint",
		"SESSION_BACKEND":            "session-backend",
		"SESSION_DIR":                "session-dir",
		"SESSION_DB":                 "session-db",
		"SESSION_BLOB_URL":           "session-blob-url",
		"DISCOVERY_PARALLELISM":      "discovery-parallelism",
		"RETRY_MAX_ATTEMPTS":         "retry-max-attempts",
		"RETRY_SETTLE_DELAY":         "retry-settle-delay",
		"RETRY_INTERVALS":            "retry-intervals",
		"CALL_TIMEOUT":               "call-timeout",
		"VALIDATION_QUERY":           "validation-query",
		"OUTPUT_DIR":                 "output-dir",
		"SKIP_VALIDATION":            "skip-validation",
		"SKIP_ROLE_CHECK":            "skip-role-check",
		"ALLOW_INDEX_SCOPE_WIDENING": "allow-index-scope-widening",
		"NO_COLOR":                   "no-color",
		"DEBUG":                      "debug",
	}
	for env, flag := range bindings {
		if err := viper.BindPFlag(env, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind flag %s to env %s: %v\n", flag, env, err)
		}
	}

	rootCmd.AddCommand(discoverCmd, wizardCmd, migrateCmd, validateCmd, generateCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(config.FileName)
		viper.SetConfigType("env")
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// env bundles what every command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	closer []func() error
}

func (e *env) Close() {
	for i := len(e.closer) - 1; i >= 0; i-- {
		_ = e.closer[i]()
	}
}

// setup loads configuration and creates the logger. Long-running commands
// tee their output to oyd-migrator-<timestamp>.log.
func setup(logFile bool) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if viper.GetBool("no_color") {
		color.NoColor = true
	}

	if !logFile {
		return &env{cfg: cfg, log: logger.New(cfg.Debug)}, nil
	}

	logFileName := fmt.Sprintf("oyd-migrator-%s.log", logger.GetTimestamp())
	log, err := logger.NewWithFile(cfg.Debug, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Infof("oyd-migrator version %s", version)
	log.Infof("Log file: %s", logFileName)
	return &env{cfg: cfg, log: log, closer: []func() error{log.Close}}, nil
}

func (e *env) provider() (*azure.Provider, error) {
	p, err := azure.NewProvider(e.cfg.AzureSubscriptionID, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure provider: %w", err)
	}
	return p, nil
}

func (e *env) store(p *azure.Provider) (state.Store, error) {
	store, closeStore, err := e.cfg.OpenStore(p.Credential(), e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	e.closer = append(e.closer, closeStore)
	return store, nil
}

// orchestrator wires the provider, the session store and the options.
func (e *env) orchestrator(confirmer workflow.Confirmer) (*workflow.Orchestrator, error) {
	p, err := e.provider()
	if err != nil {
		return nil, err
	}
	store, err := e.store(p)
	if err != nil {
		return nil, err
	}
	return workflow.NewOrchestrator(store, p, e.log, e.cfg.ToOptions(confirmer)), nil
}
