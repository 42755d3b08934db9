// Package config handles configuration loading from files, environment variables, and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/spf13/viper"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/mapper"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/retry"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/state"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/workflow"
)

// FileName is the config file looked up in the working directory.
const FileName = "oyd-migrator-config"

// Session storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBlob   = "blob"
)

// Config holds all configuration for the migrator.
type Config struct {
	AzureSubscriptionID     string
	AzureResourceGroup      string
	AzureAccountName        string
	AzureDeploymentName     string
	TargetProjectEndpoint   string
	TargetProjectID         string
	TargetModel             string
	MigrationPath           string
	KBSearchEndpoint        string
	SessionBackend          string
	SessionDir              string
	SessionDB               string
	SessionBlobURL          string
	DiscoveryParallelism    int
	RetryMaxAttempts        int
	RetrySettleDelay        time.Duration
	RetryIntervals          []time.Duration
	CallTimeout             time.Duration
	SkipValidation          bool
	SkipRoleCheck           bool
	AllowIndexScopeWidening bool
	ValidationQueries       []string
	OutputDir               string
	Debug                   bool
}

// DefaultSessionDir returns ~/.oyd-migrator/sessions, or a relative
// directory when the home directory is unknown.
func DefaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".oyd-migrator", "sessions")
	}
	return filepath.Join(home, ".oyd-migrator", "sessions")
}

func setDefaults() {
	policy := retry.DefaultPolicy()
	viper.SetDefault("target_model", mapper.DefaultModel)
	viper.SetDefault("session_backend", BackendFile)
	viper.SetDefault("session_dir", DefaultSessionDir())
	viper.SetDefault("discovery_parallelism", 4)
	viper.SetDefault("retry_max_attempts", policy.MaxAttempts)
	viper.SetDefault("retry_settle_delay", policy.SettleDelay.String())
	viper.SetDefault("retry_intervals", joinDurations(policy.Delays))
	viper.SetDefault("call_timeout", policy.AttemptTimeout.String())
	viper.SetDefault("output_dir", "./samples")
}

// Load initializes configuration from file, environment variables, and flags.
func Load(configFile string) (*Config, error) {
	setDefaults()
	viper.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	settle, err := time.ParseDuration(viper.GetString("retry_settle_delay"))
	if err != nil {
		return nil, fmt.Errorf("invalid retry_settle_delay: %w", err)
	}
	callTimeout, err := time.ParseDuration(viper.GetString("call_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid call_timeout: %w", err)
	}
	intervals, err := parseDurations(viper.GetString("retry_intervals"))
	if err != nil {
		return nil, fmt.Errorf("invalid retry_intervals: %w", err)
	}

	sessionDB := viper.GetString("session_db")
	if sessionDB == "" {
		sessionDB = filepath.Join(filepath.Dir(viper.GetString("session_dir")), "sessions.db")
	}

	cfg := &Config{
		AzureSubscriptionID:     viper.GetString("azure_subscription_id"),
		AzureResourceGroup:      viper.GetString("azure_resource_group"),
		AzureAccountName:        viper.GetString("azure_account_name"),
		AzureDeploymentName:     viper.GetString("azure_deployment_name"),
		TargetProjectEndpoint:   strings.TrimRight(viper.GetString("target_project_endpoint"), "/"),
		TargetProjectID:         viper.GetString("target_project_id"),
		TargetModel:             viper.GetString("target_model"),
		MigrationPath:           viper.GetString("migration_path"),
		KBSearchEndpoint:        strings.TrimRight(viper.GetString("kb_search_endpoint"), "/"),
		SessionBackend:          strings.ToLower(viper.GetString("session_backend")),
		SessionDir:              viper.GetString("session_dir"),
		SessionDB:               sessionDB,
		SessionBlobURL:          viper.GetString("session_blob_url"),
		DiscoveryParallelism:    viper.GetInt("discovery_parallelism"),
		RetryMaxAttempts:        viper.GetInt("retry_max_attempts"),
		RetrySettleDelay:        settle,
		RetryIntervals:          intervals,
		CallTimeout:             callTimeout,
		SkipValidation:          viper.GetBool("skip_validation"),
		SkipRoleCheck:           viper.GetBool("skip_role_check"),
		AllowIndexScopeWidening: viper.GetBool("allow_index_scope_widening"),
		ValidationQueries:       splitList(viper.GetString("validation_query")),
		OutputDir:               viper.GetString("output_dir"),
		Debug:                   viper.GetBool("debug"),
	}

	return cfg, nil
}

// LoadConfig loads configuration using the global Viper instance.
func LoadConfig() (*Config, error) {
	return Load("")
}

// ValidateDiscovery checks what discovery needs.
func (c *Config) ValidateDiscovery() error {
	if c.AzureSubscriptionID == "" {
		return fmt.Errorf("azure_subscription_id is required")
	}
	if c.DiscoveryParallelism < 0 {
		return fmt.Errorf("discovery_parallelism must not be negative")
	}
	return nil
}

// ValidateStore checks the session storage settings.
func (c *Config) ValidateStore() error {
	switch c.SessionBackend {
	case BackendFile:
		if c.SessionDir == "" {
			return fmt.Errorf("session_dir is required for the file backend")
		}
	case BackendSQLite:
		if c.SessionDB == "" {
			return fmt.Errorf("session_db is required for the sqlite backend")
		}
	case BackendBlob:
		if !strings.HasPrefix(c.SessionBlobURL, "https://") {
			return fmt.Errorf("session_blob_url must be an https container URL for the blob backend")
		}
	default:
		return fmt.Errorf("unknown session_backend %q (file, sqlite or blob)", c.SessionBackend)
	}
	return nil
}

// Validate checks that everything a migration run needs is present.
func (c *Config) Validate() error {
	if err := c.ValidateDiscovery(); err != nil {
		return err
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.TargetProjectID == "" {
		return fmt.Errorf("target_project_id is required")
	}
	if c.TargetProjectEndpoint != "" && !strings.HasPrefix(c.TargetProjectEndpoint, "https://") {
		return fmt.Errorf("target_project_endpoint must start with https://")
	}
	if !slices.Contains(mapper.SupportedModels, strings.ToLower(c.TargetModel)) {
		return fmt.Errorf("target_model %q is not supported (supported: %s)", c.TargetModel, strings.Join(mapper.SupportedModels, ", "))
	}
	if _, err := models.ParseMigrationPath(c.MigrationPath); err != nil {
		return err
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	return nil
}

// Inputs returns the session inputs described by the configuration.
func (c *Config) Inputs() models.Inputs {
	path, _ := models.ParseMigrationPath(c.MigrationPath)
	return models.Inputs{
		SubscriptionID:        c.AzureSubscriptionID,
		ResourceGroup:         c.AzureResourceGroup,
		AccountName:           c.AzureAccountName,
		DeploymentName:        c.AzureDeploymentName,
		ProjectEndpoint:       c.TargetProjectEndpoint,
		ProjectID:             c.TargetProjectID,
		PathHint:              path,
		TargetModel:           strings.ToLower(c.TargetModel),
		KnowledgeBaseEndpoint: c.KBSearchEndpoint,
	}
}

// Policy returns the retry policy described by the configuration.
func (c *Config) Policy() *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.SettleDelay = c.RetrySettleDelay
	if len(c.RetryIntervals) > 0 {
		p.Delays = c.RetryIntervals
	}
	p.AttemptTimeout = c.CallTimeout
	return p
}

// ToOptions converts the configuration into orchestrator options.
func (c *Config) ToOptions(confirmer workflow.Confirmer) workflow.Options {
	return workflow.Options{
		Inputs:                  c.Inputs(),
		Parallelism:             c.DiscoveryParallelism,
		Policy:                  c.Policy(),
		SkipValidation:          c.SkipValidation,
		SkipRoleCheck:           c.SkipRoleCheck,
		AllowIndexScopeWidening: c.AllowIndexScopeWidening,
		ValidationQueries:       c.ValidationQueries,
		Confirmer:               confirmer,
	}
}

// OpenStore opens the configured session backend. The returned close
// function releases the backend's resources.
func (c *Config) OpenStore(cred azcore.TokenCredential, log *logger.Logger) (state.Store, func() error, error) {
	if err := c.ValidateStore(); err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }
	switch c.SessionBackend {
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(c.SessionDB), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create session database directory: %w", err)
		}
		store, err := state.NewSQLiteStore(c.SessionDB, state.DefaultLeaseTTL, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case BackendBlob:
		if cred == nil {
			return nil, nil, fmt.Errorf("the blob backend needs an Azure credential")
		}
		store, err := state.NewBlobStore(c.SessionBlobURL, cred, log)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
	store, err := state.NewFileStore(c.SessionDir)
	if err != nil {
		return nil, nil, err
	}
	return store, noop, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurations(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative interval %s", part)
		}
		out = append(out, d)
	}
	return out, nil
}

func joinDurations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
