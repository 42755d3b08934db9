package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/template"
)

var (
	genAgentName string
	genSessionID string
	genQuery     string
	genFormat    string
	genStdout    bool
)

var generateCmd = &cobra.Command{
	Use:       "generate <python|curl|comparison>",
	Short:     "Generate sample code for a migrated agent or the OYD vs Foundry comparison",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: template.Kinds,
	RunE:      runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genAgentName, "agent-name", "", "Agent to call from the sample")
	generateCmd.Flags().StringVar(&genSessionID, "session", "", "Take the agent and project endpoint from this session")
	generateCmd.Flags().StringVar(&genQuery, "query", "", "Question the sample asks")
	generateCmd.Flags().StringVar(&genFormat, "format", "markdown", "Comparison format (markdown or json)")
	generateCmd.Flags().BoolVar(&genStdout, "stdout", false, "Print instead of writing to the output directory")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	kind := args[0]
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	if kind == template.KindComparison && genFormat == "json" {
		return template.RenderComparisonJSON(cmd.OutOrStdout())
	}

	sample := template.Sample{
		AgentName:       genAgentName,
		ProjectEndpoint: e.cfg.TargetProjectEndpoint,
		Query:           genQuery,
	}
	if genSessionID != "" && kind != template.KindComparison {
		o, err := e.orchestrator(nil)
		if err != nil {
			return err
		}
		sess, err := o.Session(cmd.Context(), genSessionID)
		if err != nil {
			return err
		}
		sample = sampleFromSession(sess, sample)
	}

	gen := template.NewGenerator(e.log, e.cfg.OutputDir)
	if genStdout {
		return gen.Render(cmd.OutOrStdout(), kind, sample)
	}
	path, err := gen.Generate(kind, sample)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// sampleFromSession fills the agent name and project endpoint from a session
// unless they were given explicitly.
func sampleFromSession(sess *models.Session, s template.Sample) template.Sample {
	if s.AgentName == "" && sess.MappedConfig != nil {
		s.AgentName = sess.MappedConfig.AgentName
	}
	if ep := sess.ProvisioningResults["project"].Outputs["endpoint"]; ep != "" && s.ProjectEndpoint == "" {
		s.ProjectEndpoint = ep
	}
	if s.ProjectEndpoint == "" {
		s.ProjectEndpoint = sess.Inputs.ProjectEndpoint
	}
	return s
}
