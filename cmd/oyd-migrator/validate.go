package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-check a migrated agent, its role assignments or a project connection",
}

var validateAgentCmd = &cobra.Command{
	Use:   "agent <session-id>",
	Short: "Query the agent of a session and check its answers for citations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionValidation(cmd, args[0], true, false)
	},
}

var validateRolesCmd = &cobra.Command{
	Use:   "roles <session-id>",
	Short: "Check the role assignments the agent of a session needs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionValidation(cmd, args[0], false, true)
	},
}

var validateConnectionCmd = &cobra.Command{
	Use:   "connection <name>",
	Short: "Check that a connection exists in the target project",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidateConnection,
}

func init() {
	validateCmd.AddCommand(validateAgentCmd, validateRolesCmd, validateConnectionCmd)
}

func runSessionValidation(cmd *cobra.Command, id string, endToEnd, roles bool) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	o, err := e.orchestrator(nil)
	if err != nil {
		return err
	}
	report, err := o.ValidateSession(cmd.Context(), id, endToEnd, roles)
	if err != nil {
		return err
	}
	return reportResult(cmd.OutOrStdout(), report)
}

func runValidateConnection(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.TargetProjectID == "" {
		return fmt.Errorf("target_project_id is required")
	}
	p, err := e.provider()
	if err != nil {
		return err
	}
	v := validate.New(p, e.cfg.Policy(), e.log)
	report, err := v.CheckConnection(cmd.Context(), e.cfg.TargetProjectID, args[0])
	if err != nil {
		return err
	}
	return reportResult(cmd.OutOrStdout(), report)
}

func reportResult(w io.Writer, report *models.ValidationReport) error {
	printFindings(w, report)
	if !report.Passed() {
		return fmt.Errorf("validation failed")
	}
	fmt.Fprintln(w, color.GreenString("Validation passed"))
	return nil
}

func severityTag(s models.Severity) string {
	tag := "[" + string(s) + "]"
	switch s {
	case models.SeverityError:
		return color.RedString(tag)
	case models.SeverityWarning:
		return color.YellowString(tag)
	}
	return tag
}

func printFindings(w io.Writer, report *models.ValidationReport) {
	for _, q := range report.Queries {
		fmt.Fprintf(w, "  query %q: %d citations, %d tool calls\n", q.Query, q.Citations, q.ToolCalls)
	}
	for _, f := range report.Findings {
		subject := f.Subject
		if subject == "" {
			subject = f.Check
		}
		fmt.Fprintf(w, "  %s %s %s: %s\n", severityTag(f.Severity), f.Kind, subject, f.Message)
	}
}
