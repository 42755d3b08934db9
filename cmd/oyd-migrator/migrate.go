package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

var (
	resumeID   string
	rollbackTo string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run and manage migration sessions",
}

var migrateInteractiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start a migration session, or resume one with --resume",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var migrateSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List migration sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var migrateAbortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Pause a session, keeping its progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

var migrateDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session record (provisioned resources are kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback <session-id>",
	Short: "Move a session back to an earlier stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

func init() {
	migrateInteractiveCmd.Flags().StringVar(&resumeID, "resume", "", "Resume the session with this ID")
	migrateRollbackCmd.Flags().StringVar(&rollbackTo, "to", "", "Stage to roll back to (new, discovered, path_selected, config_mapped, provisioned)")
	_ = migrateRollbackCmd.MarkFlagRequired("to")

	migrateCmd.AddCommand(migrateInteractiveCmd, migrateSessionsCmd, migrateAbortCmd, migrateDeleteCmd, migrateRollbackCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	if resumeID == "" {
		if err := e.cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	} else if err := e.cfg.ValidateStore(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	o, err := e.orchestrator(newSurveyConfirmer(e.log))
	if err != nil {
		return err
	}

	var sess *models.Session
	if resumeID != "" {
		e.log.Infof("Resuming session %s", resumeID)
		sess, err = o.Resume(cmd.Context(), resumeID)
	} else {
		sess, err = o.StartSession(cmd.Context())
	}
	if sess != nil {
		printSession(cmd.OutOrStdout(), sess)
	}
	return err
}

func runSessions(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	o, err := e.orchestrator(nil)
	if err != nil {
		return err
	}
	list, err := o.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
		return nil
	}
	return printSessions(cmd.OutOrStdout(), list)
}

func runAbort(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	o, err := e.orchestrator(nil)
	if err != nil {
		return err
	}
	sess, err := o.Abort(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	e.log.Successf("Session %s paused at %s", sess.ID, sess.CurrentStep)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	o, err := e.orchestrator(nil)
	if err != nil {
		return err
	}
	if err := o.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	e.log.Successf("Deleted session %s", args[0])
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	step, err := models.ParseStep(rollbackTo)
	if err != nil {
		return err
	}
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	o, err := e.orchestrator(nil)
	if err != nil {
		return err
	}
	sess, err := o.Rollback(cmd.Context(), args[0], step)
	if err != nil {
		return err
	}
	e.log.Successf("Session %s rolled back to %s", sess.ID, sess.CurrentStep)
	return nil
}

func printSessions(w io.Writer, list []models.SessionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTEP\tPATH\tDEPLOYMENT\tUPDATED")
	for _, s := range list {
		path := string(s.Path)
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, s.CurrentStep, path, s.Deployment, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// printSession writes the outcome of a run: provisioned resources, warnings
// and the validation result.
func printSession(w io.Writer, sess *models.Session) {
	fmt.Fprintf(w, "\nSession %s: %s at %s\n", sess.ID, sess.Status, sess.CurrentStep)
	if sess.MappedConfig != nil {
		fmt.Fprintf(w, "Agent %s (%s) via %s\n", sess.MappedConfig.AgentName, sess.MappedConfig.Model, sess.Path())
	}
	for _, name := range slices.Sorted(maps.Keys(sess.ProvisioningResults)) {
		fmt.Fprintf(w, "  %s: %s\n", name, sess.ProvisioningResults[name].ResourceID)
	}
	warnings := 0
	for _, rec := range sess.Errors {
		if rec.Severity == models.SeverityWarning {
			warnings++
		}
	}
	if warnings > 0 {
		fmt.Fprintf(w, "%d warnings recorded; see the log for details\n", warnings)
	}
	if v := sess.Validation; v != nil {
		if v.Passed() {
			fmt.Fprintln(w, color.GreenString("Validation passed"))
		} else {
			fmt.Fprintln(w, color.YellowString("Validation reported problems:"))
			printFindings(w, v)
		}
	}
}
