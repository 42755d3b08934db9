// Package validate checks a provisioned agent end to end and verifies that
// the role assignments a migration path depends on exist. Checks are
// read-only; nothing is remediated.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/retry"
)

// DefaultQueries are asked when the caller does not supply any.
var DefaultQueries = []string{
	"What information do you have available?",
	"Can you provide a brief summary of the main topics?",
}

// citationPaths are the paths whose answers carry citation annotations.
var citationPaths = map[models.MigrationPath]bool{
	models.PathDirectIndexTool:        true,
	models.PathKnowledgeBaseRetrieval: true,
}

// Validator runs validation checks through a provider.
type Validator struct {
	provider cloud.Provider
	policy   *retry.Policy
	logger   *logger.Logger
}

// New returns a validator. Queries are retried with policy, without a
// settle delay.
func New(provider cloud.Provider, policy *retry.Policy, log *logger.Logger) *Validator {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	return &Validator{provider: provider, policy: policy.WithSettle(false), logger: log}
}

func (v *Validator) newReport() *models.ValidationReport {
	clock := v.policy.Clock
	if clock == nil {
		clock = retry.SystemClock
	}
	return &models.ValidationReport{CheckedAt: clock.Now(), Findings: []models.Finding{}}
}

// CheckEndToEnd asks the agent each query and reports empty answers and
// missing citations. It only returns an error when ctx is done.
func (v *Validator) CheckEndToEnd(ctx context.Context, agent models.Resource, path models.MigrationPath, queries []string) (*models.ValidationReport, error) {
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	report := v.newReport()
	for _, q := range queries {
		v.logger.Infof("Querying agent %s: %q", agent.Name, q)
		resp, _, err := retry.Execute(ctx, v.policy, func(ctx context.Context) (*cloud.QueryResponse, error) {
			return v.provider.Query(ctx, agent, q)
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityError,
				Check:    models.CheckEndToEnd,
				Subject:  q,
				Message:  fmt.Sprintf("query failed: %v", err),
			})
			continue
		}

		outcome := models.QueryOutcome{Query: q, Response: resp.Text, Citations: len(resp.Citations), ToolCalls: resp.ToolCalls}
		report.Queries = append(report.Queries, outcome)

		if strings.TrimSpace(resp.Text) == "" {
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityError,
				Check:    models.CheckEndToEnd,
				Subject:  q,
				Message:  "agent returned an empty response",
			})
			continue
		}
		if citationPaths[path] && outcome.Citations == 0 {
			report.Add(models.Finding{
				Kind:     models.KindCitationMissing,
				Severity: models.SeverityWarning,
				Check:    models.CheckEndToEnd,
				Subject:  q,
				Message:  "response has no citations; the agent may not be using its retrieval tool",
			})
		}
		if outcome.ToolCalls == 0 {
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityInfo,
				Check:    models.CheckEndToEnd,
				Subject:  q,
				Message:  "agent answered without calling a tool",
			})
		}
		v.logger.Successf("✓ %d characters, %d citations, %d tool calls", len(resp.Text), outcome.Citations, outcome.ToolCalls)
	}
	return report, nil
}

// CheckRoles reports every requirement without a matching assignment. An
// assignment matches when principal and role agree and its scope is the
// target or one of its ancestors.
func (v *Validator) CheckRoles(ctx context.Context, reqs []models.RoleRequirement) (*models.ValidationReport, error) {
	report := v.newReport()
	assignments := map[string][]cloud.RoleAssignment{}
	listFailed := map[string]bool{}

	for _, req := range reqs {
		if req.Unresolved != "" {
			v.logger.Warningf("%s was not found; %s cannot be checked", req.Unresolved, req.Role)
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityError,
				Check:    models.CheckRoles,
				Subject:  req.Unresolved,
				Message:  fmt.Sprintf("role check incomplete: %s was not found, so %s for %s cannot be verified", req.Unresolved, req.Role, req.Assignee),
			})
			continue
		}
		if req.PrincipalID == "" {
			report.Add(models.Finding{
				Kind:     models.KindMissingRoleAssignment,
				Severity: models.SeverityError,
				Check:    models.CheckRoles,
				Subject:  req.Assignee,
				Message:  fmt.Sprintf("%s has no managed identity, so %s on %s cannot be granted", req.Assignee, req.Role, req.TargetScope),
			})
			continue
		}
		scope := strings.ToLower(req.TargetScope)
		if _, ok := assignments[scope]; !ok && !listFailed[scope] {
			list, err := v.listAssignments(ctx, req.TargetScope)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				listFailed[scope] = true
				report.Add(models.Finding{
					Kind:     models.KindValidationFailure,
					Severity: models.SeverityError,
					Check:    models.CheckRoles,
					Subject:  req.TargetScope,
					Message:  fmt.Sprintf("could not list role assignments: %v", err),
				})
				continue
			}
			assignments[scope] = list
		}
		if listFailed[scope] {
			continue
		}
		if hasAssignment(assignments[scope], req) {
			v.logger.Successf("✓ %s has %s", req.Assignee, req.Role)
			continue
		}
		v.logger.Warningf("%s is missing %s on %s", req.Assignee, req.Role, req.TargetScope)
		report.Add(models.Finding{
			Kind:     models.KindMissingRoleAssignment,
			Severity: models.SeverityError,
			Check:    models.CheckRoles,
			Subject:  req.Assignee,
			Message:  fmt.Sprintf("missing %s (%s) for principal %s on %s", req.Role, req.RoleDefinitionID, req.PrincipalID, req.TargetScope),
		})
	}
	return report, nil
}

// callContext bounds a single listing by the per-call timeout.
func (v *Validator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.policy.AttemptTimeout)
}

func (v *Validator) listAssignments(ctx context.Context, scope string) ([]cloud.RoleAssignment, error) {
	callCtx, cancel := v.callContext(ctx)
	defer cancel()
	var out []cloud.RoleAssignment
	for a, err := range v.provider.ListRoleAssignments(callCtx, scope) {
		if err != nil {
			return nil, timedOut(ctx, callCtx, v.policy.AttemptTimeout, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func hasAssignment(list []cloud.RoleAssignment, req models.RoleRequirement) bool {
	for _, a := range list {
		if !strings.EqualFold(a.PrincipalID, req.PrincipalID) {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(a.RoleDefinitionID), strings.ToLower(req.RoleDefinitionID)) {
			continue
		}
		if common.IsUnder(req.TargetScope, a.Scope) {
			return true
		}
	}
	return false
}

// CheckConnection verifies that a project connection exists.
func (v *Validator) CheckConnection(ctx context.Context, projectID, name string) (*models.ValidationReport, error) {
	report := v.newReport()
	callCtx, cancel := v.callContext(ctx)
	defer cancel()
	for res, err := range v.provider.List(callCtx, models.KindConnection, cloud.Scope{ParentID: projectID}) {
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityError,
				Check:    models.CheckConnection,
				Subject:  name,
				Message:  fmt.Sprintf("could not list connections of %s: %v", projectID, timedOut(ctx, callCtx, v.policy.AttemptTimeout, err)),
			})
			return report, nil
		}
		if strings.EqualFold(res.Name, name) {
			report.Add(models.Finding{
				Kind:     models.KindValidationFailure,
				Severity: models.SeverityInfo,
				Check:    models.CheckConnection,
				Subject:  name,
				Message:  fmt.Sprintf("connection found: %s", res.ID),
			})
			return report, nil
		}
	}
	report.Add(models.Finding{
		Kind:     models.KindValidationFailure,
		Severity: models.SeverityError,
		Check:    models.CheckConnection,
		Subject:  name,
		Message:  fmt.Sprintf("connection %s does not exist in %s", name, projectID),
	})
	return report, nil
}

// timedOut names the call timeout in err when it, and not ctx, ended the call.
func timedOut(ctx, callCtx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}
