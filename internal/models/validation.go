package models

import "time"

// Validation check names.
const (
	CheckEndToEnd   = "end_to_end"
	CheckRoles      = "roles"
	CheckConnection = "connection"
)

// Finding is one validation result.
type Finding struct {
	Kind     ErrorKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Check    string    `json:"check"`
	Subject  string    `json:"subject,omitempty"`
	Message  string    `json:"message"`
}

// QueryOutcome is the observed result of one validation query.
type QueryOutcome struct {
	Query     string `json:"query"`
	Response  string `json:"response"`
	Citations int    `json:"citations"`
	ToolCalls int    `json:"tool_calls"`
}

// ValidationReport collects findings from one or more checks.
type ValidationReport struct {
	CheckedAt time.Time      `json:"checked_at"`
	Findings  []Finding      `json:"findings"`
	Queries   []QueryOutcome `json:"queries,omitempty"`
}

// Add appends a finding.
func (r *ValidationReport) Add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Merge appends the findings and queries of other.
func (r *ValidationReport) Merge(other *ValidationReport) {
	if other == nil {
		return
	}
	r.Findings = append(r.Findings, other.Findings...)
	r.Queries = append(r.Queries, other.Queries...)
}

// Passed reports whether no finding has error severity.
func (r *ValidationReport) Passed() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Count returns the number of findings of a kind.
func (r *ValidationReport) Count(kind ErrorKind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// RoleRequirement is a {role, assignee, target} triple required by a path.
type RoleRequirement struct {
	Role             string `json:"role"`
	RoleDefinitionID string `json:"role_definition_id"`
	Assignee         string `json:"assignee"`
	PrincipalID      string `json:"principal_id"`
	TargetScope      string `json:"target_scope"`

	// Unresolved names the resource that could not be found, leaving the
	// triple uncheckable.
	Unresolved string `json:"unresolved,omitempty"`
}
