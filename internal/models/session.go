package models

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the version tag written with every session record.
const SchemaVersion = 2

// Step is the ordered progress marker of a session. A session's current step
// is the last stage that completed.
type Step int

const (
	StepNew Step = iota
	StepDiscovered
	StepPathSelected
	StepConfigMapped
	StepProvisioned
	StepValidated
)

var stepNames = [...]string{"new", "discovered", "path_selected", "config_mapped", "provisioned", "validated"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep parses a step name.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if strings.EqualFold(n, name) {
			return Step(i), nil
		}
	}
	return StepNew, fmt.Errorf("unknown step %q (valid: %s)", name, strings.Join(stepNames[:], ", "))
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Step) UnmarshalText(b []byte) error {
	v, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MigrationPath is the target architecture chosen for a session.
type MigrationPath string

const (
	PathDirectIndexTool        MigrationPath = "direct_index_tool"
	PathKnowledgeBaseRetrieval MigrationPath = "knowledge_base_retrieval"
)

// ParseMigrationPath parses a path hint. An empty string yields an empty path.
func ParseMigrationPath(s string) (MigrationPath, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case string(PathDirectIndexTool), "search_tool", "search-tool", "direct":
		return PathDirectIndexTool, nil
	case string(PathKnowledgeBaseRetrieval), "knowledge_base", "knowledge-base", "kb":
		return PathKnowledgeBaseRetrieval, nil
	}
	return "", fmt.Errorf("unknown migration path %q", s)
}

// Inputs is the configuration a session was started with.
type Inputs struct {
	SubscriptionID  string        `json:"subscription_id"`
	ResourceGroup   string        `json:"resource_group,omitempty"`
	AccountName     string        `json:"account_name,omitempty"`
	DeploymentName  string        `json:"deployment_name,omitempty"`
	ProjectEndpoint string        `json:"project_endpoint"`
	ProjectID       string        `json:"project_id,omitempty"`
	PathHint        MigrationPath `json:"path_hint,omitempty"`
	TargetModel     string        `json:"target_model,omitempty"`

	// KnowledgeBaseEndpoint is the search service that hosts the knowledge
	// base when no data source names one.
	KnowledgeBaseEndpoint string `json:"knowledge_base_endpoint,omitempty"`
}

// StepState is the provisioning state of one step.
type StepState string

const (
	StatePending    StepState = "pending"
	StateAttempting StepState = "attempting"
	StateSucceeded  StepState = "succeeded"
	StateFailed     StepState = "failed"
)

// StepRecord tracks a provisioning step across runs.
type StepRecord struct {
	State     StepState `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepResult is the immutable outcome of a succeeded provisioning step.
type StepResult struct {
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	AttemptCount int               `json:"attempt_count"`
	Outputs      map[string]string `json:"outputs,omitempty"`
}

// Session is the durable state of one migration attempt.
type Session struct {
	SchemaVersion       int                    `json:"schema_version"`
	ID                  string                 `json:"id"`
	Version             int64                  `json:"version"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	CurrentStep         Step                   `json:"current_step"`
	Status              Status                 `json:"status"`
	Inputs              Inputs                 `json:"inputs"`
	DiscoverySnapshot   *DiscoveryResult       `json:"discovery_snapshot"`
	SelectedPath        *MigrationPath         `json:"selected_path"`
	MappedConfig        *MappedConfig          `json:"mapped_config"`
	StepStates          map[string]*StepRecord `json:"step_states"`
	ProvisioningResults map[string]StepResult  `json:"provisioning_results"`
	Validation          *ValidationReport      `json:"validation,omitempty"`
	Errors              []ErrorRecord          `json:"errors"`
}

// NewSession creates an in-progress session at StepNew.
func NewSession(id string, in Inputs, now time.Time) *Session {
	return &Session{
		SchemaVersion:       SchemaVersion,
		ID:                  id,
		CreatedAt:           now,
		UpdatedAt:           now,
		CurrentStep:         StepNew,
		Status:              StatusInProgress,
		Inputs:              in,
		StepStates:          map[string]*StepRecord{},
		ProvisioningResults: map[string]StepResult{},
		Errors:              []ErrorRecord{},
	}
}

// Advance moves the session to step. Moving backwards is an error.
func (s *Session) Advance(step Step, now time.Time) error {
	if step < s.CurrentStep {
		return fmt.Errorf("cannot move session %s from %s back to %s", s.ID, s.CurrentStep, step)
	}
	s.CurrentStep = step
	s.UpdatedAt = now
	return nil
}

// Record appends an entry to the error log.
func (s *Session) Record(rec ErrorRecord) {
	if rec.Severity == "" {
		rec.Severity = SeverityWarning
	}
	s.Errors = append(s.Errors, rec)
}

// Path returns the selected path, or "" before path selection.
func (s *Session) Path() MigrationPath {
	if s.SelectedPath == nil {
		return ""
	}
	return *s.SelectedPath
}

// Track returns the record for a provisioning step, creating a pending one.
func (s *Session) Track(name string) *StepRecord {
	if s.StepStates == nil {
		s.StepStates = map[string]*StepRecord{}
	}
	rec, ok := s.StepStates[name]
	if !ok {
		rec = &StepRecord{State: StatePending}
		s.StepStates[name] = rec
	}
	return rec
}

// RollbackTo discards everything recorded after step and puts the session
// back in progress. It is the only way current_step moves backwards.
func (s *Session) RollbackTo(step Step, now time.Time) {
	if step < StepDiscovered {
		s.DiscoverySnapshot = nil
	}
	if step < StepPathSelected {
		s.SelectedPath = nil
	}
	if step < StepConfigMapped {
		s.MappedConfig = nil
	}
	if step < StepProvisioned {
		s.StepStates = map[string]*StepRecord{}
		s.ProvisioningResults = map[string]StepResult{}
	}
	if step < StepValidated {
		s.Validation = nil
	}
	s.Record(ErrorRecord{
		Kind:     KindRollback,
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("rolled back from %s to %s", s.CurrentStep, step),
		At:       now,
	})
	s.CurrentStep = step
	s.Status = StatusInProgress
	s.UpdatedAt = now
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CurrentStep Step          `json:"current_step"`
	Status      Status        `json:"status"`
	Path        MigrationPath `json:"path,omitempty"`
	Deployment  string        `json:"deployment,omitempty"`
}

// Summary returns the listing view of the session.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CurrentStep: s.CurrentStep,
		Status:      s.Status,
		Path:        s.Path(),
		Deployment:  s.Inputs.DeploymentName,
	}
	if s.MappedConfig != nil {
		sum.Deployment = s.MappedConfig.DeploymentName
	}
	return sum
}
