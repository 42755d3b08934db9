package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brunoga/deep"
	"github.com/google/uuid"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/discovery"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/mapper"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/provision"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/retry"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/selector"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/state"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/validate"
)

// Options is the configuration of an orchestrator. Inputs seed new sessions;
// a resumed session keeps the inputs it was started with.
type Options struct {
	Inputs      models.Inputs
	Parallelism int
	Policy      *retry.Policy

	SkipValidation          bool
	SkipRoleCheck           bool
	AllowIndexScopeWidening bool
	ValidationQueries       []string

	// Confirmer is asked before a derived index name is used. Without one,
	// an unconfirmed widening pauses the session.
	Confirmer Confirmer
}

// Confirmer asks the user to accept decisions the migrator does not make on
// its own.
type Confirmer interface {
	ConfirmIndexScope(cfg models.MappedConfig, connection, index string) (bool, error)
}

// Orchestrator runs sessions stage by stage, checkpointing after each.
type Orchestrator struct {
	store    state.Store
	provider cloud.Provider
	registry *Registry
	logger   *logger.Logger
	opts     Options
	clock    retry.Clock
	newID    func() string
}

type stage struct {
	step  models.Step
	title string
	fn    func(context.Context, *models.Session) error
}

// NewOrchestrator creates an orchestrator with the handlers of both paths.
func NewOrchestrator(store state.Store, provider cloud.Provider, log *logger.Logger, opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = retry.DefaultPolicy()
	}
	clock := opts.Policy.Clock
	if clock == nil {
		clock = retry.SystemClock
	}
	return &Orchestrator{
		store:    store,
		provider: provider,
		registry: DefaultRegistry(),
		logger:   log,
		opts:     opts,
		clock:    clock,
		newID:    uuid.NewString,
	}
}

// StartSession creates a session from the configured inputs and runs it.
func (o *Orchestrator) StartSession(ctx context.Context) (*models.Session, error) {
	in := o.opts.Inputs
	if in.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	if in.ProjectID == "" {
		return nil, fmt.Errorf("target project id is required")
	}
	sess := models.NewSession(o.newID(), in, o.clock.Now())
	if err := o.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	o.logger.Infof("Created session %s", sess.ID)
	return o.run(ctx, sess.ID)
}

// Resume continues a session from the first stage it has not completed.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*models.Session, error) {
	return o.run(ctx, id)
}

// ListSessions returns all sessions, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	return o.store.List(ctx)
}

// Session loads a session without taking ownership of it.
func (o *Orchestrator) Session(ctx context.Context, id string) (*models.Session, error) {
	return o.store.Load(ctx, id)
}

// Abort pauses a session without discarding any progress.
func (o *Orchestrator) Abort(ctx context.Context, id string) (*models.Session, error) {
	lease, err := o.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	sess, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusCompleted || sess.Status == models.StatusFailed {
		return sess, fmt.Errorf("session %s is %s and cannot be aborted", id, sess.Status)
	}
	sess.Status = models.StatusPaused
	sess.Record(models.ErrorRecord{
		Kind:     models.KindCancelled,
		Severity: models.SeverityInfo,
		Stage:    sess.CurrentStep.String(),
		Message:  "aborted by user",
		At:       o.clock.Now(),
	})
	return sess, o.save(ctx, sess)
}

// Rollback moves a session back to step, discarding everything recorded
// after it. Provisioned resources are left in place and reused by
// create-or-get on the next run.
func (o *Orchestrator) Rollback(ctx context.Context, id string, step models.Step) (*models.Session, error) {
	lease, err := o.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	sess, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if step > sess.CurrentStep {
		return sess, fmt.Errorf("session %s is at %s; cannot roll back to %s", id, sess.CurrentStep, step)
	}
	sess.RollbackTo(step, o.clock.Now())
	return sess, o.save(ctx, sess)
}

// ValidateSession re-runs validation checks against the agent of a
// provisioned session. The session record is not modified.
func (o *Orchestrator) ValidateSession(ctx context.Context, id string, endToEnd, roles bool) (*models.ValidationReport, error) {
	sess, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.CurrentStep < models.StepProvisioned {
		return nil, fmt.Errorf("session %s is at %s; nothing has been provisioned yet", id, sess.CurrentStep)
	}
	v := validate.New(o.provider, o.opts.Policy, o.logger)
	report := &models.ValidationReport{CheckedAt: o.clock.Now()}
	if endToEnd {
		agent, err := agentResource(sess)
		if err != nil {
			return nil, err
		}
		r, err := v.CheckEndToEnd(ctx, agent, sess.Path(), o.opts.ValidationQueries)
		if err != nil {
			return nil, err
		}
		report.Merge(r)
	}
	if roles {
		handler, err := o.registry.Get(sess.Path())
		if err != nil {
			return nil, err
		}
		r, err := v.CheckRoles(ctx, handler.RequiredRoles(sess))
		if err != nil {
			return nil, err
		}
		report.Merge(r)
	}
	return report, nil
}

// Delete removes a session record.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	return o.store.Delete(ctx, id)
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{models.StepDiscovered, "Discovering source resources", o.discover},
		{models.StepPathSelected, "Selecting migration path", o.selectPath},
		{models.StepConfigMapped, "Mapping configuration", o.mapConfig},
		{models.StepProvisioned, "Provisioning target resources", o.provision},
		{models.StepValidated, "Validating migrated agent", o.validate},
	}
}

func (o *Orchestrator) run(ctx context.Context, id string) (*models.Session, error) {
	lease, err := o.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	sess, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.StatusCompleted:
		o.logger.Successf("Session %s is already complete", id)
		return sess, nil
	case models.StatusFailed:
		return sess, &models.RunError{
			SessionID: id,
			Stage:     sess.CurrentStep.String(),
			Step:      failedStep(sess),
			Err:       errors.New("the session failed permanently"),
		}
	}

	sess.Status = models.StatusInProgress
	if sess.CurrentStep >= models.StepPathSelected {
		o.reconcilePath(sess)
	}
	if err := o.save(ctx, sess); err != nil {
		return sess, err
	}

	stages := o.stages()
	for i, st := range stages {
		if sess.CurrentStep >= st.step {
			o.logger.Debugf("Skipping %s, already completed", st.step)
			continue
		}
		if err := ctx.Err(); err != nil {
			return sess, o.stop(ctx, sess, st.step, err)
		}
		o.logger.Stage(i+1, len(stages), st.title)
		if err := st.fn(ctx, sess); err != nil {
			return sess, o.stop(ctx, sess, st.step, err)
		}
		if err := sess.Advance(st.step, o.clock.Now()); err != nil {
			return sess, err
		}
		if err := o.save(ctx, sess); err != nil {
			return sess, err
		}
	}

	sess.Status = models.StatusCompleted
	if err := o.save(ctx, sess); err != nil {
		return sess, err
	}
	o.logger.Banner(fmt.Sprintf("Session %s completed", sess.ID))
	return sess, nil
}

// stop records why a stage ended early and leaves the session paused unless
// it already failed.
func (o *Orchestrator) stop(ctx context.Context, sess *models.Session, step models.Step, err error) error {
	var conflict *models.SessionConflictError
	if errors.As(err, &conflict) {
		return err
	}

	runErr := &models.RunError{SessionID: sess.ID, Stage: step.String(), Err: err, Resumable: true}
	var fatal *models.FatalProvisioningError
	var timeout *models.ProvisioningTimeout
	var scope *models.IndexScopeError
	rec := models.ErrorRecord{Severity: models.SeverityError, Stage: step.String(), Message: err.Error(), At: o.clock.Now()}
	switch {
	case errors.As(err, &fatal):
		runErr.Step = fatal.Step
	case errors.As(err, &timeout):
		runErr.Step = timeout.Step
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rec.Kind, rec.Severity = models.KindCancelled, models.SeverityInfo
	case errors.As(err, &scope):
		rec.Kind, rec.Severity = models.KindIndexScopeWidened, models.SeverityWarning
	case step == models.StepDiscovered:
		rec.Kind = models.KindDiscoveryError
	}
	// the provisioner records its own outcomes
	if rec.Kind != "" && step != models.StepProvisioned {
		sess.Record(rec)
	}

	if sess.Status == models.StatusFailed {
		runErr.Resumable = false
	} else {
		sess.Status = models.StatusPaused
	}
	if serr := o.save(ctx, sess); serr != nil {
		return errors.Join(runErr, serr)
	}
	o.logger.Error(runErr.Error())
	return runErr
}

func (o *Orchestrator) save(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = o.clock.Now()
	return o.store.Save(context.WithoutCancel(ctx), sess)
}

func (o *Orchestrator) discover(ctx context.Context, sess *models.Session) error {
	in := sess.Inputs
	d := discovery.New(o.provider, o.logger, o.opts.Parallelism, o.opts.Policy.AttemptTimeout)
	result, err := d.Discover(ctx,
		discovery.Scope{SubscriptionID: in.SubscriptionID},
		discovery.Filters{ResourceGroup: in.ResourceGroup, AccountName: in.AccountName, DeploymentName: in.DeploymentName})
	if err != nil {
		return err
	}
	resources, err := deep.Copy(result.Resources)
	if err != nil {
		return fmt.Errorf("failed to snapshot discovery result: %w", err)
	}
	snapshot := &models.DiscoveryResult{
		SubscriptionID: result.SubscriptionID,
		DiscoveredAt:   result.DiscoveredAt,
		Resources:      resources,
		Warnings:       result.Warnings,
	}
	for _, w := range result.Warnings {
		sess.Record(w)
	}
	dep, err := pickDeployment(snapshot, in)
	if err != nil {
		if n := len(result.Warnings); n > 0 {
			return fmt.Errorf("%w; %d resource(s) could not be read, see the session warnings", err, n)
		}
		return err
	}

	sess.DiscoverySnapshot = snapshot
	sess.Inputs.DeploymentName = dep.Name
	if dep.Deployment != nil {
		sess.Inputs.AccountName = dep.Deployment.AccountName
	}
	o.logger.Successf("✓ Discovered %d resources, migrating deployment %s", len(resources), dep.Name)
	return nil
}

// pickDeployment returns the deployment named in the inputs, or the only
// deployment with On Your Data sources.
func pickDeployment(snapshot *models.DiscoveryResult, in models.Inputs) (models.Resource, error) {
	if snapshot == nil {
		return models.Resource{}, fmt.Errorf("session has no discovery snapshot")
	}
	var candidates []models.Resource
	for _, dep := range snapshot.OfKind(models.KindDeployment) {
		if dep.Deployment == nil || len(dep.Deployment.DataSources) == 0 {
			continue
		}
		if in.DeploymentName != "" && !strings.EqualFold(dep.Name, in.DeploymentName) {
			continue
		}
		if in.AccountName != "" && !strings.EqualFold(dep.Deployment.AccountName, in.AccountName) {
			continue
		}
		candidates = append(candidates, dep)
	}
	switch len(candidates) {
	case 0:
		if in.DeploymentName != "" {
			return models.Resource{}, fmt.Errorf("deployment %s not found or has no On Your Data sources", in.DeploymentName)
		}
		return models.Resource{}, fmt.Errorf("no deployment with On Your Data sources found")
	case 1:
		return candidates[0], nil
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Deployment.AccountName + "/" + c.Name
	}
	return models.Resource{}, fmt.Errorf("several deployments use On Your Data (%s); set AZURE_DEPLOYMENT_NAME and AZURE_ACCOUNT_NAME", strings.Join(names, ", "))
}

func (o *Orchestrator) selectPath(ctx context.Context, sess *models.Session) error {
	dep, err := pickDeployment(sess.DiscoverySnapshot, sess.Inputs)
	if err != nil {
		return err
	}
	path := selector.Select(sess.DiscoverySnapshot, dep.ID, sess.Inputs.PathHint)
	if unsupported := selector.Unsupported(dep); len(unsupported) > 0 && path == models.PathDirectIndexTool {
		o.logger.Warningf("%d data source(s) cannot be served by the Azure AI Search tool and will be reported as unmapped", len(unsupported))
	}
	sess.SelectedPath = &path
	o.logger.Successf("✓ Migration path: %s", path)
	return nil
}

// reconcilePath re-evaluates the path of a resumed session. The stored path
// always wins; a disagreement is only recorded.
func (o *Orchestrator) reconcilePath(sess *models.Session) {
	dep, err := pickDeployment(sess.DiscoverySnapshot, sess.Inputs)
	if err != nil {
		return
	}
	hint := o.opts.Inputs.PathHint
	if hint == "" {
		hint = sess.Inputs.PathHint
	}
	recomputed := selector.Select(sess.DiscoverySnapshot, dep.ID, hint)
	if _, rec := selector.Reconcile(sess.Path(), recomputed, o.clock.Now()); rec != nil {
		sess.Record(*rec)
		o.logger.Warning(rec.Message)
	}
}

func (o *Orchestrator) mapConfig(ctx context.Context, sess *models.Session) error {
	dep, err := pickDeployment(sess.DiscoverySnapshot, sess.Inputs)
	if err != nil {
		return err
	}
	m := mapper.New(mapper.Options{Model: sess.Inputs.TargetModel, KnowledgeBaseEndpoint: sess.Inputs.KnowledgeBaseEndpoint})
	cfg := m.Map(dep, sess.Path())

	if cfg.IndexScopeWidened && !o.opts.AllowIndexScopeWidening {
		conn, index := cfg.WidenedConnection, cfg.WidenedIndex
		confirmed := false
		if o.opts.Confirmer != nil {
			if confirmed, err = o.opts.Confirmer.ConfirmIndexScope(cfg, conn, index); err != nil {
				return err
			}
		}
		if !confirmed {
			return &models.IndexScopeError{Connection: conn, IndexName: index}
		}
	}

	for _, w := range mapper.Warnings(cfg, o.clock.Now()) {
		sess.Record(w)
	}
	sess.MappedConfig = &cfg
	o.logger.Successf("✓ Agent %s on %s with %d connection(s), %d unmapped field(s)",
		cfg.AgentName, cfg.Model, len(cfg.Connections), len(cfg.UnmappedFields))
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, sess *models.Session) error {
	handler, err := o.registry.Get(sess.Path())
	if err != nil {
		return err
	}
	steps, err := handler.Plan(sess)
	if err != nil {
		now := o.clock.Now()
		sess.Status = models.StatusFailed
		sess.Record(models.ErrorRecord{
			Kind:     models.KindFatalProvisioning,
			Severity: models.SeverityError,
			Stage:    models.StepProvisioned.String(),
			Message:  err.Error(),
			At:       now,
		})
		return &models.FatalProvisioningError{Step: "plan", Err: err}
	}
	o.logger.Infof("%s: %d steps", handler.Name(), len(steps))
	p := provision.New(o.provider, o.opts.Policy, o.logger)
	return p.Run(ctx, sess, steps, func(ctx context.Context) error {
		return o.save(ctx, sess)
	})
}

func (o *Orchestrator) validate(ctx context.Context, sess *models.Session) error {
	if o.opts.SkipValidation {
		o.logger.Warning("Skipping validation (SKIP_VALIDATION=true)")
		return nil
	}
	agent, err := agentResource(sess)
	if err != nil {
		return err
	}
	v := validate.New(o.provider, o.opts.Policy, o.logger)
	report, err := v.CheckEndToEnd(ctx, agent, sess.Path(), o.opts.ValidationQueries)
	if err != nil {
		return err
	}

	if o.opts.SkipRoleCheck {
		o.logger.Warning("Skipping role assignment check (SKIP_ROLE_CHECK=true)")
	} else {
		handler, err := o.registry.Get(sess.Path())
		if err != nil {
			return err
		}
		roles, err := v.CheckRoles(ctx, handler.RequiredRoles(sess))
		if err != nil {
			return err
		}
		report.Merge(roles)
	}

	now := o.clock.Now()
	for _, f := range report.Findings {
		if f.Severity == models.SeverityInfo {
			continue
		}
		sess.Record(models.ErrorRecord{
			Kind:     f.Kind,
			Severity: f.Severity,
			Stage:    models.StepValidated.String(),
			Resource: f.Subject,
			Message:  f.Message,
			At:       now,
		})
	}
	sess.Validation = report
	if report.Passed() {
		o.logger.Success("✓ Validation passed")
	} else {
		o.logger.Warning("Validation reported problems; provisioned resources were kept")
	}
	return nil
}

// agentResource rebuilds the provisioned agent from the step results.
func agentResource(sess *models.Session) (models.Resource, error) {
	if sess.MappedConfig == nil {
		return models.Resource{}, fmt.Errorf("session %s has no mapped configuration", sess.ID)
	}
	res, ok := sess.ProvisioningResults[AgentStep(sess.MappedConfig)]
	if !ok {
		return models.Resource{}, fmt.Errorf("agent %s has not been provisioned", sess.MappedConfig.AgentName)
	}
	agent := models.Resource{
		ID:       res.ResourceID,
		Kind:     models.KindAgent,
		Name:     res.Name,
		Endpoint: sess.Inputs.ProjectEndpoint,
	}
	if project, ok := sess.ProvisioningResults[stepProject]; ok {
		agent.ParentID = project.ResourceID
		if ep := project.Outputs["endpoint"]; ep != "" {
			agent.Endpoint = ep
		}
	}
	return agent, nil
}

func failedStep(sess *models.Session) string {
	for name, rec := range sess.StepStates {
		if rec.State == models.StateFailed {
			return name
		}
	}
	return ""
}
