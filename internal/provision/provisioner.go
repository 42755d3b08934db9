// Package provision creates or reuses target resources as an ordered list of
// named steps. Step outcomes are checkpointed into the session so a resumed
// run continues from the first step without a recorded result.
package provision

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/retry"
)

// Step is one named create-or-get operation. Name is the checkpoint key and
// must be stable across runs.
type Step struct {
	Name      string
	Kind      models.ResourceKind
	DependsOn []string
	// Build derives the create spec from the results of earlier steps.
	Build func(results map[string]models.StepResult) (cloud.CreateSpec, error)
}

// Checkpoint persists the session. It is called after every state change.
type Checkpoint func(ctx context.Context) error

// Provisioner runs steps against a provider.
type Provisioner struct {
	provider cloud.Provider
	policy   *retry.Policy
	logger   *logger.Logger
}

// New returns a provisioner. A nil policy means retry.DefaultPolicy.
func New(provider cloud.Provider, policy *retry.Policy, log *logger.Logger) *Provisioner {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	return &Provisioner{provider: provider, policy: policy, logger: log}
}

func (p *Provisioner) clock() retry.Clock {
	if p.policy.Clock != nil {
		return p.policy.Clock
	}
	return retry.SystemClock
}

// Validate checks that names are unique and that every dependency refers to
// an earlier step.
func Validate(steps []Step) error {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("step without a name")
		}
		if seen.Contains(s.Name) {
			return fmt.Errorf("duplicate step %q", s.Name)
		}
		for _, dep := range s.DependsOn {
			if !seen.Contains(dep) {
				return fmt.Errorf("step %q depends on %q, which does not run before it", s.Name, dep)
			}
		}
		seen.Add(s.Name)
	}
	return nil
}

// Run executes steps in order. Steps with a recorded result are skipped and
// their result reused. On a fatal error the step and the session are marked
// failed; on retry exhaustion or cancellation the session is paused with the
// step left in the attempting state.
func (p *Provisioner) Run(ctx context.Context, sess *models.Session, steps []Step, checkpoint Checkpoint) error {
	if err := Validate(steps); err != nil {
		return err
	}
	clock := p.clock()
	createdNow := mapset.NewThreadUnsafeSet[string]()

	for i, step := range steps {
		if _, done := sess.ProvisioningResults[step.Name]; done {
			p.logger.Debugf("Step %s already succeeded, reusing recorded result", step.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return p.pause(ctx, sess, step.Name, err, checkpoint)
		}

		spec, err := step.Build(sess.ProvisioningResults)
		if err != nil {
			rec := sess.Track(step.Name)
			return p.fail(ctx, sess, step.Name, rec, &models.FatalProvisioningError{Step: step.Name, Err: err}, checkpoint)
		}

		p.logger.Infof("[%d/%d] Provisioning %s %s", i+1, len(steps), step.Kind, spec.Name)
		rec := sess.Track(step.Name)
		rec.State = models.StateAttempting
		rec.LastError = ""
		rec.UpdatedAt = clock.Now()
		sess.UpdatedAt = rec.UpdatedAt
		if err := checkpoint(ctx); err != nil {
			return err
		}

		settle := slices.ContainsFunc(step.DependsOn, func(dep string) bool { return createdNow.Contains(dep) })
		policy := p.policy.WithSettle(settle)
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			p.logger.Warningf("%s attempt %d failed (%v), retrying in %s", step.Name, attempt, err, wait)
		}
		kind := step.Kind
		res, attempts, err := retry.Execute(ctx, policy, func(ctx context.Context) (models.Resource, error) {
			return p.provider.CreateOrGet(ctx, kind, spec)
		})
		rec.Attempts += attempts
		rec.UpdatedAt = clock.Now()
		sess.UpdatedAt = rec.UpdatedAt

		if err != nil {
			rec.LastError = err.Error()
			var fatal *models.FatalProvisioningError
			var timeout *models.ProvisioningTimeout
			switch {
			case errors.As(err, &fatal):
				fatal.Step = step.Name
				return p.fail(ctx, sess, step.Name, rec, fatal, checkpoint)
			case errors.As(err, &timeout):
				timeout.Step = step.Name
				sess.Status = models.StatusPaused
				sess.Record(models.ErrorRecord{
					Kind:     models.KindProvisioningTimeout,
					Severity: models.SeverityError,
					Stage:    models.StepProvisioned.String(),
					Step:     step.Name,
					Message:  timeout.Error(),
					At:       rec.UpdatedAt,
				})
				if cerr := checkpoint(context.WithoutCancel(ctx)); cerr != nil {
					return errors.Join(timeout, cerr)
				}
				return timeout
			default:
				return p.pause(ctx, sess, step.Name, err, checkpoint)
			}
		}

		rec.State = models.StateSucceeded
		sess.ProvisioningResults[step.Name] = models.StepResult{
			ResourceID:   res.ID,
			Name:         res.Name,
			CreatedAt:    rec.UpdatedAt,
			AttemptCount: attempts,
			Outputs:      outputs(res),
		}
		createdNow.Add(step.Name)
		p.logger.Successf("✓ %s ready: %s", step.Name, res.ID)
		if err := checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) fail(ctx context.Context, sess *models.Session, name string, rec *models.StepRecord, err *models.FatalProvisioningError, checkpoint Checkpoint) error {
	now := p.clock().Now()
	rec.State = models.StateFailed
	rec.LastError = err.Err.Error()
	rec.UpdatedAt = now
	sess.Status = models.StatusFailed
	sess.UpdatedAt = now
	sess.Record(models.ErrorRecord{
		Kind:     models.KindFatalProvisioning,
		Severity: models.SeverityError,
		Stage:    models.StepProvisioned.String(),
		Step:     name,
		Message:  err.Error(),
		At:       now,
	})
	p.logger.Errorf("Step %s failed: %v", name, err.Err)
	if cerr := checkpoint(context.WithoutCancel(ctx)); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (p *Provisioner) pause(ctx context.Context, sess *models.Session, name string, err error, checkpoint Checkpoint) error {
	now := p.clock().Now()
	sess.Status = models.StatusPaused
	sess.UpdatedAt = now
	sess.Record(models.ErrorRecord{
		Kind:     models.KindCancelled,
		Severity: models.SeverityInfo,
		Stage:    models.StepProvisioned.String(),
		Step:     name,
		Message:  fmt.Sprintf("provisioning interrupted before %s completed: %v", name, err),
		At:       now,
	})
	p.logger.Warningf("Provisioning paused at %s", name)
	if cerr := checkpoint(context.WithoutCancel(ctx)); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func outputs(r models.Resource) map[string]string {
	out := map[string]string{}
	if r.Endpoint != "" {
		out["endpoint"] = r.Endpoint
	}
	if r.PrincipalID != "" {
		out["principal_id"] = r.PrincipalID
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
