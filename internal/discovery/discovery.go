// Package discovery enumerates OYD deployments and the search resources they
// reference.
package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// DefaultParallelism bounds concurrent listings when none is configured.
const DefaultParallelism = 4

var openAIKinds = []string{"openai", "aiservices"}

// Scope is the subscription to scan.
type Scope struct {
	SubscriptionID string
}

// Filters optionally narrow discovery.
type Filters struct {
	ResourceGroup  string
	AccountName    string
	DeploymentName string
}

// Discoverer walks the source subscription through a cloud.Provider.
type Discoverer struct {
	provider    cloud.Provider
	logger      *logger.Logger
	parallelism int
	callTimeout time.Duration
	now         func() time.Time
}

// New creates a Discoverer. parallelism <= 0 uses DefaultParallelism. Each
// listing is bounded by callTimeout; zero leaves it to ctx.
func New(provider cloud.Provider, log *logger.Logger, parallelism int, callTimeout time.Duration) *Discoverer {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Discoverer{provider: provider, logger: log, parallelism: parallelism, callTimeout: callTimeout, now: time.Now}
}

func (d *Discoverer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.callTimeout)
}

// timedOut names the call timeout in err when it, and not ctx, ended the call.
func (d *Discoverer) timedOut(ctx, callCtx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", d.callTimeout, err)
	}
	return err
}

// Discover collects the full snapshot. Per-resource failures become warnings;
// only a failure to list accounts aborts.
func (d *Discoverer) Discover(ctx context.Context, scope Scope, filters Filters) (*models.DiscoveryResult, error) {
	result := &models.DiscoveryResult{SubscriptionID: scope.SubscriptionID}
	seen := mapset.NewThreadUnsafeSet[string]()

	for res, err := range d.Records(ctx, scope, filters) {
		if err != nil {
			var partial *models.PartialDiscoveryWarning
			if errors.As(err, &partial) {
				d.logger.Warningf("%v", partial)
				result.Warnings = append(result.Warnings, models.ErrorRecord{
					Kind:     models.KindPartialDiscovery,
					Severity: models.SeverityWarning,
					Stage:    models.StepDiscovered.String(),
					Resource: partial.ResourceID,
					Message:  partial.Error(),
					At:       d.now(),
				})
				continue
			}
			return nil, err
		}
		if !seen.Add(strings.ToLower(res.ID)) {
			d.logger.Debugf("Skipping duplicate record %s", res.ID)
			continue
		}
		result.Resources = append(result.Resources, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(result.Resources, func(a, b models.Resource) int {
		return cmp.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID))
	})
	result.DiscoveredAt = d.now()
	return result, nil
}

// Records lazily yields resource records. The sequence can be ranged over
// again to restart discovery; breaking out early stops all listings. A
// PartialDiscoveryWarning error is non-fatal and the sequence continues; any
// other error ends it. Records are not deduplicated.
func (d *Discoverer) Records(ctx context.Context, scope Scope, filters Filters) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		accounts, err := d.listAccounts(ctx, scope, filters)
		if err != nil {
			yield(models.Resource{}, err)
			return
		}
		for _, a := range accounts {
			if !yield(a, nil) {
				return
			}
		}

		// Deployments, fanned out per resource group.
		groups := groupByResourceGroup(accounts)
		referenced := mapset.NewThreadUnsafeSet[string]()
		for res, err := range fanOut(ctx, d.parallelism, groups, func(ctx context.Context, group []models.Resource, emit func(models.Resource, error) bool) {
			for _, account := range group {
				if !d.listDeployments(ctx, account, filters, emit) {
					return
				}
			}
		}) {
			if err == nil && res.Deployment != nil {
				for _, ds := range res.Deployment.DataSources {
					if name := ds.SearchServiceName(); name != "" {
						referenced.Add(strings.ToLower(name))
					}
				}
			}
			if !yield(res, err) {
				return
			}
		}
		if referenced.Cardinality() == 0 || ctx.Err() != nil {
			return
		}

		services, ok := d.listSearchServices(ctx, scope, referenced, yield)
		if !ok {
			return
		}
		for res, err := range fanOut(ctx, d.parallelism, services, func(ctx context.Context, svc models.Resource, emit func(models.Resource, error) bool) {
			d.listIndexes(ctx, svc, emit)
		}) {
			if !yield(res, err) {
				return
			}
		}
	}
}

func (d *Discoverer) listAccounts(ctx context.Context, scope Scope, filters Filters) ([]models.Resource, error) {
	d.logger.Debugf("Listing accounts in subscription %s", scope.SubscriptionID)
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	var accounts []models.Resource
	for res, err := range d.provider.List(callCtx, models.KindAccount, cloud.Scope{SubscriptionID: scope.SubscriptionID, ResourceGroup: filters.ResourceGroup}) {
		if err != nil {
			return nil, &models.DiscoveryError{Collection: models.KindAccount, Scope: scopeName(scope, filters), Err: d.timedOut(ctx, callCtx, err)}
		}
		if res.Account != nil && !slices.Contains(openAIKinds, strings.ToLower(res.Account.Kind)) {
			continue
		}
		if filters.AccountName != "" && !strings.EqualFold(res.Name, filters.AccountName) {
			continue
		}
		if filters.ResourceGroup != "" && !strings.EqualFold(res.ResourceGroup, filters.ResourceGroup) {
			continue
		}
		accounts = append(accounts, res)
	}
	d.logger.Debugf("Found %d account(s)", len(accounts))
	return accounts, nil
}

// listDeployments emits the deployments of one account that carry OYD data
// sources, and a warning for each whose configuration could not be read. It
// returns false when the consumer stopped.
func (d *Discoverer) listDeployments(ctx context.Context, account models.Resource, filters Filters, emit func(models.Resource, error) bool) bool {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	scope := cloud.Scope{ResourceGroup: account.ResourceGroup, ParentID: account.ID}
	for res, err := range d.provider.List(callCtx, models.KindDeployment, scope) {
		if err != nil {
			return emit(models.Resource{}, &models.PartialDiscoveryWarning{Kind: models.KindDeployment, ResourceID: account.ID, Err: d.timedOut(ctx, callCtx, err)})
		}
		if filters.DeploymentName != "" && !strings.EqualFold(res.Name, filters.DeploymentName) {
			continue
		}
		if res.Deployment != nil && res.Deployment.DataSourceErr != nil {
			if !emit(models.Resource{}, &models.PartialDiscoveryWarning{Kind: models.KindDeployment, ResourceID: res.ID, Err: res.Deployment.DataSourceErr}) {
				return false
			}
			continue
		}
		if res.Deployment == nil || len(res.Deployment.DataSources) == 0 {
			d.logger.Debugf("Deployment %s has no On Your Data sources", res.Name)
			continue
		}
		if !emit(res, nil) {
			return false
		}
	}
	return true
}

// listSearchServices yields the referenced search services and returns them.
func (d *Discoverer) listSearchServices(ctx context.Context, scope Scope, referenced mapset.Set[string], yield func(models.Resource, error) bool) ([]models.Resource, bool) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	var services []models.Resource
	for res, err := range d.provider.List(callCtx, models.KindSearchService, cloud.Scope{SubscriptionID: scope.SubscriptionID}) {
		if err != nil {
			warn := &models.PartialDiscoveryWarning{Kind: models.KindSearchService, ResourceID: "/subscriptions/" + scope.SubscriptionID, Err: d.timedOut(ctx, callCtx, err)}
			return services, yield(models.Resource{}, warn)
		}
		if !referenced.Contains(strings.ToLower(res.Name)) {
			continue
		}
		services = append(services, res)
		if !yield(res, nil) {
			return services, false
		}
	}
	return services, true
}

func (d *Discoverer) listIndexes(ctx context.Context, svc models.Resource, emit func(models.Resource, error) bool) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()
	scope := cloud.Scope{ResourceGroup: svc.ResourceGroup, ParentID: svc.ID}
	for res, err := range d.provider.List(callCtx, models.KindIndex, scope) {
		if err != nil {
			emit(models.Resource{}, &models.PartialDiscoveryWarning{Kind: models.KindIndex, ResourceID: svc.ID, Err: d.timedOut(ctx, callCtx, err)})
			return
		}
		if !emit(res, nil) {
			return
		}
	}
}

type item struct {
	res models.Resource
	err error
}

// fanOut runs work for every input on a bounded errgroup. Workers emit into a
// channel and the returned sequence is its only reader, so results are
// merged by a single writer. Stopping the sequence cancels the workers.
func fanOut[T any](ctx context.Context, limit int, inputs []T, work func(context.Context, T, func(models.Resource, error) bool)) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		out := make(chan item)
		grp, gctx := errgroup.WithContext(ctx)
		grp.SetLimit(limit)

		go func() {
			defer close(out)
			for _, in := range inputs {
				if gctx.Err() != nil {
					break
				}
				grp.Go(func() error {
					work(gctx, in, func(res models.Resource, err error) bool {
						select {
						case out <- item{res, err}:
							return true
						case <-gctx.Done():
							return false
						}
					})
					return nil
				})
			}
			_ = grp.Wait()
		}()

		defer func() {
			cancel()
			for range out {
			}
		}()
		for it := range out {
			if !yield(it.res, it.err) {
				return
			}
		}
	}
}

func groupByResourceGroup(accounts []models.Resource) [][]models.Resource {
	index := map[string]int{}
	var groups [][]models.Resource
	for _, a := range accounts {
		key := strings.ToLower(a.ResourceGroup)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func scopeName(scope Scope, filters Filters) string {
	name := "/subscriptions/" + scope.SubscriptionID
	if filters.ResourceGroup != "" {
		name += "/resourceGroups/" + filters.ResourceGroup
	}
	return name
}
