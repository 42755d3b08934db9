// Package azure provides Azure cloud operations.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/cognitiveservices/armcognitiveservices"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/search/armsearch"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Provider implements cloud.Provider against Azure Resource Manager and the
// OpenAI, Search and Foundry data planes.
type Provider struct {
	subscriptionID string
	credential     azcore.TokenCredential
	logger         *logger.Logger

	arm     *arm.Client
	openai  restClient
	search  restClient
	foundry restClient
}

// NewProvider creates a new Azure provider using the default credential chain.
func NewProvider(subscriptionID string, log *logger.Logger) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	log.Debug("Created DefaultAzureCredential")
	return NewProviderWithCredential(subscriptionID, cred, log)
}

// NewProviderWithCredential creates a provider with an explicit credential.
func NewProviderWithCredential(subscriptionID string, cred azcore.TokenCredential, log *logger.Logger) (*Provider, error) {
	armClient, err := arm.NewClient(moduleName, moduleVersion, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARM client: %w", err)
	}
	return &Provider{
		subscriptionID: subscriptionID,
		credential:     cred,
		logger:         log,
		arm:            armClient,
		openai:         newRESTClient(cred, scopeCognitiveServices),
		search:         newRESTClient(cred, scopeSearch),
		foundry:        newRESTClient(cred, scopeFoundry),
	}, nil
}

// Credential returns the credential the provider authenticates with.
func (p *Provider) Credential() azcore.TokenCredential {
	return p.credential
}

func (p *Provider) subscription(scope cloud.Scope) string {
	if scope.SubscriptionID != "" {
		return scope.SubscriptionID
	}
	if sub := common.ResourceIDSegment(scope.ParentID, "subscriptions"); sub != "" {
		return sub
	}
	return p.subscriptionID
}

// List implements cloud.Provider.
func (p *Provider) List(ctx context.Context, kind models.ResourceKind, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	switch kind {
	case models.KindAccount:
		return p.listAccounts(ctx, scope)
	case models.KindDeployment:
		return p.listDeployments(ctx, scope)
	case models.KindSearchService:
		return p.listSearchServices(ctx, scope)
	case models.KindIndex:
		return p.listIndexes(ctx, scope)
	case models.KindConnection:
		return p.listConnections(ctx, scope)
	}
	return func(yield func(models.Resource, error) bool) {
		yield(models.Resource{}, fmt.Errorf("listing %s resources is not supported", kind))
	}
}

// CreateOrGet implements cloud.Provider.
func (p *Provider) CreateOrGet(ctx context.Context, kind models.ResourceKind, spec cloud.CreateSpec) (models.Resource, error) {
	switch kind {
	case models.KindProject:
		return p.getProject(ctx, spec)
	case models.KindConnection:
		if spec.Connection == nil {
			return models.Resource{}, fmt.Errorf("connection %s has no definition", spec.Name)
		}
		return p.createConnection(ctx, spec)
	case models.KindKnowledgeBase:
		if spec.KnowledgeBase == nil {
			return models.Resource{}, fmt.Errorf("knowledge base %s has no definition", spec.Name)
		}
		return p.createKnowledgeBase(ctx, spec)
	case models.KindAgent:
		if spec.Agent == nil {
			return models.Resource{}, fmt.Errorf("agent %s has no definition", spec.Name)
		}
		return p.createAgent(ctx, spec)
	}
	return models.Resource{}, fmt.Errorf("creating %s resources is not supported", kind)
}

func (p *Provider) listAccounts(ctx context.Context, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		clientFactory, err := armcognitiveservices.NewClientFactory(p.subscription(scope), p.credential, nil)
		if err != nil {
			yield(models.Resource{}, fmt.Errorf("failed to create cognitive services client factory: %w", err))
			return
		}
		client := clientFactory.NewAccountsClient()
		emit := func(accounts []*armcognitiveservices.Account) bool {
			for _, a := range accounts {
				if a == nil || a.ID == nil {
					continue
				}
				if !yield(accountResource(a), nil) {
					return false
				}
			}
			return true
		}
		if scope.ResourceGroup != "" {
			err = eachPage(ctx, client.NewListByResourceGroupPager(scope.ResourceGroup, nil), func(page armcognitiveservices.AccountsClientListByResourceGroupResponse) bool {
				return emit(page.Value)
			})
		} else {
			err = eachPage(ctx, client.NewListPager(nil), func(page armcognitiveservices.AccountsClientListResponse) bool {
				return emit(page.Value)
			})
		}
		if err != nil {
			yield(models.Resource{}, fmt.Errorf("failed to list accounts: %w", err))
		}
	}
}

func accountResource(a *armcognitiveservices.Account) models.Resource {
	res := models.Resource{
		ID:            *a.ID,
		Kind:          models.KindAccount,
		Name:          deref(a.Name),
		ResourceGroup: common.ResourceIDSegment(*a.ID, "resourceGroups"),
		Location:      deref(a.Location),
		Account:       &models.AccountDetails{Kind: deref(a.Kind)},
	}
	if a.SKU != nil {
		res.Account.SKU = deref(a.SKU.Name)
	}
	if a.Properties != nil {
		res.Endpoint = strings.TrimRight(deref(a.Properties.Endpoint), "/")
	}
	if a.Identity != nil {
		res.PrincipalID = deref(a.Identity.PrincipalID)
	}
	return res
}

func (p *Provider) listDeployments(ctx context.Context, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		accountID := scope.ParentID
		rg := common.ResourceIDSegment(accountID, "resourceGroups")
		accountName := common.ResourceIDSegment(accountID, "accounts")
		if rg == "" || accountName == "" {
			yield(models.Resource{}, fmt.Errorf("%q is not an account resource id", accountID))
			return
		}
		clientFactory, err := armcognitiveservices.NewClientFactory(p.subscription(scope), p.credential, nil)
		if err != nil {
			yield(models.Resource{}, fmt.Errorf("failed to create cognitive services client factory: %w", err))
			return
		}
		endpoint := fmt.Sprintf("https://%s.openai.azure.com", accountName)
		if account, err := clientFactory.NewAccountsClient().Get(ctx, rg, accountName, nil); err == nil && account.Properties != nil && account.Properties.Endpoint != nil {
			endpoint = strings.TrimRight(*account.Properties.Endpoint, "/")
		}

		pager := clientFactory.NewDeploymentsClient().NewListPager(rg, accountName, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(models.Resource{}, fmt.Errorf("failed to list deployments of %s: %w", accountName, err))
				return
			}
			for _, d := range page.Value {
				if d == nil || d.ID == nil {
					continue
				}
				res := models.Resource{
					ID:            *d.ID,
					Kind:          models.KindDeployment,
					Name:          deref(d.Name),
					ResourceGroup: rg,
					Endpoint:      endpoint,
					ParentID:      accountID,
					Deployment:    &models.DeploymentDetails{AccountName: accountName},
				}
				if d.Properties != nil && d.Properties.Model != nil {
					res.Deployment.ModelName = deref(d.Properties.Model.Name)
					res.Deployment.ModelVersion = deref(d.Properties.Model.Version)
				}
				sources, err := p.dataSources(ctx, endpoint, res.Name)
				if err != nil {
					if ctx.Err() != nil {
						yield(models.Resource{}, ctx.Err())
						return
					}
					p.logger.Debugf("Could not read On Your Data configuration of %s: %v", res.Name, err)
					res.Deployment.DataSourceErr = fmt.Errorf("reading On Your Data configuration: %w", err)
				}
				res.Deployment.DataSources = sources
				if !yield(res, nil) {
					return
				}
			}
		}
	}
}

// dataSources reads the OYD extensions configuration of a deployment. A
// deployment without one yields no sources.
func (p *Provider) dataSources(ctx context.Context, endpoint, deployment string) ([]models.DataSource, error) {
	var raw json.RawMessage
	status, err := p.openai.do(ctx, http.MethodGet, buildURL(endpoint, apiOpenAIData, "openai", "deployments", deployment, "extensions"), nil, &raw, http.StatusOK)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseDataSources(raw)
}

func (p *Provider) listSearchServices(ctx context.Context, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		clientFactory, err := armsearch.NewClientFactory(p.subscription(scope), p.credential, nil)
		if err != nil {
			yield(models.Resource{}, fmt.Errorf("failed to create search client factory: %w", err))
			return
		}
		pager := clientFactory.NewServicesClient().NewListBySubscriptionPager(nil, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(models.Resource{}, fmt.Errorf("failed to list search services: %w", err))
				return
			}
			for _, s := range page.Value {
				if s == nil || s.ID == nil {
					continue
				}
				if !yield(searchServiceResource(s), nil) {
					return
				}
			}
		}
	}
}

func searchServiceResource(s *armsearch.Service) models.Resource {
	name := deref(s.Name)
	res := models.Resource{
		ID:            *s.ID,
		Kind:          models.KindSearchService,
		Name:          name,
		ResourceGroup: common.ResourceIDSegment(*s.ID, "resourceGroups"),
		Location:      deref(s.Location),
		Endpoint:      fmt.Sprintf("https://%s.search.windows.net", name),
		SearchService: &models.SearchServiceDetails{},
	}
	if s.SKU != nil && s.SKU.Name != nil {
		res.SearchService.SKU = string(*s.SKU.Name)
	}
	if s.Identity != nil {
		res.PrincipalID = deref(s.Identity.PrincipalID)
	}
	if props := s.Properties; props != nil {
		res.SearchService.DisableLocalAuth = props.DisableLocalAuth != nil && *props.DisableLocalAuth
		if props.PublicNetworkAccess != nil {
			res.SearchService.PublicNetworkAccess = string(*props.PublicNetworkAccess)
		}
		res.SearchService.PrivateEndpoints = len(props.PrivateEndpointConnections)
	}
	return res
}

func (p *Provider) listIndexes(ctx context.Context, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		service := common.LastSegment(scope.ParentID)
		if service == "" {
			yield(models.Resource{}, fmt.Errorf("index listing needs a search service id"))
			return
		}
		var page struct {
			Value []indexPayload `json:"value"`
		}
		endpoint := fmt.Sprintf("https://%s.search.windows.net", service)
		if _, err := p.search.do(ctx, http.MethodGet, buildURL(endpoint, apiSearchData, "indexes"), nil, &page); err != nil {
			yield(models.Resource{}, fmt.Errorf("failed to list indexes of %s: %w", service, err))
			return
		}
		for _, idx := range page.Value {
			res := models.Resource{
				ID:            scope.ParentID + "/indexes/" + idx.Name,
				Kind:          models.KindIndex,
				Name:          idx.Name,
				ResourceGroup: common.ResourceIDSegment(scope.ParentID, "resourceGroups"),
				Endpoint:      endpoint,
				ParentID:      scope.ParentID,
				Index:         indexDetails(service, idx),
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}

// ListRoleAssignments implements cloud.Provider. Assignments at the scope and
// inherited from its ancestors are returned.
func (p *Provider) ListRoleAssignments(ctx context.Context, scope string) iter.Seq2[cloud.RoleAssignment, error] {
	return func(yield func(cloud.RoleAssignment, error) bool) {
		client, err := armauthorization.NewRoleAssignmentsClient(p.subscription(cloud.Scope{ParentID: scope}), p.credential, nil)
		if err != nil {
			yield(cloud.RoleAssignment{}, fmt.Errorf("failed to create role assignments client: %w", err))
			return
		}
		pager := client.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
			Filter: to.Ptr("atScope()"),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(cloud.RoleAssignment{}, fmt.Errorf("failed to list role assignments for %s: %w", scope, err))
				return
			}
			for _, ra := range page.Value {
				if ra == nil || ra.Properties == nil {
					continue
				}
				a := cloud.RoleAssignment{
					ID:               deref(ra.ID),
					Scope:            deref(ra.Properties.Scope),
					RoleDefinitionID: deref(ra.Properties.RoleDefinitionID),
					PrincipalID:      deref(ra.Properties.PrincipalID),
				}
				if !yield(a, nil) {
					return
				}
			}
		}
	}
}

// eachPage calls fn for every page until it returns false.
func eachPage[T any](ctx context.Context, pager *runtime.Pager[T], fn func(T) bool) error {
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		if !fn(page) {
			return nil
		}
	}
	return nil
}

func deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

var _ cloud.Provider = (*Provider)(nil)
