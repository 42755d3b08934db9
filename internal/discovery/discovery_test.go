package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud/cloudtest"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(rg, name, kind string) models.Resource {
	return models.Resource{
		ID:            fmt.Sprintf("/subscriptions/sub/resourceGroups/%s/providers/Microsoft.CognitiveServices/accounts/%s", rg, name),
		Kind:          models.KindAccount,
		Name:          name,
		ResourceGroup: rg,
		Account:       &models.AccountDetails{Kind: kind},
	}
}

func deployment(acct models.Resource, name string, sources ...models.DataSource) models.Resource {
	return models.Resource{
		ID:            acct.ID + "/deployments/" + name,
		Kind:          models.KindDeployment,
		Name:          name,
		ResourceGroup: acct.ResourceGroup,
		ParentID:      acct.ID,
		Deployment:    &models.DeploymentDetails{AccountName: acct.Name, ModelName: "gpt-4o", DataSources: sources},
	}
}

func search(service, index string) models.DataSource {
	return models.DataSource{Type: models.SourceAzureSearch, Endpoint: "https://" + service + ".search.windows.net", IndexName: index}
}

func searchService(name string) models.Resource {
	return models.Resource{
		ID:            "/subscriptions/sub/resourceGroups/rg-search/providers/Microsoft.Search/searchServices/" + name,
		Kind:          models.KindSearchService,
		Name:          name,
		ResourceGroup: "rg-search",
		Endpoint:      "https://" + name + ".search.windows.net",
	}
}

func index(svc models.Resource, name string) models.Resource {
	return models.Resource{
		ID:       svc.ID + "/indexes/" + name,
		Kind:     models.KindIndex,
		Name:     name,
		ParentID: svc.ID,
		Index:    &models.IndexDetails{ServiceName: svc.Name},
	}
}

func newDiscoverer(p *cloudtest.Provider) *Discoverer {
	return New(p, logger.Discard(), 2, time.Minute)
}

func TestDiscoverDeduplicates(t *testing.T) {
	a := account("rg1", "aoai", "OpenAI")
	dep := deployment(a, "chat", search("srch", "docs"))
	svc := searchService("srch")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", a).
		AddPage(models.KindAccount, "", a).
		AddPage(models.KindDeployment, a.ID, dep).
		AddPage(models.KindDeployment, a.ID, dep).
		AddPage(models.KindSearchService, "", svc).
		AddPage(models.KindIndex, svc.ID, index(svc, "docs"))

	result, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	assert.Len(t, result.OfKind(models.KindAccount), 1)
	assert.Len(t, result.OfKind(models.KindDeployment), 1)
	assert.Len(t, result.OfKind(models.KindSearchService), 1)
	assert.Len(t, result.OfKind(models.KindIndex), 1)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "sub", result.SubscriptionID)
	assert.False(t, result.DiscoveredAt.IsZero())
}

func TestDiscoverRecordsPartialFailures(t *testing.T) {
	good := account("rg1", "good", "OpenAI")
	denied := account("rg2", "denied", "OpenAI")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", good, denied).
		AddPage(models.KindDeployment, good.ID, deployment(good, "chat", search("srch", "docs"))).
		FailList(models.KindDeployment, denied.ID, errors.New("403 forbidden")).
		AddPage(models.KindSearchService, "", searchService("srch")).
		FailList(models.KindIndex, searchService("srch").ID, errors.New("local auth disabled"))

	result, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	assert.Len(t, result.OfKind(models.KindDeployment), 1)
	require.Len(t, result.Warnings, 2)
	resources := []string{result.Warnings[0].Resource, result.Warnings[1].Resource}
	assert.ElementsMatch(t, []string{denied.ID, searchService("srch").ID}, resources)
	for _, w := range result.Warnings {
		assert.Equal(t, models.KindPartialDiscovery, w.Kind)
	}
}

func TestDiscoverFailsWhenAccountsCannotBeListed(t *testing.T) {
	p := cloudtest.New().FailList(models.KindAccount, "", errors.New("subscription not found"))

	_, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	var discoveryErr *models.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, models.KindAccount, discoveryErr.Collection)
}

func TestDiscoverFilters(t *testing.T) {
	aoai := account("rg1", "aoai", "OpenAI")
	speech := account("rg1", "speech", "SpeechServices")
	other := account("rg2", "other", "AIServices")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", aoai, speech, other).
		AddPage(models.KindDeployment, aoai.ID,
			deployment(aoai, "chat", search("srch", "docs")),
			deployment(aoai, "plain"),
			deployment(aoai, "embed", search("srch", "docs"))).
		AddPage(models.KindDeployment, other.ID, deployment(other, "chat", search("srch", "docs")))

	result, err := newDiscoverer(p).Discover(context.Background(),
		Scope{SubscriptionID: "sub"}, Filters{ResourceGroup: "rg1", DeploymentName: "chat"})

	require.NoError(t, err)
	accounts := result.OfKind(models.KindAccount)
	require.Len(t, accounts, 1)
	assert.Equal(t, "aoai", accounts[0].Name)
	deps := result.OfKind(models.KindDeployment)
	require.Len(t, deps, 1)
	assert.Equal(t, aoai.ID+"/deployments/chat", deps[0].ID)
}

func TestDiscoverOnlyReferencedSearchServices(t *testing.T) {
	a := account("rg1", "aoai", "OpenAI")
	used, unused := searchService("used"), searchService("unused")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", a).
		AddPage(models.KindDeployment, a.ID, deployment(a, "chat", search("used", "docs"))).
		AddPage(models.KindSearchService, "", used, unused).
		AddPage(models.KindIndex, used.ID, index(used, "docs"), index(used, "faq")).
		AddPage(models.KindIndex, unused.ID, index(unused, "x"))

	result, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	services := result.OfKind(models.KindSearchService)
	require.Len(t, services, 1)
	assert.Equal(t, "used", services[0].Name)
	assert.Len(t, result.IndexesOf("used"), 2)
	assert.Empty(t, result.IndexesOf("unused"))
}

func TestDiscoverManyResourceGroups(t *testing.T) {
	p := cloudtest.New()
	var accounts []models.Resource
	for i := range 10 {
		a := account(fmt.Sprintf("rg%d", i), fmt.Sprintf("aoai%d", i), "OpenAI")
		accounts = append(accounts, a)
		p.AddPage(models.KindDeployment, a.ID, deployment(a, "chat", search("srch", "docs")))
	}
	p.AddPage(models.KindAccount, "", accounts...)

	result, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	assert.Len(t, result.OfKind(models.KindDeployment), 10)
	for i := 1; i < len(result.Resources); i++ {
		assert.LessOrEqual(t, result.Resources[i-1].ID, result.Resources[i].ID)
	}
}

func TestRecordsStopsEarly(t *testing.T) {
	p := cloudtest.New()
	var accounts []models.Resource
	for i := range 6 {
		a := account(fmt.Sprintf("rg%d", i), fmt.Sprintf("aoai%d", i), "OpenAI")
		accounts = append(accounts, a)
		p.AddPage(models.KindDeployment, a.ID, deployment(a, "chat", search("srch", "docs")))
	}
	p.AddPage(models.KindAccount, "", accounts...)
	d := newDiscoverer(p)

	deployments := 0
	for res, err := range d.Records(context.Background(), Scope{SubscriptionID: "sub"}, Filters{}) {
		require.NoError(t, err)
		if res.Kind == models.KindDeployment {
			deployments++
			break
		}
	}
	assert.Equal(t, 1, deployments)

	// The sequence restarts from scratch.
	count := 0
	for _, err := range d.Records(context.Background(), Scope{SubscriptionID: "sub"}, Filters{}) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 12, count)
}

func TestDiscoverReportsUnreadableDeploymentConfig(t *testing.T) {
	a := account("rg1", "aoai", "OpenAI")
	denied := deployment(a, "locked")
	denied.Deployment.DataSourceErr = errors.New("403 forbidden")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", a).
		AddPage(models.KindDeployment, a.ID, denied, deployment(a, "chat", search("srch", "docs"))).
		AddPage(models.KindSearchService, "", searchService("srch"))

	result, err := newDiscoverer(p).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	require.Len(t, result.OfKind(models.KindDeployment), 1)
	assert.Equal(t, "chat", result.OfKind(models.KindDeployment)[0].Name)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, models.KindPartialDiscovery, result.Warnings[0].Kind)
	assert.Equal(t, denied.ID, result.Warnings[0].Resource)
	assert.Contains(t, result.Warnings[0].Message, "403 forbidden")
}

func TestDiscoverTimesOutHungListings(t *testing.T) {
	a := account("rg1", "aoai", "OpenAI")
	svc := searchService("srch")
	p := cloudtest.New().
		AddPage(models.KindAccount, "", a).
		AddPage(models.KindDeployment, a.ID, deployment(a, "chat", search("srch", "docs"))).
		AddPage(models.KindSearchService, "", svc).
		BlockList(models.KindIndex, svc.ID)

	d := New(p, logger.Discard(), 2, 20*time.Millisecond)
	result, err := d.Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	require.NoError(t, err)
	assert.Len(t, result.OfKind(models.KindSearchService), 1)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, svc.ID, result.Warnings[0].Resource)
	assert.Contains(t, result.Warnings[0].Message, "timed out")
}

func TestDiscoverFailsWhenAccountListingHangs(t *testing.T) {
	p := cloudtest.New().BlockList(models.KindAccount, "")

	_, err := New(p, logger.Discard(), 2, 20*time.Millisecond).Discover(context.Background(), Scope{SubscriptionID: "sub"}, Filters{})

	var discoveryErr *models.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
