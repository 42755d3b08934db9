package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/template"
)

func inventory() *models.DiscoveryResult {
	return &models.DiscoveryResult{
		SubscriptionID: "sub",
		Resources: []models.Resource{
			{
				ID:   "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/chat",
				Kind: models.KindDeployment,
				Name: "chat",
				Deployment: &models.DeploymentDetails{
					AccountName: "aoai",
					ModelName:   "gpt-4o",
					DataSources: []models.DataSource{
						{Type: models.SourceAzureSearch, Endpoint: "https://srch.search.windows.net", IndexName: "docs"},
					},
				},
			},
			{
				ID:   "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/wiki",
				Kind: models.KindDeployment,
				Name: "wiki",
				Deployment: &models.DeploymentDetails{
					AccountName: "aoai",
					DataSources: []models.DataSource{{Type: models.SourceCosmosDB}},
				},
			},
			{
				ID:         "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/plain",
				Kind:       models.KindDeployment,
				Name:       "plain",
				Deployment: &models.DeploymentDetails{AccountName: "aoai"},
			},
			{
				ID:            "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Search/searchServices/srch",
				Kind:          models.KindSearchService,
				Name:          "srch",
				SearchService: &models.SearchServiceDetails{SKU: "standard", PublicNetworkAccess: "Enabled"},
			},
			{
				ID:    "https://srch.search.windows.net/indexes/docs",
				Kind:  models.KindIndex,
				Name:  "docs",
				Index: &models.IndexDetails{ServiceName: "srch", VectorFields: []string{"embedding"}},
			},
		},
		Warnings: []models.ErrorRecord{{Message: "skipped index listing for other"}},
	}
}

func TestPrintInventory(t *testing.T) {
	var buf bytes.Buffer
	printInventory(&buf, inventory(), "")
	out := buf.String()

	for _, want := range []string{
		"3 deployments (2 with On Your Data)",
		"aoai/chat (gpt-4o )",
		"azure_search service=srch index=docs",
		"recommended path: direct_index_tool",
		"azure_cosmos_db is not served by the search tool",
		"recommended path: knowledge_base_retrieval",
		"no data sources",
		"srch sku=standard",
		"docs (1 vector fields)",
		"skipped index listing for other",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("inventory does not contain %q:\n%s", want, out)
		}
	}
}

func TestPrintInventoryHonorsHint(t *testing.T) {
	var buf bytes.Buffer
	printInventory(&buf, inventory(), models.PathKnowledgeBaseRetrieval)
	if strings.Contains(buf.String(), "recommended path: direct_index_tool") {
		t.Errorf("expected the hint to override the recommendation:\n%s", buf.String())
	}
}

func TestDeploymentLabel(t *testing.T) {
	dep := inventory().Resources[0]
	if got := deploymentLabel(dep); got != "aoai/chat [azure_search]" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	list := []models.SessionSummary{
		{ID: "s-1", Status: models.StatusPaused, CurrentStep: models.StepConfigMapped, Path: models.PathDirectIndexTool, Deployment: "chat", UpdatedAt: time.Now()},
		{ID: "s-2", Status: models.StatusInProgress, CurrentStep: models.StepNew},
	}
	if err := printSessions(&buf, list); err != nil {
		t.Fatalf("printSessions failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "config_mapped") || !strings.Contains(lines[1], "direct_index_tool") {
		t.Errorf("unexpected row %q", lines[1])
	}
	if !strings.Contains(lines[2], " - ") {
		t.Errorf("expected placeholder path in %q", lines[2])
	}
}

func TestSampleFromSession(t *testing.T) {
	sess := models.NewSession("s-1", models.Inputs{ProjectEndpoint: "https://input.example"}, time.Now())
	sess.MappedConfig = &models.MappedConfig{AgentName: "chat-migrated"}

	got := sampleFromSession(sess, template.Sample{})
	if got.AgentName != "chat-migrated" || got.ProjectEndpoint != "https://input.example" {
		t.Errorf("unexpected sample %+v", got)
	}

	sess.ProvisioningResults["project"] = models.StepResult{Outputs: map[string]string{"endpoint": "https://project.example"}}
	got = sampleFromSession(sess, template.Sample{AgentName: "explicit"})
	if got.AgentName != "explicit" || got.ProjectEndpoint != "https://project.example" {
		t.Errorf("unexpected sample %+v", got)
	}
}

func TestReportResult(t *testing.T) {
	report := &models.ValidationReport{
		Queries: []models.QueryOutcome{{Query: "hi", Citations: 0, ToolCalls: 1}},
	}
	report.Add(models.Finding{Kind: models.KindCitationMissing, Severity: models.SeverityWarning, Check: models.CheckEndToEnd, Message: "no citations"})

	var buf bytes.Buffer
	if err := reportResult(&buf, report); err != nil {
		t.Errorf("warnings should not fail validation: %v", err)
	}
	if !strings.Contains(buf.String(), "[warning]") || !strings.Contains(buf.String(), `query "hi"`) {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	report.Add(models.Finding{Kind: models.KindMissingRoleAssignment, Severity: models.SeverityError, Check: models.CheckRoles, Subject: "srch"})
	if err := reportResult(&bytes.Buffer{}, report); err == nil {
		t.Error("expected error for failed validation")
	}
}
