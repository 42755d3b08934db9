package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/discovery"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/selector"
)

var discoverOutput string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List OYD deployments, data sources, search services and indexes",
	Args:  cobra.NoArgs,
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "text", "Output format (text or json)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if discoverOutput != "text" && discoverOutput != "json" {
		return fmt.Errorf("unknown output format %q (text or json)", discoverOutput)
	}
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.cfg.ValidateDiscovery(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	p, err := e.provider()
	if err != nil {
		return err
	}

	d := discovery.New(p, e.log, e.cfg.DiscoveryParallelism, e.cfg.CallTimeout)
	result, err := d.Discover(cmd.Context(),
		discovery.Scope{SubscriptionID: e.cfg.AzureSubscriptionID},
		discovery.Filters{
			ResourceGroup:  e.cfg.AzureResourceGroup,
			AccountName:    e.cfg.AzureAccountName,
			DeploymentName: e.cfg.AzureDeploymentName,
		})
	if err != nil {
		return err
	}

	if discoverOutput == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printInventory(cmd.OutOrStdout(), result, e.cfg.Inputs().PathHint)
	return nil
}

// printInventory writes a text summary of a discovery snapshot with the
// recommended path of every deployment.
func printInventory(w io.Writer, result *models.DiscoveryResult, hint models.MigrationPath) {
	deployments := result.OfKind(models.KindDeployment)
	oyd := 0
	for _, dep := range deployments {
		if dep.Deployment != nil && len(dep.Deployment.DataSources) > 0 {
			oyd++
		}
	}
	fmt.Fprintf(w, "Subscription %s: %d deployments (%d with On Your Data)\n", result.SubscriptionID, len(deployments), oyd)

	for _, dep := range deployments {
		d := dep.Deployment
		if d == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s/%s", d.AccountName, dep.Name)
		if d.ModelName != "" {
			fmt.Fprintf(w, " (%s %s)", d.ModelName, d.ModelVersion)
		}
		fmt.Fprintln(w)
		if len(d.DataSources) == 0 {
			fmt.Fprintln(w, "  no data sources")
			continue
		}
		for _, ds := range d.DataSources {
			parts := []string{string(ds.Type)}
			if name := ds.SearchServiceName(); name != "" {
				parts = append(parts, "service="+name)
			}
			if ds.IndexName != "" {
				parts = append(parts, "index="+ds.IndexName)
			}
			if ds.QueryType != "" {
				parts = append(parts, "query_type="+ds.QueryType)
			}
			fmt.Fprintf(w, "  - %s\n", strings.Join(parts, " "))
		}
		for _, ds := range selector.Unsupported(dep) {
			fmt.Fprintf(w, "  ! %s is not served by the search tool\n", ds.Type)
		}
		fmt.Fprintf(w, "  recommended path: %s\n", selector.Select(result, dep.ID, hint))
	}

	if services := result.OfKind(models.KindSearchService); len(services) > 0 {
		fmt.Fprintln(w, "\nSearch services:")
		for _, svc := range services {
			line := svc.Name
			if s := svc.SearchService; s != nil {
				line = fmt.Sprintf("%s sku=%s public_network=%s private_endpoints=%d", svc.Name, s.SKU, s.PublicNetworkAccess, s.PrivateEndpoints)
			}
			fmt.Fprintf(w, "  - %s\n", line)
			for _, idx := range result.IndexesOf(svc.Name) {
				vectors := 0
				if idx.Index != nil {
					vectors = len(idx.Index.VectorFields)
				}
				fmt.Fprintf(w, "      %s (%d vector fields)\n", idx.Name, vectors)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn.Message)
		}
	}
}
