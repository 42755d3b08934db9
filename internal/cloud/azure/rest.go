package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName    = "oyd-migrator"
	moduleVersion = "v0.1.0"

	scopeCognitiveServices = "https://cognitiveservices.azure.com/.default"
	scopeSearch            = "https://search.azure.com/.default"
	scopeFoundry           = "https://ai.azure.com/.default"

	apiOpenAIData     = "2024-10-21"
	apiSearchData     = "2025-11-01-preview"
	apiAgents         = "v1"
	apiResponses      = "2025-11-15-preview"
	apiFoundryProject = "2025-06-01"
	apiHubProject     = "2024-07-01-preview"
)

// restClient sends JSON requests through an azcore pipeline.
type restClient struct {
	pipeline runtime.Pipeline
}

func newRESTClient(cred azcore.TokenCredential, scope string) restClient {
	return restClient{pipeline: runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{runtime.NewBearerTokenPolicy(cred, []string{scope}, nil)},
	}, nil)}
}

// do sends body (if any) and decodes the response into out (if any). A status
// outside ok becomes an *azcore.ResponseError.
func (c restClient) do(ctx context.Context, method, endpoint string, body, out any, ok ...int) (int, error) {
	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Raw().Header.Set("Accept", "application/json")
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	resp, err := c.pipeline.Do(req)
	if err != nil {
		return 0, err
	}
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	if !runtime.HasStatusCode(resp, ok...) {
		return resp.StatusCode, runtime.NewResponseError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// buildURL joins a base endpoint, escaped path segments and an api-version.
func buildURL(base, apiVersion string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	b.WriteString("?api-version=")
	b.WriteString(url.QueryEscape(apiVersion))
	return b.String()
}

// armURL appends a resource id path to the management endpoint. Resource ids
// are already escaped.
func armURL(endpoint, id, apiVersion string, segments ...string) string {
	return buildURL(strings.TrimRight(endpoint, "/")+"/"+strings.TrimLeft(id, "/"), apiVersion, segments...)
}
