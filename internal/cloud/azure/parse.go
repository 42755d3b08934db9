package azure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

type extensionsPayload struct {
	DataSources []struct {
		Type       string                     `json:"type"`
		Parameters map[string]json.RawMessage `json:"parameters"`
	} `json:"data_sources"`
}

// parseDataSources decodes the data_sources block of an OYD extensions
// response. Parameters without a dedicated field are kept in Extra as their
// raw JSON text, or the plain value for strings.
func parseDataSources(body []byte) ([]models.DataSource, error) {
	var payload extensionsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode data sources: %w", err)
	}
	sources := make([]models.DataSource, 0, len(payload.DataSources))
	for i, raw := range payload.DataSources {
		if raw.Type == "" {
			return nil, fmt.Errorf("data source %d has no type", i)
		}
		ds := models.DataSource{Type: models.DataSourceType(raw.Type)}
		for _, key := range slices.Sorted(maps.Keys(raw.Parameters)) {
			if err := setParameter(&ds, key, raw.Parameters[key]); err != nil {
				return nil, fmt.Errorf("data source %d: parameter %s: %w", i, key, err)
			}
		}
		sources = append(sources, ds)
	}
	return sources, nil
}

func setParameter(ds *models.DataSource, key string, value json.RawMessage) error {
	switch key {
	case "endpoint":
		return json.Unmarshal(value, &ds.Endpoint)
	case "index_name":
		return json.Unmarshal(value, &ds.IndexName)
	case "query_type":
		return json.Unmarshal(value, &ds.QueryType)
	case "semantic_configuration":
		return json.Unmarshal(value, &ds.SemanticConfiguration)
	case "filter":
		return json.Unmarshal(value, &ds.Filter)
	case "top_n_documents":
		return json.Unmarshal(value, &ds.TopNDocuments)
	case "strictness":
		return json.Unmarshal(value, &ds.Strictness)
	case "in_scope":
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return err
		}
		ds.InScope = &b
	case "role_information":
		return json.Unmarshal(value, &ds.RoleInformation)
	case "authentication":
		var auth struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(value, &auth); err != nil {
			return err
		}
		ds.AuthenticationType = auth.Type
	case "embedding_dependency":
		var dep struct {
			Type           string `json:"type"`
			DeploymentName string `json:"deployment_name"`
			Endpoint       string `json:"endpoint"`
		}
		if err := json.Unmarshal(value, &dep); err != nil {
			return err
		}
		ds.EmbeddingDependency = firstNonEmpty(dep.DeploymentName, dep.Endpoint, dep.Type)
	case "fields_mapping":
		return json.Unmarshal(value, &ds.FieldsMapping)
	case "container_name":
		return json.Unmarshal(value, &ds.ContainerName)
	case "database_name":
		return json.Unmarshal(value, &ds.DatabaseName)
	default:
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil
		}
		if ds.Extra == nil {
			ds.Extra = map[string]string{}
		}
		ds.Extra[key] = rawString(value)
	}
	return nil
}

func rawString(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return string(value)
	}
	return buf.String()
}

type indexField struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Dimensions int    `json:"dimensions"`
}

type indexPayload struct {
	Name     string       `json:"name"`
	Fields   []indexField `json:"fields"`
	Semantic *struct {
		DefaultConfiguration string `json:"defaultConfiguration"`
		Configurations       []struct {
			Name string `json:"name"`
		} `json:"configurations"`
	} `json:"semantic"`
}

// indexDetails converts a search index definition. Collection(Edm.Single)
// fields with dimensions are vector fields.
func indexDetails(service string, idx indexPayload) *models.IndexDetails {
	d := &models.IndexDetails{ServiceName: service}
	for _, f := range idx.Fields {
		d.Fields = append(d.Fields, f.Name)
		if f.Dimensions > 0 || strings.HasPrefix(f.Type, "Collection(Edm.Single") || strings.HasPrefix(f.Type, "Collection(Edm.Half") {
			d.VectorFields = append(d.VectorFields, f.Name)
		}
	}
	if idx.Semantic != nil {
		for _, c := range idx.Semantic.Configurations {
			d.SemanticConfigurations = append(d.SemanticConfigurations, c.Name)
		}
	}
	return d
}

type responsePayload struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Annotations []struct {
				Type     string `json:"type"`
				URL      string `json:"url"`
				Title    string `json:"title"`
				FileID   string `json:"file_id"`
				Filename string `json:"filename"`
			} `json:"annotations"`
		} `json:"content"`
	} `json:"output"`
	ToolCalls []json.RawMessage `json:"tool_calls"`
	Citations []json.RawMessage `json:"citations"`
}

// parseResponse extracts the text, citations and tool calls of a Responses
// API result. Output items other than messages are tool calls.
func parseResponse(body []byte) (*cloud.QueryResponse, error) {
	var payload responsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	out := &cloud.QueryResponse{Text: payload.OutputText, ToolCalls: len(payload.ToolCalls)}
	var text strings.Builder
	for _, item := range payload.Output {
		if item.Type != "message" {
			if strings.HasSuffix(item.Type, "_call") {
				out.ToolCalls++
			}
			continue
		}
		for _, c := range item.Content {
			text.WriteString(c.Text)
			for i, a := range c.Annotations {
				out.Citations = append(out.Citations, firstNonEmpty(a.URL, a.Title, a.Filename, a.FileID, a.Type+"#"+strconv.Itoa(i)))
			}
		}
	}
	if out.Text == "" {
		out.Text = text.String()
	}
	for _, c := range payload.Citations {
		out.Citations = append(out.Citations, rawString(c))
	}
	return out, nil
}

// projectEndpoint picks the agent endpoint of a project resource. Foundry
// projects publish it under properties.endpoints; hub-based projects fall
// back to the account and project names.
func projectEndpoint(name string, props projectProperties) string {
	if ep := props.Endpoints["AI Foundry API"]; ep != "" {
		return strings.TrimRight(ep, "/")
	}
	if props.WorkspaceURL != "" {
		return strings.TrimRight(props.WorkspaceURL, "/")
	}
	account := name
	if props.HubResourceID != "" {
		account = props.HubResourceID[strings.LastIndex(props.HubResourceID, "/")+1:]
	}
	return fmt.Sprintf("https://%s.services.ai.azure.com/api/projects/%s", account, name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
