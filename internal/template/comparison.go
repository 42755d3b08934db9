package template

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Feature is one row of the OYD vs Foundry comparison. Values are "yes",
// "no" or a short qualifier.
type Feature struct {
	Name          string `json:"name"`
	OYD           string `json:"oyd"`
	SearchTool    string `json:"foundry_search_tool"`
	KnowledgeBase string `json:"foundry_iq_kb"`
}

// Features is the comparison matrix.
var Features = []Feature{
	{"Azure AI Search", "yes", "yes", "yes"},
	{"Semantic Search", "yes", "yes", "yes"},
	{"Vector Search", "yes", "yes", "yes"},
	{"Hybrid Search", "yes", "yes", "yes"},
	{"Multi-Index Support", "no", "yes", "yes"},
	{"Multi-Source Types", "Limited", "yes", "yes"},
	{"Citations", "yes", "yes", "yes"},
	{"Managed Identity", "yes", "yes", "yes"},
	{"VNet/Private Endpoints", "yes", "Standard", "Standard"},
	{"Document ACLs", "Entra groups", "filter param", "ACL header"},
	{"Multi-turn Conversations", "no", "yes", "yes"},
	{"Tool Orchestration", "no", "yes", "yes"},
	{"Code Interpreter", "no", "yes", "yes"},
	{"Query Decomposition", "no", "no", "yes"},
	{"Agentic Reasoning", "no", "Basic", "Full"},
	{"Streaming", "yes", "yes", "yes"},
	{"Supported Models", "GPT-4o (retiring)", "GPT-4.1+", "GPT-4.1+"},
	{"API Status", "Deprecated", "GA", "Preview"},
}

func mark(v string) string {
	switch v {
	case "yes":
		return "✅"
	case "no":
		return "❌"
	}
	return v
}

// RenderComparison writes the comparison matrix as markdown.
func RenderComparison(w io.Writer) error {
	var b strings.Builder
	b.WriteString("# OYD vs Foundry Agent Service Feature Comparison\n\n")
	b.WriteString("| Feature | OYD (Deprecated) | Foundry + Search Tool | Foundry + IQ KB |\n")
	b.WriteString("|---------|------------------|-----------------------|-----------------|\n")
	for _, f := range Features {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", f.Name, mark(f.OYD), mark(f.SearchTool), mark(f.KnowledgeBase))
	}
	b.WriteString(`
## Recommendations

- **For simple RAG with existing indexes**: use Foundry + Azure AI Search tool.
- **For complex reasoning and multi-source data**: use Foundry + Foundry IQ knowledge base.

## Migration Paths

### Azure AI Search tool (direct_index_tool)
- Direct index connection through an AzureAISearch project connection
- Familiar query types (simple, semantic, vector, hybrid)

### Foundry IQ knowledge base (knowledge_base_retrieval)
- MCP tool exposing knowledge_base_retrieve
- Query planning across several knowledge sources
`)
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderComparisonJSON writes the comparison matrix as indented JSON.
func RenderComparisonJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Features []Feature `json:"features"`
	}{Features})
}
