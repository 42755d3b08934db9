// Package template renders code samples and reports for migrated agents.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	texttemplate "text/template"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
)

// Kinds of generated output.
const (
	KindPython     = "python"
	KindCurl       = "curl"
	KindComparison = "comparison"
)

// Kinds lists the supported outputs in display order.
var Kinds = []string{KindPython, KindCurl, KindComparison}

// DefaultQuery is used by samples when none is given.
const DefaultQuery = "What information is available in the connected data sources?"

// responsesAPIVersion is the project Responses API version the samples call.
const responsesAPIVersion = "2025-11-15-preview"

// Sample describes the agent a code sample targets.
type Sample struct {
	AgentName       string
	ProjectEndpoint string
	Query           string
}

// Validate reports whether a code sample can be rendered.
func (s Sample) Validate() error {
	if s.AgentName == "" {
		return fmt.Errorf("agent name is required")
	}
	if s.ProjectEndpoint == "" {
		return fmt.Errorf("project endpoint is required")
	}
	if !strings.HasPrefix(s.ProjectEndpoint, "https://") {
		return fmt.Errorf("project endpoint must start with https://")
	}
	return nil
}

type sampleData struct {
	Sample
	APIVersion string
}

// Generator renders samples and writes them to an output directory.
type Generator struct {
	logger    *logger.Logger
	outputDir string
}

// NewGenerator creates a generator writing into outputDir.
func NewGenerator(log *logger.Logger, outputDir string) *Generator {
	return &Generator{logger: log, outputDir: outputDir}
}

var templates = texttemplate.Must(texttemplate.New("samples").Funcs(texttemplate.FuncMap{
	"json": func(s string) (string, error) {
		b, err := json.Marshal(s)
		return string(b), err
	},
	"shellquote": func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	},
}).Parse(pythonTemplate + curlTemplate))

// Render writes the output of kind to w. Code samples require a valid
// Sample; the comparison ignores it.
func (g *Generator) Render(w io.Writer, kind string, s Sample) error {
	if s.Query == "" {
		s.Query = DefaultQuery
	}
	switch kind {
	case KindPython, KindCurl:
		if err := s.Validate(); err != nil {
			return err
		}
		data := sampleData{Sample: s, APIVersion: responsesAPIVersion}
		data.ProjectEndpoint = strings.TrimRight(s.ProjectEndpoint, "/")
		if err := templates.ExecuteTemplate(w, kind, data); err != nil {
			return fmt.Errorf("failed to render %s sample: %w", kind, err)
		}
		return nil
	case KindComparison:
		return RenderComparison(w)
	}
	return fmt.Errorf("unknown output %q (supported: %s)", kind, strings.Join(Kinds, ", "))
}

// FileName returns the file a kind is written to.
func FileName(kind string, s Sample) string {
	switch kind {
	case KindPython:
		return common.SanitizeName(s.AgentName) + "_sample.py"
	case KindCurl:
		return common.SanitizeName(s.AgentName) + "_sample.sh"
	}
	return "oyd-vs-foundry-comparison.md"
}

// Generate renders kind into the output directory and returns the path.
func (g *Generator) Generate(kind string, s Sample) (string, error) {
	if !slices.Contains(Kinds, kind) {
		return "", fmt.Errorf("unknown output %q (supported: %s)", kind, strings.Join(Kinds, ", "))
	}
	var buf bytes.Buffer
	if err := g.Render(&buf, kind, s); err != nil {
		return "", err
	}
	if err := common.EnsureDir(g.outputDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(g.outputDir, FileName(kind, s))
	perm := os.FileMode(0o644)
	if kind == KindCurl {
		perm = 0o755
	}
	if err := common.WriteFileAtomic(path, buf.Bytes(), perm); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	g.logger.Successf("Generated %s", path)
	return path, nil
}

const pythonTemplate = `{{define "python"}}"""Sample client for the {{.AgentName}} agent.

Requires: pip install azure-identity requests
"""

import requests
from azure.identity import DefaultAzureCredential

PROJECT_ENDPOINT = {{json .ProjectEndpoint}}
AGENT_NAME = {{json .AgentName}}
API_VERSION = {{json .APIVersion}}


def ask(question: str) -> dict:
    token = DefaultAzureCredential().get_token("https://ai.azure.com/.default").token
    headers = {"Authorization": f"Bearer {token}", "Content-Type": "application/json"}

    conversation = requests.post(
        f"{PROJECT_ENDPOINT}/openai/conversations?api-version={API_VERSION}",
        headers=headers,
        json={},
        timeout=30,
    )
    conversation.raise_for_status()

    response = requests.post(
        f"{PROJECT_ENDPOINT}/openai/responses?api-version={API_VERSION}",
        headers=headers,
        json={
            "conversation": conversation.json()["id"],
            "input": question,
            "agent": {"name": AGENT_NAME, "type": "agent_reference"},
        },
        timeout=120,
    )
    response.raise_for_status()
    return response.json()


if __name__ == "__main__":
    result = ask({{json .Query}})
    print(result.get("output_text", ""))
    for item in result.get("output", []):
        for content in item.get("content", []) or []:
            for annotation in content.get("annotations", []) or []:
                print("citation:", annotation.get("url") or annotation.get("title"))
{{end}}`

const curlTemplate = `{{define "curl"}}#!/usr/bin/env bash
# Sample client for the {{.AgentName}} agent.
# Requires: az login
set -euo pipefail

PROJECT_ENDPOINT={{shellquote .ProjectEndpoint}}
AGENT_NAME={{shellquote .AgentName}}
API_VERSION={{shellquote .APIVersion}}
INPUT_JSON={{json .Query | shellquote}}
TOKEN=$(az account get-access-token --resource https://ai.azure.com --query accessToken -o tsv)

CONVERSATION_ID=$(curl -sS -X POST "$PROJECT_ENDPOINT/openai/conversations?api-version=$API_VERSION" \
  -H "Authorization: Bearer $TOKEN" \
  -H "Content-Type: application/json" \
  -d '{}' | sed -n 's/.*"id" *: *"\([^"]*\)".*/\1/p')

curl -sS -X POST "$PROJECT_ENDPOINT/openai/responses?api-version=$API_VERSION" \
  -H "Authorization: Bearer $TOKEN" \
  -H "Content-Type: application/json" \
  -d "{\"conversation\": \"$CONVERSATION_ID\", \"input\": $INPUT_JSON, \"agent\": {\"name\": \"$AGENT_NAME\", \"type\": \"agent_reference\"}}"
echo
{{end}}`
