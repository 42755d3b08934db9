package template

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
)

func testSample() Sample {
	return Sample{
		AgentName:       "chat-migrated",
		ProjectEndpoint: "https://acct.services.ai.azure.com/api/projects/proj/",
		Query:           "What's in the handbook?",
	}
}

func TestRenderSamples(t *testing.T) {
	gen := NewGenerator(logger.Discard(), t.TempDir())

	tests := []struct {
		kind     string
		contains []string
	}{
		{KindPython, []string{
			`PROJECT_ENDPOINT = "https://acct.services.ai.azure.com/api/projects/proj"`,
			`AGENT_NAME = "chat-migrated"`,
			`ask("What's in the handbook?")`,
			responsesAPIVersion,
		}},
		{KindCurl, []string{
			`PROJECT_ENDPOINT='https://acct.services.ai.azure.com/api/projects/proj'`,
			`INPUT_JSON='"What'\''s in the handbook?"'`,
			`"type\": \"agent_reference\"`,
		}},
		{KindComparison, []string{
			"| Multi-Index Support | ❌ | ✅ | ✅ |",
			"| API Status | Deprecated | GA | Preview |",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var buf bytes.Buffer
			if err := gen.Render(&buf, tt.kind, testSample()); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output does not contain %q:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestRenderDefaultQuery(t *testing.T) {
	s := testSample()
	s.Query = ""
	var buf bytes.Buffer
	if err := NewGenerator(logger.Discard(), "").Render(&buf, KindPython, s); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), DefaultQuery) {
		t.Errorf("expected default query in sample")
	}
}

func TestRenderErrors(t *testing.T) {
	gen := NewGenerator(logger.Discard(), "")
	tests := []struct {
		name   string
		kind   string
		sample Sample
	}{
		{"unknown kind", "java", testSample()},
		{"missing agent", KindPython, Sample{ProjectEndpoint: "https://x"}},
		{"missing endpoint", KindCurl, Sample{AgentName: "a"}},
		{"plain http endpoint", KindCurl, Sample{AgentName: "a", ProjectEndpoint: "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := gen.Render(&bytes.Buffer{}, tt.kind, tt.sample); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestComparisonNeedsNoSample(t *testing.T) {
	var buf bytes.Buffer
	if err := NewGenerator(logger.Discard(), "").Render(&buf, KindComparison, Sample{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := strings.Count(buf.String(), "\n| "); got != len(Features)+1 {
		t.Errorf("expected %d table rows, got %d", len(Features)+1, got)
	}
}

func TestRenderComparisonJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderComparisonJSON(&buf); err != nil {
		t.Fatalf("RenderComparisonJSON failed: %v", err)
	}
	var decoded struct {
		Features []Feature `json:"features"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded.Features) != len(Features) {
		t.Errorf("expected %d features, got %d", len(Features), len(decoded.Features))
	}
}

func TestGenerateWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "samples")
	gen := NewGenerator(logger.Discard(), dir)

	for _, kind := range Kinds {
		path, err := gen.Generate(kind, testSample())
		if err != nil {
			t.Fatalf("Generate(%s) failed: %v", kind, err)
		}
		if filepath.Dir(path) != dir {
			t.Errorf("expected %s in %s", path, dir)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Failed to stat %s: %v", path, err)
		}
		if kind == KindCurl && info.Mode().Perm()&0o100 == 0 {
			t.Errorf("expected curl sample to be executable, mode %v", info.Mode())
		}
	}

	if got := FileName(KindPython, testSample()); got != "chat-migrated_sample.py" {
		t.Errorf("unexpected python file name %q", got)
	}
}
