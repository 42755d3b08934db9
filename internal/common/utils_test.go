package common

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple name", "chat-gpt4", "chat-gpt4"},
		{"Uppercase", "Chat-GPT4", "chat-gpt4"},
		{"Spaces", "my deployment", "my-deployment"},
		{"Dots and slashes", "gpt-4.1/prod", "gpt-41prod"},
		{"Underscore kept", "oyd_search", "oyd_search"},
		{"Empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeName(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNames(t *testing.T) {
	if got := AgentName("Chat"); got != "chat-migrated" {
		t.Errorf("AgentName() = %q", got)
	}
	if got := ConnectionName("srch"); got != "srch-connection" {
		t.Errorf("ConnectionName() = %q", got)
	}
	if got := KnowledgeBaseName("srch"); got != "kb-srch" {
		t.Errorf("KnowledgeBaseName() = %q", got)
	}
	if got := ServerLabel("kb-my-srch"); got != "kb_my_srch" {
		t.Errorf("ServerLabel() = %q", got)
	}
}

func TestIndexFromConnection(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"srch-connection", "srch-index"},
		{"custom", "custom-index"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IndexFromConnection(tt.input); got != tt.expected {
				t.Errorf("IndexFromConnection(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResourceIDHelpers(t *testing.T) {
	id := "/subscriptions/sub1/resourceGroups/rg-ai/providers/Microsoft.CognitiveServices/accounts/aoai/deployments/chat"
	if got := ResourceIDSegment(id, "resourceGroups"); got != "rg-ai" {
		t.Errorf("ResourceIDSegment(resourceGroups) = %q", got)
	}
	if got := ResourceIDSegment(id, "accounts"); got != "aoai" {
		t.Errorf("ResourceIDSegment(accounts) = %q", got)
	}
	if got := ResourceIDSegment(id, "missing"); got != "" {
		t.Errorf("ResourceIDSegment(missing) = %q", got)
	}
	if got := LastSegment(id); got != "chat" {
		t.Errorf("LastSegment() = %q", got)
	}
}

func TestHostAndProjectNames(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(string) string
		input    string
		expected string
	}{
		{"search host", HostName, "https://srch.search.windows.net", "srch"},
		{"host with path", HostName, "https://aoai.openai.azure.com/openai", "aoai"},
		{"project", ProjectNameFromEndpoint, "https://acct.services.ai.azure.com/api/projects/proj1", "proj1"},
		{"project trailing path", ProjectNameFromEndpoint, "https://acct.services.ai.azure.com/api/projects/proj1/agents", "proj1"},
		{"no project", ProjectNameFromEndpoint, "https://acct.services.ai.azure.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsUnder(t *testing.T) {
	target := "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Search/searchServices/srch"
	tests := []struct {
		scope    string
		expected bool
	}{
		{target, true},
		{"/subscriptions/s", true},
		{"/subscriptions/S/resourceGroups/RG", true},
		{"/subscriptions/s/resourceGroups/rg2", false},
		{"/subscriptions/s/resourceGroups/r", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			if got := IsUnder(target, tt.scope); got != tt.expected {
				t.Errorf("IsUnder(%q) = %v, want %v", tt.scope, got, tt.expected)
			}
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	if err := WriteFileAtomic(path, []byte("first"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory %s to exist", dir)
	}
}
