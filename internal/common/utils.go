// Package common provides naming and file helpers used across the migrator.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SanitizeName lowercases a name and keeps only characters valid in Azure
// resource names.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// AgentName is the name of the agent replacing an OYD deployment.
func AgentName(deployment string) string {
	return SanitizeName(deployment) + "-migrated"
}

// ConnectionName is the project connection name for a search service.
func ConnectionName(service string) string {
	return SanitizeName(service) + "-connection"
}

// KnowledgeBaseName is the knowledge base name for a search service.
func KnowledgeBaseName(service string) string {
	return "kb-" + SanitizeName(service)
}

// ServerLabel turns a knowledge base name into an MCP server label.
func ServerLabel(kb string) string {
	return strings.ReplaceAll(kb, "-", "_")
}

// IndexFromConnection derives an index name from a connection name. It is
// only a guess and callers must treat the result as a widened scope.
func IndexFromConnection(connection string) string {
	if strings.HasSuffix(connection, "-connection") {
		return strings.TrimSuffix(connection, "-connection") + "-index"
	}
	return connection + "-index"
}

// ResourceIDSegment returns the value following key in an ARM resource id,
// e.g. ResourceIDSegment(id, "resourceGroups").
func ResourceIDSegment(id, key string) string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], key) {
			return parts[i+1]
		}
	}
	return ""
}

// LastSegment returns the final name of an ARM resource id.
func LastSegment(id string) string {
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// HostName returns the first DNS label of an endpoint URL.
func HostName(endpoint string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	host, _, _ = strings.Cut(host, "/")
	name, _, _ := strings.Cut(host, ".")
	return name
}

// ProjectNameFromEndpoint extracts the project name from a Foundry project
// endpoint such as https://acct.services.ai.azure.com/api/projects/proj.
func ProjectNameFromEndpoint(endpoint string) string {
	_, after, ok := strings.Cut(endpoint, "/api/projects/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(after, "/")
	return name
}

// IsUnder reports whether scope equals or is an ancestor of the resource id.
func IsUnder(resourceID, scope string) bool {
	r := strings.ToLower(strings.TrimRight(resourceID, "/"))
	s := strings.ToLower(strings.TrimRight(scope, "/"))
	if s == "" {
		return false
	}
	return r == s || strings.HasPrefix(r, s+"/")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".oyd-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmpFile.Close()

	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move temp file: %w", err)
	}
	return nil
}
