// Package cloud defines the capability interface the migration core uses to
// reach the source and target platforms.
package cloud

import (
	"context"
	"iter"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Scope narrows a List call. ParentID selects children of a resource
// (deployments of an account, indexes of a search service, connections of a
// project).
type Scope struct {
	SubscriptionID string
	ResourceGroup  string
	ParentID       string
}

// CreateSpec describes a resource to create or reuse. Exactly one of the
// detail pointers is set, matching the kind passed to CreateOrGet.
type CreateSpec struct {
	Name          string
	ParentID      string
	Connection    *models.ConnectionSpec
	KnowledgeBase *models.KnowledgeBaseSpec
	Agent         *models.AgentSpec
}

// QueryResponse is the result of one conversational turn against an agent.
type QueryResponse struct {
	Text      string
	Citations []string
	ToolCalls int
}

// RoleAssignment is an existing role assignment.
type RoleAssignment struct {
	ID               string
	Scope            string
	RoleDefinitionID string
	PrincipalID      string
}

// Provider is the single capability object handed to discovery, provisioning
// and validation. Sequences are lazy; breaking out of a range stops paging.
type Provider interface {
	List(ctx context.Context, kind models.ResourceKind, scope Scope) iter.Seq2[models.Resource, error]
	CreateOrGet(ctx context.Context, kind models.ResourceKind, spec CreateSpec) (models.Resource, error)
	Query(ctx context.Context, agent models.Resource, input string) (*QueryResponse, error)
	ListRoleAssignments(ctx context.Context, scope string) iter.Seq2[RoleAssignment, error]
}
