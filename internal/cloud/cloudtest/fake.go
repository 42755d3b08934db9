// Package cloudtest provides an in-memory cloud.Provider for tests.
package cloudtest

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/cloud"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Provider is a scripted, concurrency-safe fake. List results are keyed by
// kind or by kind and parent id (see Key).
type Provider struct {
	mu sync.Mutex

	pages      map[string][][]models.Resource
	listErrors map[string]error
	blocked    map[string]bool
	scripts    map[string][]error
	created    map[string]models.Resource
	calls      map[string]int

	QueryResponses []*cloud.QueryResponse
	QueryErr       error
	queries        int

	Assignments   []cloud.RoleAssignment
	AssignmentErr error

	// BlockAssignments makes ListRoleAssignments wait for its context.
	BlockAssignments bool

	// Hook runs before every CreateOrGet attempt.
	Hook func(kind models.ResourceKind, name string)
}

// New returns an empty fake.
func New() *Provider {
	return &Provider{
		pages:      map[string][][]models.Resource{},
		listErrors: map[string]error{},
		blocked:    map[string]bool{},
		scripts:    map[string][]error{},
		created:    map[string]models.Resource{},
		calls:      map[string]int{},
	}
}

// Key builds the lookup key for List results.
func Key(kind models.ResourceKind, parentID string) string {
	if parentID == "" {
		return string(kind)
	}
	return string(kind) + "|" + parentID
}

// AddPage appends one page of results for kind under parentID.
func (p *Provider) AddPage(kind models.ResourceKind, parentID string, page ...models.Resource) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := Key(kind, parentID)
	p.pages[k] = append(p.pages[k], page)
	return p
}

// FailList makes List for kind under parentID fail with err after the pages.
func (p *Provider) FailList(kind models.ResourceKind, parentID string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErrors[Key(kind, parentID)] = err
	return p
}

// BlockList makes List for kind under parentID hang until its context ends.
func (p *Provider) BlockList(kind models.ResourceKind, parentID string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked[Key(kind, parentID)] = true
	return p
}

// Script queues errors returned by CreateOrGet for name before it succeeds.
func (p *Provider) Script(name string, errs ...error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[name] = append(p.scripts[name], errs...)
	return p
}

// Calls returns how many times CreateOrGet was called for name.
func (p *Provider) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// Created returns the resources created so far keyed by name.
func (p *Provider) Created() map[string]models.Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.Resource, len(p.created))
	for k, v := range p.created {
		out[k] = v
	}
	return out
}

// Queries returns the number of Query calls.
func (p *Provider) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

func (p *Provider) List(ctx context.Context, kind models.ResourceKind, scope cloud.Scope) iter.Seq2[models.Resource, error] {
	return func(yield func(models.Resource, error) bool) {
		k := Key(kind, scope.ParentID)
		p.mu.Lock()
		pages := p.pages[k]
		listErr := p.listErrors[k]
		blocked := p.blocked[k]
		p.mu.Unlock()
		if blocked {
			<-ctx.Done()
			yield(models.Resource{}, ctx.Err())
			return
		}
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				yield(models.Resource{}, err)
				return
			}
			for _, r := range page {
				if scope.ResourceGroup != "" && r.ResourceGroup != "" && r.ResourceGroup != scope.ResourceGroup {
					continue
				}
				if !yield(r, nil) {
					return
				}
			}
		}
		if listErr != nil {
			yield(models.Resource{}, listErr)
		}
	}
}

func (p *Provider) CreateOrGet(ctx context.Context, kind models.ResourceKind, spec cloud.CreateSpec) (models.Resource, error) {
	if p.Hook != nil {
		p.Hook(kind, spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return models.Resource{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[spec.Name]++
	if script := p.scripts[spec.Name]; len(script) > 0 {
		p.scripts[spec.Name] = script[1:]
		if script[0] != nil {
			return models.Resource{}, script[0]
		}
	}
	if r, ok := p.created[spec.Name]; ok {
		return r, nil
	}
	r := models.Resource{
		ID:       fmt.Sprintf("%s/%s/%s", spec.ParentID, kind, spec.Name),
		Kind:     kind,
		Name:     spec.Name,
		ParentID: spec.ParentID,
	}
	if kind == models.KindProject {
		r.ID = spec.ParentID
		r.PrincipalID = "project-principal"
		r.Endpoint = "https://fake.services.ai.azure.com/api/projects/" + spec.Name
	}
	p.created[spec.Name] = r
	return r, nil
}

func (p *Provider) Query(ctx context.Context, agent models.Resource, input string) (*cloud.QueryResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	if len(p.QueryResponses) == 0 {
		return &cloud.QueryResponse{}, nil
	}
	resp := p.QueryResponses[0]
	if len(p.QueryResponses) > 1 {
		p.QueryResponses = p.QueryResponses[1:]
	}
	return resp, nil
}

func (p *Provider) ListRoleAssignments(ctx context.Context, scope string) iter.Seq2[cloud.RoleAssignment, error] {
	return func(yield func(cloud.RoleAssignment, error) bool) {
		if p.BlockAssignments {
			<-ctx.Done()
			yield(cloud.RoleAssignment{}, ctx.Err())
			return
		}
		if p.AssignmentErr != nil {
			yield(cloud.RoleAssignment{}, p.AssignmentErr)
			return
		}
		for _, a := range p.Assignments {
			if !yield(a, nil) {
				return
			}
		}
	}
}

var _ cloud.Provider = (*Provider)(nil)
