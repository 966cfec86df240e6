package store

import (
	"context"
	"errors"
	"time"

	"github.com/workplane/workplane/api/pkg/types"
)

var ErrNotFound = errors.New("not found")

type ListTrackedChangeRequestsQuery struct {
	OrganizationID string
	ProjectID      string
	// CreatedSince filters on the upstream creation timestamp.
	CreatedSince time.Time
}

type Store interface {
	// projects (organization/project directory + credential at rest)
	CreateProject(ctx context.Context, project *types.Project) (*types.Project, error)
	GetProject(ctx context.Context, orgID, projectID string) (*types.Project, error)
	UpdateProject(ctx context.Context, project *types.Project) (*types.Project, error)
	ListConnectedProjects(ctx context.Context) ([]*types.Project, error)

	// work items (directory, lookup by reference code)
	CreateWorkItem(ctx context.Context, item *types.WorkItem) (*types.WorkItem, error)
	GetWorkItemByReference(ctx context.Context, orgID, projectID, reference string) (*types.WorkItem, error)

	// tracked branches
	CreateTrackedBranch(ctx context.Context, branch *types.TrackedBranch) (*types.TrackedBranch, error)
	GetOpenTrackedBranch(ctx context.Context, projectID, name string) (*types.TrackedBranch, error)
	UpdateTrackedBranch(ctx context.Context, branch *types.TrackedBranch) (*types.TrackedBranch, error)
	ListTrackedBranches(ctx context.Context, orgID, projectID string) ([]*types.TrackedBranch, error)
	DeleteTrackedBranchesForProject(ctx context.Context, projectID string) error

	// tracked change requests
	UpsertTrackedChangeRequest(ctx context.Context, request *types.TrackedChangeRequest) (*types.TrackedChangeRequest, error)
	GetTrackedChangeRequest(ctx context.Context, projectID string, providerID int64) (*types.TrackedChangeRequest, error)
	ListTrackedChangeRequests(ctx context.Context, q *ListTrackedChangeRequestsQuery) ([]*types.TrackedChangeRequest, error)
	DeleteTrackedChangeRequestsForProject(ctx context.Context, projectID string) error
}
