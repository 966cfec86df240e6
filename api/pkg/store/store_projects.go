package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/workplane/workplane/api/pkg/types"
)

func (s *PostgresStore) CreateProject(ctx context.Context, project *types.Project) (*types.Project, error) {
	if project.ID == "" {
		return nil, errors.New("project ID is required")
	}
	if project.OrganizationID == "" {
		return nil, errors.New("organization ID is required")
	}

	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	project.UpdatedAt = time.Now()

	err := s.gdb.WithContext(ctx).Create(project).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetProject looks a project up by id within an organization. Both scopes
// are mandatory to enforce tenant isolation.
func (s *PostgresStore) GetProject(ctx context.Context, orgID, projectID string) (*types.Project, error) {
	if orgID == "" || projectID == "" {
		return nil, errors.New("organization ID and project ID are required")
	}

	var project types.Project
	err := s.gdb.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, projectID).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project *types.Project) (*types.Project, error) {
	if project.ID == "" {
		return nil, errors.New("project ID is required")
	}

	project.UpdatedAt = time.Now()

	// Save rather than Updates so cleared VCS fields (disconnect) are
	// written back as zero values.
	err := s.gdb.WithContext(ctx).Save(project).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return project, nil
}

// ListConnectedProjects returns every project with an active repository
// link, across all tenants. Used by the periodic resync job.
func (s *PostgresStore) ListConnectedProjects(ctx context.Context) ([]*types.Project, error) {
	var projects []*types.Project
	err := s.gdb.WithContext(ctx).
		Where("vcs_provider <> '' AND vcs_repository_id <> 0").
		Order("created_at ASC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connected projects: %w", err)
	}
	return projects, nil
}
