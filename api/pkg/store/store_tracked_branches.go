package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/workplane/workplane/api/pkg/types"
)

func (s *PostgresStore) CreateTrackedBranch(ctx context.Context, branch *types.TrackedBranch) (*types.TrackedBranch, error) {
	if branch.ID == "" {
		return nil, errors.New("branch ID is required")
	}
	if branch.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}
	if branch.Name == "" {
		return nil, errors.New("branch name is required")
	}

	if branch.State == "" {
		branch.State = types.BranchStateOpen
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now()
	}
	branch.UpdatedAt = time.Now()

	err := s.gdb.WithContext(ctx).Create(branch).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create tracked branch: %w", err)
	}

	return branch, nil
}

// GetOpenTrackedBranch returns the currently open branch with the given
// name. Closed branches with the same name may exist alongside it; a branch
// is only uniquely identified by (project, name) while open.
func (s *PostgresStore) GetOpenTrackedBranch(ctx context.Context, projectID, name string) (*types.TrackedBranch, error) {
	var branch types.TrackedBranch
	err := s.gdb.WithContext(ctx).
		Where("project_id = ? AND name = ? AND state = ?", projectID, name, types.BranchStateOpen).
		First(&branch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked branch: %w", err)
	}

	return &branch, nil
}

func (s *PostgresStore) UpdateTrackedBranch(ctx context.Context, branch *types.TrackedBranch) (*types.TrackedBranch, error) {
	if branch.ID == "" {
		return nil, errors.New("branch ID is required")
	}

	branch.UpdatedAt = time.Now()

	err := s.gdb.WithContext(ctx).Save(branch).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update tracked branch: %w", err)
	}

	return branch, nil
}

func (s *PostgresStore) ListTrackedBranches(ctx context.Context, orgID, projectID string) ([]*types.TrackedBranch, error) {
	if orgID == "" || projectID == "" {
		return nil, errors.New("organization ID and project ID are required")
	}

	var branches []*types.TrackedBranch
	err := s.gdb.WithContext(ctx).
		Where("organization_id = ? AND project_id = ?", orgID, projectID).
		Order("created_at DESC").
		Find(&branches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked branches: %w", err)
	}

	return branches, nil
}

// DeleteTrackedBranchesForProject removes every branch row for a project.
// Used when a repository is disconnected or replaced.
func (s *PostgresStore) DeleteTrackedBranchesForProject(ctx context.Context, projectID string) error {
	err := s.gdb.WithContext(ctx).
		Where("project_id = ?", projectID).
		Delete(&types.TrackedBranch{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tracked branches: %w", err)
	}
	return nil
}
