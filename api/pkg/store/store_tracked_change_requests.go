package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/workplane/workplane/api/pkg/types"
)

// UpsertTrackedChangeRequest inserts or updates a change request keyed by
// (project_id, provider_id). The conflict clause rides on the unique index,
// so concurrent webhook delivery and backfill runs cannot produce duplicate
// rows - the database serializes them.
func (s *PostgresStore) UpsertTrackedChangeRequest(ctx context.Context, request *types.TrackedChangeRequest) (*types.TrackedChangeRequest, error) {
	if request.ID == "" {
		return nil, errors.New("change request ID is required")
	}
	if request.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}
	if request.ProviderID == 0 {
		return nil, errors.New("provider ID is required")
	}

	if request.UpdatedAt.IsZero() {
		request.UpdatedAt = time.Now()
	}

	err := s.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"url",
			"source_branch",
			"state",
			"work_item_id",
			"updated_at",
			"first_reviewed_at",
			"approved_at",
			"merged_at",
			"closed_at",
		}),
	}).Create(request).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tracked change request: %w", err)
	}

	return s.GetTrackedChangeRequest(ctx, request.ProjectID, request.ProviderID)
}

func (s *PostgresStore) GetTrackedChangeRequest(ctx context.Context, projectID string, providerID int64) (*types.TrackedChangeRequest, error) {
	var request types.TrackedChangeRequest
	err := s.gdb.WithContext(ctx).
		Where("project_id = ? AND provider_id = ?", projectID, providerID).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked change request: %w", err)
	}

	return &request, nil
}

func (s *PostgresStore) ListTrackedChangeRequests(ctx context.Context, q *ListTrackedChangeRequestsQuery) ([]*types.TrackedChangeRequest, error) {
	if q.OrganizationID == "" || q.ProjectID == "" {
		return nil, errors.New("organization ID and project ID are required")
	}

	query := s.gdb.WithContext(ctx).
		Where("organization_id = ? AND project_id = ?", q.OrganizationID, q.ProjectID)

	if !q.CreatedSince.IsZero() {
		query = query.Where("created_at >= ?", q.CreatedSince)
	}

	var requests []*types.TrackedChangeRequest
	err := query.Order("created_at ASC").Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked change requests: %w", err)
	}

	return requests, nil
}

func (s *PostgresStore) DeleteTrackedChangeRequestsForProject(ctx context.Context, projectID string) error {
	err := s.gdb.WithContext(ctx).
		Where("project_id = ?", projectID).
		Delete(&types.TrackedChangeRequest{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tracked change requests: %w", err)
	}
	return nil
}
