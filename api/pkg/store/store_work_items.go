package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/workplane/workplane/api/pkg/types"
)

func (s *PostgresStore) CreateWorkItem(ctx context.Context, item *types.WorkItem) (*types.WorkItem, error) {
	if item.ID == "" {
		return nil, errors.New("work item ID is required")
	}
	if item.Reference == "" {
		return nil, errors.New("work item reference is required")
	}

	// References are stored upper case, matching is done upper case.
	item.Reference = strings.ToUpper(item.Reference)

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.UpdatedAt = time.Now()

	err := s.gdb.WithContext(ctx).Create(item).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create work item: %w", err)
	}

	return item, nil
}

func (s *PostgresStore) GetWorkItemByReference(ctx context.Context, orgID, projectID, reference string) (*types.WorkItem, error) {
	if orgID == "" || projectID == "" {
		return nil, errors.New("organization ID and project ID are required")
	}

	var item types.WorkItem
	err := s.gdb.WithContext(ctx).
		Where("organization_id = ? AND project_id = ? AND reference = ?",
			orgID, projectID, strings.ToUpper(reference)).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}

	return &item, nil
}
