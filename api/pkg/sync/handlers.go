package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/system"
	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

// upsertChangeRequest reconciles one upstream change request into storage.
// Review markers passed as nil are carried forward from the existing row so
// a webhook update, which carries no review data, never erases what a
// backfill established.
func (e *Engine) upsertChangeRequest(ctx context.Context, project *types.Project, cr *vcs.ChangeRequest, firstReviewedAt, approvedAt *time.Time) error {
	existing, err := e.store.GetTrackedChangeRequest(ctx, project.ID, cr.ProviderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	workItemID := ""
	if existing != nil {
		workItemID = existing.WorkItemID
		if firstReviewedAt == nil {
			firstReviewedAt = existing.FirstReviewedAt
		}
		if approvedAt == nil {
			approvedAt = existing.ApprovedAt
		}
	}

	// Title before branch name; a title edit can relink, but a title that
	// stops resolving keeps the last known link.
	item, err := e.resolver.ResolveFromCandidates(ctx, project.OrganizationID, project.ID, cr.Title, cr.SourceBranch)
	if err != nil {
		return err
	}
	if item != nil {
		workItemID = item.ID
	}

	tracked := &types.TrackedChangeRequest{
		ID:              system.GenerateChangeRequestID(),
		OrganizationID:  project.OrganizationID,
		ProjectID:       project.ID,
		ProviderID:      cr.ProviderID,
		Number:          cr.Number,
		Title:           cr.Title,
		URL:             cr.URL,
		SourceBranch:    cr.SourceBranch,
		State:           cr.State,
		WorkItemID:      workItemID,
		CreatedAt:       cr.CreatedAt,
		UpdatedAt:       cr.UpdatedAt,
		FirstReviewedAt: firstReviewedAt,
		ApprovedAt:      approvedAt,
		MergedAt:        cr.MergedAt,
		ClosedAt:        cr.ClosedAt,
	}

	if _, err := e.store.UpsertTrackedChangeRequest(ctx, tracked); err != nil {
		return fmt.Errorf("failed to upsert change request #%d: %w", cr.Number, err)
	}

	return nil
}

// trackBranch records an upstream branch when its name references an
// existing work item. Already-tracked open branches and unreferenced
// branches are ignored.
func (e *Engine) trackBranch(ctx context.Context, project *types.Project, name, url string) error {
	item, err := e.resolver.ResolveFromCandidates(ctx, project.OrganizationID, project.ID, name)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	_, err = e.store.GetOpenTrackedBranch(ctx, project.ID, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, err = e.store.CreateTrackedBranch(ctx, &types.TrackedBranch{
		ID:             system.GenerateBranchID(),
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		Name:           name,
		URL:            url,
		State:          types.BranchStateOpen,
		WorkItemID:     item.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to track branch %s: %w", name, err)
	}

	log.Debug().
		Str("project_id", project.ID).
		Str("branch", name).
		Str("work_item_id", item.ID).
		Msg("tracking branch")

	return nil
}

// closeBranch soft-closes a tracked branch after upstream deletion. The row
// survives so metrics keep their lineage. Deleting an untracked branch is
// not an error.
func (e *Engine) closeBranch(ctx context.Context, project *types.Project, name string) error {
	branch, err := e.store.GetOpenTrackedBranch(ctx, project.ID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	branch.State = types.BranchStateClosed
	branch.DeletedAt = &now

	if _, err := e.store.UpdateTrackedBranch(ctx, branch); err != nil {
		return fmt.Errorf("failed to close branch %s: %w", name, err)
	}

	return nil
}

// branchURL builds a browsable URL for a branch the webhook only names.
func branchURL(project *types.Project, name string) string {
	switch project.VCSProvider {
	case types.VCSProviderGitLab:
		return fmt.Sprintf("%s/-/tree/%s", project.VCSRepositoryURL, name)
	default:
		return fmt.Sprintf("%s/tree/%s", project.VCSRepositoryURL, name)
	}
}
