// Package refs extracts work-item reference codes (WI-<number>) from free
// text such as change-request titles and branch names, and resolves them to
// work items within a tenant scope.
package refs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/types"
)

var referencePattern = regexp.MustCompile(`(?i)\bwi-\d+\b`)

// ExtractReference returns the first work-item reference found in text,
// upper-cased, or the empty string when there is none.
func ExtractReference(text string) string {
	match := referencePattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.ToUpper(match)
}

// WorkItemStore is the slice of the store the resolver needs.
type WorkItemStore interface {
	GetWorkItemByReference(ctx context.Context, orgID, projectID, reference string) (*types.WorkItem, error)
}

type Resolver struct {
	store WorkItemStore
}

func NewResolver(store WorkItemStore) *Resolver {
	return &Resolver{store: store}
}

// ResolveWorkItem looks up a work item by reference within (org, project).
// Absence is expected and common, so it returns (nil, nil) rather than an
// error when nothing matches.
func (r *Resolver) ResolveWorkItem(ctx context.Context, orgID, projectID, reference string) (*types.WorkItem, error) {
	if reference == "" {
		return nil, nil
	}

	item, err := r.store.GetWorkItemByReference(ctx, orgID, projectID, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve work item %s: %w", reference, err)
	}

	return item, nil
}

// ResolveFromCandidates tries each text in order - for change requests the
// title comes before the source branch name - and returns the first work
// item that both yields a reference and resolves. Returns (nil, nil) when
// no candidate links up.
func (r *Resolver) ResolveFromCandidates(ctx context.Context, orgID, projectID string, texts ...string) (*types.WorkItem, error) {
	for _, text := range texts {
		reference := ExtractReference(text)
		if reference == "" {
			continue
		}

		item, err := r.ResolveWorkItem(ctx, orgID, projectID, reference)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	return nil, nil
}
