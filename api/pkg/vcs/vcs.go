// Package vcs defines the provider-neutral gateway to external version
// control systems. Implementations are pure API clients: they make outbound
// calls with a caller-supplied credential and never touch local state.
//
// Clients are constructed per call from the decrypted credential. Nothing is
// shared across tenants.
package vcs

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/workplane/workplane/api/pkg/types"
)

const (
	// PerPage is the fixed page size for every list call.
	PerPage = 100
	// MaxPages caps pagination so a pathological repository cannot wedge a
	// backfill. Hitting the cap yields a partial result, which callers log.
	MaxPages = 100
)

// ReviewStateApproved is the normalized state of an approving review.
const ReviewStateApproved = "approved"

type Repository struct {
	ID            int64
	Name          string
	FullName      string
	URL           string
	DefaultBranch string
}

type ChangeRequest struct {
	// ProviderID is the provider-assigned stable id.
	ProviderID int64
	// Number is the PR number (GitHub) or MR IID (GitLab).
	Number       int
	Title        string
	URL          string
	SourceBranch string
	State        types.ChangeRequestState
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
}

type Review struct {
	State       string
	SubmittedAt time.Time
}

type Branch struct {
	Name string
	URL  string
}

type Client interface {
	// CurrentUser returns the username the credential authenticates as.
	CurrentUser(ctx context.Context) (string, error)

	GetRepository(ctx context.Context, id int64) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)

	// ListChangeRequests returns every change request in all states,
	// paginated internally.
	ListChangeRequests(ctx context.Context, fullName string) ([]*ChangeRequest, error)
	ListReviews(ctx context.Context, fullName string, number int) ([]*Review, error)
	ListBranches(ctx context.Context, fullName string) ([]*Branch, error)

	// RegisterWebhook ensures a hook for callbackURL exists and signs with
	// secret. An existing hook for the same callback is reconfigured, not
	// reused as-is - callers rotate the secret on every registration.
	RegisterWebhook(ctx context.Context, fullName, callbackURL, secret string) (int64, error)
	// RemoveWebhook is best-effort at the call sites: the webhook may
	// already be gone upstream.
	RemoveWebhook(ctx context.Context, fullName string, webhookID int64) error
}

// WithRetry wraps idempotent read calls with a bounded exponential backoff.
// Webhook registration and removal must not go through here - retrying a
// registration can create duplicate webhooks.
func WithRetry(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
