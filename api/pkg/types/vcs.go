package types

import (
	"time"
)

// VCSProvider identifies an external version control system.
type VCSProvider string

const (
	VCSProviderGitHub VCSProvider = "github"
	VCSProviderGitLab VCSProvider = "gitlab"
)

func (p VCSProvider) Valid() bool {
	return p == VCSProviderGitHub || p == VCSProviderGitLab
}

// VCSTokenKind records how a credential was obtained. GitLab authenticates
// OAuth tokens and personal access tokens differently, so the distinction
// has to survive storage.
type VCSTokenKind string

const (
	VCSTokenKindOAuth VCSTokenKind = "oauth"
	VCSTokenKindPAT   VCSTokenKind = "pat"
)

// Project is the connector's view of a Workplane project. The wider product
// owns many more fields; this service only reads the tenant scope and owns
// the VCS credential and linked-repository columns.
//
// VCSAccessToken and VCSWebhookSecret are stored encrypted and are never
// serialized into API responses.
type Project struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Credential fields
	VCSProvider    VCSProvider  `gorm:"index" json:"vcs_provider"`
	VCSTokenKind   VCSTokenKind `json:"-"`
	VCSAccessToken string       `gorm:"type:text" json:"-"`
	VCSUsername    string       `json:"vcs_username"`

	// Linked repository fields
	VCSRepositoryID       int64  `gorm:"index" json:"vcs_repository_id"`
	VCSRepositoryFullName string `json:"vcs_repository_full_name"`
	VCSRepositoryURL      string `json:"vcs_repository_url"`
	VCSWebhookID          int64  `json:"-"`
	VCSWebhookSecret      string `gorm:"type:text" json:"-"`
}

func (Project) TableName() string {
	return "projects"
}

// Connected reports whether the project has an active repository link.
func (p *Project) Connected() bool {
	return p.VCSProvider.Valid() && p.VCSRepositoryID != 0
}

// WorkItem is the connector's view of a tracked work item. Referenced from
// VCS activity via its human-readable code (e.g. WI-42, always upper case).
type WorkItem struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	ProjectID      string    `gorm:"index" json:"project_id"`
	Reference      string    `gorm:"index" json:"reference"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (WorkItem) TableName() string {
	return "work_items"
}

type BranchState string

const (
	BranchStateOpen   BranchState = "open"
	BranchStateClosed BranchState = "closed"
)

// TrackedBranch is an external branch linked to a work item. Branches are
// soft-closed on deletion so that metrics keep their lineage.
type TrackedBranch struct {
	ID             string      `gorm:"primaryKey" json:"id"`
	OrganizationID string      `gorm:"index" json:"organization_id"`
	ProjectID      string      `gorm:"index:idx_tracked_branches_project_name" json:"project_id"`
	Name           string      `gorm:"index:idx_tracked_branches_project_name" json:"name"`
	URL            string      `json:"url"`
	State          BranchState `gorm:"index" json:"state"`
	WorkItemID     string      `gorm:"index" json:"work_item_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	// DeletedAt is set when the branch is deleted upstream. The row itself
	// is kept.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (TrackedBranch) TableName() string {
	return "tracked_branches"
}

type ChangeRequestState string

const (
	ChangeRequestStateOpen   ChangeRequestState = "open"
	ChangeRequestStateClosed ChangeRequestState = "closed"
	ChangeRequestStateMerged ChangeRequestState = "merged"
)

// TrackedChangeRequest is a pull request (GitHub) or merge request (GitLab)
// reconciled into local storage. Identity is (project, provider id).
type TrackedChangeRequest struct {
	ID             string `gorm:"primaryKey" json:"id"`
	OrganizationID string `gorm:"index" json:"organization_id"`
	ProjectID      string `gorm:"uniqueIndex:idx_tracked_change_requests_project_provider" json:"project_id"`
	// ProviderID is the provider-assigned id of the change request, stable
	// across title edits and state changes.
	ProviderID int64 `gorm:"uniqueIndex:idx_tracked_change_requests_project_provider" json:"provider_id"`
	// Number is the human-facing PR number / MR IID, needed for follow-up
	// API calls such as listing reviews.
	Number       int                `json:"number"`
	Title        string             `json:"title"`
	URL          string             `json:"url"`
	SourceBranch string             `json:"source_branch"`
	State        ChangeRequestState `gorm:"index" json:"state"`
	WorkItemID   string             `gorm:"index" json:"work_item_id"`

	// CreatedAt/UpdatedAt mirror the upstream timestamps, not row times.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FirstReviewedAt *time.Time `json:"first_reviewed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	MergedAt        *time.Time `json:"merged_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func (TrackedChangeRequest) TableName() string {
	return "tracked_change_requests"
}

// EndedAt returns the terminal timestamp of the request, or nil while it is
// still in flight.
func (r *TrackedChangeRequest) EndedAt() *time.Time {
	if r.MergedAt != nil {
		return r.MergedAt
	}
	return r.ClosedAt
}
