package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	gogitlab "github.com/xanzy/go-gitlab"

	"github.com/workplane/workplane/api/pkg/types"
)

// gitlabApprovalNote is the body of the system note GitLab records when a
// reviewer approves a merge request.
const gitlabApprovalNote = "approved this merge request"

// GitLabClient implements Client against the GitLab REST API. It works for
// gitlab.com and self-hosted instances alike.
type GitLabClient struct {
	client *gogitlab.Client
}

// NewGitLabClientWithPAT creates a GitLab client authenticated with a
// personal access token. An empty baseURL means gitlab.com.
func NewGitLabClientWithPAT(baseURL, token string) (*GitLabClient, error) {
	var opts []gogitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(baseURL))
	}
	client, err := gogitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &GitLabClient{client: client}, nil
}

// NewGitLabClientWithOAuth creates a GitLab client authenticated with an
// OAuth access token. GitLab sends OAuth tokens and PATs in different
// headers, so the two cannot share a constructor.
func NewGitLabClientWithOAuth(baseURL, token string) (*GitLabClient, error) {
	var opts []gogitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(baseURL))
	}
	client, err := gogitlab.NewOAuthClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &GitLabClient{client: client}, nil
}

func (c *GitLabClient) CurrentUser(ctx context.Context) (string, error) {
	var user *gogitlab.User
	err := WithRetry(ctx, func() error {
		var err error
		user, _, err = c.client.Users.CurrentUser(gogitlab.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get authenticated user: %w", err)
	}
	return user.Username, nil
}

func (c *GitLabClient) GetRepository(ctx context.Context, id int64) (*Repository, error) {
	var project *gogitlab.Project
	err := WithRetry(ctx, func() error {
		var err error
		project, _, err = c.client.Projects.GetProject(int(id), nil, gogitlab.WithContext(ctx))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return toGitLabRepository(project), nil
}

func (c *GitLabClient) ListRepositories(ctx context.Context) ([]*Repository, error) {
	var all []*Repository
	opt := &gogitlab.ListProjectsOptions{
		ListOptions: gogitlab.ListOptions{PerPage: PerPage},
		Membership:  gogitlab.Ptr(true),
		OrderBy:     gogitlab.Ptr("last_activity_at"),
	}

	for page := 0; page < MaxPages; page++ {
		var projects []*gogitlab.Project
		var resp *gogitlab.Response
		err := WithRetry(ctx, func() error {
			var err error
			projects, resp, err = c.client.Projects.ListProjects(opt, gogitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		for _, project := range projects {
			all = append(all, toGitLabRepository(project))
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	log.Warn().Int("max_pages", MaxPages).Msg("project listing hit the pagination cap, result is partial")
	return all, nil
}

func (c *GitLabClient) ListChangeRequests(ctx context.Context, fullName string) ([]*ChangeRequest, error) {
	var all []*ChangeRequest
	opt := &gogitlab.ListProjectMergeRequestsOptions{
		ListOptions: gogitlab.ListOptions{PerPage: PerPage},
		State:       gogitlab.Ptr("all"),
	}

	for page := 0; page < MaxPages; page++ {
		var mrs []*gogitlab.MergeRequest
		var resp *gogitlab.Response
		err := WithRetry(ctx, func() error {
			var err error
			mrs, resp, err = c.client.MergeRequests.ListProjectMergeRequests(fullName, opt, gogitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list merge requests: %w", err)
		}
		for _, mr := range mrs {
			all = append(all, toGitLabChangeRequest(mr))
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	log.Warn().Str("repo", fullName).Int("max_pages", MaxPages).Msg("merge request listing hit the pagination cap, result is partial")
	return all, nil
}

// ListReviews reconstructs review activity from merge request notes. GitLab
// has no first-class review object: an approval is a system note with a
// fixed body, and any non-system note counts as review feedback.
func (c *GitLabClient) ListReviews(ctx context.Context, fullName string, number int) ([]*Review, error) {
	var all []*Review
	opt := &gogitlab.ListMergeRequestNotesOptions{
		ListOptions: gogitlab.ListOptions{PerPage: PerPage},
		OrderBy:     gogitlab.Ptr("created_at"),
		Sort:        gogitlab.Ptr("asc"),
	}

	for page := 0; page < MaxPages; page++ {
		var notes []*gogitlab.Note
		var resp *gogitlab.Response
		err := WithRetry(ctx, func() error {
			var err error
			notes, resp, err = c.client.Notes.ListMergeRequestNotes(fullName, number, opt, gogitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for !%d: %w", number, err)
		}
		for _, note := range notes {
			review := toGitLabReview(note)
			if review != nil {
				all = append(all, review)
			}
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	return all, nil
}

func (c *GitLabClient) ListBranches(ctx context.Context, fullName string) ([]*Branch, error) {
	var all []*Branch
	opt := &gogitlab.ListBranchesOptions{
		ListOptions: gogitlab.ListOptions{PerPage: PerPage},
	}

	for page := 0; page < MaxPages; page++ {
		var branches []*gogitlab.Branch
		var resp *gogitlab.Response
		err := WithRetry(ctx, func() error {
			var err error
			branches, resp, err = c.client.Branches.ListBranches(fullName, opt, gogitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list branches: %w", err)
		}
		for _, branch := range branches {
			all = append(all, &Branch{
				Name: branch.Name,
				URL:  branch.WebURL,
			})
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	log.Warn().Str("repo", fullName).Int("max_pages", MaxPages).Msg("branch listing hit the pagination cap, result is partial")
	return all, nil
}

func (c *GitLabClient) RegisterWebhook(ctx context.Context, fullName, callbackURL, secret string) (int64, error) {
	// Reuse a hook left behind by an earlier connect or a reconnect, but
	// push the caller's secret into it so deliveries keep verifying.
	hooks, _, err := c.client.Projects.ListProjectHooks(fullName, nil, gogitlab.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to list project hooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.URL == callbackURL {
			_, _, err := c.client.Projects.EditProjectHook(fullName, hook.ID, &gogitlab.EditProjectHookOptions{
				URL:                 gogitlab.Ptr(callbackURL),
				Token:               gogitlab.Ptr(secret),
				MergeRequestsEvents: gogitlab.Ptr(true),
				PushEvents:          gogitlab.Ptr(true),
			}, gogitlab.WithContext(ctx))
			if err != nil {
				return 0, fmt.Errorf("failed to update project hook %d: %w", hook.ID, err)
			}
			return int64(hook.ID), nil
		}
	}

	hook, _, err := c.client.Projects.AddProjectHook(fullName, &gogitlab.AddProjectHookOptions{
		URL:                 gogitlab.Ptr(callbackURL),
		Token:               gogitlab.Ptr(secret),
		MergeRequestsEvents: gogitlab.Ptr(true),
		PushEvents:          gogitlab.Ptr(true),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to add project hook: %w", err)
	}

	return int64(hook.ID), nil
}

func (c *GitLabClient) RemoveWebhook(ctx context.Context, fullName string, webhookID int64) error {
	_, err := c.client.Projects.DeleteProjectHook(fullName, int(webhookID), gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete project hook %d: %w", webhookID, err)
	}
	return nil
}

func toGitLabRepository(project *gogitlab.Project) *Repository {
	return &Repository{
		ID:            int64(project.ID),
		Name:          project.Path,
		FullName:      project.PathWithNamespace,
		URL:           project.WebURL,
		DefaultBranch: project.DefaultBranch,
	}
}

func toGitLabChangeRequest(mr *gogitlab.MergeRequest) *ChangeRequest {
	cr := &ChangeRequest{
		ProviderID:   int64(mr.ID),
		Number:       mr.IID,
		Title:        mr.Title,
		URL:          mr.WebURL,
		SourceBranch: mr.SourceBranch,
		MergedAt:     mr.MergedAt,
		ClosedAt:     mr.ClosedAt,
	}

	if mr.CreatedAt != nil {
		cr.CreatedAt = *mr.CreatedAt
	}
	if mr.UpdatedAt != nil {
		cr.UpdatedAt = *mr.UpdatedAt
	}

	switch mr.State {
	case "opened", "locked":
		cr.State = types.ChangeRequestStateOpen
	case "merged":
		cr.State = types.ChangeRequestStateMerged
	default:
		cr.State = types.ChangeRequestStateClosed
	}

	return cr
}

func toGitLabReview(note *gogitlab.Note) *Review {
	if note.CreatedAt == nil {
		return nil
	}
	if note.System {
		if strings.HasPrefix(note.Body, gitlabApprovalNote) {
			return &Review{State: ReviewStateApproved, SubmittedAt: *note.CreatedAt}
		}
		return nil
	}
	return &Review{State: "commented", SubmittedAt: *note.CreatedAt}
}
