package vcs

import (
	"context"
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v61/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/workplane/workplane/api/pkg/types"
)

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	client *gogithub.Client
}

// NewGitHubClient creates a GitHub client from an access token. OAuth
// tokens and personal access tokens use the same authentication mechanism.
func NewGitHubClient(token string) *GitHubClient {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	return &GitHubClient{
		client: gogithub.NewClient(tc),
	}
}

func (c *GitHubClient) CurrentUser(ctx context.Context) (string, error) {
	var user *gogithub.User
	err := WithRetry(ctx, func() error {
		var err error
		user, _, err = c.client.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

func (c *GitHubClient) GetRepository(ctx context.Context, id int64) (*Repository, error) {
	var repo *gogithub.Repository
	err := WithRetry(ctx, func() error {
		var err error
		repo, _, err = c.client.Repositories.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %d: %w", id, err)
	}
	return toGitHubRepository(repo), nil
}

func (c *GitHubClient) ListRepositories(ctx context.Context) ([]*Repository, error) {
	var all []*Repository
	opt := &gogithub.RepositoryListOptions{
		ListOptions: gogithub.ListOptions{PerPage: PerPage},
		Sort:        "updated",
	}

	for page := 0; page < MaxPages; page++ {
		var repos []*gogithub.Repository
		var resp *gogithub.Response
		err := WithRetry(ctx, func() error {
			var err error
			repos, resp, err = c.client.Repositories.List(ctx, "", opt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, repo := range repos {
			all = append(all, toGitHubRepository(repo))
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	log.Warn().Int("max_pages", MaxPages).Msg("repository listing hit the pagination cap, result is partial")
	return all, nil
}

func (c *GitHubClient) ListChangeRequests(ctx context.Context, fullName string) ([]*ChangeRequest, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var all []*ChangeRequest
	opt := &gogithub.PullRequestListOptions{
		State:       "all",
		ListOptions: gogithub.ListOptions{PerPage: PerPage},
	}

	for page := 0; page < MaxPages; page++ {
		var prs []*gogithub.PullRequest
		var resp *gogithub.Response
		err := WithRetry(ctx, func() error {
			var err error
			prs, resp, err = c.client.PullRequests.List(ctx, owner, name, opt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}
		for _, pr := range prs {
			all = append(all, toGitHubChangeRequest(pr))
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	log.Warn().Str("repo", fullName).Int("max_pages", MaxPages).Msg("pull request listing hit the pagination cap, result is partial")
	return all, nil
}

func (c *GitHubClient) ListReviews(ctx context.Context, fullName string, number int) ([]*Review, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var all []*Review
	opt := &gogithub.ListOptions{PerPage: PerPage}

	for page := 0; page < MaxPages; page++ {
		var reviews []*gogithub.PullRequestReview
		var resp *gogithub.Response
		err := WithRetry(ctx, func() error {
			var err error
			reviews, resp, err = c.client.PullRequests.ListReviews(ctx, owner, name, number, opt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews for #%d: %w", number, err)
		}
		for _, review := range reviews {
			if review.SubmittedAt == nil {
				continue // pending reviews have no submission time
			}
			all = append(all, &Review{
				State:       strings.ToLower(review.GetState()),
				SubmittedAt: review.SubmittedAt.Time,
			})
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.Page = resp.NextPage
	}

	return all, nil
}

func (c *GitHubClient) ListBranches(ctx context.Context, fullName string) ([]*Branch, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var all []*Branch
	opt := &gogithub.BranchListOptions{
		ListOptions: gogithub.ListOptions{PerPage: PerPage},
	}

	for page := 0; page < MaxPages; page++ {
		var branches []*gogithub.Branch
		var resp *gogithub.Response
		err := WithRetry(ctx, func() error {
			var err error
			branches, resp, err = c.client.Repositories.ListBranches(ctx, owner, name, opt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list branches: %w", err)
		}
		for _, branch := range branches {
			all = append(all, &Branch{
				Name: branch.GetName(),
				URL:  fmt.Sprintf("https://github.com/%s/tree/%s", fullName, branch.GetName()),
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

func (c *GitHubClient) RegisterWebhook(ctx context.Context, fullName, callbackURL, secret string) (int64, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return 0, err
	}

	contentType := "json"
	config := &gogithub.HookConfig{
		URL:         &callbackURL,
		ContentType: &contentType,
		Secret:      &secret,
	}

	// A hook for this callback may already exist from an earlier connect
	// that failed midway, or from a reconnect. Reuse it, but push the
	// caller's secret into it - the old one is gone, and a hook still
	// signing with it would fail verification on every delivery.
	hooks, _, err := c.client.Repositories.ListHooks(ctx, owner, name, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list hooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.Config != nil && hook.Config.URL != nil && *hook.Config.URL == callbackURL {
			updated, _, err := c.client.Repositories.EditHook(ctx, owner, name, hook.GetID(), &gogithub.Hook{
				Active: gogithub.Bool(true),
				Events: []string{"pull_request", "create", "delete"},
				Config: config,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to update hook %d: %w", hook.GetID(), err)
			}
			return updated.GetID(), nil
		}
	}

	hook, _, err := c.client.Repositories.CreateHook(ctx, owner, name, &gogithub.Hook{
		Active: gogithub.Bool(true),
		Events: []string{"pull_request", "create", "delete"},
		Config: config,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create hook: %w", err)
	}

	return hook.GetID(), nil
}

func (c *GitHubClient) RemoveWebhook(ctx context.Context, fullName string, webhookID int64) error {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	_, err = c.client.Repositories.DeleteHook(ctx, owner, name, webhookID)
	if err != nil {
		return fmt.Errorf("failed to delete hook %d: %w", webhookID, err)
	}
	return nil
}

func toGitHubRepository(repo *gogithub.Repository) *Repository {
	return &Repository{
		ID:            repo.GetID(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		URL:           repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
	}
}

func toGitHubChangeRequest(pr *gogithub.PullRequest) *ChangeRequest {
	cr := &ChangeRequest{
		ProviderID:   pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		URL:          pr.GetHTMLURL(),
		SourceBranch: pr.GetHead().GetRef(),
		State:        types.ChangeRequestStateOpen,
	}

	if pr.CreatedAt != nil {
		cr.CreatedAt = pr.CreatedAt.Time
	}
	if pr.UpdatedAt != nil {
		cr.UpdatedAt = pr.UpdatedAt.Time
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		cr.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		cr.ClosedAt = &t
	}

	if pr.GetState() == "closed" {
		if cr.MergedAt != nil {
			cr.State = types.ChangeRequestStateMerged
		} else {
			cr.State = types.ChangeRequestStateClosed
		}
	}

	return cr
}

func splitFullName(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository full name: %q", fullName)
	}
	return parts[0], parts[1], nil
}
