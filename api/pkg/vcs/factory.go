package vcs

import (
	"context"
	"fmt"

	"github.com/workplane/workplane/api/pkg/config"
	"github.com/workplane/workplane/api/pkg/types"
)

var (
	_ Client = (*GitHubClient)(nil)
	_ Client = (*GitLabClient)(nil)
)

// Factory builds a provider client for a single call from a decrypted
// credential.
type Factory interface {
	New(ctx context.Context, provider types.VCSProvider, token string, kind types.VCSTokenKind) (Client, error)
}

type factory struct {
	gitlabBaseURL string
}

func NewFactory(cfg *config.ServerConfig) Factory {
	return &factory{
		gitlabBaseURL: cfg.GitLab.BaseURL,
	}
}

func (f *factory) New(_ context.Context, provider types.VCSProvider, token string, kind types.VCSTokenKind) (Client, error) {
	switch provider {
	case types.VCSProviderGitHub:
		// GitHub authenticates OAuth tokens and PATs identically.
		return NewGitHubClient(token), nil
	case types.VCSProviderGitLab:
		if kind == types.VCSTokenKindOAuth {
			return NewGitLabClientWithOAuth(f.gitlabBaseURL, token)
		}
		return NewGitLabClientWithPAT(f.gitlabBaseURL, token)
	default:
		return nil, fmt.Errorf("unsupported VCS provider: %s", provider)
	}
}
