package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/crypto"
	"github.com/workplane/workplane/api/pkg/types"
)

// HandleWebhook authenticates and applies one webhook delivery addressed to
// (org, project). The provider comes from the callback URL registered at
// connect time and must match the project's current link - a delivery from
// a stale hook after a provider switch fails verification anyway, since the
// secret was rotated.
func (e *Engine) HandleWebhook(ctx context.Context, orgID, projectID string, provider types.VCSProvider, headers http.Header, body []byte) error {
	project, err := e.store.GetProject(ctx, orgID, projectID)
	if err != nil {
		return err
	}

	// A delivery for a project whose link is gone or switched providers is
	// a stale hook firing after a disconnect. Acknowledge and drop it -
	// failing it would only make the provider redeliver.
	if !project.Connected() || project.VCSProvider != provider {
		log.Debug().
			Str("project_id", projectID).
			Str("provider", string(provider)).
			Msg("dropping webhook for project without a matching repository link")
		return nil
	}

	secret, err := crypto.DecryptAES256GCM(project.VCSWebhookSecret, e.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}

	switch provider {
	case types.VCSProviderGitHub:
		return e.handleGitHubWebhook(ctx, project, headers, body, secret)
	case types.VCSProviderGitLab:
		return e.handleGitLabWebhook(ctx, project, headers, body, secret)
	default:
		return fmt.Errorf("unsupported VCS provider: %s", provider)
	}
}
