// Package sync owns the lifecycle of a project's repository link: OAuth and
// PAT credential storage, repository connection with webhook registration,
// historical backfills, webhook-driven incremental updates and the periodic
// reconciliation sweep.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/workplane/workplane/api/pkg/config"
	"github.com/workplane/workplane/api/pkg/crypto"
	"github.com/workplane/workplane/api/pkg/refs"
	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/system"
	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

var (
	// ErrInvalidSignature is returned when a webhook delivery fails
	// authentication. Handlers map it to 401.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when a webhook body cannot be decoded.
	// Handlers map it to 400.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrNotConnected is returned for operations that need an active
	// repository link on a project that has none.
	ErrNotConnected = errors.New("project has no connected repository")
	// ErrNoCredential is returned when a project has no stored VCS credential.
	ErrNoCredential = errors.New("project has no VCS credential")
)

// Engine drives synchronization between connected repositories and local
// tracked state.
type Engine struct {
	store           store.Store
	resolver        *refs.Resolver
	factory         vcs.Factory
	encryptionKey   []byte
	serverURL       string
	backfillTimeout time.Duration

	wg conc.WaitGroup
}

func NewEngine(cfg *config.ServerConfig, s store.Store, resolver *refs.Resolver, factory vcs.Factory, encryptionKey []byte) *Engine {
	return &Engine{
		store:           s,
		resolver:        resolver,
		factory:         factory,
		encryptionKey:   encryptionKey,
		serverURL:       cfg.WebServer.URL,
		backfillTimeout: cfg.Sync.BackfillTimeout,
	}
}

// Wait blocks until all in-flight background backfills finish. Called on
// shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SetCredential encrypts and stores a VCS credential on the project. The
// username is looked up from the provider so a bad token is rejected here
// rather than surfacing later during a backfill.
func (e *Engine) SetCredential(ctx context.Context, orgID, projectID string, provider types.VCSProvider, token string, kind types.VCSTokenKind) (*types.Project, error) {
	project, err := e.store.GetProject(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}

	client, err := e.factory.New(ctx, provider, token, kind)
	if err != nil {
		return nil, err
	}
	username, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential check failed: %w", err)
	}

	encrypted, err := crypto.EncryptAES256GCM([]byte(token), e.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	project.VCSProvider = provider
	project.VCSTokenKind = kind
	project.VCSAccessToken = encrypted
	project.VCSUsername = username

	return e.store.UpdateProject(ctx, project)
}

// ClientForProject builds a provider client from the project's stored
// credential.
func (e *Engine) ClientForProject(ctx context.Context, project *types.Project) (vcs.Client, error) {
	if !project.VCSProvider.Valid() || project.VCSAccessToken == "" {
		return nil, ErrNoCredential
	}

	token, err := crypto.DecryptAES256GCM(project.VCSAccessToken, e.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	return e.factory.New(ctx, project.VCSProvider, string(token), project.VCSTokenKind)
}

// ConnectRepository links a repository to the project: registers a webhook
// with a fresh secret, records the link and kicks off background backfills
// of change requests and branches. Connecting while already connected to a
// different repository replaces the link and discards the old repository's
// tracked state.
func (e *Engine) ConnectRepository(ctx context.Context, orgID, projectID string, repositoryID int64) (*types.Project, error) {
	project, err := e.store.GetProject(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}

	client, err := e.ClientForProject(ctx, project)
	if err != nil {
		return nil, err
	}

	if project.Connected() && project.VCSRepositoryID != repositoryID {
		if err := e.teardownLink(ctx, project, client); err != nil {
			return nil, err
		}
	}

	repo, err := client.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository: %w", err)
	}

	secret, err := system.GenerateWebhookSecret()
	if err != nil {
		return nil, err
	}

	webhookID, err := client.RegisterWebhook(ctx, repo.FullName, e.webhookCallbackURL(project), secret)
	if err != nil {
		return nil, fmt.Errorf("failed to register webhook: %w", err)
	}

	encryptedSecret, err := crypto.EncryptAES256GCM([]byte(secret), e.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	project.VCSRepositoryID = repo.ID
	project.VCSRepositoryFullName = repo.FullName
	project.VCSRepositoryURL = repo.URL
	project.VCSWebhookID = webhookID
	project.VCSWebhookSecret = encryptedSecret

	updated, err := e.store.UpdateProject(ctx, project)
	if err != nil {
		return nil, err
	}

	e.spawnBackfill(updated)

	return updated, nil
}

// DisconnectRepository removes the repository link. Webhook removal is
// best-effort: the repository or the hook may already be gone upstream, and
// a dangling hook is harmless because its deliveries no longer authenticate.
func (e *Engine) DisconnectRepository(ctx context.Context, orgID, projectID string) (*types.Project, error) {
	project, err := e.store.GetProject(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}
	if !project.Connected() {
		return nil, ErrNotConnected
	}

	client, err := e.ClientForProject(ctx, project)
	if err != nil {
		return nil, err
	}

	if err := e.teardownLink(ctx, project, client); err != nil {
		return nil, err
	}

	project.VCSProvider = ""
	project.VCSTokenKind = ""
	project.VCSAccessToken = ""
	project.VCSUsername = ""

	return e.store.UpdateProject(ctx, project)
}

func (e *Engine) teardownLink(ctx context.Context, project *types.Project, client vcs.Client) error {
	if project.VCSWebhookID != 0 {
		err := client.RemoveWebhook(ctx, project.VCSRepositoryFullName, project.VCSWebhookID)
		if err != nil {
			log.Warn().
				Err(err).
				Str("project_id", project.ID).
				Str("repo", project.VCSRepositoryFullName).
				Msg("failed to remove webhook, continuing with disconnect")
		}
	}

	if err := e.store.DeleteTrackedChangeRequestsForProject(ctx, project.ID); err != nil {
		return fmt.Errorf("failed to delete tracked change requests: %w", err)
	}
	if err := e.store.DeleteTrackedBranchesForProject(ctx, project.ID); err != nil {
		return fmt.Errorf("failed to delete tracked branches: %w", err)
	}

	project.VCSRepositoryID = 0
	project.VCSRepositoryFullName = ""
	project.VCSRepositoryURL = ""
	project.VCSWebhookID = 0
	project.VCSWebhookSecret = ""

	return nil
}

func (e *Engine) webhookCallbackURL(project *types.Project) string {
	return fmt.Sprintf("%s/api/v1/webhooks/%s/%s/%s",
		e.serverURL, project.VCSProvider, project.OrganizationID, project.ID)
}

// spawnBackfill runs both backfills in the background so connecting returns
// quickly. The backfill gets its own context - the HTTP request that
// triggered it will be long gone.
func (e *Engine) spawnBackfill(project *types.Project) {
	e.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.backfillTimeout)
		defer cancel()

		if err := e.BackfillChangeRequests(ctx, project); err != nil {
			log.Error().
				Err(err).
				Str("project_id", project.ID).
				Str("repo", project.VCSRepositoryFullName).
				Msg("change request backfill failed")
		}
		if err := e.BackfillBranches(ctx, project); err != nil {
			log.Error().
				Err(err).
				Str("project_id", project.ID).
				Str("repo", project.VCSRepositoryFullName).
				Msg("branch backfill failed")
		}
	})
}

// BackfillChangeRequests imports every change request of the linked
// repository, including review timing markers. Idempotent: identity is
// (project, provider id), so re-running updates in place.
func (e *Engine) BackfillChangeRequests(ctx context.Context, project *types.Project) error {
	if !project.Connected() {
		return ErrNotConnected
	}

	client, err := e.ClientForProject(ctx, project)
	if err != nil {
		return err
	}

	requests, err := client.ListChangeRequests(ctx, project.VCSRepositoryFullName)
	if err != nil {
		return err
	}

	log.Info().
		Str("project_id", project.ID).
		Str("repo", project.VCSRepositoryFullName).
		Int("count", len(requests)).
		Msg("backfilling change requests")

	for _, cr := range requests {
		// a failed review listing aborts the run rather than importing the
		// request without its markers; the next run starts clean
		reviews, err := client.ListReviews(ctx, project.VCSRepositoryFullName, cr.Number)
		if err != nil {
			return fmt.Errorf("failed to list reviews for #%d: %w", cr.Number, err)
		}

		firstReviewedAt, approvedAt := reviewMarkers(reviews)
		if err := e.upsertChangeRequest(ctx, project, cr, firstReviewedAt, approvedAt); err != nil {
			return err
		}
	}

	return nil
}

// BackfillBranches imports repository branches whose names reference an
// existing work item. Branches without a resolvable reference are skipped,
// and branches already tracked as open are left untouched.
func (e *Engine) BackfillBranches(ctx context.Context, project *types.Project) error {
	if !project.Connected() {
		return ErrNotConnected
	}

	client, err := e.ClientForProject(ctx, project)
	if err != nil {
		return err
	}

	branches, err := client.ListBranches(ctx, project.VCSRepositoryFullName)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		if err := e.trackBranch(ctx, project, branch.Name, branch.URL); err != nil {
			return err
		}
	}

	return nil
}

// Resync re-runs both backfills for every connected project. Used by the
// periodic reconciliation sweep to repair state after missed webhook
// deliveries.
func (e *Engine) Resync(ctx context.Context) error {
	projects, err := e.store.ListConnectedProjects(ctx)
	if err != nil {
		return err
	}

	log.Info().Int("projects", len(projects)).Msg("resyncing connected projects")

	for _, project := range projects {
		if err := e.BackfillChangeRequests(ctx, project); err != nil {
			log.Error().
				Err(err).
				Str("project_id", project.ID).
				Msg("resync: change request backfill failed")
		}
		if err := e.BackfillBranches(ctx, project); err != nil {
			log.Error().
				Err(err).
				Str("project_id", project.ID).
				Msg("resync: branch backfill failed")
		}
	}

	return nil
}

// reviewMarkers extracts the first-review and first-approval times from a
// review list.
func reviewMarkers(reviews []*vcs.Review) (firstReviewedAt, approvedAt *time.Time) {
	for _, review := range reviews {
		if firstReviewedAt == nil || review.SubmittedAt.Before(*firstReviewedAt) {
			t := review.SubmittedAt
			firstReviewedAt = &t
		}
		if review.State == vcs.ReviewStateApproved {
			if approvedAt == nil || review.SubmittedAt.Before(*approvedAt) {
				t := review.SubmittedAt
				approvedAt = &t
			}
		}
	}
	return firstReviewedAt, approvedAt
}
