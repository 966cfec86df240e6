package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplane/workplane/api/pkg/config"
	"github.com/workplane/workplane/api/pkg/crypto"
	"github.com/workplane/workplane/api/pkg/refs"
	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/system"
	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

// fakeStore is an in-memory store.Store for engine tests.
type fakeStore struct {
	projects       map[string]*types.Project
	workItems      []*types.WorkItem
	branches       map[string]*types.TrackedBranch
	changeRequests map[string]*types.TrackedChangeRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:       map[string]*types.Project{},
		branches:       map[string]*types.TrackedBranch{},
		changeRequests: map[string]*types.TrackedChangeRequest{},
	}
}

func (s *fakeStore) CreateProject(_ context.Context, p *types.Project) (*types.Project, error) {
	cp := *p
	s.projects[p.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) GetProject(_ context.Context, orgID, projectID string) (*types.Project, error) {
	p, ok := s.projects[projectID]
	if !ok || p.OrganizationID != orgID {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateProject(_ context.Context, p *types.Project) (*types.Project, error) {
	cp := *p
	s.projects[p.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) ListConnectedProjects(_ context.Context) ([]*types.Project, error) {
	var out []*types.Project
	for _, p := range s.projects {
		if p.Connected() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateWorkItem(_ context.Context, item *types.WorkItem) (*types.WorkItem, error) {
	cp := *item
	s.workItems = append(s.workItems, &cp)
	return &cp, nil
}

func (s *fakeStore) GetWorkItemByReference(_ context.Context, orgID, projectID, reference string) (*types.WorkItem, error) {
	for _, item := range s.workItems {
		if item.OrganizationID == orgID && item.ProjectID == projectID && item.Reference == reference {
			cp := *item
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) CreateTrackedBranch(_ context.Context, b *types.TrackedBranch) (*types.TrackedBranch, error) {
	cp := *b
	s.branches[b.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) GetOpenTrackedBranch(_ context.Context, projectID, name string) (*types.TrackedBranch, error) {
	for _, b := range s.branches {
		if b.ProjectID == projectID && b.Name == name && b.State == types.BranchStateOpen {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) UpdateTrackedBranch(_ context.Context, b *types.TrackedBranch) (*types.TrackedBranch, error) {
	cp := *b
	s.branches[b.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) ListTrackedBranches(_ context.Context, orgID, projectID string) ([]*types.TrackedBranch, error) {
	var out []*types.TrackedBranch
	for _, b := range s.branches {
		if b.OrganizationID == orgID && b.ProjectID == projectID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteTrackedBranchesForProject(_ context.Context, projectID string) error {
	for id, b := range s.branches {
		if b.ProjectID == projectID {
			delete(s.branches, id)
		}
	}
	return nil
}

func (s *fakeStore) UpsertTrackedChangeRequest(_ context.Context, r *types.TrackedChangeRequest) (*types.TrackedChangeRequest, error) {
	key := fmt.Sprintf("%s/%d", r.ProjectID, r.ProviderID)
	if existing, ok := s.changeRequests[key]; ok {
		r.ID = existing.ID
	}
	cp := *r
	s.changeRequests[key] = &cp
	return &cp, nil
}

func (s *fakeStore) GetTrackedChangeRequest(_ context.Context, projectID string, providerID int64) (*types.TrackedChangeRequest, error) {
	r, ok := s.changeRequests[fmt.Sprintf("%s/%d", projectID, providerID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListTrackedChangeRequests(_ context.Context, q *store.ListTrackedChangeRequestsQuery) ([]*types.TrackedChangeRequest, error) {
	var out []*types.TrackedChangeRequest
	for _, r := range s.changeRequests {
		if r.OrganizationID != q.OrganizationID || r.ProjectID != q.ProjectID {
			continue
		}
		if !q.CreatedSince.IsZero() && r.CreatedAt.Before(q.CreatedSince) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) DeleteTrackedChangeRequestsForProject(_ context.Context, projectID string) error {
	for key, r := range s.changeRequests {
		if r.ProjectID == projectID {
			delete(s.changeRequests, key)
		}
	}
	return nil
}

var _ store.Store = (*fakeStore)(nil)

// fakeClient is a canned vcs.Client.
type fakeClient struct {
	repo           *vcs.Repository
	changeRequests []*vcs.ChangeRequest
	reviews        map[int][]*vcs.Review
	reviewsErr     error
	branches       []*vcs.Branch

	registeredHooks int
	// hookSecret is what the provider would sign deliveries with after the
	// most recent registration.
	hookSecret   string
	removedHooks []int64
}

func (c *fakeClient) CurrentUser(_ context.Context) (string, error) { return "octocat", nil }

func (c *fakeClient) GetRepository(_ context.Context, id int64) (*vcs.Repository, error) {
	if c.repo == nil || c.repo.ID != id {
		return nil, fmt.Errorf("repository %d not found", id)
	}
	return c.repo, nil
}

func (c *fakeClient) ListRepositories(_ context.Context) ([]*vcs.Repository, error) {
	return []*vcs.Repository{c.repo}, nil
}

func (c *fakeClient) ListChangeRequests(_ context.Context, _ string) ([]*vcs.ChangeRequest, error) {
	return c.changeRequests, nil
}

func (c *fakeClient) ListReviews(_ context.Context, _ string, number int) ([]*vcs.Review, error) {
	if c.reviewsErr != nil {
		return nil, c.reviewsErr
	}
	return c.reviews[number], nil
}

func (c *fakeClient) ListBranches(_ context.Context, _ string) ([]*vcs.Branch, error) {
	return c.branches, nil
}

func (c *fakeClient) RegisterWebhook(_ context.Context, _, _, secret string) (int64, error) {
	c.registeredHooks++
	c.hookSecret = secret
	return 9001, nil
}

func (c *fakeClient) RemoveWebhook(_ context.Context, _ string, webhookID int64) error {
	c.removedHooks = append(c.removedHooks, webhookID)
	return nil
}

type fakeFactory struct {
	client *fakeClient
}

func (f *fakeFactory) New(_ context.Context, _ types.VCSProvider, _ string, _ types.VCSTokenKind) (vcs.Client, error) {
	return f.client, nil
}

type engineFixture struct {
	engine *Engine
	store  *fakeStore
	client *fakeClient
	key    []byte
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	fs := newFakeStore()
	client := &fakeClient{
		repo:    &vcs.Repository{ID: 555, Name: "widgets", FullName: "acme/widgets", URL: "https://github.com/acme/widgets", DefaultBranch: "main"},
		reviews: map[int][]*vcs.Review{},
	}
	key := crypto.DeriveKey("test-vault-secret")

	cfg := &config.ServerConfig{}
	cfg.WebServer.URL = "http://workplane.test"
	cfg.Sync.BackfillTimeout = time.Minute

	engine := NewEngine(cfg, fs, refs.NewResolver(fs), &fakeFactory{client: client}, key)

	return &engineFixture{engine: engine, store: fs, client: client, key: key}
}

// seedProject stores a project that already holds an encrypted credential
// and, when repoID is non-zero, an active repository link.
func (f *engineFixture) seedProject(t *testing.T, provider types.VCSProvider, repoID int64) *types.Project {
	t.Helper()

	token, err := crypto.EncryptAES256GCM([]byte("access-token"), f.key)
	require.NoError(t, err)
	secret, err := crypto.EncryptAES256GCM([]byte("hook-secret"), f.key)
	require.NoError(t, err)

	project := &types.Project{
		ID:             system.GenerateProjectID(),
		OrganizationID: system.GenerateOrganizationID(),
		Name:           "Widgets",
		VCSProvider:    provider,
		VCSTokenKind:   types.VCSTokenKindPAT,
		VCSAccessToken: token,
		VCSUsername:    "octocat",
	}
	if repoID != 0 {
		project.VCSRepositoryID = repoID
		project.VCSRepositoryFullName = "acme/widgets"
		project.VCSRepositoryURL = "https://github.com/acme/widgets"
		project.VCSWebhookID = 9001
		project.VCSWebhookSecret = secret
	}

	created, err := f.store.CreateProject(context.Background(), project)
	require.NoError(t, err)
	return created
}

func (f *engineFixture) seedWorkItem(t *testing.T, project *types.Project, reference string) *types.WorkItem {
	t.Helper()
	item, err := f.store.CreateWorkItem(context.Background(), &types.WorkItem{
		ID:             system.GenerateWorkItemID(),
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		Reference:      reference,
		Title:          "Some work item",
	})
	require.NoError(t, err)
	return item
}

func githubSignature(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestConnectRepository(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 0)

	updated, err := f.engine.ConnectRepository(context.Background(), project.OrganizationID, project.ID, 555)
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, int64(555), updated.VCSRepositoryID)
	assert.Equal(t, "acme/widgets", updated.VCSRepositoryFullName)
	assert.Equal(t, int64(9001), updated.VCSWebhookID)
	assert.Equal(t, 1, f.client.registeredHooks)

	// the webhook secret is stored encrypted, never in the clear
	assert.NotEmpty(t, updated.VCSWebhookSecret)
	plaintext, err := crypto.DecryptAES256GCM(updated.VCSWebhookSecret, f.key)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
}

func TestConnectRepository_ReplacesExistingLink(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 111)

	// tracked state from the previous repository
	_, err := f.store.UpsertTrackedChangeRequest(context.Background(), &types.TrackedChangeRequest{
		ID:             system.GenerateChangeRequestID(),
		OrganizationID: project.OrganizationID,
		ProjectID:      project.ID,
		ProviderID:     1,
		Number:         1,
		State:          types.ChangeRequestStateOpen,
	})
	require.NoError(t, err)

	updated, err := f.engine.ConnectRepository(context.Background(), project.OrganizationID, project.ID, 555)
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, int64(555), updated.VCSRepositoryID)
	assert.Equal(t, []int64{9001}, f.client.removedHooks)

	// the old repository's tracked state is gone
	_, err = f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConnectRepository_SameRepoRotatesWebhookSecret(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	// reconnecting to the already-linked repository skips the teardown but
	// must still hand the provider the freshly generated secret
	updated, err := f.engine.ConnectRepository(context.Background(), project.OrganizationID, project.ID, 555)
	require.NoError(t, err)
	f.engine.Wait()

	assert.Empty(t, f.client.removedHooks)
	require.Equal(t, 1, f.client.registeredHooks)

	stored, err := crypto.DecryptAES256GCM(updated.VCSWebhookSecret, f.key)
	require.NoError(t, err)
	assert.Equal(t, f.client.hookSecret, string(stored))

	// a delivery signed with the secret the provider now holds verifies
	body := []byte(`{"ref":"feature/x","ref_type":"branch","repository":{"id":555}}`)
	headers := http.Header{}
	headers.Set("X-GitHub-Event", "create")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte(f.client.hookSecret)))

	err = f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	require.NoError(t, err)

	// while one signed with the pre-reconnect secret no longer does
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))
	err = f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDisconnectRepository(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	updated, err := f.engine.DisconnectRepository(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)

	assert.False(t, updated.Connected())
	assert.Empty(t, updated.VCSAccessToken)
	assert.Empty(t, updated.VCSWebhookSecret)
	assert.Equal(t, []int64{9001}, f.client.removedHooks)
}

func TestBackfillChangeRequests_IsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)
	item := f.seedWorkItem(t, project, "WI-7")

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	reviewed := created.Add(4 * time.Hour)
	approved := created.Add(8 * time.Hour)
	merged := created.Add(24 * time.Hour)

	f.client.changeRequests = []*vcs.ChangeRequest{{
		ProviderID:   1001,
		Number:       12,
		Title:        "WI-7 add login flow",
		URL:          "https://github.com/acme/widgets/pull/12",
		SourceBranch: "feature/login",
		State:        types.ChangeRequestStateMerged,
		CreatedAt:    created,
		UpdatedAt:    merged,
		MergedAt:     &merged,
	}}
	f.client.reviews[12] = []*vcs.Review{
		{State: "commented", SubmittedAt: reviewed},
		{State: vcs.ReviewStateApproved, SubmittedAt: approved},
	}

	require.NoError(t, f.engine.BackfillChangeRequests(context.Background(), project))
	require.NoError(t, f.engine.BackfillChangeRequests(context.Background(), project))

	assert.Len(t, f.store.changeRequests, 1)

	tracked, err := f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, item.ID, tracked.WorkItemID)
	assert.Equal(t, types.ChangeRequestStateMerged, tracked.State)
	require.NotNil(t, tracked.FirstReviewedAt)
	assert.Equal(t, reviewed, tracked.FirstReviewedAt.UTC())
	require.NotNil(t, tracked.ApprovedAt)
	assert.Equal(t, approved, tracked.ApprovedAt.UTC())
	require.NotNil(t, tracked.MergedAt)
	assert.Equal(t, merged, tracked.MergedAt.UTC())
}

func TestBackfillChangeRequests_ReviewListingFailureAborts(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	f.client.changeRequests = []*vcs.ChangeRequest{{
		ProviderID: 1001,
		Number:     12,
		Title:      "WI-7 add login flow",
		State:      types.ChangeRequestStateOpen,
		CreatedAt:  time.Now().UTC(),
	}}
	f.client.reviewsErr = assert.AnError

	err := f.engine.BackfillChangeRequests(context.Background(), project)
	require.ErrorIs(t, err, assert.AnError)

	// nothing was imported without its review markers
	assert.Empty(t, f.store.changeRequests)
}

func TestBackfillChangeRequests_BranchNameFallback(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)
	item := f.seedWorkItem(t, project, "WI-10")

	f.client.changeRequests = []*vcs.ChangeRequest{{
		ProviderID:   1002,
		Number:       13,
		Title:        "Tidy up the build",
		SourceBranch: "chore/wi-10-tidy",
		State:        types.ChangeRequestStateOpen,
		CreatedAt:    time.Now().UTC(),
	}}

	require.NoError(t, f.engine.BackfillChangeRequests(context.Background(), project))

	tracked, err := f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1002)
	require.NoError(t, err)
	assert.Equal(t, item.ID, tracked.WorkItemID)
}

func TestBackfillBranches_OnlyTracksReferencedBranches(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)
	item := f.seedWorkItem(t, project, "WI-3")

	f.client.branches = []*vcs.Branch{
		{Name: "main", URL: "https://github.com/acme/widgets/tree/main"},
		{Name: "feature/wi-3-search", URL: "https://github.com/acme/widgets/tree/feature/wi-3-search"},
	}

	require.NoError(t, f.engine.BackfillBranches(context.Background(), project))
	// a second run must not duplicate
	require.NoError(t, f.engine.BackfillBranches(context.Background(), project))

	branches, err := f.store.ListTrackedBranches(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "feature/wi-3-search", branches[0].Name)
	assert.Equal(t, item.ID, branches[0].WorkItemID)
	assert.Equal(t, types.BranchStateOpen, branches[0].State)
}

func TestHandleWebhook_RejectsBadGitHubSignature(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	body := []byte(`{"action":"opened"}`)
	headers := http.Header{}
	headers.Set("X-GitHub-Event", "pull_request")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("wrong-secret")))

	err := f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	headers.Del("X-Hub-Signature-256")
	err = f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_UnlinkedProjectIsAcknowledged(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 0)

	// a stale hook firing after a disconnect: accept and drop
	body := []byte(`{"action":"opened"}`)
	headers := http.Header{}
	headers.Set("X-GitHub-Event", "pull_request")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

	err := f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	require.NoError(t, err)
	assert.Empty(t, f.store.changeRequests)

	// same for a provider switch: the gitlab-addressed hook no longer matches
	gitlabProject := f.seedProject(t, types.VCSProviderGitHub, 555)
	err = f.engine.HandleWebhook(context.Background(), gitlabProject.OrganizationID, gitlabProject.ID, types.VCSProviderGitLab, headers, body)
	require.NoError(t, err)
	assert.Empty(t, f.store.changeRequests)
}

func TestHandleWebhook_RejectsBadGitLabToken(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitLab, 555)

	headers := http.Header{}
	headers.Set("X-Gitlab-Token", "wrong-secret")

	err := f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitLab, headers, []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_RejectsMalformedPayload(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	body := []byte(`{not json`)
	headers := http.Header{}
	headers.Set("X-GitHub-Event", "pull_request")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

	err := f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestHandleWebhook_GitHubPullRequestLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)
	item := f.seedWorkItem(t, project, "WI-7")

	deliver := func(action string, pr map[string]any) {
		t.Helper()
		body, err := json.Marshal(map[string]any{
			"action":       action,
			"pull_request": pr,
			"repository":   map[string]any{"id": 555},
		})
		require.NoError(t, err)

		headers := http.Header{}
		headers.Set("X-GitHub-Event", "pull_request")
		headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

		require.NoError(t, f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body))
	}

	opened := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	deliver("opened", map[string]any{
		"id":         1001,
		"number":     12,
		"title":      "WI-7 add login flow",
		"state":      "open",
		"html_url":   "https://github.com/acme/widgets/pull/12",
		"head":       map[string]any{"ref": "feature/login"},
		"created_at": opened.Format(time.RFC3339),
		"updated_at": opened.Format(time.RFC3339),
	})

	tracked, err := f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeRequestStateOpen, tracked.State)
	assert.Equal(t, item.ID, tracked.WorkItemID)

	merged := opened.Add(6 * time.Hour)
	deliver("closed", map[string]any{
		"id":         1001,
		"number":     12,
		"title":      "WI-7 add login flow",
		"state":      "closed",
		"html_url":   "https://github.com/acme/widgets/pull/12",
		"head":       map[string]any{"ref": "feature/login"},
		"created_at": opened.Format(time.RFC3339),
		"updated_at": merged.Format(time.RFC3339),
		"merged_at":  merged.Format(time.RFC3339),
	})

	tracked, err = f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeRequestStateMerged, tracked.State)
	require.NotNil(t, tracked.MergedAt)
	assert.Equal(t, merged, tracked.MergedAt.UTC())
	assert.Len(t, f.store.changeRequests, 1)
}

func TestHandleWebhook_UpdatePreservesReviewMarkers(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	reviewed := time.Date(2026, 8, 11, 14, 0, 0, 0, time.UTC)
	_, err := f.store.UpsertTrackedChangeRequest(context.Background(), &types.TrackedChangeRequest{
		ID:              system.GenerateChangeRequestID(),
		OrganizationID:  project.OrganizationID,
		ProjectID:       project.ID,
		ProviderID:      1001,
		Number:          12,
		Title:           "WI-7 add login flow",
		State:           types.ChangeRequestStateOpen,
		FirstReviewedAt: &reviewed,
		ApprovedAt:      &reviewed,
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"action": "edited",
		"pull_request": map[string]any{
			"id":       1001,
			"number":   12,
			"title":    "WI-7 add login flow v2",
			"state":    "open",
			"html_url": "https://github.com/acme/widgets/pull/12",
			"head":     map[string]any{"ref": "feature/login"},
		},
		"repository": map[string]any{"id": 555},
	})
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-GitHub-Event", "pull_request")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

	require.NoError(t, f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body))

	tracked, err := f.store.GetTrackedChangeRequest(context.Background(), project.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, "WI-7 add login flow v2", tracked.Title)
	require.NotNil(t, tracked.FirstReviewedAt)
	assert.Equal(t, reviewed, tracked.FirstReviewedAt.UTC())
	require.NotNil(t, tracked.ApprovedAt)
	assert.Equal(t, reviewed, tracked.ApprovedAt.UTC())
}

func TestHandleWebhook_DropsMismatchedRepository(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)

	body, err := json.Marshal(map[string]any{
		"action": "opened",
		"pull_request": map[string]any{
			"id":     7,
			"number": 1,
			"title":  "from some other repo",
			"state":  "open",
			"head":   map[string]any{"ref": "main"},
		},
		"repository": map[string]any{"id": 999},
	})
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-GitHub-Event", "pull_request")
	headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

	// accepted but ignored
	require.NoError(t, f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body))
	assert.Empty(t, f.store.changeRequests)
}

func TestHandleWebhook_GitHubBranchLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitHub, 555)
	f.seedWorkItem(t, project, "WI-3")

	deliver := func(event, refType, ref string) {
		t.Helper()
		body, err := json.Marshal(map[string]any{
			"ref":        ref,
			"ref_type":   refType,
			"repository": map[string]any{"id": 555},
		})
		require.NoError(t, err)

		headers := http.Header{}
		headers.Set("X-GitHub-Event", event)
		headers.Set("X-Hub-Signature-256", githubSignature(body, []byte("hook-secret")))

		require.NoError(t, f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitHub, headers, body))
	}

	deliver("create", "branch", "feature/wi-3-search")
	deliver("create", "tag", "v1.0.0") // tags are not branches

	branches, err := f.store.ListTrackedBranches(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, types.BranchStateOpen, branches[0].State)

	deliver("delete", "branch", "feature/wi-3-search")

	branches, err = f.store.ListTrackedBranches(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1, "deletion soft-closes, the row survives")
	assert.Equal(t, types.BranchStateClosed, branches[0].State)
	assert.NotNil(t, branches[0].DeletedAt)

	// deleting an untracked branch is fine
	deliver("delete", "branch", "never-seen")
}

func TestHandleWebhook_GitLabMergeRequestAndPush(t *testing.T) {
	f := newEngineFixture(t)
	project := f.seedProject(t, types.VCSProviderGitLab, 555)
	item := f.seedWorkItem(t, project, "WI-9")

	deliver := func(payload map[string]any) {
		t.Helper()
		body, err := json.Marshal(payload)
		require.NoError(t, err)

		headers := http.Header{}
		headers.Set("X-Gitlab-Token", "hook-secret")

		require.NoError(t, f.engine.HandleWebhook(context.Background(), project.OrganizationID, project.ID, types.VCSProviderGitLab, headers, body))
	}

	deliver(map[string]any{
		"object_kind": "merge_request",
		"project":     map[string]any{"id": 555},
		"object_attributes": map[string]any{
			"id":            2001,
			"iid":           4,
			"title":         "WI-9 pipeline cache",
			"url":           "https://gitlab.com/acme/widgets/-/merge_requests/4",
			"source_branch": "wi-9-cache",
			"state":         "opened",
			"action":        "open",
			"created_at":    "2026-08-12 09:30:00 UTC",
			"updated_at":    "2026-08-12 09:30:00 UTC",
		},
	})

	tracked, err := f.store.GetTrackedChangeRequest(context.Background(), project.ID, 2001)
	require.NoError(t, err)
	assert.Equal(t, 4, tracked.Number)
	assert.Equal(t, item.ID, tracked.WorkItemID)
	assert.Equal(t, types.ChangeRequestStateOpen, tracked.State)

	deliver(map[string]any{
		"object_kind": "merge_request",
		"project":     map[string]any{"id": 555},
		"object_attributes": map[string]any{
			"id":            2001,
			"iid":           4,
			"title":         "WI-9 pipeline cache",
			"url":           "https://gitlab.com/acme/widgets/-/merge_requests/4",
			"source_branch": "wi-9-cache",
			"state":         "merged",
			"action":        "merge",
			"created_at":    "2026-08-12 09:30:00 UTC",
			"updated_at":    "2026-08-12 15:00:00 UTC",
		},
	})

	tracked, err = f.store.GetTrackedChangeRequest(context.Background(), project.ID, 2001)
	require.NoError(t, err)
	assert.Equal(t, types.ChangeRequestStateMerged, tracked.State)
	assert.NotNil(t, tracked.MergedAt)

	// push with a zero "before" SHA announces a new branch
	deliver(map[string]any{
		"object_kind": "push",
		"project":     map[string]any{"id": 555},
		"ref":         "refs/heads/wi-9-cache",
		"before":      gitlabZeroSHA,
		"after":       "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
	})

	branches, err := f.store.ListTrackedBranches(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "wi-9-cache", branches[0].Name)

	// push with a zero "after" SHA announces deletion
	deliver(map[string]any{
		"object_kind": "push",
		"project":     map[string]any{"id": 555},
		"ref":         "refs/heads/wi-9-cache",
		"before":      "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
		"after":       gitlabZeroSHA,
	})

	branches, err = f.store.ListTrackedBranches(context.Background(), project.OrganizationID, project.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, types.BranchStateClosed, branches[0].State)
}

func TestResync_CoversAllConnectedProjects(t *testing.T) {
	f := newEngineFixture(t)
	connected := f.seedProject(t, types.VCSProviderGitHub, 555)
	f.seedProject(t, types.VCSProviderGitHub, 0) // no link, must be skipped

	f.client.changeRequests = []*vcs.ChangeRequest{{
		ProviderID: 3001,
		Number:     1,
		Title:      "Untitled cleanup",
		State:      types.ChangeRequestStateOpen,
		CreatedAt:  time.Now().UTC(),
	}}

	require.NoError(t, f.engine.Resync(context.Background()))

	_, err := f.store.GetTrackedChangeRequest(context.Background(), connected.ID, 3001)
	require.NoError(t, err)
	assert.Len(t, f.store.changeRequests, 1)
}
