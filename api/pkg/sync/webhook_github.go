package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

type githubRepository struct {
	ID int64 `json:"id"`
}

type githubPullRequest struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	URL    string `json:"html_url"`
	Head   struct {
		Ref string `json:"ref"`
	} `json:"head"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

type githubWebhookPayload struct {
	Action      string             `json:"action"`
	PullRequest *githubPullRequest `json:"pull_request"`
	Ref         string             `json:"ref"`
	RefType     string             `json:"ref_type"`
	Repository  githubRepository   `json:"repository"`
}

func (e *Engine) handleGitHubWebhook(ctx context.Context, project *types.Project, headers http.Header, body []byte, secret []byte) error {
	if !verifyGitHubSignature(body, headers.Get("X-Hub-Signature-256"), secret) {
		return ErrInvalidSignature
	}

	event := headers.Get("X-GitHub-Event")

	var payload githubWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ErrMalformedPayload
	}

	if payload.Repository.ID != 0 && payload.Repository.ID != project.VCSRepositoryID {
		log.Debug().
			Str("project_id", project.ID).
			Int64("payload_repo_id", payload.Repository.ID).
			Int64("linked_repo_id", project.VCSRepositoryID).
			Msg("dropping webhook for a repository this project is not linked to")
		return nil
	}

	switch event {
	case "pull_request":
		return e.handleGitHubPullRequest(ctx, project, &payload)
	case "create":
		if payload.RefType != "branch" {
			return nil
		}
		return e.trackBranch(ctx, project, payload.Ref, branchURL(project, payload.Ref))
	case "delete":
		if payload.RefType != "branch" {
			return nil
		}
		return e.closeBranch(ctx, project, payload.Ref)
	default:
		// ping and anything else we did not subscribe to
		return nil
	}
}

func (e *Engine) handleGitHubPullRequest(ctx context.Context, project *types.Project, payload *githubWebhookPayload) error {
	switch payload.Action {
	case "opened", "edited", "reopened", "closed":
	default:
		return nil
	}

	if payload.PullRequest == nil {
		return ErrMalformedPayload
	}

	pr := payload.PullRequest
	cr := &vcs.ChangeRequest{
		ProviderID:   pr.ID,
		Number:       pr.Number,
		Title:        pr.Title,
		URL:          pr.URL,
		SourceBranch: pr.Head.Ref,
		State:        types.ChangeRequestStateOpen,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
		MergedAt:     pr.MergedAt,
		ClosedAt:     pr.ClosedAt,
	}
	if pr.State == "closed" {
		if pr.MergedAt != nil {
			cr.State = types.ChangeRequestStateMerged
		} else {
			cr.State = types.ChangeRequestStateClosed
		}
	}

	return e.upsertChangeRequest(ctx, project, cr, nil, nil)
}

// verifyGitHubSignature checks the X-Hub-Signature-256 header: an HMAC
// SHA-256 of the raw body, hex encoded, prefixed with "sha256=".
func verifyGitHubSignature(body []byte, signature string, secret []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
