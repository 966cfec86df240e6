package sync

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

const gitlabZeroSHA = "0000000000000000000000000000000000000000"

type gitlabMergeRequestAttributes struct {
	ID           int64  `json:"id"`
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	SourceBranch string `json:"source_branch"`
	State        string `json:"state"`
	Action       string `json:"action"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type gitlabWebhookPayload struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		ID int64 `json:"id"`
	} `json:"project"`
	ObjectAttributes *gitlabMergeRequestAttributes `json:"object_attributes"`

	// push event fields
	Ref    string `json:"ref"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func (e *Engine) handleGitLabWebhook(ctx context.Context, project *types.Project, headers http.Header, body []byte, secret []byte) error {
	token := headers.Get("X-Gitlab-Token")
	if subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
		return ErrInvalidSignature
	}

	var payload gitlabWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ErrMalformedPayload
	}

	if payload.Project.ID != 0 && payload.Project.ID != project.VCSRepositoryID {
		log.Debug().
			Str("project_id", project.ID).
			Int64("payload_repo_id", payload.Project.ID).
			Int64("linked_repo_id", project.VCSRepositoryID).
			Msg("dropping webhook for a repository this project is not linked to")
		return nil
	}

	switch payload.ObjectKind {
	case "merge_request":
		return e.handleGitLabMergeRequest(ctx, project, &payload)
	case "push":
		return e.handleGitLabPush(ctx, project, &payload)
	default:
		return nil
	}
}

func (e *Engine) handleGitLabMergeRequest(ctx context.Context, project *types.Project, payload *gitlabWebhookPayload) error {
	mr := payload.ObjectAttributes
	if mr == nil {
		return ErrMalformedPayload
	}

	switch mr.Action {
	case "open", "update", "reopen", "close", "merge":
	default:
		return nil
	}

	cr := &vcs.ChangeRequest{
		ProviderID:   mr.ID,
		Number:       mr.IID,
		Title:        mr.Title,
		URL:          mr.URL,
		SourceBranch: mr.SourceBranch,
		CreatedAt:    parseGitLabTime(mr.CreatedAt),
		UpdatedAt:    parseGitLabTime(mr.UpdatedAt),
	}

	switch mr.State {
	case "opened", "locked":
		cr.State = types.ChangeRequestStateOpen
	case "merged":
		cr.State = types.ChangeRequestStateMerged
	default:
		cr.State = types.ChangeRequestStateClosed
	}

	// The hook payload carries no merged_at/closed_at; the action plus the
	// update time pin the transition closely enough, and the next resync
	// replaces them with the exact upstream values.
	switch mr.Action {
	case "merge":
		t := parseGitLabTime(mr.UpdatedAt)
		cr.MergedAt = &t
	case "close":
		t := parseGitLabTime(mr.UpdatedAt)
		cr.ClosedAt = &t
	}

	return e.upsertChangeRequest(ctx, project, cr, nil, nil)
}

func (e *Engine) handleGitLabPush(ctx context.Context, project *types.Project, payload *gitlabWebhookPayload) error {
	name, ok := strings.CutPrefix(payload.Ref, "refs/heads/")
	if !ok {
		return nil
	}

	switch {
	case payload.Before == gitlabZeroSHA:
		return e.trackBranch(ctx, project, name, branchURL(project, name))
	case payload.After == gitlabZeroSHA:
		return e.closeBranch(ctx, project, name)
	default:
		// ordinary commits, nothing to reconcile
		return nil
	}
}

// parseGitLabTime handles both timestamp formats GitLab emits in hook
// payloads. An unparseable value falls back to the delivery time rather
// than failing the whole event.
func parseGitLabTime(value string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05 MST", "2006-01-02 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
