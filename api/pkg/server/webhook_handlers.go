package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/sync"
)

// maxWebhookBody bounds webhook payload reads. Providers stay well under
// this; anything larger is not a payload we asked for.
const maxWebhookBody = 10 << 20

// handleWebhook ingests a provider delivery. Unverifiable deliveries get
// 401 so a misconfigured secret is visible in the provider's delivery log;
// verified ones that fail internally get 500 so the provider retries, which
// is safe because reconciliation is idempotent.
func (s *WorkplaneAPIServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	provider, err := providerVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	err = s.Engine.HandleWebhook(r.Context(), orgID, projectID, provider, r.Header, body)
	switch {
	case err == nil:
		writeResponse(w, http.StatusOK, nil)
	case errors.Is(err, sync.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, sync.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed payload")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown project")
	default:
		log.Error().
			Err(err).
			Str("org_id", orgID).
			Str("project_id", projectID).
			Str("provider", string(provider)).
			Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
