package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/workplane/workplane/api/pkg/types"
)

type metricFunc func(m MetricsAggregator, ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error)

// metricHandler adapts one aggregator method into an HTTP handler. The
// timeframe comes from the timeframeInDays query parameter and defaults
// inside the aggregator.
func (s *WorkplaneAPIServer) metricHandler(fn metricFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, projectID := tenantScope(r)

		timeframeDays := 0
		if raw := r.URL.Query().Get("timeframeInDays"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "timeframeInDays must be a positive integer")
				return
			}
			timeframeDays = parsed
		}

		// metrics are scoped to the tenant; a wrong project id is a 404,
		// not an empty chart
		if _, err := s.Store.GetProject(r.Context(), orgID, projectID); err != nil {
			writeDomainError(w, err)
			return
		}

		resp, err := fn(s.Metrics, r.Context(), orgID, projectID, timeframeDays)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeResponse(w, http.StatusOK, resp)
	}
}
