// Package server exposes the HTTP API: OAuth linking, repository
// connection management, webhook ingestion and engineering metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/config"
	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/sync"
	"github.com/workplane/workplane/api/pkg/system"
	"github.com/workplane/workplane/api/pkg/types"
	"github.com/workplane/workplane/api/pkg/vcs"
)

const APIPrefix = "/api/v1"

// SyncEngine is the slice of the synchronization engine the HTTP layer
// drives.
type SyncEngine interface {
	SetCredential(ctx context.Context, orgID, projectID string, provider types.VCSProvider, token string, kind types.VCSTokenKind) (*types.Project, error)
	ClientForProject(ctx context.Context, project *types.Project) (vcs.Client, error)
	ConnectRepository(ctx context.Context, orgID, projectID string, repositoryID int64) (*types.Project, error)
	DisconnectRepository(ctx context.Context, orgID, projectID string) (*types.Project, error)
	HandleWebhook(ctx context.Context, orgID, projectID string, provider types.VCSProvider, headers http.Header, body []byte) error
}

// MetricsAggregator is the slice of the metrics layer the HTTP layer reads.
type MetricsAggregator interface {
	CycleTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error)
	MergeTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error)
	FirstReviewTime(ctx context.Context, orgID, projectID string, timeframeDays int) (*types.MetricsResponse, error)
}

type WorkplaneAPIServer struct {
	Cfg     *config.ServerConfig
	Store   store.Store
	Engine  SyncEngine
	Metrics MetricsAggregator
}

func NewServer(cfg *config.ServerConfig, s store.Store, engine SyncEngine, aggregator MetricsAggregator) *WorkplaneAPIServer {
	return &WorkplaneAPIServer{
		Cfg:     cfg,
		Store:   s,
		Engine:  engine,
		Metrics: aggregator,
	}
}

func (s *WorkplaneAPIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	api := router.PathPrefix(APIPrefix).Subrouter()

	project := api.PathPrefix("/orgs/{org_id}/projects/{project_id}").Subrouter()
	project.HandleFunc("/vcs/{provider}/auth", s.getAuthURL).Methods(http.MethodGet)
	project.HandleFunc("/vcs/{provider}/token", s.setAccessToken).Methods(http.MethodPut)
	project.HandleFunc("/vcs/repositories", s.listRepositories).Methods(http.MethodGet)
	project.HandleFunc("/vcs/repositories", s.connectRepository).Methods(http.MethodPut)
	project.HandleFunc("/vcs", s.disconnectRepository).Methods(http.MethodDelete)

	project.HandleFunc("/metrics/cycle-time", s.metricHandler((MetricsAggregator).CycleTime)).Methods(http.MethodGet)
	project.HandleFunc("/metrics/merge-time", s.metricHandler((MetricsAggregator).MergeTime)).Methods(http.MethodGet)
	project.HandleFunc("/metrics/first-review-time", s.metricHandler((MetricsAggregator).FirstReviewTime)).Methods(http.MethodGet)

	api.HandleFunc("/vcs/{provider}/callback", s.oauthCallback).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{provider}/{org_id}/{project_id}", s.handleWebhook).Methods(http.MethodPost)

	return router
}

func (s *WorkplaneAPIServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.Cfg.WebServer.Host, s.Cfg.WebServer.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("starting API server")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, &types.APIError{Error: message})
}

// writeDomainError maps known sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sync.ErrNoCredential), errors.Is(err, sync.ErrNotConnected):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requestIDMiddleware tags every request with an id so a provider's
// delivery log can be matched against ours. An id supplied by the caller is
// kept.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = system.GenerateUUID()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request handled")
	})
}

// tenantScope pulls the org and project path parameters.
func tenantScope(r *http.Request) (orgID, projectID string) {
	vars := mux.Vars(r)
	return vars["org_id"], vars["project_id"]
}

func providerVar(r *http.Request) (types.VCSProvider, error) {
	provider := types.VCSProvider(mux.Vars(r)["provider"])
	if !provider.Valid() {
		return "", fmt.Errorf("unsupported VCS provider: %s", provider)
	}
	return provider, nil
}
