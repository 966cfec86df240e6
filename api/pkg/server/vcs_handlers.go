package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
	oauthgitlab "golang.org/x/oauth2/gitlab"

	"github.com/workplane/workplane/api/pkg/types"
)

func (s *WorkplaneAPIServer) oauthConfig(provider types.VCSProvider) (*oauth2.Config, error) {
	redirectURL := fmt.Sprintf("%s%s/vcs/%s/callback", s.Cfg.WebServer.URL, APIPrefix, provider)

	switch provider {
	case types.VCSProviderGitHub:
		if s.Cfg.GitHub.ClientID == "" {
			return nil, fmt.Errorf("GitHub OAuth is not configured")
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.GitHub.ClientID,
			ClientSecret: s.Cfg.GitHub.ClientSecret,
			Endpoint:     oauthgithub.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"repo", "read:user"},
		}, nil
	case types.VCSProviderGitLab:
		if s.Cfg.GitLab.ClientID == "" {
			return nil, fmt.Errorf("GitLab OAuth is not configured")
		}
		endpoint := oauthgitlab.Endpoint
		if s.Cfg.GitLab.BaseURL != "" {
			endpoint = oauth2.Endpoint{
				AuthURL:  s.Cfg.GitLab.BaseURL + "/oauth/authorize",
				TokenURL: s.Cfg.GitLab.BaseURL + "/oauth/token",
			}
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.GitLab.ClientID,
			ClientSecret: s.Cfg.GitLab.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"api"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported VCS provider: %s", provider)
	}
}

// getAuthURL returns the provider authorize URL. The tenant scope rides in
// the state parameter so the callback, which arrives outside any project
// route, can find its way back.
func (s *WorkplaneAPIServer) getAuthURL(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	provider, err := providerVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.oauthConfig(provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// make sure the project exists before sending the user off-site
	if _, err := s.Store.GetProject(r.Context(), orgID, projectID); err != nil {
		writeDomainError(w, err)
		return
	}

	state, err := encodeOAuthState(&types.OAuthState{OrganizationID: orgID, ProjectID: projectID})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeResponse(w, http.StatusOK, &types.AuthURLResponse{URL: cfg.AuthCodeURL(state)})
}

func (s *WorkplaneAPIServer) oauthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := providerVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}

	state, err := decodeOAuthState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	cfg, err := s.oauthConfig(provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "code exchange failed")
		return
	}

	_, err = s.Engine.SetCredential(r.Context(), state.OrganizationID, state.ProjectID, provider, token.AccessToken, types.VCSTokenKindOAuth)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeResponse(w, http.StatusOK, &types.OAuthCallbackResponse{
		OrganizationID: state.OrganizationID,
		ProjectID:      state.ProjectID,
	})
}

// setAccessToken stores a manually supplied personal access token as the
// project credential, the non-OAuth path.
func (s *WorkplaneAPIServer) setAccessToken(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	provider, err := providerVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req types.SetAccessTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	project, err := s.Engine.SetCredential(r.Context(), orgID, projectID, provider, req.Token, types.VCSTokenKindPAT)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeResponse(w, http.StatusOK, project)
}

func (s *WorkplaneAPIServer) listRepositories(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	project, err := s.Store.GetProject(r.Context(), orgID, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	client, err := s.Engine.ClientForProject(r.Context(), project)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	repos, err := client.ListRepositories(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := &types.ListRepositoriesResponse{Repositories: []types.RepositoryInfo{}}
	for _, repo := range repos {
		resp.Repositories = append(resp.Repositories, types.RepositoryInfo{
			ID:       repo.ID,
			Name:     repo.Name,
			FullName: repo.FullName,
			URL:      repo.URL,
		})
	}

	writeResponse(w, http.StatusOK, resp)
}

func (s *WorkplaneAPIServer) connectRepository(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	var req types.ConnectRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, http.StatusBadRequest, "repository id is required")
		return
	}

	project, err := s.Engine.ConnectRepository(r.Context(), orgID, projectID, req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeResponse(w, http.StatusOK, &types.ConnectRepositoryResponse{
		ID:   project.VCSRepositoryID,
		Name: project.VCSRepositoryFullName,
		URL:  project.VCSRepositoryURL,
	})
}

func (s *WorkplaneAPIServer) disconnectRepository(w http.ResponseWriter, r *http.Request) {
	orgID, projectID := tenantScope(r)

	project, err := s.Engine.DisconnectRepository(r.Context(), orgID, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeResponse(w, http.StatusOK, project)
}

func encodeOAuthState(state *types.OAuthState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeOAuthState(value string) (*types.OAuthState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var state types.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	if state.OrganizationID == "" || state.ProjectID == "" {
		return nil, fmt.Errorf("incomplete state")
	}
	return &state, nil
}
