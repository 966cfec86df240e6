package types

import "time"

// RepositoryInfo describes a candidate repository when the user is choosing
// which one to connect.
type RepositoryInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	URL      string `json:"url"`
}

type ListRepositoriesResponse struct {
	Repositories []RepositoryInfo `json:"repositories"`
}

type AuthURLResponse struct {
	URL string `json:"url"`
}

// OAuthState is the blob round-tripped through the provider's authorize
// page, base64 encoded into the state query parameter.
type OAuthState struct {
	OrganizationID string `json:"org_id"`
	ProjectID      string `json:"project_id"`
}

type OAuthCallbackResponse struct {
	OrganizationID string `json:"org_id"`
	ProjectID      string `json:"project_id"`
}

type SetAccessTokenRequest struct {
	Token string `json:"token"`
}

type ConnectRepositoryRequest struct {
	ID int64 `json:"id"`
}

type ConnectRepositoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// WeeklyDatapoint is one calendar-week bucket of an engineering metric.
type WeeklyDatapoint struct {
	WeekStart    time.Time `json:"week_start"`
	AverageHours float64   `json:"average_hours"`
	Count        int       `json:"count"`
}

type MetricsResponse struct {
	TimeframeInDays int               `json:"timeframe_in_days"`
	Datapoints      []WeeklyDatapoint `json:"datapoints"`
}

type APIError struct {
	Error string `json:"error"`
}
