package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	Store     Store
	WebServer WebServer
	Vault     Vault
	GitHub    GitHubProvider
	GitLab    GitLabProvider
	Sync      Sync
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

type Store struct {
	Host        string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port        int    `envconfig:"POSTGRES_PORT" default:"5432"`
	Database    string `envconfig:"POSTGRES_DATABASE" default:"workplane"`
	Username    string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password    string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	SSL         bool   `envconfig:"POSTGRES_SSL" default:"false"`
	AutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

type WebServer struct {
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"SERVER_PORT" default:"8080"`
	// URL is the publicly reachable base URL of this server. It is embedded
	// into webhook callback URLs and OAuth redirect URLs, so it must match
	// what the VCS providers can actually reach.
	URL string `envconfig:"SERVER_URL" default:"http://localhost:8080"`
}

type Vault struct {
	// EncryptionKey protects OAuth tokens and webhook secrets at rest.
	// Rotating it invalidates every stored credential.
	EncryptionKey string `envconfig:"VAULT_ENCRYPTION_KEY" required:"true"`
}

type GitHubProvider struct {
	ClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	ClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
}

type GitLabProvider struct {
	ClientID     string `envconfig:"GITLAB_CLIENT_ID"`
	ClientSecret string `envconfig:"GITLAB_CLIENT_SECRET"`
	// BaseURL points at a self-hosted GitLab instance. Empty for gitlab.com.
	BaseURL string `envconfig:"GITLAB_BASE_URL"`
}

type Sync struct {
	BackfillTimeout time.Duration `envconfig:"SYNC_BACKFILL_TIMEOUT" default:"10m"`
	ResyncInterval  time.Duration `envconfig:"SYNC_RESYNC_INTERVAL" default:"24h"`
	ResyncEnabled   bool          `envconfig:"SYNC_RESYNC_ENABLED" default:"true"`
}
