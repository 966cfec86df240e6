package workplane

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/workplane/workplane/api/pkg/config"
	"github.com/workplane/workplane/api/pkg/crypto"
	"github.com/workplane/workplane/api/pkg/janitor"
	"github.com/workplane/workplane/api/pkg/metrics"
	"github.com/workplane/workplane/api/pkg/refs"
	"github.com/workplane/workplane/api/pkg/server"
	"github.com/workplane/workplane/api/pkg/store"
	"github.com/workplane/workplane/api/pkg/sync"
	"github.com/workplane/workplane/api/pkg/vcs"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Workplane VCS connector API server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}

	db, err := store.NewPostgresStore(cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	encryptionKey := crypto.DeriveKey(cfg.Vault.EncryptionKey)
	engine := sync.NewEngine(&cfg, db, refs.NewResolver(db), vcs.NewFactory(&cfg), encryptionKey)

	sweeper, err := janitor.New(cfg.Sync, engine)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop resync scheduler")
		}
	}()

	apiServer := server.NewServer(&cfg, db, engine, metrics.NewAggregator(db))

	err = apiServer.ListenAndServe(ctx)

	// let in-flight backfills drain before exiting
	engine.Wait()

	return err
}
