package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/cmd/serve"
	"github.com/chirino/conversation-sync/internal/config"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their loaders.
	_ "github.com/chirino/conversation-sync/internal/plugin/store/dynamo"
	_ "github.com/chirino/conversation-sync/internal/plugin/store/mongo"
	_ "github.com/chirino/conversation-sync/internal/plugin/store/sqlstore"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the conversations collection, table and indexes, then exit",
		Flags: serve.StoreFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// Migrations always run when requested explicitly.
			cfg.DatastoreMigrateAtStart = true
			cfg.DatastoreMigrateEager = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
