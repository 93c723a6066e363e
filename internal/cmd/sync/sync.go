package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/cmd/serve"
	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/convsync"
	"github.com/chirino/conversation-sync/internal/model"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/urfave/cli/v3"
)

// LocalThread is the file format read by "sync push" and written by
// "sync pull --local".
type LocalThread struct {
	Thread model.Thread `json:"thread"`
	Items  []model.Item `json:"items"`
}

// drainGrace is added to the sync timeout when waiting for queued saves.
const drainGrace = 5 * time.Second

type options struct {
	cfg    config.Config
	direct bool
}

// Command returns the sync sub-command.
func Command() *cli.Command {
	o := &options{cfg: config.DefaultConfig()}
	return &cli.Command{
		Name:  "sync",
		Usage: "Save, load and delete conversations through the sync client",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "server-url",
				Category:    "Sync:",
				Sources:     cli.EnvVars("CONVERSATION_SYNC_SERVER_URL"),
				Destination: &o.cfg.SyncServerURL,
				Value:       o.cfg.SyncServerURL,
				Usage:       "Base URL of a running conversation sync server",
			},
			&cli.StringFlag{
				Name:        "api-prefix",
				Category:    "Sync:",
				Sources:     cli.EnvVars("CONVERSATION_SYNC_API_PREFIX"),
				Destination: &o.cfg.APIPrefix,
				Value:       o.cfg.APIPrefix,
				Usage:       "Path prefix of the conversation endpoints on the server",
			},
			&cli.DurationFlag{
				Name:        "sync-timeout",
				Category:    "Sync:",
				Sources:     cli.EnvVars("CONVERSATION_SYNC_TIMEOUT"),
				Destination: &o.cfg.SyncTimeout,
				Value:       o.cfg.SyncTimeout,
				Usage:       "Timeout for each remote call",
			},
			&cli.BoolFlag{
				Name:        "direct",
				Category:    "Sync:",
				Sources:     cli.EnvVars("CONVERSATION_SYNC_DIRECT"),
				Destination: &o.direct,
				Usage:       "Talk to the database directly instead of a running server",
			},
		}, serve.StoreFlags(&o.cfg)...),
		Commands: []*cli.Command{
			pushCommand(o),
			pullCommand(o),
			deleteCommand(o),
		},
	}
}

func pushCommand(o *options) *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "Save a local thread and its items",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "JSON file holding {\"thread\": ..., \"items\": [...]}; - reads stdin",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			local, err := readLocalThread(cmd.String("file"), cmd.Root().Reader)
			if err != nil {
				return err
			}
			return withService(ctx, o, func(ctx context.Context, svc *convsync.Service) error {
				// The save runs on the dispatcher; withService drains it before exit.
				svc.SaveInBackground(local.Thread, local.Items)
				return nil
			})
		},
	}
}

func pullCommand(o *options) *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Print every saved conversation, most recent first",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Print conversations as local threads and items",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, o, func(ctx context.Context, svc *convsync.Service) error {
				convs := svc.Load(ctx)
				if !cmd.Bool("local") {
					return writeJSON(cmd.Root().Writer, convs)
				}
				out := make([]LocalThread, 0, len(convs))
				for _, conv := range convs {
					thread, items := convsync.ToLocalFormat(conv)
					out = append(out, LocalThread{Thread: thread, Items: items})
				}
				return writeJSON(cmd.Root().Writer, out)
			})
		},
	}
}

func deleteCommand(o *options) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a saved conversation",
		ArgsUsage: "<threadId>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			threadID := cmd.Args().First()
			if threadID == "" {
				return fmt.Errorf("a threadId argument is required")
			}
			return withService(ctx, o, func(ctx context.Context, svc *convsync.Service) error {
				svc.Delete(ctx, threadID)
				return nil
			})
		},
	}
}

// withService builds the sync Service for o, runs fn and drains the service.
func withService(ctx context.Context, o *options, fn func(context.Context, *convsync.Service) error) error {
	if err := o.cfg.ApplyEnv(); err != nil {
		return err
	}
	ctx = config.WithContext(ctx, &o.cfg)

	remote, closeRemote, err := newRemote(ctx, o)
	if err != nil {
		return err
	}
	defer closeRemote()

	svc := convsync.NewService(remote, convsync.OptionsFromConfig(&o.cfg))
	if !svc.Enabled() {
		log.Warn("Conversation sync is disabled: set --db-url or " + config.EnvDBURL)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), o.cfg.SyncTimeout+drainGrace)
		defer cancel()
		if err := svc.Close(drainCtx); err != nil {
			log.Warn("Pending sync jobs were abandoned", "err", err)
		}
	}()
	return fn(ctx, svc)
}

func newRemote(ctx context.Context, o *options) (convsync.Remote, func(), error) {
	if !o.direct {
		return convsync.NewHTTPRemote(o.cfg.SyncServerURL, o.cfg.APIPrefix, o.cfg.SyncTimeout), func() {}, nil
	}
	if !o.cfg.SyncConfigured() {
		// The service is disabled; there is nothing to connect to.
		return nil, func() {}, nil
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	loader, err := registrystore.Select(o.cfg.DatastoreType)
	if err != nil {
		return nil, nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	release := func() {
		closer, ok := store.(registrystore.Closer)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closer.Close(ctx); err != nil {
			log.Warn("Failed to close store", "err", err)
		}
	}
	return convsync.StoreRemote{Store: store}, release, nil
}

func readLocalThread(path string, stdin io.Reader) (LocalThread, error) {
	var local LocalThread
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return local, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&local); err != nil {
		return local, fmt.Errorf("decode %s: %w", path, err)
	}
	if local.Thread.ID == "" {
		return local, fmt.Errorf("decode %s: thread.id is required", path)
	}
	return local, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
