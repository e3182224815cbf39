package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cesargomez89/tubecrate/internal/annotate"
	"github.com/cesargomez89/tubecrate/internal/auth"
	"github.com/cesargomez89/tubecrate/internal/collector"
	"github.com/cesargomez89/tubecrate/internal/config"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/quota"
	"github.com/cesargomez89/tubecrate/internal/registry"
	"github.com/cesargomez89/tubecrate/internal/server"
	"github.com/cesargomez89/tubecrate/internal/storage"
	"github.com/cesargomez89/tubecrate/internal/store"
	"github.com/cesargomez89/tubecrate/internal/youtube"
)

func main() {
	app := &cli.App{
		Name:  "tubecrate",
		Usage: "collect, annotate and archive YouTube playlist metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.yml (defaults to the user config dir)",
			},
		},
		Commands: []*cli.Command{
			collectCommand(),
			annotateCommand(),
			reindexCommand(),
			restoreCommand(),
			backupsCommand(),
			sourcesCommand(),
			videosCommand(),
			migrateCommand(),
			authCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is everything a command needs wired up. Network-facing pieces are
// built lazily so offline commands never touch credentials.
type env struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	registry *registry.Registry
	gate     *quota.Gate
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	st := store.New(cfg.DataDir, log)
	st.Retention = cfg.BackupRetention

	return &env{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry.New(cfg.DataDir, log),
		gate:     quota.NewGate(cfg.QuotaBudget, cfg.RequestsPerSecond),
	}, nil
}

func (e *env) credentials(interactive bool) *auth.Credentials {
	creds := auth.NewCredentials(e.cfg.DataDir, e.cfg.HTTPTimeout, e.log)
	if interactive {
		creds.Authorizer = &auth.ConsoleAuthorizer{In: os.Stdin, Out: os.Stderr}
	}
	return creds
}

func (e *env) newCollector(ctx context.Context, interactive bool) (*collector.Collector, error) {
	httpClient, err := e.credentials(interactive).HTTPClient(ctx)
	if err != nil {
		return nil, err
	}

	col := collector.New(youtube.NewClient(httpClient, e.gate), e.store, e.gate, e.log)
	col.Concurrency = e.cfg.Concurrency
	col.RetryCeiling = e.cfg.RetryCeiling
	if e.cfg.OpenAIKey != "" {
		col.Annotator = annotate.New(e.cfg.OpenAIKey, e.cfg.AnnotateModel, e.log)
	}
	return col, nil
}

// printJSON writes a structured summary to stdout; logs go to stderr.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runContext is cancelled on the first interrupt so in-flight source work
// can finish while unstarted sources are skipped.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "collect all enabled sources (or the given ones)",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "collect only this source id (repeatable)"},
			&cli.BoolFlag{Name: "annotate", Usage: "annotate newly collected videos"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := runContext()
			defer cancel()

			sources, err := e.registry.Enabled()
			if err != nil {
				return err
			}
			if wanted := c.StringSlice("source"); len(wanted) > 0 {
				sources, err = pickSources(e.registry, wanted)
				if err != nil {
					return err
				}
			}
			if len(sources) == 0 {
				return cli.Exit("no enabled sources configured; add one with 'tubecrate sources add'", 1)
			}

			col, err := e.newCollector(ctx, true)
			if err != nil {
				return err
			}
			batch, err := col.CollectMany(ctx, sources, collector.Options{Annotate: c.Bool("annotate")})
			if err != nil {
				return err
			}
			if err := printJSON(batch); err != nil {
				return err
			}
			if batchDegraded(batch) {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// batchDegraded reports whether a run should exit non-zero: partial results
// count, so cron and CI callers notice degraded runs too.
func batchDegraded(batch *collector.BatchResult) bool {
	return len(batch.Failed()) > 0 || len(batch.PartiallyFailed()) > 0
}

// pickSources resolves explicit ids against the registry, enabled or not;
// asking for a source by name overrides its enabled flag.
func pickSources(reg *registry.Registry, ids []string) ([]*domain.Source, error) {
	out := make([]*domain.Source, 0, len(ids))
	for _, id := range ids {
		src, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func annotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "annotate",
		Usage: "annotate pending videos",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "max videos to annotate (default from config)"},
			&cli.BoolFlag{Name: "force", Usage: "include videos past the retry ceiling"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			if e.cfg.OpenAIKey == "" {
				return cli.Exit("OPENAI_API_KEY is not set", 1)
			}
			ctx, cancel := runContext()
			defer cancel()

			col := collector.New(nil, e.store, e.gate, e.log)
			col.RetryCeiling = e.cfg.RetryCeiling
			col.Annotator = annotate.New(e.cfg.OpenAIKey, e.cfg.AnnotateModel, e.log)

			limit := e.cfg.AnnotateLimit
			if c.IsSet("limit") {
				limit = c.Int("limit")
			}
			sum, err := col.AnnotatePending(ctx, limit, c.Bool("force"))
			if err != nil {
				return err
			}
			if err := printJSON(sum); err != nil {
				return err
			}
			if sum.Failed > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "rebuild the derived indexes and save the library",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			videos, playlists, err := e.store.RebuildIndexes()
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"videos": videos, "playlists": playlists})
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "replace the library with a backup snapshot",
		ArgsUsage: "<backup-name-or-path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: tubecrate restore <backup-name-or-path>", 2)
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			res, err := e.store.Restore(c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func backupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backups",
		Usage: "inspect and prune library backups",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list backups, newest first",
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					backups, err := e.store.ListBackups()
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"backups": backups, "count": len(backups)})
				},
			},
			{
				Name:  "prune",
				Usage: "remove backups older than the retention horizon",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "override the configured retention"},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					retention := e.cfg.BackupRetention
					if c.IsSet("older-than") {
						retention = c.Duration("older-than")
					}
					removed, err := e.store.PruneBackups(retention)
					if err != nil {
						return err
					}
					return printJSON(map[string]int{"removed": removed})
				},
			},
		},
	}
}

func sourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "manage configured sources",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list sources in priority order",
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					sources, err := e.registry.List()
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"sources": sources, "count": len(sources)})
				},
			},
			{
				Name:      "add",
				Usage:     "add a source",
				ArgsUsage: "<playlist-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "display name"},
					&cli.IntFlag{Name: "priority", Value: 3, Usage: "1 (highest) to 5"},
					&cli.StringFlag{Name: "cadence", Value: string(domain.CadenceManual), Usage: "manual, daily or weekly"},
					&cli.StringFlag{Name: "category", Usage: "free-form category tag"},
					&cli.IntFlag{Name: "max-items", Usage: "cap collected items (0 = no cap)"},
					&cli.BoolFlag{Name: "disabled", Usage: "add without enabling"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: tubecrate sources add <playlist-id> --name <name>", 2)
					}
					e, err := setup(c)
					if err != nil {
						return err
					}
					cadence, err := domain.ParseCadence(c.String("cadence"))
					if err != nil {
						return err
					}
					src := &domain.Source{
						ID:       c.Args().First(),
						Name:     c.String("name"),
						Enabled:  !c.Bool("disabled"),
						Priority: c.Int("priority"),
						Cadence:  cadence,
						Category: c.String("category"),
						MaxItems: c.Int("max-items"),
					}
					if err := e.registry.Add(src); err != nil {
						return err
					}
					return printJSON(src)
				},
			},
			{
				Name:      "rm",
				Usage:     "remove a source (collected videos stay)",
				ArgsUsage: "<playlist-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: tubecrate sources rm <playlist-id>", 2)
					}
					e, err := setup(c)
					if err != nil {
						return err
					}
					id := c.Args().First()
					if err := e.registry.Remove(id); err != nil {
						return err
					}
					return printJSON(map[string]string{"removed": id})
				},
			},
			enableCommand("enable", true),
			enableCommand("disable", false),
			{
				Name:      "set",
				Usage:     "update fields on a source",
				ArgsUsage: "<playlist-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.IntFlag{Name: "priority"},
					&cli.StringFlag{Name: "cadence"},
					&cli.StringFlag{Name: "category"},
					&cli.IntFlag{Name: "max-items"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: tubecrate sources set <playlist-id> [flags]", 2)
					}
					e, err := setup(c)
					if err != nil {
						return err
					}
					src, err := e.registry.Get(c.Args().First())
					if err != nil {
						return err
					}
					if c.IsSet("name") {
						src.Name = c.String("name")
					}
					if c.IsSet("priority") {
						src.Priority = c.Int("priority")
					}
					if c.IsSet("cadence") {
						cadence, err := domain.ParseCadence(c.String("cadence"))
						if err != nil {
							return err
						}
						src.Cadence = cadence
					}
					if c.IsSet("category") {
						src.Category = c.String("category")
					}
					if c.IsSet("max-items") {
						src.MaxItems = c.Int("max-items")
					}
					if err := e.registry.Update(src); err != nil {
						return err
					}
					return printJSON(src)
				},
			},
		},
	}
}

func enableCommand(name string, enabled bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     name + " a source",
		ArgsUsage: "<playlist-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit(fmt.Sprintf("usage: tubecrate sources %s <playlist-id>", name), 2)
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			id := c.Args().First()
			if err := e.registry.SetEnabled(id, enabled); err != nil {
				return err
			}
			return printJSON(map[string]any{"source": id, "enabled": enabled})
		},
	}
}

func videosCommand() *cli.Command {
	return &cli.Command{
		Name:  "videos",
		Usage: "manage collected videos",
		Subcommands: []*cli.Command{
			{
				Name:      "rm",
				Usage:     "delete a video, cascading through playlists and indexes",
				ArgsUsage: "<video-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: tubecrate videos rm <video-id>", 2)
					}
					e, err := setup(c)
					if err != nil {
						return err
					}
					id := c.Args().First()
					removed, err := e.store.DeleteVideo(id)
					if err != nil {
						return err
					}
					if !removed {
						return cli.Exit(fmt.Sprintf("video %s not found", id), 1)
					}
					return printJSON(map[string]string{"deleted": id})
				},
			},
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "import a legacy v1 SQLite database into the library",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			res, err := e.store.MigrateLegacy()
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "run the interactive consent flow and store the token",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := runContext()
			defer cancel()

			tok, err := e.credentials(true).Token(ctx)
			if err != nil {
				if errors.Is(err, auth.ErrAuthExpired) {
					return cli.Exit("authorization failed: "+err.Error(), 1)
				}
				return err
			}
			return printJSON(map[string]any{"authorized": true, "expires": tok.Expiry})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the JSON HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "override the configured port"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := runContext()
			defer cancel()

			col, err := e.newCollector(ctx, false)
			if err != nil {
				return err
			}
			handler := server.NewHandler(e.store, e.registry, col, e.log)

			port := e.cfg.Port
			if c.IsSet("port") {
				port = c.String("port")
			}
			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				e.log.Info("HTTP API listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			// Persist any state loaded during the run before exiting.
			return e.store.Flush()
		},
	}
}
