package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/platinummonkey/pawprint/pkg/app"
	"github.com/platinummonkey/pawprint/pkg/catalog"
	"github.com/platinummonkey/pawprint/pkg/config"
	"github.com/platinummonkey/pawprint/pkg/observability"
	"github.com/platinummonkey/pawprint/pkg/search"
	"github.com/platinummonkey/pawprint/pkg/storage/postgres"
)

const (
	configKey = "config"
	loggerKey = "logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "search-cli",
		Usage: "Administer the pawprint search service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{config.ConfigPathEnv},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending search schema migrations",
				Action: migrateCommand,
			},
			{
				Name:  "synonyms",
				Usage: "Manage the synonym graph",
				Subcommands: []*cli.Command{
					{
						Name:   "upsert",
						Usage:  "Create or replace the synonyms of a term",
						Action: synonymsUpsertCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "term",
								Aliases:  []string{"t"},
								Usage:    "Canonical term",
								Required: true,
							},
							&cli.StringSliceFlag{
								Name:     "synonym",
								Aliases:  []string{"s"},
								Usage:    "Synonym of the term (repeatable)",
								Required: true,
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List synonym entries",
						Action: synonymsListCommand,
						Flags:  pageFlags(),
					},
				},
			},
			{
				Name:  "saved",
				Usage: "Run saved search alert checks",
				Subcommands: []*cli.Command{
					{
						Name:   "check",
						Usage:  "Check one saved search for new results",
						Action: savedCheckCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "id",
								Usage:    "Saved search ID",
								Required: true,
							},
						},
					},
					{
						Name:   "check-all",
						Usage:  "Check every alert-enabled saved search",
						Action: savedCheckAllCommand,
					},
				},
			},
			{
				Name:  "telemetry",
				Usage: "Inspect search telemetry",
				Subcommands: []*cli.Command{
					{
						Name:   "report",
						Usage:  "Show the most frequent zero-result queries",
						Action: telemetryReportCommand,
						Flags: []cli.Flag{
							&cli.DurationFlag{
								Name:  "since",
								Usage: "Report window ending now",
								Value: 24 * time.Hour,
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Number of queries to show",
								Value: 20,
							},
						},
					},
				},
			},
			{
				Name:  "catalog",
				Usage: "Manage the local pets and groups catalog",
				Subcommands: []*cli.Command{
					{
						Name:   "import",
						Usage:  "Replace the SQLite catalog with a JSON snapshot",
						Action: catalogImportCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Aliases:  []string{"f"},
								Usage:    "JSON snapshot with pets and groups",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "db",
								Usage: "SQLite catalog path (defaults to catalog.path)",
							},
						},
					},
				},
			},
		},
	}
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Usage: "Maximum entries to return", Value: 50},
		&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
	}
}

// setup loads configuration and the logger once for every command
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.ParseLogLevel(c.String("log-level")), c.App.ErrWriter)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	c.App.Metadata[loggerKey] = logger.WithField("component", "search-cli")
	return nil
}

func settings(c *cli.Context) (*config.Config, logrus.FieldLogger) {
	return c.App.Metadata[configKey].(*config.Config), c.App.Metadata[loggerKey].(logrus.FieldLogger)
}

// openDB connects only the primary, for commands that do not need the
// catalog or Redis
func openDB(c *cli.Context) (*postgres.ConnectionManager, error) {
	cfg, logger := settings(c)
	return postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.Postgres.URL,
		MaxConns:   2,
		Timeout:    cfg.Postgres.Timeout,
	}, logger)
}

func openApp(c *cli.Context) (*app.App, error) {
	cfg, logger := settings(c)
	return app.New(c.Context, cfg, logger, app.Options{SkipOTel: true})
}

func migrateCommand(c *cli.Context) error {
	_, logger := settings(c)
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(c.Context, db.Primary(), logger); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "migrations applied")
	return nil
}

func synonymsUpsertCommand(c *cli.Context) error {
	_, logger := settings(c)
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	graph := search.NewSynonymGraph(search.NewPostgresSynonymStore(db.Primary()), logger)
	entry, err := graph.Upsert(c.Context, c.String("term"), c.StringSlice("synonym"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, entry)
}

func synonymsListCommand(c *cli.Context) error {
	_, logger := settings(c)
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	graph := search.NewSynonymGraph(search.NewPostgresSynonymStore(db.Primary()), logger)
	entries, err := graph.List(c.Context, c.Int("limit"), c.Int("offset"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, entries)
}

func savedCheckCommand(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.Checker.Check(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, result)
}

func savedCheckAllCommand(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	summary, err := a.Checker.CheckAll(c.Context)
	if perr := printJSON(c.App.Writer, summary); perr != nil {
		return perr
	}
	return err
}

func telemetryReportCommand(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	store := search.NewPostgresTelemetryStore(db.Primary())
	top, err := store.TopZeroResultQueries(c.Context, time.Now().Add(-c.Duration("since")), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, top)
}

func catalogImportCommand(c *cli.Context) error {
	cfg, logger := settings(c)
	path := c.String("db")
	if path == "" {
		if cfg.Catalog.Type != config.CatalogSQLite {
			return fmt.Errorf("catalog type is %s; pass --db to import into a SQLite file", cfg.Catalog.Type)
		}
		path = cfg.Catalog.Path
	}

	snapshot, err := catalog.ReadSnapshot(c.String("file"))
	if err != nil {
		return err
	}

	store, err := catalog.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Import(c.Context, snapshot); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"pets":   len(snapshot.Pets),
		"groups": len(snapshot.Groups),
		"path":   path,
	}).Info("Catalog imported")
	fmt.Fprintf(c.App.Writer, "imported %d pets and %d groups into %s\n", len(snapshot.Pets), len(snapshot.Groups), path)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
