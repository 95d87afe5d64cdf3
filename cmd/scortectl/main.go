package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/maintenance"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/internal/storage/adapter"
	"github.com/nbrembilla/scorte/pkg/logger"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "scortectl",
		Usage: "Operator tooling for the replenishment engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "db-check",
				Usage:  "Validate storage integrity and cross-entity invariants",
				Action: runDBCheck,
			},
			{
				Name:   "reindex-vacuum",
				Usage:  "Rebuild indexes and reclaim space (database backend)",
				Action: runReindexVacuum,
			},
			{
				Name:  "restore-backup",
				Usage: "Restore a record file from its backup",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "entity",
						Usage:    "Record file to restore (e.g. transactions.csv)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "backup",
						Usage: "Backup file name; defaults to the most recent",
					},
				},
				Action: runRestoreBackup,
			},
			{
				Name:  "export-snapshot",
				Usage: "Export all entities to CSV with a checksum manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output directory",
						Value: "./snapshot",
					},
				},
				Action: runExportSnapshot,
			},
			{
				Name:  "debug-bundle",
				Usage: "Zip the data directory for support diagnostics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output archive path",
						Value: "./debug-bundle.zip",
					},
				},
				Action: runDebugBundle,
			},
			{
				Name:  "seed",
				Usage: "Load catalog and sales data from CSV files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "skus-file",
						Usage:   "CSV file with catalog entries",
						EnvVars: []string{"SEED_SKUS_FILE"},
					},
					&cli.StringFlag{
						Name:    "sales-file",
						Usage:   "CSV file with daily sales records",
						EnvVars: []string{"SEED_SALES_FILE"},
					},
				},
				Action: runSeed,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore() (storage.Storage, *config.Config, error) {
	cfg := config.Load()
	store, err := adapter.Open(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, cfg, nil
}

func runDBCheck(c *cli.Context) error {
	store, _, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	defer store.Close()

	report, err := maintenance.DBCheck(c.Context, store)
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Status != maintenance.StatusPass {
		return cli.Exit("", int(report.Status))
	}
	return nil
}

func runReindexVacuum(c *cli.Context) error {
	store, _, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	defer store.Close()

	status, err := maintenance.ReindexVacuum(c.Context, store)
	if err != nil {
		return cli.Exit(err.Error(), int(status))
	}
	if status != maintenance.StatusPass {
		return cli.Exit("", int(status))
	}
	return nil
}

func runRestoreBackup(c *cli.Context) error {
	store, cfg, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	defer store.Close()

	status, err := maintenance.RestoreBackup(c.Context, store,
		cfg.Storage.DataDir, c.String("entity"), c.String("backup"))
	if err != nil {
		return cli.Exit(err.Error(), int(status))
	}
	return nil
}

func runExportSnapshot(c *cli.Context) error {
	store, _, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	defer store.Close()

	m, err := maintenance.ExportSnapshot(c.Context, store, c.String("out"))
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	fmt.Printf("exported %d files, run id %s\n", len(m.Files), m.RunID)
	return nil
}

func runDebugBundle(c *cli.Context) error {
	_, cfg, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}

	runID, err := maintenance.DebugBundle(cfg.Storage.DataDir, c.String("out"))
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	fmt.Printf("bundle written, run id %s\n", runID)
	return nil
}
