package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/refreshd/pkg/cmd"
	"github.com/dukex/refreshd/pkg/log"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// Fixtures are the dashboards, saved queries and data sources normally owned
// by the CRUD application, loaded for local setups.
type Fixtures struct {
	DataSources []*models.DataSource `json:"dataSources"`
	Dashboards  []*models.Dashboard  `json:"dashboards"`
	Queries     []*models.SavedQuery `json:"queries"`
}

func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load dashboards, saved queries and data sources from a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL: a directory, file://<dir> or postgres://...",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Fixture file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"), "text").With("module", "seed")

			raw, err := os.ReadFile(command.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read fixtures: %w", err)
			}

			var fixtures Fixtures
			if err := json.Unmarshal(raw, &fixtures); err != nil {
				return fmt.Errorf("failed to parse fixtures: %w", err)
			}

			store, targets, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() { _ = store.Close(context.Background()) }()

			if err := seed(ctx, targets, &fixtures); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Seeded targets",
				"data_sources", len(fixtures.DataSources),
				"dashboards", len(fixtures.Dashboards),
				"queries", len(fixtures.Queries),
			)

			return nil
		},
	}
}

func seed(ctx context.Context, targets persistence.TargetWriter, fixtures *Fixtures) error {
	for _, dataSource := range fixtures.DataSources {
		if err := targets.SaveDataSource(ctx, dataSource); err != nil {
			return fmt.Errorf("failed to save data source %s: %w", dataSource.ID, err)
		}
	}

	for _, dashboard := range fixtures.Dashboards {
		if err := targets.SaveDashboard(ctx, dashboard); err != nil {
			return fmt.Errorf("failed to save dashboard %s: %w", dashboard.ID, err)
		}
	}

	for _, query := range fixtures.Queries {
		if err := targets.SaveQuery(ctx, query); err != nil {
			return fmt.Errorf("failed to save query %s: %w", query.ID, err)
		}
	}

	return nil
}
