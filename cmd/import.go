package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/config"
	"github.com/grandcru/winematch/internal/importer"
	"github.com/grandcru/winematch/internal/store"
)

var importDatabaseURL string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load the comparison and rating tables into the deal store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if importDatabaseURL != "" {
			cfg.Store.DatabaseURL = importDatabaseURL
		}
		res, err := runImport(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	driver, dsn := c.Store.Connection()
	st, err := store.Open(ctx, driver, dsn, &c.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func runImport(ctx context.Context, c *config.Config) (*importer.Result, error) {
	if err := c.Validate("import"); err != nil {
		return nil, err
	}
	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}()

	res, err := importer.New(importer.Options{
		Comparison:      c.Paths.Comparison,
		Ratings:         c.Paths.Ratings,
		Overrides:       c.Paths.Overrides,
		RetentionDays:   c.Importer.HistoryRetentionDays,
		PlatinumBaseURL: c.Importer.PlatinumBaseURL,
	}, st).Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "import")
	}
	return res, nil
}

func init() {
	importCmd.Flags().StringVar(&importDatabaseURL, "database-url", "", "override store.database_url for this import")
	rootCmd.AddCommand(importCmd)
}
