// Command tastectl runs tastehub maintenance tasks: schema migrations, batch profile refreshes
// and catalog vector derivation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turri/tastehub/internal/api/validation"
	"github.com/turri/tastehub/internal/config"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/migrations"
	"github.com/turri/tastehub/pkg/database"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tastectl",
		Short:         "tastehub maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and River migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	})

	refreshCmd := &cobra.Command{
		Use:       "refresh {orders|analytics}",
		Short:     "Refresh customer profiles from a purchase history or web analytics window",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"orders", "analytics"},
		RunE:      runRefresh,
	}
	refreshCmd.Flags().String("from", "", "Window start, YYYY-MM-DD or RFC3339 (default: now minus REFRESH_LOOKBACK)")
	rootCmd.AddCommand(refreshCmd)

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Derive product and producer vectors",
	}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "taste",
		Short: "Recompute product and producer taste vectors",
		Args:  cobra.NoArgs,
		RunE:  runCatalog(catalogTaste),
	})
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "embed",
		Short: "Embed products and producers that have no embedding yet",
		Args:  cobra.NoArgs,
		RunE:  runCatalog(catalogEmbed),
	})
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Recompute taste vectors, then backfill embeddings",
		Args:  cobra.NoArgs,
		RunE:  runCatalog(catalogAll),
	})
	rootCmd.AddCommand(catalogCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		slog.Error("tastectl failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadForTool()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.LogLevel))

	return cfg, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := database.RunMigrations(cfg.DatabaseURL, migrations.FS); err != nil {
		return err
	}

	db, err := database.NewPostgresPool(cmd.Context(), cfg.DatabaseURL,
		//nolint:gosec // G115: bounded to int32 in config.Load
		database.WithMaxConns(int32(cfg.DatabaseMaxConns)),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	return database.RunRiverMigrations(cmd.Context(), db)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	source := models.SourcePurchaseHistory
	if args[0] == "analytics" {
		source = models.SourceWebAnalytics
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	from := time.Now().UTC().Add(-cfg.RefreshLookback)

	if raw, _ := cmd.Flags().GetString("from"); raw != "" {
		from, err = validation.ParseDate(raw)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}

	svc, err := newDeps(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	slog.Info("refreshing profiles", "source", source, "from", from.Format(time.RFC3339))

	result, err := svc.refresh.Refresh(cmd.Context(), source, from)
	if err != nil {
		return err
	}

	return printJSON(cmd, result)
}

type catalogTask int

const (
	catalogTaste catalogTask = iota
	catalogEmbed
	catalogAll
)

func runCatalog(task catalogTask) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		svc, err := newDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.close()

		var result models.CatalogRefreshResult

		switch task {
		case catalogTaste:
			result, err = svc.catalog.RecomputeTasteVectors(cmd.Context())
		case catalogEmbed:
			result, err = svc.catalog.BackfillEmbeddings(cmd.Context())
		default:
			result, err = svc.catalog.Refresh(cmd.Context())
		}

		if err != nil {
			return err
		}

		return printJSON(cmd, result)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	return nil
}
