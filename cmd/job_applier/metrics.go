package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/store"
)

var metricsCommand = &cobra.Command{
	Use:   "metrics",
	Short: "Show challenge metrics and attempt outcomes for a day",
	RunE:  runMetricsCmd,
}

var (
	metricsDay         string
	metricsConfigPath  string
	metricsDataDir     string
	metricsDatabaseURL string
)

func init() {
	metricsCommand.Flags().StringVar(&metricsDay, "day", "", "Day to report (YYYY-MM-DD, defaults to today)")
	metricsCommand.Flags().StringVar(&metricsConfigPath, "config", "", "Path to config.json file")
	metricsCommand.Flags().StringVar(&metricsDataDir, "data-dir", "", "Directory holding the file store")
	metricsCommand.Flags().StringVar(&metricsDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(metricsCommand)
}

func runMetricsCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	var cfg config.Config
	if metricsConfigPath != "" {
		loadedCfg, err := config.Load(metricsConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = metricsDataDir
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = metricsDatabaseURL
	}
	cfg = cfg.MergeWithDefaults(config.Default())
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	day := metricsDay
	if day == "" {
		day = store.Day(time.Now().UTC())
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics, err := st.Metrics(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	cost, err := st.DailyCost(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read daily cost: %w", err)
	}
	attempts, err := st.AttemptsFor(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read attempts: %w", err)
	}

	fmt.Printf("Challenge metrics for %s\n", day)
	if len(metrics) == 0 {
		fmt.Println("  (no challenges)")
	}
	for typ, m := range metrics {
		fmt.Printf("  %-14s attempts=%d auto=%d service=%d human=%d failures=%d cost=$%.3f\n",
			typ, m.Attempts, m.Successes.Auto, m.Successes.Service, m.Successes.Human, m.Failures, m.Cost)
	}
	fmt.Printf("  total solving spend: $%.3f\n\n", cost)

	fmt.Printf("Application attempts for %s\n", day)
	if len(attempts) == 0 {
		fmt.Println("  (none)")
	}
	for _, rec := range attempts {
		fmt.Printf("  [%s] %s -> %s (%d fields)\n", rec.ID, rec.URL, rec.Outcome, rec.FieldsFilled)
	}
	return nil
}
