package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/engine"
	"github.com/jonathan/job-applier/internal/logger"
	"github.com/jonathan/job-applier/internal/notify"
	"github.com/jonathan/job-applier/internal/profile"
	"github.com/jonathan/job-applier/internal/store"
)

var applyCommand = &cobra.Command{
	Use:   "apply [job-url...]",
	Short: "Apply to one or more job postings",
	Long: `Navigates to each posting, analyzes the application form, fills it from the
candidate profile, resolves verification challenges, submits, and records the outcome.

Postings come from positional URLs, a --jobs JSON file, or both.
Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runApplyCmd,
}

var (
	applyConfigPath   string
	applyProfilePath  string
	applyResumePath   string
	applyCoverLetter  string
	applyJobsPath     string
	applyDataDir      string
	applyEvidenceDir  string
	applyDatabaseURL  string
	applyHeadless     bool
	applyConcurrency  int
	applyServiceKey   string
	applyDailyBudget  float64
	applySlackToken   string
	applySlackChannel string
	applyVerbose      bool
	applyJSONLog      bool
)

func init() {
	// Config file flag (processed first)
	applyCommand.Flags().StringVar(&applyConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	applyCommand.Flags().StringVarP(&applyProfilePath, "profile", "p", "", "Path to candidate profile JSON")
	applyCommand.Flags().StringVarP(&applyResumePath, "resume", "r", "", "Path to resume file to upload")
	applyCommand.Flags().StringVar(&applyCoverLetter, "cover-letter", "", "Path to cover letter text file")
	applyCommand.Flags().StringVarP(&applyJobsPath, "jobs", "j", "", "Path to JSON file listing postings ([{\"url\":..., \"title\":..., \"company\":...}])")
	applyCommand.Flags().StringVar(&applyDataDir, "data-dir", "", "Directory for durable state (metrics, attempts, session cache)")
	applyCommand.Flags().StringVar(&applyEvidenceDir, "evidence-dir", "", "Directory for page snapshots")
	applyCommand.Flags().BoolVar(&applyHeadless, "headless", true, "Run the browser headless")
	applyCommand.Flags().IntVar(&applyConcurrency, "concurrency", 0, "Parallel application attempts")
	applyCommand.Flags().Float64Var(&applyDailyBudget, "daily-budget", 0, "Daily challenge solving budget in dollars")
	applyCommand.Flags().BoolVarP(&applyVerbose, "verbose", "v", false, "Print detailed debug information")
	applyCommand.Flags().BoolVar(&applyJSONLog, "json-log", false, "Emit structured JSON logs")

	// Solving service key can be passed as a flag, or read from env var CAPTCHA_API_KEY
	applyCommand.Flags().StringVar(&applyServiceKey, "service-key", "", "Challenge solving service API key (optional, defaults to CAPTCHA_API_KEY env var)")

	// Slack escalation channel for challenges no tier can clear
	applyCommand.Flags().StringVar(&applySlackToken, "slack-token", "", "Slack bot token for human escalation (optional, defaults to SLACK_BOT_TOKEN env var)")
	applyCommand.Flags().StringVar(&applySlackChannel, "slack-channel", "", "Slack channel for human escalation")

	// Database URL for shared state across workers
	applyCommand.Flags().StringVar(&applyDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var; empty uses the file store)")

	rootCmd.AddCommand(applyCommand)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Step 1: Load config file if provided
	var cfg config.Config
	if applyConfigPath != "" {
		loadedCfg, err := config.Load(applyConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	if cmd.Flags().Changed("profile") {
		cfg.Profile = applyProfilePath
	}
	if cmd.Flags().Changed("resume") {
		cfg.ResumePath = applyResumePath
	}
	if cmd.Flags().Changed("cover-letter") {
		cfg.CoverLetter = applyCoverLetter
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = applyDataDir
	}
	if cmd.Flags().Changed("evidence-dir") {
		cfg.EvidenceDir = applyEvidenceDir
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = applyHeadless
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = applyConcurrency
	}
	if cmd.Flags().Changed("service-key") {
		cfg.Challenge.ServiceKey = applyServiceKey
	}
	if cmd.Flags().Changed("daily-budget") {
		cfg.Challenge.DailyBudget = applyDailyBudget
	}
	if cmd.Flags().Changed("slack-token") {
		cfg.Slack.Token = applySlackToken
	}
	if cmd.Flags().Changed("slack-channel") {
		cfg.Slack.Channel = applySlackChannel
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = applyDatabaseURL
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = applyVerbose
	}
	if cmd.Flags().Changed("json-log") {
		cfg.JSONLog = applyJSONLog
	}
	if !cmd.Flags().Changed("headless") && applyConfigPath == "" {
		cfg.Headless = true
	}

	// Step 3: Apply defaults for unset values
	cfg = cfg.MergeWithDefaults(config.Default())

	// Step 4: Environment fallbacks
	if cfg.Challenge.ServiceKey == "" {
		cfg.Challenge.ServiceKey = os.Getenv("CAPTCHA_API_KEY")
	}
	if cfg.Slack.Token == "" {
		cfg.Slack.Token = os.Getenv("SLACK_BOT_TOKEN")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	// Step 5: Validate required inputs
	if cfg.Profile == "" {
		return fmt.Errorf("--profile is required (via flag or config)")
	}
	targets, err := loadTargets(args, applyJobsPath)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no postings given; pass job URLs or --jobs")
	}

	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	coverLetter := ""
	if cfg.CoverLetter != "" {
		data, err := os.ReadFile(cfg.CoverLetter)
		if err != nil {
			return fmt.Errorf("failed to read cover letter: %w", err)
		}
		coverLetter = string(data)
	}

	log, err := logger.New(cfg.JSONLog, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.EvidenceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}

	// The budget picks up whatever today's earlier runs already spent.
	spent, err := st.DailyCost(ctx, store.Day(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to read today's solving spend: %w", err)
	}

	var notifier challenge.Notifier
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, log)
	}

	resolver := challenge.NewResolver(cfg.Challenge, spent, st, notifier, cfg.EvidenceDir, log)

	newPage := func(ctx context.Context) (browser.Page, func(), error) {
		session, err := browser.NewSession(ctx, cfg.Headless)
		if err != nil {
			return nil, nil, err
		}
		return session, session.Close, nil
	}

	eng := engine.New(cfg, prof, resolver, st, newPage, log)
	results := eng.RunAll(ctx, targets, engine.Artifacts{
		ResumePath:  cfg.ResumePath,
		CoverLetter: coverLetter,
	})

	printResults(results)
	return nil
}

// jobEntry mirrors one element of the --jobs file.
type jobEntry struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

// loadTargets merges positional URLs with the --jobs file, preserving order:
// file entries first, then bare URLs.
func loadTargets(args []string, jobsPath string) ([]engine.Target, error) {
	var targets []engine.Target

	if jobsPath != "" {
		data, err := os.ReadFile(jobsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read jobs file: %w", err)
		}
		var entries []jobEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse jobs file: %w", err)
		}
		for _, e := range entries {
			if e.URL == "" {
				return nil, fmt.Errorf("jobs file entry missing url")
			}
			targets = append(targets, engine.Target{URL: e.URL, Title: e.Title, Company: e.Company})
		}
	}

	for _, arg := range args {
		if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
			return nil, fmt.Errorf("invalid job URL: %s", arg)
		}
		targets = append(targets, engine.Target{URL: arg})
	}

	return targets, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		st, err := store.ConnectPG(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func printResults(results []engine.Result) {
	succeeded := 0
	for _, r := range results {
		status := r.Outcome
		if r.Err != "" {
			status = fmt.Sprintf("%s (%s)", r.Outcome, r.Err)
		}
		fmt.Printf("[%s] %s -> %s (%d fields, %s)\n", r.ID, r.URL, status, len(r.FieldsFilled), r.Elapsed.Round(time.Second))
		if r.Outcome == engine.OutcomeSuccess || r.Outcome == engine.OutcomeSubmittedUnverified {
			succeeded++
		}
	}
	fmt.Printf("\n%d/%d applications submitted\n", succeeded, len(results))
}
