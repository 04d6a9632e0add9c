// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChallengeConfig controls the verification-challenge resolver.
type ChallengeConfig struct {
	// Paid solving service
	ServiceKey     string `json:"service_key,omitempty"`      // API key; empty disables the paid tier
	ServiceBaseURL string `json:"service_base_url,omitempty"` // Override for testing; defaults to 2captcha.com
	Provider       string `json:"provider,omitempty"`         // Cost-table provider key

	// CostTable maps provider -> challenge type -> dollars per solve.
	// Editable without code changes.
	CostTable map[string]map[string]float64 `json:"cost_table,omitempty"`

	DailyBudget float64 `json:"daily_budget,omitempty"`  // Dollars per calendar day across all attempts
	HourlyLimit int     `json:"hourly_limit,omitempty"`  // Max resolver invocations per rolling hour
	MaxAttempts int     `json:"max_attempts,omitempty"`  // Resolver invocations per application attempt

	PollIntervalSec       int `json:"poll_interval_sec,omitempty"`        // Service result poll cadence
	SimpleMaxWaitSec      int `json:"simple_max_wait_sec,omitempty"`      // Service wait for image-style challenges
	InteractiveMaxWaitSec int `json:"interactive_max_wait_sec,omitempty"` // Service wait for multi-step challenges
	HumanTimeoutSec       int `json:"human_timeout_sec,omitempty"`        // Tier-3 wait for a human
}

// SlackConfig configures the out-of-band human escalation channel.
type SlackConfig struct {
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Paths
	Profile     string `json:"profile,omitempty"`      // Path to candidate profile JSON
	ResumePath  string `json:"resume_path,omitempty"`  // Path to resume file to upload
	CoverLetter string `json:"cover_letter,omitempty"` // Path to cover letter text file
	DataDir     string `json:"data_dir,omitempty"`     // Durable state (metrics, session cache)
	EvidenceDir string `json:"evidence_dir,omitempty"` // Page snapshot output

	// Storage
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL URL; empty uses the file store

	// Browser
	Headless             bool `json:"headless,omitempty"`
	NavigationTimeoutSec int  `json:"navigation_timeout_sec,omitempty"`
	AnalysisTimeoutSec   int  `json:"analysis_timeout_sec,omitempty"` // DOM stabilization bound

	Challenge ChallengeConfig `json:"challenge,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty"`

	// Behavior
	Concurrency int  `json:"concurrency,omitempty"` // Parallel application attempts
	Verbose     bool `json:"verbose,omitempty"`
	JSONLog     bool `json:"json_log,omitempty"`
}

// Default returns the configuration used when a field is unset everywhere.
func Default() Config {
	return Config{
		DataDir:              "data",
		EvidenceDir:          filepath.Join("data", "evidence"),
		Headless:             true,
		NavigationTimeoutSec: 60,
		AnalysisTimeoutSec:   10,
		Concurrency:          1,
		Challenge: ChallengeConfig{
			Provider:              "2captcha",
			DailyBudget:           1.0,
			HourlyLimit:           20,
			MaxAttempts:           3,
			PollIntervalSec:       5,
			SimpleMaxWaitSec:      120,
			InteractiveMaxWaitSec: 180,
			HumanTimeoutSec:       300,
			CostTable: map[string]map[string]float64{
				"2captcha": {
					"recaptcha_v2": 0.003,
					"recaptcha_v3": 0.004,
					"hcaptcha":     0.003,
					"funcaptcha":   0.004,
					"turnstile":    0.003,
				},
				"anti-captcha": {
					"recaptcha_v2": 0.002,
					"recaptcha_v3": 0.003,
					"hcaptcha":     0.002,
					"funcaptcha":   0.003,
					"turnstile":    0.002,
				},
			},
		},
	}
}

// Load loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Required fields are checked after merging with CLI flags, not here.
func (c *Config) Validate() error {
	if c.Challenge.DailyBudget < 0 {
		return fmt.Errorf("config error: 'challenge.daily_budget' must be non-negative")
	}
	if c.Challenge.HourlyLimit < 0 {
		return fmt.Errorf("config error: 'challenge.hourly_limit' must be non-negative")
	}
	if c.Challenge.MaxAttempts < 0 {
		return fmt.Errorf("config error: 'challenge.max_attempts' must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	for provider, table := range c.Challenge.CostTable {
		for ctype, cost := range table {
			if cost < 0 {
				return fmt.Errorf("config error: cost_table[%s][%s] must be non-negative", provider, ctype)
			}
		}
	}

	if c.ResumePath != "" {
		if _, err := os.Stat(c.ResumePath); os.IsNotExist(err) {
			return fmt.Errorf("config error: resume file not found: %s", c.ResumePath)
		}
	}
	if c.Profile != "" {
		if _, err := os.Stat(c.Profile); os.IsNotExist(err) {
			return fmt.Errorf("config error: profile file not found: %s", c.Profile)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Profile == "" {
		result.Profile = defaults.Profile
	}
	if result.ResumePath == "" {
		result.ResumePath = defaults.ResumePath
	}
	if result.CoverLetter == "" {
		result.CoverLetter = defaults.CoverLetter
	}
	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.EvidenceDir == "" {
		result.EvidenceDir = defaults.EvidenceDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.NavigationTimeoutSec == 0 {
		result.NavigationTimeoutSec = defaults.NavigationTimeoutSec
	}
	if result.AnalysisTimeoutSec == 0 {
		result.AnalysisTimeoutSec = defaults.AnalysisTimeoutSec
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}

	if result.Challenge.Provider == "" {
		result.Challenge.Provider = defaults.Challenge.Provider
	}
	if result.Challenge.ServiceKey == "" {
		result.Challenge.ServiceKey = defaults.Challenge.ServiceKey
	}
	if result.Challenge.ServiceBaseURL == "" {
		result.Challenge.ServiceBaseURL = defaults.Challenge.ServiceBaseURL
	}
	if result.Challenge.DailyBudget == 0 {
		result.Challenge.DailyBudget = defaults.Challenge.DailyBudget
	}
	if result.Challenge.HourlyLimit == 0 {
		result.Challenge.HourlyLimit = defaults.Challenge.HourlyLimit
	}
	if result.Challenge.MaxAttempts == 0 {
		result.Challenge.MaxAttempts = defaults.Challenge.MaxAttempts
	}
	if result.Challenge.PollIntervalSec == 0 {
		result.Challenge.PollIntervalSec = defaults.Challenge.PollIntervalSec
	}
	if result.Challenge.SimpleMaxWaitSec == 0 {
		result.Challenge.SimpleMaxWaitSec = defaults.Challenge.SimpleMaxWaitSec
	}
	if result.Challenge.InteractiveMaxWaitSec == 0 {
		result.Challenge.InteractiveMaxWaitSec = defaults.Challenge.InteractiveMaxWaitSec
	}
	if result.Challenge.HumanTimeoutSec == 0 {
		result.Challenge.HumanTimeoutSec = defaults.Challenge.HumanTimeoutSec
	}
	if result.Challenge.CostTable == nil {
		result.Challenge.CostTable = defaults.Challenge.CostTable
	}

	if result.Slack.Token == "" {
		result.Slack.Token = defaults.Slack.Token
	}
	if result.Slack.Channel == "" {
		result.Slack.Channel = defaults.Slack.Channel
	}

	return result
}

// CostFor returns the configured cost for the given challenge type under the
// active provider, falling back to a conservative default when unlisted.
func (c ChallengeConfig) CostFor(challengeType string) float64 {
	if table, ok := c.CostTable[c.Provider]; ok {
		if cost, ok := table[challengeType]; ok {
			return cost
		}
	}
	return 0.005
}
