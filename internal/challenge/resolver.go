package challenge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/config"
)

// Recorder persists challenge resolutions to durable metrics storage.
type Recorder interface {
	RecordResolution(ctx context.Context, c *Challenge, r Resolution) error
}

// Escalation is the out-of-band message sent when a challenge needs a human.
type Escalation struct {
	Challenge    *Challenge
	JobTitle     string
	Company      string
	SnapshotPath string
}

// Notifier delivers escalations to an operator channel and reports whether
// the operator has explicitly acknowledged a challenge as solved.
type Notifier interface {
	Escalate(ctx context.Context, e Escalation) error
	Acknowledged(ctx context.Context, challengeID string) (bool, error)
}

// JobContext carries the originating posting's identity for escalation
// messages and metrics.
type JobContext struct {
	Title   string
	Company string
}

// strategy is one tier in the fallback chain. Tiers are tried in order;
// the first success wins.
type strategy interface {
	tier() Tier
	available(c *Challenge) bool
	attempt(ctx context.Context, page browser.Page, c *Challenge, job JobContext) Resolution
}

// Resolver runs the tiered resolution state machine. One resolver is shared
// across concurrent application attempts; the rate limiter and budget inside
// it are process-wide.
type Resolver struct {
	cfg      config.ChallengeConfig
	limiter  *RateLimiter
	budget   *Budget
	tiers    []strategy
	recorder Recorder
	logger   *zap.Logger
}

// NewResolver wires the tier chain from configuration. spentToday seeds the
// budget from the metrics store so restarts keep the daily cap binding.
// notifier may be nil; the human tier then waits on page evidence alone.
func NewResolver(cfg config.ChallengeConfig, spentToday float64, recorder Recorder, notifier Notifier, evidenceDir string, logger *zap.Logger) *Resolver {
	budget := NewBudget(cfg.DailyBudget, spentToday)
	service := NewSolveService(cfg.Provider, cfg.ServiceKey, cfg.ServiceBaseURL,
		time.Duration(cfg.PollIntervalSec)*time.Second, logger)

	tiers := []strategy{
		&autoTier{logger: logger},
		&serviceTier{cfg: cfg, service: service, budget: budget, logger: logger},
		&humanTier{cfg: cfg, notifier: notifier, evidenceDir: evidenceDir, logger: logger},
	}

	return &Resolver{
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.HourlyLimit),
		budget:   budget,
		tiers:    tiers,
		recorder: recorder,
		logger:   logger,
	}
}

// Spent reports today's committed paid-tier spend.
func (r *Resolver) Spent() float64 {
	return r.budget.Spent()
}

// Resolve consumes a detected challenge and walks the tier chain. Each
// tier's outcome is recorded before moving on. The returned error is
// ErrRateLimited, ErrUnresolved, or nil on success.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, c *Challenge, job JobContext) (Resolution, error) {
	if !r.limiter.Allow() {
		res := Resolution{
			ChallengeID: c.ID,
			Tier:        TierNone,
			Err:         ErrRateLimited.Error(),
		}
		r.record(ctx, c, res)
		return res, ErrRateLimited
	}

	r.logger.Info("resolving challenge",
		zap.String("challenge_id", c.ID),
		zap.String("type", string(c.Type)),
		zap.String("page_url", c.PageURL),
		zap.Bool("site_key_found", c.SiteKey != ""))

	var last Resolution
	for _, tier := range r.tiers {
		if !tier.available(c) {
			continue
		}
		res := tier.attempt(ctx, page, c, job)
		res.ChallengeID = c.ID
		r.record(ctx, c, res)
		if res.Success {
			r.logger.Info("challenge resolved",
				zap.String("challenge_id", c.ID),
				zap.String("tier", string(res.Tier)),
				zap.Float64("cost", res.Cost),
				zap.Duration("elapsed", res.Elapsed))
			return res, nil
		}
		last = res
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
	}

	if last.Tier == "" {
		last = Resolution{ChallengeID: c.ID, Tier: TierNone, Err: "no tier available for challenge"}
		r.record(ctx, c, last)
	}
	return last, ErrUnresolved
}

func (r *Resolver) record(ctx context.Context, c *Challenge, res Resolution) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordResolution(ctx, c, res); err != nil {
		r.logger.Warn("failed to record challenge resolution",
			zap.String("challenge_id", c.ID), zap.Error(err))
	}
}

// autoTier attempts zero-cost interaction. Only checkbox-style recaptcha v2
// has a known automatic path: click the anchor and see if the markers clear.
type autoTier struct {
	logger *zap.Logger
}

func (t *autoTier) tier() Tier { return TierAuto }

func (t *autoTier) available(c *Challenge) bool {
	return c.Type == TypeRecaptchaV2
}

var recaptchaCheckboxSelectors = []string{
	"#recaptcha-anchor",
	".recaptcha-checkbox-border",
	".g-recaptcha",
}

func (t *autoTier) attempt(ctx context.Context, page browser.Page, c *Challenge, _ JobContext) Resolution {
	start := time.Now()

	for _, sel := range recaptchaCheckboxSelectors {
		if err := page.Click(ctx, sel); err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return Resolution{Tier: TierAuto, Elapsed: time.Since(start), Err: ctx.Err().Error()}
		case <-time.After(3 * time.Second):
		}
		html, err := page.HTML(ctx)
		if err != nil {
			continue
		}
		if !StillPresent(html) {
			return Resolution{Success: true, Tier: TierAuto, Elapsed: time.Since(start)}
		}
	}
	return Resolution{Tier: TierAuto, Elapsed: time.Since(start), Err: "automatic interaction did not clear challenge"}
}

// serviceTier submits the challenge to the paid solving service, injects the
// returned token, and re-verifies the page.
type serviceTier struct {
	cfg     config.ChallengeConfig
	service *SolveService
	budget  *Budget
	logger  *zap.Logger
}

func (t *serviceTier) tier() Tier { return TierService }

func (t *serviceTier) available(c *Challenge) bool {
	return t.service.Available() && t.service.Supports(c.Type) && c.SiteKey != ""
}

func (t *serviceTier) attempt(ctx context.Context, page browser.Page, c *Challenge, _ JobContext) Resolution {
	start := time.Now()

	cost := t.cfg.CostFor(string(c.Type))
	if !t.budget.Reserve(cost) {
		t.logger.Warn("daily challenge budget reached, skipping paid tier",
			zap.String("challenge_id", c.ID),
			zap.Float64("estimated_cost", cost),
			zap.Float64("daily_budget", t.cfg.DailyBudget))
		return Resolution{Tier: TierService, Elapsed: time.Since(start), Err: ErrBudgetExhausted.Error()}
	}

	maxWait := time.Duration(t.cfg.SimpleMaxWaitSec) * time.Second
	if c.Type == TypeFunCaptcha {
		maxWait = time.Duration(t.cfg.InteractiveMaxWaitSec) * time.Second
	}

	token, err := t.service.Solve(ctx, c, maxWait)
	if err != nil {
		t.budget.Release(cost)
		return Resolution{Tier: TierService, Elapsed: time.Since(start), Err: err.Error()}
	}

	if err := injectToken(ctx, page, c, token); err != nil {
		return Resolution{Tier: TierService, Elapsed: time.Since(start), Cost: cost, Err: err.Error()}
	}

	html, err := page.HTML(ctx)
	if err == nil && StillPresent(html) {
		return Resolution{Tier: TierService, Elapsed: time.Since(start), Cost: cost, Token: token,
			Err: "challenge markers still present after token injection"}
	}

	return Resolution{Success: true, Tier: TierService, Token: token, Cost: cost, Elapsed: time.Since(start)}
}

// humanTier escalates to an operator and polls the page for evidence the
// challenge was solved, accepting either explicit acknowledgment or page
// state showing success phrases or cleared markers.
type humanTier struct {
	cfg         config.ChallengeConfig
	notifier    Notifier
	evidenceDir string
	logger      *zap.Logger
}

func (t *humanTier) tier() Tier { return TierHuman }

func (t *humanTier) available(_ *Challenge) bool { return true }

var humanSuccessPhrases = []string{
	"thank you",
	"application received",
	"successfully submitted",
}

var humanSuccessURLParts = []string{"/confirmation", "/success", "/thank"}

func (t *humanTier) attempt(ctx context.Context, page browser.Page, c *Challenge, job JobContext) Resolution {
	start := time.Now()

	snapshot := c.SnapshotPath
	if snapshot == "" && t.evidenceDir != "" {
		path := filepath.Join(t.evidenceDir, "challenge_"+c.ID+".png")
		if err := page.Screenshot(ctx, path); err == nil {
			snapshot = path
		}
	}

	if t.notifier != nil {
		if err := t.notifier.Escalate(ctx, Escalation{
			Challenge:    c,
			JobTitle:     job.Title,
			Company:      job.Company,
			SnapshotPath: snapshot,
		}); err != nil {
			t.logger.Warn("escalation delivery failed, still polling page state",
				zap.String("challenge_id", c.ID), zap.Error(err))
		}
	} else {
		t.logger.Info("no escalation channel configured, waiting on page state",
			zap.String("challenge_id", c.ID))
	}

	timeout := time.Duration(t.cfg.HumanTimeoutSec) * time.Second
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Resolution{Tier: TierHuman, Elapsed: time.Since(start), Err: ctx.Err().Error()}
		case <-ticker.C:
		}

		if t.notifier != nil {
			if ack, err := t.notifier.Acknowledged(ctx, c.ID); err == nil && ack {
				return Resolution{Success: true, Tier: TierHuman, Elapsed: time.Since(start)}
			}
		}

		html, err := page.HTML(ctx)
		if err != nil {
			continue
		}
		pageURL, _ := page.URL(ctx)
		if humanEvidence(html, pageURL) {
			return Resolution{Success: true, Tier: TierHuman, Elapsed: time.Since(start)}
		}
	}

	return Resolution{Tier: TierHuman, Elapsed: time.Since(start),
		Err: "human assistance timed out after " + timeout.String()}
}

// humanEvidence reports page state showing the challenge was cleared: a
// success phrase, a confirmation-style URL, or no challenge markers left.
func humanEvidence(html, pageURL string) bool {
	lower := strings.ToLower(html)
	for _, phrase := range humanSuccessPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	lowerURL := strings.ToLower(pageURL)
	for _, part := range humanSuccessURLParts {
		if strings.Contains(lowerURL, part) {
			return true
		}
	}
	return !StillPresent(html)
}

// IsFatal reports whether a resolution error ends the enclosing application
// attempt rather than falling through to another tier.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnresolved)
}
