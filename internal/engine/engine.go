package engine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/dom"
	"github.com/jonathan/job-applier/internal/mapper"
	"github.com/jonathan/job-applier/internal/profile"
	"github.com/jonathan/job-applier/internal/store"
)

// PageFactory opens a fresh browser page for one attempt. The cleanup
// function tears the session down.
type PageFactory func(ctx context.Context) (browser.Page, func(), error)

// Engine drives application attempts. One engine serves concurrent
// attempts; per-attempt state lives in the Result and on the page.
type Engine struct {
	cfg      config.Config
	mapper   *mapper.Mapper
	analyzer *dom.Analyzer
	resolver *challenge.Resolver
	store    store.Store
	newPage  PageFactory
	logger   *zap.Logger

	// settle is how long to wait for the page to react after a click or
	// submit. Overridden in tests.
	settle time.Duration
}

func New(cfg config.Config, prof *profile.Profile, resolver *challenge.Resolver, st store.Store, newPage PageFactory, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		mapper:   mapper.New(prof, logger),
		analyzer: dom.NewAnalyzer(logger),
		resolver: resolver,
		store:    st,
		newPage:  newPage,
		logger:   logger,
		settle:   3 * time.Second,
	}
}

const sessionTTL = 24 * time.Hour

var deadPostingPhrases = []string{
	"no longer open",
	"position has been filled",
	"no longer accepting",
	"position is closed",
	"job has been closed",
	"posting has expired",
	"has been removed",
	"this job is no longer available",
	"job not found",
	"page not found",
	"404 error",
	"error 404",
	"sorry, we couldn't find",
	"this page doesn't exist",
}

var submitSuccessPhrases = []string{
	"thank you for applying",
	"application has been received",
	"application has been submitted",
	"we have received your application",
	"successfully submitted",
	"thank you for your interest",
	"application complete",
}

var submitErrorPhrases = []string{
	"error", "invalid", "please fill", "missing", "complete all",
}

// Apply runs the full pipeline for one target and reports a Result. The
// attempt is internally sequential; cancellation of ctx aborts it at the
// next suspension point.
func (e *Engine) Apply(ctx context.Context, target Target, art Artifacts) Result {
	result := newResult(target.URL)
	defer func() {
		result.Elapsed = time.Since(result.StartedAt)
		e.recordAttempt(target, result)
	}()

	log := e.logger.With(zap.String("attempt_id", result.ID), zap.String("url", target.URL))

	page, cleanup, err := e.newPage(ctx)
	if err != nil {
		result.fail(StateFailed, fmt.Errorf("failed to open browser page: %w", err))
		return *result
	}
	defer cleanup()

	e.restoreSession(ctx, page, target.URL)

	if err := page.Navigate(ctx, target.URL); err != nil {
		result.fail(StateFailed, err)
		return *result
	}
	result.State = StateInProgress
	dom.WaitStable(ctx, page, e.analysisTimeout())

	pageHTML, err := page.HTML(ctx)
	if err != nil {
		result.fail(StateFailed, err)
		return *result
	}
	title, _ := page.Title(ctx)

	// Dead postings terminate before any field is touched.
	if isDeadPosting(pageHTML, title) {
		log.Info("posting closed or gone, aborting")
		result.Outcome = OutcomeDeadPosting
		result.fail(StateFailed, ErrDeadPosting)
		return *result
	}

	analysis, err := e.ensureForm(ctx, page, target.URL)
	if err != nil {
		result.fail(StateFailed, err)
		return *result
	}
	log.Info("form analyzed",
		zap.Int("fields", len(analysis.Fields)),
		zap.Bool("file_upload", analysis.HasFileUpload),
		zap.Bool("challenge", analysis.Challenge != nil))

	// Challenges can appear before filling, typically gating the form.
	if analysis.Challenge != nil {
		if err := e.handleChallenge(ctx, page, analysis.Challenge, target, result); err != nil {
			result.fail(StateFailed, err)
			return *result
		}
		result.State = StateInProgress
	}

	e.snapshot(ctx, page, result, "before_fill")

	e.fill(ctx, page, analysis, art, result)
	log.Info("fill pass complete",
		zap.Int("filled", len(result.FieldsFilled)),
		zap.Int("unmapped", len(result.Unmapped)))

	e.snapshot(ctx, page, result, "after_fill")

	current, err := e.analyzer.AnalyzePage(ctx, page, e.analysisTimeout())
	if err != nil {
		result.fail(StateFailed, err)
		return *result
	}

	// Required fields get one corrective pass before giving up.
	if missing := current.RequiredUnfilled(); len(missing) > 0 {
		log.Info("required fields still empty, running corrective pass", zap.Int("missing", len(missing)))
		e.fillChoiceControls(ctx, page, missing, result)
		current, err = e.analyzer.AnalyzePage(ctx, page, e.analysisTimeout())
		if err != nil {
			result.fail(StateFailed, err)
			return *result
		}
		if still := current.RequiredUnfilled(); len(still) > 0 {
			names := make([]string, len(still))
			for i, f := range still {
				names[i] = f.Name
			}
			result.fail(StateFailed, fmt.Errorf("%w: %s", ErrRequiredFieldMissing, strings.Join(names, ", ")))
			return *result
		}
	}

	if current.SubmitSelector == "" {
		result.fail(StateFailed, ErrSubmitNotFound)
		return *result
	}

	urlBefore, _ := page.URL(ctx)
	if err := page.Click(ctx, current.SubmitSelector); err != nil {
		result.fail(StateFailed, fmt.Errorf("submit click failed: %w", err))
		return *result
	}
	result.State = StateSubmitted
	sleep(ctx, e.settle)

	// A challenge appearing post-submit is resolved inline, then the
	// outcome check runs against the refreshed page.
	postHTML, err := page.HTML(ctx)
	if err != nil {
		result.fail(StateFailed, err)
		return *result
	}
	if c := challenge.Detect(postHTML, urlBefore); c != nil {
		if err := e.handleChallenge(ctx, page, c, target, result); err != nil {
			result.fail(StateFailed, err)
			e.snapshot(ctx, page, result, "after_submit")
			return *result
		}
		sleep(ctx, e.settle)
	}

	e.snapshot(ctx, page, result, "after_submit")
	e.classifyOutcome(ctx, page, urlBefore, result)

	if result.Outcome == OutcomeSuccess {
		e.cacheSession(ctx, page, target.URL)
	}
	return *result
}

// RunAll applies to every target with bounded concurrency. Each attempt
// gets its own page; results keep target order.
func (e *Engine) RunAll(ctx context.Context, targets []Target, art Artifacts) []Result {
	results := make([]Result, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())

	for i, t := range targets {
		g.Go(func() error {
			results[i] = e.Apply(ctx, t, art)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Result) fail(state FormState, err error) {
	r.State = state
	if r.Err == "" && err != nil {
		r.Err = err.Error()
	}
}

func (e *Engine) analysisTimeout() time.Duration {
	return time.Duration(e.cfg.AnalysisTimeoutSec) * time.Second
}

func (e *Engine) concurrency() int {
	if e.cfg.Concurrency < 1 {
		return 1
	}
	return e.cfg.Concurrency
}

func isDeadPosting(pageHTML, title string) bool {
	haystack := strings.ToLower(pageHTML + " " + title)
	for _, phrase := range deadPostingPhrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}

// ensureForm analyzes the page and, when the landing page is not the form,
// follows an apply affordance and re-analyzes, with bounded retries.
func (e *Engine) ensureForm(ctx context.Context, page browser.Page, targetURL string) (*dom.Analysis, error) {
	const maxTries = 3

	for try := 0; try < maxTries; try++ {
		analysis, err := e.analyzer.AnalyzePage(ctx, page, e.analysisTimeout())
		if err != nil {
			return nil, err
		}
		if len(analysis.Fields) >= 2 {
			return analysis, nil
		}

		pageHTML, err := page.HTML(ctx)
		if err != nil {
			return nil, err
		}

		href, selector := dom.FindApplyAffordance(pageHTML)
		switch {
		case href != "":
			target := resolveHref(analysis.PageURL, href)
			if err := page.Navigate(ctx, target); err != nil {
				return nil, err
			}
		case selector != "":
			if err := page.Click(ctx, selector); err != nil {
				return nil, err
			}
			sleep(ctx, e.settle)
		default:
			// Last resort: many boards serve the form at /apply.
			if try == maxTries-1 {
				break
			}
			if err := page.Navigate(ctx, strings.TrimRight(targetURL, "/")+"/apply"); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return nil, ErrNoForm
}

func resolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// handleChallenge delegates to the resolver, enforcing the per-attempt
// invocation bound.
func (e *Engine) handleChallenge(ctx context.Context, page browser.Page, c *challenge.Challenge, target Target, result *Result) error {
	result.State = StateChallengeRequired

	if result.ChallengeAttempts >= e.cfg.Challenge.MaxAttempts {
		return ErrChallengeRetryExceeded
	}
	result.ChallengeAttempts++

	_, err := e.resolver.Resolve(ctx, page, c, challenge.JobContext{Title: target.Title, Company: target.Company})
	return err
}

// fill runs the two-pass fill: choice controls first, then a re-analysis to
// pick up conditionally revealed fields, then text, upload and the rest.
func (e *Engine) fill(ctx context.Context, page browser.Page, analysis *dom.Analysis, art Artifacts, result *Result) {
	e.fillChoiceControls(ctx, page, analysis.Fields, result)

	// Choice answers frequently reveal extra controls.
	refreshed, err := e.analyzer.AnalyzePage(ctx, page, e.analysisTimeout())
	if err == nil {
		analysis = refreshed
	}

	for _, f := range analysis.Fields {
		if !f.Fillable() || f.Value != "" || alreadyFilled(result, f) {
			continue
		}
		switch {
		case f.Type == dom.FieldFile:
			e.fillUpload(ctx, page, f, art, result)
		case f.Tag == "select", f.InputType == "radio", f.InputType == "checkbox":
			// Handled by the choice pass.
		case f.Type == dom.FieldTextarea && isCoverLetter(f) && art.CoverLetter != "":
			e.fillText(ctx, page, f, art.CoverLetter, result)
		default:
			value, ok := e.mapper.Value(f)
			if !ok {
				result.Unmapped = append(result.Unmapped, fieldName(f))
				continue
			}
			e.fillText(ctx, page, f, value, result)
		}
	}
}

// fillChoiceControls resolves selects, radio groups and checkboxes. Also
// used as the corrective pass for required fields.
func (e *Engine) fillChoiceControls(ctx context.Context, page browser.Page, fields []dom.Field, result *Result) {
	radioGroups := make(map[string][]dom.Field)

	for _, f := range fields {
		if !f.Visible {
			continue
		}
		switch {
		case f.Tag == "select":
			if f.Value != "" || alreadyFilled(result, f) {
				continue
			}
			opt, ok := e.mapper.SelectOption(f)
			if !ok {
				result.Unmapped = append(result.Unmapped, fieldName(f))
				continue
			}
			if err := page.SelectByText(ctx, f.Selector, opt); err == nil {
				markFilled(result, f)
			}
		case f.InputType == "radio":
			radioGroups[f.Name] = append(radioGroups[f.Name], f)
		case f.InputType == "checkbox":
			if alreadyFilled(result, f) {
				continue
			}
			if e.mapper.ShouldCheck(f) {
				if err := page.Click(ctx, f.Selector); err == nil {
					markFilled(result, f)
				}
			}
		}
	}

	for name, group := range radioGroups {
		if alreadyFilled(result, group[0]) {
			continue
		}
		question := groupQuestion(group)
		answer, ok := e.mapper.RadioAnswer(group[0], question)
		if !ok {
			result.Unmapped = append(result.Unmapped, name)
			continue
		}
		if f, ok := optionFor(group, answer); ok {
			if err := page.Click(ctx, f.Selector); err == nil {
				markFilled(result, f)
			}
		}
	}
}

func (e *Engine) fillText(ctx context.Context, page browser.Page, f dom.Field, value string, result *Result) {
	if err := page.Fill(ctx, f.Selector, value); err != nil {
		e.logger.Warn("failed to fill field", zap.String("field", fieldName(f)), zap.Error(err))
		return
	}
	markFilled(result, f)
}

func (e *Engine) fillUpload(ctx context.Context, page browser.Page, f dom.Field, art Artifacts, result *Result) {
	if art.ResumePath == "" {
		return
	}
	if _, err := os.Stat(art.ResumePath); err != nil {
		e.logger.Warn("resume file missing", zap.String("path", art.ResumePath))
		return
	}
	if err := page.SetFiles(ctx, f.Selector, []string{art.ResumePath}); err != nil {
		e.logger.Warn("file upload failed", zap.String("field", fieldName(f)), zap.Error(err))
		return
	}
	markFilled(result, f)
}

func isCoverLetter(f dom.Field) bool {
	combined := strings.ToLower(f.CombinedText())
	return strings.Contains(combined, "cover letter") || strings.Contains(combined, "cover_letter") ||
		strings.Contains(combined, "coverletter")
}

// groupQuestion aggregates whatever text a radio group carries; individual
// options often hold only Yes/No labels while the question sits in the
// shared name or a group label.
func groupQuestion(group []dom.Field) string {
	var sb strings.Builder
	for _, f := range group {
		sb.WriteString(f.CombinedText())
		sb.WriteString(" ")
	}
	return sb.String()
}

// optionFor picks the radio option matching a Yes/No answer by value or
// label text.
func optionFor(group []dom.Field, answer string) (dom.Field, bool) {
	lower := strings.ToLower(answer)
	for _, f := range group {
		v := strings.ToLower(strings.TrimSpace(f.Value))
		l := strings.ToLower(strings.TrimSpace(f.Label))
		if v == lower || l == lower || strings.Contains(l, lower) || strings.Contains(v, lower) {
			return f, true
		}
	}
	// Yes answers also match affirmative values like "true" or "1".
	if lower == "yes" {
		for _, f := range group {
			v := strings.ToLower(f.Value)
			if v == "true" || v == "1" {
				return f, true
			}
		}
	}
	return dom.Field{}, false
}

func fieldName(f dom.Field) string {
	if f.Name != "" {
		return f.Name
	}
	if f.Label != "" {
		return f.Label
	}
	return f.Selector
}

func markFilled(result *Result, f dom.Field) {
	result.FieldsFilled = append(result.FieldsFilled, fieldName(f))
}

func alreadyFilled(result *Result, f dom.Field) bool {
	name := fieldName(f)
	for _, n := range result.FieldsFilled {
		if n == name {
			return true
		}
	}
	return false
}

// classifyOutcome inspects the post-submit page. Precedence: explicit
// success phrases or a confirmation URL, then explicit errors, then a still
// present form, and finally submitted-unverified for pages with no clear
// signal either way. The phrase lists are heuristics with a known
// false-negative rate; unverified is the honest default.
func (e *Engine) classifyOutcome(ctx context.Context, page browser.Page, urlBefore string, result *Result) {
	pageHTML, err := page.HTML(ctx)
	if err != nil {
		result.fail(StateFailed, err)
		return
	}
	lower := strings.ToLower(pageHTML)
	urlAfter, _ := page.URL(ctx)

	for _, phrase := range submitSuccessPhrases {
		if strings.Contains(lower, phrase) {
			result.State = StateSuccess
			result.Outcome = OutcomeSuccess
			return
		}
	}
	lowerURL := strings.ToLower(urlAfter)
	if urlAfter != urlBefore {
		for _, part := range []string{"/confirmation", "/success", "/thank"} {
			if strings.Contains(lowerURL, part) {
				result.State = StateSuccess
				result.Outcome = OutcomeSuccess
				return
			}
		}
	}

	for _, phrase := range submitErrorPhrases {
		if strings.Contains(lower, phrase) {
			result.fail(StateFailed, fmt.Errorf("page shows error indicator %q after submit", phrase))
			return
		}
	}

	if formStillPresent(lower) {
		result.fail(StateFailed, fmt.Errorf("form still present after submit"))
		return
	}

	result.State = StateSubmitted
	result.Outcome = OutcomeSubmittedUnverified
}

func formStillPresent(lowerHTML string) bool {
	return strings.Contains(lowerHTML, "<form") || strings.Contains(lowerHTML, `type="submit"`)
}

func (e *Engine) snapshot(ctx context.Context, page browser.Page, result *Result, step string) {
	if e.cfg.EvidenceDir == "" {
		return
	}
	path := filepath.Join(e.cfg.EvidenceDir, fmt.Sprintf("%s_%s.png", result.ID, step))
	if err := page.Screenshot(ctx, path); err != nil {
		e.logger.Debug("snapshot failed", zap.String("step", step), zap.Error(err))
		return
	}
	result.Evidence = append(result.Evidence, path)
}

func (e *Engine) restoreSession(ctx context.Context, page browser.Page, targetURL string) {
	domain := domainOf(targetURL)
	if domain == "" || e.store == nil {
		return
	}
	sess, ok, err := e.store.Session(ctx, domain)
	if err != nil || !ok {
		return
	}
	if err := page.SetCookies(ctx, sess.Cookies); err != nil {
		e.logger.Debug("failed to restore cached session", zap.String("domain", domain), zap.Error(err))
	}
}

func (e *Engine) cacheSession(ctx context.Context, page browser.Page, targetURL string) {
	domain := domainOf(targetURL)
	if domain == "" || e.store == nil {
		return
	}
	cookies, err := page.Cookies(ctx)
	if err != nil || len(cookies) == 0 {
		return
	}
	if err := e.store.CacheSession(ctx, domain, cookies, time.Now().Add(sessionTTL)); err != nil {
		e.logger.Warn("failed to cache session", zap.String("domain", domain), zap.Error(err))
	}
}

func (e *Engine) recordAttempt(target Target, result *Result) {
	if e.store == nil {
		return
	}
	rec := store.AttemptRecord{
		ID:           result.ID,
		URL:          result.URL,
		Company:      target.Company,
		JobTitle:     target.Title,
		Outcome:      result.Outcome,
		Error:        result.Err,
		FieldsFilled: len(result.FieldsFilled),
		Evidence:     result.Evidence,
		StartedAt:    result.StartedAt,
		Elapsed:      result.Elapsed,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.RecordAttempt(ctx, rec); err != nil {
		e.logger.Warn("failed to record attempt", zap.String("attempt_id", result.ID), zap.Error(err))
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
