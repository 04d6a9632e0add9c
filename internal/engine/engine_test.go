package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/profile"
	"github.com/jonathan/job-applier/internal/store"
)

type fakeView struct {
	title string
	html  string
}

// fakePage is a scripted page: views is a URL-to-markup map and onClick
// hooks mutate state the way a real page would react.
type fakePage struct {
	mu      sync.Mutex
	url     string
	views   map[string]fakeView
	onClick map[string]func(p *fakePage)

	clicks     []string
	fills      map[string]string
	selects    map[string]string
	files      map[string][]string
	cookies    []browser.Cookie
	setCookies [][]browser.Cookie
}

func newFakePage(views map[string]fakeView) *fakePage {
	return &fakePage{
		views:   views,
		onClick: map[string]func(p *fakePage){},
		fills:   map[string]string{},
		selects: map[string]string{},
		files:   map[string][]string{},
	}
}

func (p *fakePage) view() fakeView {
	return p.views[p.url]
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view().title, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view().html, nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if fn, ok := p.onClick[selector]; ok {
		fn(p)
	}
	return nil
}

// Fill mirrors the value into the served markup so a re-analysis sees it,
// matching what the real session does with the value attribute.
func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[selector] = value

	id := strings.TrimPrefix(selector, "#")
	marker := fmt.Sprintf("id=%q", id)
	v := p.view()
	v.html = strings.Replace(v.html, marker, marker+fmt.Sprintf(" value=%q", value), 1)
	p.views[p.url] = v
	return nil
}

func (p *fakePage) SelectByText(_ context.Context, selector, optionText string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selects[selector] = optionText
	return nil
}

func (p *fakePage) SetFiles(_ context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[selector] = paths
	return nil
}

func (p *fakePage) Value(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector], nil
}

func (p *fakePage) Evaluate(_ context.Context, _ string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := res.(*int); ok {
		*h = len(p.view().html)
	}
	return nil
}

func (p *fakePage) ScrollToBottom(context.Context) error { return nil }

func (p *fakePage) Screenshot(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (p *fakePage) Cookies(context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCookies = append(p.setCookies, cookies)
	return nil
}

var _ browser.Page = (*fakePage)(nil)

func testProfile() *profile.Profile {
	return &profile.Profile{
		FirstName:        "Ada",
		LastName:         "Lovelace",
		Email:            "ada@example.com",
		Phone:            "(555) 123-4567",
		Country:          "United States",
		AuthorizedToWork: true,
	}
}

func newTestEngine(t *testing.T, page *fakePage, resolver *challenge.Resolver) (*Engine, *store.FileStore) {
	t.Helper()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(st.Close)

	cfg := config.Default()
	cfg.AnalysisTimeoutSec = 0
	cfg.EvidenceDir = ""
	cfg.Concurrency = 1

	eng := New(cfg, testProfile(), resolver, st, func(context.Context) (browser.Page, func(), error) {
		return page, func() {}, nil
	}, zap.NewNop())
	eng.settle = 5 * time.Millisecond
	return eng, st
}

func testResume(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	return path
}

const applyFormHTML = `<html><body>
<form action="/apply" method="post">
  <label for="name">Full name</label>
  <input id="name" name="name" type="text" required>
  <label for="email">Email</label>
  <input id="email" name="email" type="email" required>
  <label for="phone">Phone</label>
  <input id="phone" name="phone" type="tel" required>
  <label for="resume">Resume</label>
  <input id="resume" name="resume" type="file">
  <button id="submit-btn" type="submit">Submit application</button>
</form>
</body></html>`

const confirmationHTML = `<html><body><h1>Thank you for applying!</h1></body></html>`

func TestApplyFillsRequiredFieldsAndSubmits(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/42"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Backend Engineer", html: applyFormHTML},
	})
	page.cookies = []browser.Cookie{{Name: "session", Value: "abc", Domain: "jobs.example.com"}}
	page.onClick["#submit-btn"] = func(p *fakePage) {
		p.url = jobURL + "/confirmation"
		p.views[p.url] = fakeView{title: "Thanks", html: confirmationHTML}
	}

	eng, st := newTestEngine(t, page, nil)

	result := eng.Apply(context.Background(), Target{URL: jobURL, Title: "Backend Engineer", Company: "Example"},
		Artifacts{ResumePath: testResume(t)})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, StateSuccess, result.State)
	assert.Empty(t, result.Err)

	assert.Equal(t, "Ada Lovelace", page.fills["#name"])
	assert.Equal(t, "ada@example.com", page.fills["#email"])
	assert.Equal(t, "5551234567", page.fills["#phone"])
	assert.NotEmpty(t, page.files["#resume"])
	assert.Contains(t, page.clicks, "#submit-btn")

	// A successful attempt caches the session for the posting's domain.
	sess, ok, err := st.Session(context.Background(), "jobs.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "session", sess.Cookies[0].Name)
}

func TestApplyStopsOnDeadPostingBeforeFilling(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/7"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><p>Sorry, this position has been filled.</p></body></html>`},
	})

	eng, _ := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, OutcomeDeadPosting, result.Outcome)
	assert.Equal(t, ErrDeadPosting.Error(), result.Err)
	assert.Empty(t, page.fills)
	assert.Empty(t, page.clicks)
}

func TestApplyFollowsApplyAffordance(t *testing.T) {
	const (
		jobURL  = "https://jobs.example.com/postings/9"
		formURL = "https://jobs.example.com/postings/9/apply"
	)

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><h1>Great role</h1>
			<a class="postings-btn" href="/postings/9/apply">Apply for this job</a></body></html>`},
		formURL: {title: "Form", html: applyFormHTML},
	})
	page.onClick["#submit-btn"] = func(p *fakePage) {
		p.views[p.url] = fakeView{title: "Thanks", html: confirmationHTML}
	}

	eng, _ := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{ResumePath: testResume(t)})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "Ada Lovelace", page.fills["#name"])
}

func TestApplyFailsWhenRequiredFieldCannotBeMapped(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/11"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><form action="/apply">
			<label for="email">Email</label>
			<input id="email" name="email" type="email" required>
			<label for="spirit">Spirit animal</label>
			<input id="spirit" name="spirit_animal" type="text" required>
			<button id="submit-btn" type="submit">Submit</button>
		</form></body></html>`},
	})

	eng, _ := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Err, ErrRequiredFieldMissing.Error())
	assert.Contains(t, result.Unmapped, "spirit_animal")
	assert.NotContains(t, page.clicks, "#submit-btn", "must not submit with required fields empty")
}

func TestApplyFailsWhenSubmitControlMissing(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/12"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><form action="/apply">
			<input id="email" name="email" type="email">
			<input id="phone" name="phone" type="tel">
		</form></body></html>`},
	})

	eng, _ := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, ErrSubmitNotFound.Error(), result.Err)
}

func TestApplyEnforcesChallengeRetryBound(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/13"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><form action="/apply">
			<input id="email" name="email" type="email">
			<input id="phone" name="phone" type="tel">
			<div class="g-recaptcha" data-sitekey="6LeIxAcTAAAAAJcZVRqy"></div>
			<button id="submit-btn" type="submit">Submit</button>
		</form></body></html>`},
	})

	eng, _ := newTestEngine(t, page, nil)
	eng.cfg.Challenge.MaxAttempts = 0

	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, ErrChallengeRetryExceeded.Error(), result.Err)
	assert.NotContains(t, page.clicks, "#submit-btn")
}

func TestApplyFailsWhenChallengeStaysUnresolved(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/14"

	// hCaptcha with no service key and no notifier: only the human tier
	// runs, finds no page evidence, and the challenge stays unresolved.
	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><form action="/apply">
			<input id="email" name="email" type="email">
			<input id="phone" name="phone" type="tel">
			<div class="h-captcha" data-sitekey="not-a-uuid-key"></div>
			<button id="submit-btn" type="submit">Submit</button>
		</form></body></html>`},
	})

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Challenge.ServiceKey = ""
	cfg.Challenge.HumanTimeoutSec = 1
	resolver := challenge.NewResolver(cfg.Challenge, 0, st, nil, "", zap.NewNop())

	eng, _ := newTestEngine(t, page, resolver)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, result.ChallengeAttempts)
	assert.Contains(t, result.Err, challenge.ErrUnresolved.Error())
	assert.NotContains(t, page.clicks, "#submit-btn")
}

func TestApplyClassifiesAmbiguousSubmitAsUnverified(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/15"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><form action="/apply">
			<input id="email" name="email" type="email">
			<input id="phone" name="phone" type="tel">
			<button id="submit-btn" type="submit">Submit</button>
		</form></body></html>`},
	})
	page.onClick["#submit-btn"] = func(p *fakePage) {
		p.views[p.url] = fakeView{title: "Job", html: `<html><body><p>We got it.</p></body></html>`}
	}

	eng, _ := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL}, Artifacts{})

	assert.Equal(t, OutcomeSubmittedUnverified, result.Outcome)
	assert.Equal(t, StateSubmitted, result.State)
}

func TestApplyRecordsAttempt(t *testing.T) {
	const jobURL = "https://jobs.example.com/postings/16"

	page := newFakePage(map[string]fakeView{
		jobURL: {title: "Job", html: `<html><body><p>Sorry, this job has been closed.</p></body></html>`},
	})

	eng, st := newTestEngine(t, page, nil)
	result := eng.Apply(context.Background(), Target{URL: jobURL, Company: "Example", Title: "SRE"}, Artifacts{})

	day := store.Day(time.Now().UTC())
	metrics, err := st.AttemptsFor(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, result.ID, metrics[0].ID)
	assert.Equal(t, OutcomeDeadPosting, metrics[0].Outcome)
	assert.Equal(t, "Example", metrics[0].Company)
}

func TestRunAllAppliesToEveryTarget(t *testing.T) {
	const (
		aliveURL = "https://jobs.example.com/postings/20"
		deadURL  = "https://jobs.example.com/postings/21"
	)

	page := newFakePage(map[string]fakeView{
		aliveURL: {title: "Job A", html: applyFormHTML},
		deadURL:  {title: "Job B", html: `<html><body><p>This posting has expired.</p></body></html>`},
	})
	page.onClick["#submit-btn"] = func(p *fakePage) {
		p.views[p.url] = fakeView{title: "Thanks", html: confirmationHTML}
	}

	eng, _ := newTestEngine(t, page, nil)

	targets := []Target{
		{URL: aliveURL, Company: "Example"},
		{URL: deadURL, Company: "Example"},
	}
	results := eng.RunAll(context.Background(), targets, Artifacts{ResumePath: testResume(t)})

	require.Len(t, results, 2)
	assert.Equal(t, aliveURL, results[0].URL)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, deadURL, results[1].URL)
	assert.Equal(t, OutcomeDeadPosting, results[1].Outcome)
}
