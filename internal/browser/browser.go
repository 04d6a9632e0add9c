// Package browser provides headless browser sessions for form automation.
// It wraps chromedp behind the Page interface so the analyzer, engine and
// challenge resolver can run against fake pages in tests.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Cookie is a browser cookie bundle entry, serializable for the session cache.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// Page is the surface of a live browser page used by the rest of the system.
// Selectors are CSS by default; selectors beginning with "/" or "(" are
// treated as XPath, which the DOM analyzer emits for controls that carry no
// usable id or name attribute.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectByText(ctx context.Context, selector, optionText string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Value(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, expr string, res any) error
	ScrollToBottom(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// Session drives one Chrome tab. One session per application attempt;
// sessions are not safe for concurrent use.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

var _ Page = (*Session)(nil)

// NewSession launches a browser and opens a tab. Requires Chrome/Chromium
// on the system. Close must be called to release the browser.
func NewSession(ctx context.Context, headless bool) (*Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
	}

	// Start the browser eagerly so launch errors surface here, not on the
	// first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return s, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

// run executes chromedp actions on the session, honoring cancellation of the
// caller's context within the action's own polling granularity.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page URL: %w", err)
	}
	return url, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, queryOption(selector), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q failed: %w", selector, err)
	}
	return nil
}

// Fill sets both the value property and the value attribute. The attribute
// matters: re-analysis reads the serialized DOM, and property-only writes
// never show up there.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(function() {
		const el = %s;
		if (!el) return false;
		el.value = %[2]q;
		if (el.tagName === 'TEXTAREA') {
			el.textContent = %[2]q;
		} else {
			el.setAttribute('value', %[2]q);
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, lookupJS(selector), value)

	var ok bool
	if err := s.Evaluate(ctx, expr, &ok); err != nil {
		return fmt.Errorf("fill %q failed: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("fill %q: element not found", selector)
	}
	return nil
}

// SelectByText selects the option whose visible text contains optionText,
// case-insensitively, and fires a change event so framework listeners run.
func (s *Session) SelectByText(ctx context.Context, selector, optionText string) error {
	expr := fmt.Sprintf(`(function() {
		const el = %s;
		if (!el || el.tagName !== 'SELECT') return false;
		const want = %q.toLowerCase();
		for (const opt of el.options) {
			if (opt.text.toLowerCase().includes(want)) {
				el.value = opt.value;
				for (const o of el.options) o.removeAttribute('selected');
				opt.setAttribute('selected', 'selected');
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, lookupJS(selector), optionText)

	var ok bool
	if err := s.Evaluate(ctx, expr, &ok); err != nil {
		return fmt.Errorf("select %q failed: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("select %q: no option matching %q", selector, optionText)
	}
	return nil
}

func (s *Session) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := s.run(ctx, chromedp.SetUploadFiles(selector, paths, queryOption(selector))); err != nil {
		return fmt.Errorf("file upload to %q failed: %w", selector, err)
	}
	return nil
}

func (s *Session) Value(ctx context.Context, selector string) (string, error) {
	expr := fmt.Sprintf(`(function() {
		const el = %s;
		return el ? (el.value || '') : '';
	})()`, lookupJS(selector))

	var value string
	if err := s.Evaluate(ctx, expr, &value); err != nil {
		return "", fmt.Errorf("failed to read value of %q: %w", selector, err)
	}
	return value, nil
}

func (s *Session) Evaluate(ctx context.Context, expr string, res any) error {
	return s.run(ctx, chromedp.Evaluate(expr, res))
}

func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

// Screenshot captures the viewport to a PNG file, creating the directory
// as needed.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return nil
}

func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  time.Unix(int64(c.Expires), 0),
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

func (s *Session) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		expires := cdp.TimeSinceEpoch(c.Expires)
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  &expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// IsXPath reports whether a selector emitted by the analyzer is XPath
// rather than CSS.
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

func queryOption(selector string) chromedp.QueryOption {
	if IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// lookupJS returns a JS expression resolving a selector to an element,
// handling both CSS and XPath forms.
func lookupJS(selector string) string {
	if IsXPath(selector) {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			selector)
	}
	return fmt.Sprintf(`document.querySelector(%q)`, selector)
}
