package dom

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/challenge"
)

// Analyzer turns page markup into a structured Analysis.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// AnalyzePage waits for the DOM to stop growing, then analyzes the page's
// current markup. Stabilization is best effort: on timeout, analysis runs
// with whatever the page holds.
func (a *Analyzer) AnalyzePage(ctx context.Context, page browser.Page, timeout time.Duration) (*Analysis, error) {
	if !WaitStable(ctx, page, timeout) {
		a.logger.Debug("DOM did not stabilize before timeout, analyzing anyway")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageHTML, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page for analysis: %w", err)
	}
	pageURL, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page URL for analysis: %w", err)
	}
	title, _ := page.Title(ctx)

	analysis, err := a.Analyze(pageHTML, pageURL)
	if err != nil {
		return nil, err
	}
	analysis.Title = title
	return analysis, nil
}

// Analyze parses markup and returns the discovered controls, submit
// control, upload presence and any detected challenge. Pages with no
// controls yield an empty analysis, not an error.
func (a *Analyzer) Analyze(pageHTML, pageURL string) (*Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page markup: %w", err)
	}

	analysis := &Analysis{
		ID:      newAnalysisID(),
		PageURL: pageURL,
	}

	scope := findScope(doc)

	scope.Find("input, textarea, select").Each(func(_ int, sel *goquery.Selection) {
		f, ok := a.extractField(doc, sel)
		if !ok {
			return
		}
		if f.InputType == "file" {
			analysis.HasFileUpload = true
		}
		analysis.Fields = append(analysis.Fields, f)
	})

	// Uploads are often rendered outside the form scope, hidden behind a
	// styled drop zone.
	if !analysis.HasFileUpload {
		analysis.HasFileUpload = doc.Find(`input[type="file"]`).Length() > 0
	}

	analysis.SubmitSelector = findSubmit(doc, scope)
	analysis.Challenge = challenge.Detect(pageHTML, pageURL)

	a.logger.Debug("page analyzed",
		zap.String("analysis_id", analysis.ID),
		zap.Int("fields", len(analysis.Fields)),
		zap.Bool("file_upload", analysis.HasFileUpload),
		zap.Bool("submit_found", analysis.SubmitSelector != ""),
		zap.Bool("challenge", analysis.Challenge != nil))

	return analysis, nil
}

func (a *Analyzer) extractField(doc *goquery.Document, sel *goquery.Selection) (Field, bool) {
	tag := goquery.NodeName(sel)

	inputType := ""
	if tag == "input" {
		inputType = strings.ToLower(sel.AttrOr("type", "text"))
		switch inputType {
		case "hidden", "submit", "button", "image", "reset":
			return Field{}, false
		}
	}

	if !visible(sel) {
		return Field{}, false
	}

	f := Field{
		Tag:         tag,
		InputType:   inputType,
		Name:        sel.AttrOr("name", ""),
		ID:          sel.AttrOr("id", ""),
		Placeholder: sel.AttrOr("placeholder", ""),
		Visible:     true,
	}
	_, hasRequired := sel.Attr("required")
	f.Required = hasRequired || sel.AttrOr("aria-required", "") == "true"
	f.Label = resolveLabel(doc, sel)

	switch tag {
	case "select":
		f.Value = selectedValue(sel)
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			text := strings.TrimSpace(opt.Text())
			if text == "" {
				return
			}
			f.Options = append(f.Options, Option{Value: opt.AttrOr("value", ""), Text: text})
		})
	case "textarea":
		f.Value = strings.TrimSpace(sel.Text())
	default:
		if inputType != "file" {
			f.Value = sel.AttrOr("value", "")
		}
	}

	f.Type, f.Confidence = Classify(f.Name, f.Label, f.Placeholder, inputType)

	// Structural kinds keep a fillable classification even when no pattern
	// matched; the fill pass resolves them by policy, not by semantic type.
	if f.Type == FieldUnknown || f.Type == FieldText {
		switch {
		case tag == "select":
			f.Type, f.Confidence = FieldSelect, 0.5
		case tag == "textarea":
			f.Type, f.Confidence = FieldTextarea, 0.5
		case inputType == "radio":
			f.Type, f.Confidence = FieldRadio, 0.5
		case inputType == "checkbox":
			f.Type, f.Confidence = FieldCheckbox, 0.5
		}
	}

	f.Selector = selectorFor(doc, sel, tag)
	return f, true
}

// formSelectors in priority order; application-specific forms win over the
// first bare <form> on the page.
var formSelectors = []string{
	`form[action*="apply"]`,
	`form[id*="application"]`,
	`form[class*="application"]`,
	`form[data-qa*="application"]`,
	`[role="form"]`,
	`form`,
}

// findScope locates the primary application form, falling back to any
// container holding at least two interactive controls when the page has no
// form wrapper, and finally to the whole document.
func findScope(doc *goquery.Document) *goquery.Selection {
	for _, fs := range formSelectors {
		var found *goquery.Selection
		doc.Find(fs).EachWithBreak(func(_ int, form *goquery.Selection) bool {
			if !visible(form) {
				return true
			}
			if countControls(form) >= 2 {
				found = form
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}

	var container *goquery.Selection
	best := 0
	doc.Find("div, section, main, fieldset").Each(func(_ int, s *goquery.Selection) {
		n := countControls(s)
		if n >= 2 && (container == nil || n < best) {
			container = s
			best = n
		}
	})
	if container != nil {
		return container
	}
	return doc.Selection
}

func countControls(s *goquery.Selection) int {
	n := 0
	s.Find("input, textarea, select").Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "input" {
			switch strings.ToLower(c.AttrOr("type", "text")) {
			case "hidden", "submit", "button", "image", "reset":
				return
			}
		}
		n++
	})
	return n
}

// resolveLabel finds a human-readable label using, in order: explicit
// label-for association, aria-label, aria-labelledby reference, and the
// nearest ancestor label within three levels.
func resolveLabel(doc *goquery.Document, sel *goquery.Selection) string {
	if id := sel.AttrOr("id", ""); id != "" {
		if l := doc.Find(fmt.Sprintf(`label[for=%q]`, id)); l.Length() > 0 {
			return strings.TrimSpace(l.First().Text())
		}
	}

	if aria := strings.TrimSpace(sel.AttrOr("aria-label", "")); aria != "" {
		return aria
	}

	if ref := sel.AttrOr("aria-labelledby", ""); ref != "" {
		if l := doc.Find(fmt.Sprintf(`[id=%q]`, ref)); l.Length() > 0 {
			return strings.TrimSpace(l.First().Text())
		}
	}

	parent := sel.Parent()
	for i := 0; i < 3 && parent.Length() > 0; i++ {
		if l := parent.Find("label"); l.Length() > 0 {
			return strings.TrimSpace(l.First().Text())
		}
		parent = parent.Parent()
	}
	return ""
}

func selectedValue(sel *goquery.Selection) string {
	selected := sel.Find("option[selected]")
	if selected.Length() == 0 {
		return ""
	}
	return selected.First().AttrOr("value", strings.TrimSpace(selected.First().Text()))
}

// visible approximates visibility from static markup. Real computed styles
// are not available in a snapshot; inline hiding and the hidden attribute
// cover the common cases (styled file inputs are handled separately).
func visible(sel *goquery.Selection) bool {
	if _, hidden := sel.Attr("hidden"); hidden {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(sel.AttrOr("style", "")), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

var simpleIDRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// selectorFor builds a selector the browser session can act on: CSS from
// id or name when present, positional XPath otherwise.
func selectorFor(doc *goquery.Document, sel *goquery.Selection, tag string) string {
	if id := sel.AttrOr("id", ""); id != "" {
		if simpleIDRe.MatchString(id) {
			return "#" + id
		}
		return fmt.Sprintf(`[id=%q]`, id)
	}
	if name := sel.AttrOr("name", ""); name != "" {
		if tag == "input" && strings.ToLower(sel.AttrOr("type", "text")) == "radio" {
			// Radio groups share a name; pin to the concrete option.
			if v := sel.AttrOr("value", ""); v != "" {
				return fmt.Sprintf(`%s[name=%q][value=%q]`, tag, name, v)
			}
		}
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	return fmt.Sprintf("(//%s)[%d]", tag, tagOrdinal(doc, sel, tag))
}

// tagOrdinal returns the control's 1-based position among all elements of
// its tag in document order, matching XPath (//tag)[n] semantics.
func tagOrdinal(doc *goquery.Document, sel *goquery.Selection, tag string) int {
	node := sel.Get(0)
	ordinal := 1
	doc.Find(tag).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if s.Get(0) == node {
			ordinal = i + 1
			return false
		}
		return true
	})
	return ordinal
}

var submitTextRe = regexp.MustCompile(`(?i)\b(submit|apply)\b`)

// findSubmit locates the submit control and returns an actionable selector.
func findSubmit(doc *goquery.Document, scope *goquery.Selection) string {
	var found *goquery.Selection

	try := func(s *goquery.Selection) {
		if found == nil && s.Length() > 0 && visible(s.First()) {
			found = s.First()
		}
	}

	try(scope.Find(`button[type="submit"]`))
	try(scope.Find(`input[type="submit"]`))

	if found == nil {
		scope.Find("button").EachWithBreak(func(_ int, b *goquery.Selection) bool {
			if visible(b) && submitTextRe.MatchString(b.Text()) {
				found = b
				return false
			}
			return true
		})
	}

	try(scope.Find("button.postings-btn"))
	try(doc.Find(`[data-qa="submit-button"]`))

	if found == nil {
		return ""
	}
	return selectorFor(doc, found, goquery.NodeName(found))
}

const stablePollInterval = 300 * time.Millisecond

// WaitStable polls document height until three consecutive reads agree,
// bounded by timeout. Returns false when the page never settled.
func WaitStable(ctx context.Context, page browser.Page, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	prev := -1
	stable := 0

	for time.Now().Before(deadline) {
		var height int
		if err := page.Evaluate(ctx, "document.body.scrollHeight", &height); err != nil {
			return false
		}
		if height == prev {
			stable++
			if stable >= 3 {
				return true
			}
		} else {
			stable = 0
		}
		prev = height

		select {
		case <-ctx.Done():
			return false
		case <-time.After(stablePollInterval):
		}
	}
	return false
}
