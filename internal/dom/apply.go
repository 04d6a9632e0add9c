package dom

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var applyTextRe = regexp.MustCompile(`(?i)\bapply\b`)

// Apply affordances with known attributes, tried before text matching.
var applySelectors = []string{
	"a.postings-btn",
	`[data-qa="show-page-apply"]`,
}

// FindApplyAffordance locates the control that leads from a job landing
// page to its application form. It returns a link href when the affordance
// is an anchor, or an actionable selector when it must be clicked. Both
// empty means no affordance was found.
func FindApplyAffordance(pageHTML string) (href, selector string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", ""
	}

	for _, as := range applySelectors {
		s := doc.Find(as).First()
		if s.Length() == 0 || !visible(s) {
			continue
		}
		if h := s.AttrOr("href", ""); h != "" {
			return h, ""
		}
		return "", selectorFor(doc, s, goquery.NodeName(s))
	}

	var found *goquery.Selection
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if visible(s) && applyTextRe.MatchString(strings.TrimSpace(s.Text())) {
			found = s
			return false
		}
		return true
	})
	if found == nil {
		return "", ""
	}
	if h := found.AttrOr("href", ""); h != "" {
		return h, ""
	}
	return "", selectorFor(doc, found, goquery.NodeName(found))
}
