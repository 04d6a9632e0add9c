package dom

import (
	"regexp"
	"strings"
)

type fieldPattern struct {
	typ FieldType
	res []*regexp.Regexp
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// Classification table, checked in order. More specific types come before
// broader ones (first/last name before bare name, linkedin before url).
var fieldPatterns = []fieldPattern{
	{FieldEmail, compile(`email`, `e-mail`, `mail`)},
	{FieldPhone, compile(`phone`, `tel`, `mobile`, `cell`)},
	{FieldFirstName, compile(`first.?name`, `fname`, `given.?name`, `forename`)},
	{FieldLastName, compile(`last.?name`, `lname`, `surname`, `family.?name`)},
	{FieldName, compile(`^name$`, `full.?name`, `your.?name`)},
	{FieldLinkedIn, compile(`linkedin`, `linked.?in`)},
	{FieldPortfolio, compile(`portfolio`, `website`, `personal.?site`, `work.?samples`)},
	{FieldURL, compile(`url`, `link`, `website`)},
}

// Classify assigns a semantic type and confidence to a control. Native
// input types short-circuit with full confidence; pattern matches against
// the name attribute score higher than matches against label or placeholder
// text; a generic text control with no match stays fillable at 0.5; any
// other unmatched control scores 0 and is skipped.
func Classify(name, label, placeholder, inputType string) (FieldType, float64) {
	switch inputType {
	case "email":
		return FieldEmail, 1.0
	case "tel":
		return FieldPhone, 1.0
	case "file":
		return FieldFile, 1.0
	case "date":
		return FieldDate, 1.0
	case "number":
		return FieldNumber, 1.0
	}

	combined := strings.TrimSpace(name + " " + label + " " + placeholder)
	for _, fp := range fieldPatterns {
		for _, re := range fp.res {
			if re.MatchString(combined) {
				if re.MatchString(name) {
					return fp.typ, 0.9
				}
				return fp.typ, 0.7
			}
		}
	}

	if inputType == "text" {
		return FieldText, 0.5
	}
	return FieldUnknown, 0.0
}
