// Package mapper binds a candidate profile to classified form fields. All
// resolution is deterministic: the same field and profile always yield the
// same value, and free-text questions with no profile source are left
// unanswered rather than guessed.
package mapper

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/dom"
	"github.com/jonathan/job-applier/internal/profile"
)

// Mapper resolves field values from an immutable profile.
type Mapper struct {
	profile *profile.Profile
	logger  *zap.Logger
}

func New(p *profile.Profile, logger *zap.Logger) *Mapper {
	return &Mapper{profile: p, logger: logger}
}

type valuePattern struct {
	res   []*regexp.Regexp
	value func(p *profile.Profile) string
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, pat := range patterns {
		out[i] = regexp.MustCompile("(?i)" + pat)
	}
	return out
}

// valuePatterns maps question text to profile fields for controls the
// semantic classifier left generic. Checked in order; first match wins, so
// more specific phrasings precede broader ones.
var valuePatterns = []valuePattern{
	{compile(`first.?name`, `given.?name`, `fname`, `forename`), func(p *profile.Profile) string { return p.FirstName }},
	{compile(`last.?name`, `sur.?name`, `family.?name`, `lname`), func(p *profile.Profile) string { return p.LastName }},
	{compile(`full.?name`, `^name$`, `your.?name`, `applicant.?name`), func(p *profile.Profile) string { return p.FullName() }},
	{compile(`email`, `e-mail`), func(p *profile.Profile) string { return p.Email }},
	{compile(`phone`, `mobile`, `cell`, `contact.?number`), func(p *profile.Profile) string { return p.CleanPhone() }},
	{compile(`address`, `street`), func(p *profile.Profile) string { return p.Address }},
	{compile(`city`, `town`), func(p *profile.Profile) string { return p.City }},
	{compile(`state`, `province`, `region`), func(p *profile.Profile) string { return p.State }},
	{compile(`zip`, `postal`, `postcode`), func(p *profile.Profile) string { return p.ZipCode }},
	{compile(`country`, `nation`), func(p *profile.Profile) string { return p.Country }},
	{compile(`linkedin`, `linked.?in`), func(p *profile.Profile) string { return p.LinkedIn }},
	{compile(`github`, `git.?hub`), func(p *profile.Profile) string { return p.GitHub }},
	{compile(`portfolio`, `work.?samples`, `creative.?work`), func(p *profile.Profile) string { return p.Portfolio }},
	{compile(`website`, `personal.?site`, `web.?page`, `url`), func(p *profile.Profile) string { return p.Website }},
	{compile(`field.?of.?study`, `major`, `concentration`, `discipline`), func(p *profile.Profile) string { return p.Education.Major }},
	{compile(`school`, `university`, `college`, `institution`), func(p *profile.Profile) string { return p.Education.School }},
	{compile(`graduat`, `completion`), func(p *profile.Profile) string { return p.Education.GraduationYear }},
	{compile(`degree`, `education.?level`, `highest.?education`), func(p *profile.Profile) string { return p.Education.HighestDegree }},
	{compile(`years?.?(of.?)?experience`, `experience.?years`, `how.?many.?years`), func(p *profile.Profile) string { return p.YearsExperience }},
	{compile(`current.?title`, `job.?title`, `position`, `role`), func(p *profile.Profile) string { return p.CurrentTitle }},
	{compile(`minimum.?salary`, `min.?salary`, `lowest.?salary`), func(p *profile.Profile) string { return p.Compensation.SalaryMinimum }},
	{compile(`hourly`, `rate.?per.?hour`, `hour.?rate`), func(p *profile.Profile) string { return p.Compensation.HourlyRate }},
	{compile(`salary`, `compensation`, `pay.?expectation`, `desired.?salary`), func(p *profile.Profile) string { return p.Compensation.SalaryExpectation }},
	{compile(`start.?date`, `available.?date`, `when.?can.?you.?start`, `earliest.?start`), func(p *profile.Profile) string { return p.AvailableStart }},
	{compile(`notice.?period`, `notice.?required`, `days?.?notice`), func(p *profile.Profile) string { return p.NoticePeriod }},
	{compile(`english`, `language.?level`, `fluency`), func(p *profile.Profile) string { return p.EnglishLevel }},
	{compile(`hear.?about`, `how.?did.?you.?find`, `source`), func(p *profile.Profile) string { return p.HearAboutUs }},
}

// Value resolves the text to type into a field. Native semantic types map
// straight to profile fields; generic text fields fall back to pattern
// matching over the question text. Returns false when the profile has no
// answer; callers report unmapped fields rather than filling guesses.
func (m *Mapper) Value(f dom.Field) (string, bool) {
	p := m.profile

	switch f.Type {
	case dom.FieldEmail:
		return p.Email, true
	case dom.FieldPhone:
		return nonEmpty(p.CleanPhone())
	case dom.FieldFirstName:
		return p.FirstName, true
	case dom.FieldLastName:
		return p.LastName, true
	case dom.FieldName:
		return p.FullName(), true
	case dom.FieldLinkedIn:
		return nonEmpty(p.LinkedIn)
	case dom.FieldPortfolio:
		return nonEmpty(p.Portfolio)
	case dom.FieldURL:
		return nonEmpty(firstOf(p.Website, p.Portfolio, p.LinkedIn))
	case dom.FieldDate:
		// Only availability dates have a profile source.
		if matchesAny(f, `start`, `available`) {
			return nonEmpty(p.AvailableStart)
		}
		return "", false
	case dom.FieldNumber:
		if matchesAny(f, `salary`, `compensation`) {
			return nonEmpty(p.Compensation.SalaryExpectation)
		}
		if matchesAny(f, `experience`, `years`) {
			return nonEmpty(p.YearsExperience)
		}
		return "", false
	case dom.FieldText, dom.FieldTextarea:
		combined := strings.TrimSpace(f.CombinedText())
		for _, vp := range valuePatterns {
			for _, re := range vp.res {
				if re.MatchString(combined) {
					return nonEmpty(vp.value(p))
				}
			}
		}
		return "", false
	default:
		return "", false
	}
}

var demographicCategories = []string{"gender", "race", "ethnicity", "veteran", "disability"}

var declinePhrases = []string{"prefer not", "decline", "not to disclose", "do not wish"}

// SelectOption picks the option text to choose for a select control.
// Demographic questions always take an explicit decline option when one is
// offered, regardless of what the profile stores; otherwise the profile's
// target value is matched against option text, then category heuristics
// apply. Returns false when nothing matches; the control is left on its
// current option.
func (m *Mapper) SelectOption(f dom.Field) (string, bool) {
	combined := strings.ToLower(strings.TrimSpace(f.CombinedText()))

	if isDemographic(combined) {
		if opt, ok := findOption(f.Options, declinePhrases...); ok {
			return opt, true
		}
	}

	if target := m.targetFor(f, combined); target != "" {
		lower := strings.ToLower(target)
		for _, opt := range f.Options {
			optLower := strings.ToLower(opt.Text)
			if strings.Contains(optLower, lower) || strings.Contains(lower, optLower) {
				return opt.Text, true
			}
		}
	}

	switch {
	case strings.Contains(combined, "english") || strings.Contains(combined, "language") || strings.Contains(combined, "fluency"):
		return findOption(f.Options, "fluent", "native", "advanced", "c2", "c1")
	case strings.Contains(combined, "experience") && strings.Contains(combined, "year"):
		return findOption(f.Options, "5", "4-6", "3-5")
	case strings.Contains(combined, "education") || strings.Contains(combined, "degree"):
		return findOption(f.Options, "bachelor")
	case strings.Contains(combined, "hear about") || strings.Contains(combined, "source"):
		return findOption(f.Options, "job board", "online", "linkedin", "other")
	}

	return "", false
}

// targetFor resolves the profile value a select should converge on,
// including demographic answers when the profile supplies explicit ones.
func (m *Mapper) targetFor(f dom.Field, combined string) string {
	d := m.profile.Demographics
	switch {
	case strings.Contains(combined, "gender"):
		return d.Gender
	case strings.Contains(combined, "race"):
		return d.Race
	case strings.Contains(combined, "ethnic") || strings.Contains(combined, "hispanic") || strings.Contains(combined, "latino"):
		return d.Ethnicity
	case strings.Contains(combined, "veteran") || strings.Contains(combined, "military"):
		return d.VeteranStatus
	case strings.Contains(combined, "disability") || strings.Contains(combined, "disabled"):
		return d.DisabilityStatus
	case strings.Contains(combined, "country"):
		return m.profile.Country
	case strings.Contains(combined, "state") || strings.Contains(combined, "province"):
		return m.profile.State
	}
	if v, ok := m.Value(toTextField(f)); ok {
		return v
	}
	return ""
}

// radioRule keys a fixed Yes/No answer on question-text substrings. These
// are static facts about the candidate, not judgment calls.
type radioRule struct {
	substrings []string
	category   string // resolved through the profile
	answer     string // used when category is empty
}

var radioRules = []radioRule{
	{[]string{"authorized", "eligible to work", "legally work", "right to work"}, "authorization", ""},
	{[]string{"sponsor", "visa", "immigration"}, "sponsorship", ""},
	{[]string{"relocat", "willing to move"}, "relocation", ""},
	{[]string{"18 years", "over 18", "18 or older", "at least 18"}, "age", ""},
	{[]string{"21 years", "over 21", "21 or older", "at least 21"}, "age", ""},
	{[]string{"background check", "consent"}, "", "Yes"},
	{[]string{"reference"}, "", "Yes"},
}

// RadioAnswer resolves a Yes/No radio group from its question text.
// questionText is the surrounding prose when the group itself carries no
// label. Returns false for questions with no fixed rule.
func (m *Mapper) RadioAnswer(f dom.Field, questionText string) (string, bool) {
	combined := strings.ToLower(strings.TrimSpace(f.CombinedText() + " " + questionText))

	for _, rule := range radioRules {
		for _, sub := range rule.substrings {
			if strings.Contains(combined, sub) {
				if rule.category != "" {
					return m.profile.AnswerFor(rule.category)
				}
				return rule.answer, true
			}
		}
	}
	return "", false
}

// ShouldCheck decides checkbox state: required consents are accepted,
// marketing opt-ins are left alone.
func (m *Mapper) ShouldCheck(f dom.Field) bool {
	combined := strings.ToLower(strings.TrimSpace(f.CombinedText()))
	for _, sub := range []string{"newsletter", "marketing", "updates from", "promotional"} {
		if strings.Contains(combined, sub) {
			return false
		}
	}
	for _, sub := range []string{"agree", "terms", "consent", "privacy", "acknowledge", "certify", "confirm"} {
		if strings.Contains(combined, sub) {
			return true
		}
	}
	return f.Required
}

func matchesAny(f dom.Field, subs ...string) bool {
	combined := strings.ToLower(f.CombinedText())
	for _, sub := range subs {
		if strings.Contains(combined, sub) {
			return true
		}
	}
	return false
}

func isDemographic(combined string) bool {
	for _, c := range demographicCategories {
		if strings.Contains(combined, c) {
			return true
		}
	}
	return false
}

func findOption(options []dom.Option, phrases ...string) (string, bool) {
	for _, phrase := range phrases {
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.Text), phrase) {
				return opt.Text, true
			}
		}
	}
	return "", false
}

func toTextField(f dom.Field) dom.Field {
	f.Type = dom.FieldText
	return f
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(v string) (string, bool) {
	return v, v != ""
}
