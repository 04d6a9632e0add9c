// Package profile loads and validates the candidate profile used to fill
// application forms. The profile is loaded once per run and read-only
// thereafter.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "embed"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed profile_schema.json
var profileSchema []byte

// Demographics holds optional EEO answers. Choice controls always take an
// explicit decline option when the form offers one; stored values only fill
// controls that force a substantive answer. PreferNotToSay records the
// candidate's standing wish for forms that ask directly.
type Demographics struct {
	Gender           string `json:"gender,omitempty"`
	Race             string `json:"race,omitempty"`
	Ethnicity        string `json:"ethnicity,omitempty"`
	VeteranStatus    string `json:"veteran_status,omitempty"`
	DisabilityStatus string `json:"disability_status,omitempty"`
	PreferNotToSay   bool   `json:"prefer_not_to_say,omitempty"`
}

// Education describes the candidate's highest completed education.
type Education struct {
	HighestDegree  string `json:"highest_degree,omitempty"`
	Major          string `json:"major,omitempty"`
	School         string `json:"school,omitempty"`
	GraduationYear string `json:"graduation_year,omitempty"`
}

// Compensation holds salary expectations as free-form strings so forms
// accepting "Negotiable" work as well as numeric inputs.
type Compensation struct {
	SalaryExpectation string `json:"salary_expectation,omitempty"`
	SalaryMinimum     string `json:"salary_minimum,omitempty"`
	HourlyRate        string `json:"hourly_rate,omitempty"`
}

// Profile is the candidate profile bound to discovered form fields.
// Immutable for the duration of one run.
type Profile struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required"`

	// Location
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	StateAbbrev string `json:"state_abbrev,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	Country     string `json:"country,omitempty"`

	// Online presence
	LinkedIn  string `json:"linkedin,omitempty" validate:"omitempty,url"`
	Portfolio string `json:"portfolio,omitempty" validate:"omitempty,url"`
	Website   string `json:"website,omitempty" validate:"omitempty,url"`
	GitHub    string `json:"github,omitempty" validate:"omitempty,url"`

	// Work authorization
	AuthorizedToWork   bool `json:"authorized_to_work"`
	RequireSponsorship bool `json:"require_sponsorship"`

	Demographics Demographics `json:"demographics,omitempty"`
	Education    Education    `json:"education,omitempty"`
	Compensation Compensation `json:"compensation,omitempty"`

	YearsExperience string `json:"years_experience,omitempty"`
	CurrentTitle    string `json:"current_title,omitempty"`

	// Availability
	AvailableStart    string `json:"available_start,omitempty"`
	NoticePeriod      string `json:"notice_period,omitempty"`
	WillingToRelocate bool   `json:"willing_to_relocate"`

	EnglishLevel string `json:"english_level,omitempty"`
	HearAboutUs  string `json:"hear_about_us,omitempty"`
}

// Load reads a profile from a JSON file, validates it against the embedded
// schema and then against struct constraints.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes raw profile JSON.
func Parse(data []byte) (*Profile, error) {
	schemaLoader := gojsonschema.NewBytesLoader(profileSchema)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to run profile schema validation: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		sb.WriteString("profile schema validation failed:")
		for _, desc := range result.Errors() {
			sb.WriteString("\n  - ")
			sb.WriteString(desc.String())
		}
		return nil, fmt.Errorf("%s", sb.String())
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile JSON: %w", err)
	}

	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("profile validation failed: %w", err)
	}

	return &p, nil
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// CleanPhone strips formatting so international forms accept the number.
func (p *Profile) CleanPhone() string {
	var sb strings.Builder
	for _, r := range p.Phone {
		if r >= '0' && r <= '9' || r == '+' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// AnswerFor returns the canonical Yes/No answer for a static fact about
// the candidate, keyed by question category.
func (p *Profile) AnswerFor(category string) (string, bool) {
	switch category {
	case "authorization":
		return yesNo(p.AuthorizedToWork), true
	case "sponsorship":
		return yesNo(p.RequireSponsorship), true
	case "relocation":
		return yesNo(p.WillingToRelocate), true
	case "age":
		// Applying at all asserts legal working age.
		return "Yes", true
	}
	return "", false
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
