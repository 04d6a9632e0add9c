package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/dom"
	"github.com/jonathan/job-applier/internal/profile"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		FirstName:   "Deanna",
		LastName:    "Wiley",
		Email:       "deanna@example.com",
		Phone:       "(708) 265-8734",
		City:        "Alameda",
		State:       "California",
		StateAbbrev: "CA",
		ZipCode:     "94501",
		Country:     "United States",
		LinkedIn:    "https://www.linkedin.com/in/dwiley/",
		Portfolio:   "https://dwiley.design/",
		Website:     "https://dwiley.design/",

		AuthorizedToWork:   true,
		RequireSponsorship: false,

		Demographics: profile.Demographics{
			Gender:         "Female",
			VeteranStatus:  "I am not a protected veteran",
			PreferNotToSay: true,
		},
		Education: profile.Education{
			HighestDegree:  "Bachelor's Degree",
			Major:          "Multimedia Design",
			School:         "DeVry University",
			GraduationYear: "2023",
		},
		Compensation: profile.Compensation{
			SalaryExpectation: "80000",
			HourlyRate:        "45",
		},
		YearsExperience: "3",
		CurrentTitle:    "Graphic Designer",
		AvailableStart:  "Immediately",
		NoticePeriod:    "2 weeks",
		EnglishLevel:    "Fluent",
		HearAboutUs:     "Job Board",
	}
}

func newTestMapper() *Mapper {
	return New(testProfile(), zap.NewNop())
}

func TestValueSemanticTypes(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		name  string
		field dom.Field
		want  string
	}{
		{"email", dom.Field{Type: dom.FieldEmail}, "deanna@example.com"},
		{"phone cleaned", dom.Field{Type: dom.FieldPhone}, "7082658734"},
		{"first name", dom.Field{Type: dom.FieldFirstName}, "Deanna"},
		{"last name", dom.Field{Type: dom.FieldLastName}, "Wiley"},
		{"full name", dom.Field{Type: dom.FieldName}, "Deanna Wiley"},
		{"linkedin", dom.Field{Type: dom.FieldLinkedIn}, "https://www.linkedin.com/in/dwiley/"},
		{"url falls back to website", dom.Field{Type: dom.FieldURL}, "https://dwiley.design/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Value(tt.field)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueTextPatternFallback(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		name  string
		field dom.Field
		want  string
	}{
		{"city", dom.Field{Type: dom.FieldText, Name: "city"}, "Alameda"},
		{"zip", dom.Field{Type: dom.FieldText, Label: "Postal code"}, "94501"},
		{"school", dom.Field{Type: dom.FieldText, Label: "University attended"}, "DeVry University"},
		{"salary", dom.Field{Type: dom.FieldText, Label: "Desired salary"}, "80000"},
		{"years", dom.Field{Type: dom.FieldText, Label: "How many years of experience do you have?"}, "3"},
		{"notice", dom.Field{Type: dom.FieldText, Name: "notice_period"}, "2 weeks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Value(tt.field)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueDateFieldsMapAvailabilityOnly(t *testing.T) {
	m := newTestMapper()

	got, ok := m.Value(dom.Field{Type: dom.FieldDate, Label: "Earliest start date"})
	require.True(t, ok)
	assert.Equal(t, "Immediately", got)

	got, ok = m.Value(dom.Field{Type: dom.FieldDate, Name: "available_from"})
	require.True(t, ok)
	assert.Equal(t, "Immediately", got)

	_, ok = m.Value(dom.Field{Type: dom.FieldDate, Label: "Date of birth"})
	assert.False(t, ok)
}

func TestValueNumberFieldsMapSalaryAndExperience(t *testing.T) {
	m := newTestMapper()

	got, ok := m.Value(dom.Field{Type: dom.FieldNumber, Label: "Expected salary"})
	require.True(t, ok)
	assert.Equal(t, "80000", got)

	got, ok = m.Value(dom.Field{Type: dom.FieldNumber, Label: "Years of relevant experience"})
	require.True(t, ok)
	assert.Equal(t, "3", got)

	_, ok = m.Value(dom.Field{Type: dom.FieldNumber, Label: "Team size"})
	assert.False(t, ok)
}

func TestValueUnmappedFreeTextIsNotGuessed(t *testing.T) {
	m := newTestMapper()
	_, ok := m.Value(dom.Field{
		Type:  dom.FieldTextarea,
		Label: "Why do you want to join our team?",
	})
	assert.False(t, ok)
}

func TestValueIdempotent(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{Type: dom.FieldText, Label: "Current City", Name: "q_12"}
	v1, ok1 := m.Value(f)
	v2, ok2 := m.Value(f)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, v1, v2)
}

func TestSelectDemographicPrefersDecline(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Name:  "gender",
		Label: "Gender",
		Options: []dom.Option{
			{Text: "Female"},
			{Text: "Male"},
			{Text: "Prefer not to say"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "Prefer not to say", got)
}

func TestSelectDemographicDeclinesDespiteStoredAnswer(t *testing.T) {
	p := testProfile()
	p.Demographics.PreferNotToSay = false
	m := New(p, zap.NewNop())
	f := dom.Field{
		Type:  dom.FieldSelect,
		Name:  "gender",
		Label: "Gender",
		Options: []dom.Option{
			{Text: "Female"},
			{Text: "Male"},
			{Text: "Prefer not to say"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "Prefer not to say", got)
}

func TestSelectDemographicWithoutDeclineUsesProfileValue(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Name:  "gender",
		Options: []dom.Option{
			{Text: "Female"},
			{Text: "Male"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "Female", got)
}

func TestSelectSubstringMatching(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Name:  "country",
		Options: []dom.Option{
			{Text: "Canada"},
			{Text: "United States of America"},
			{Text: "Mexico"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "United States of America", got)
}

func TestSelectLanguageHeuristicPrefersHighestFluency(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Label: "English proficiency level",
		Options: []dom.Option{
			{Text: "Basic"},
			{Text: "Intermediate"},
			{Text: "Fluent / Native"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "Fluent / Native", got)
}

func TestSelectEducationHeuristicPrefersBachelors(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Label: "Highest level of education completed",
		Options: []dom.Option{
			{Text: "High School"},
			{Text: "Bachelor's Degree"},
			{Text: "Master's Degree"},
		},
	}
	got, ok := m.SelectOption(f)
	require.True(t, ok)
	assert.Equal(t, "Bachelor's Degree", got)
}

func TestSelectNoMatch(t *testing.T) {
	m := newTestMapper()
	f := dom.Field{
		Type:  dom.FieldSelect,
		Label: "Favorite color",
		Options: []dom.Option{
			{Text: "Red"},
			{Text: "Blue"},
		},
	}
	_, ok := m.SelectOption(f)
	assert.False(t, ok)
}

func TestRadioAnswers(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		question string
		want     string
	}{
		{"Are you legally authorized to work in the United States?", "Yes"},
		{"Will you now or in the future require sponsorship for an employment visa?", "No"},
		{"Are you willing to relocate?", "No"},
		{"Are you at least 18 years of age?", "Yes"},
		{"Do you consent to a background check?", "Yes"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got, ok := m.RadioAnswer(dom.Field{Type: dom.FieldRadio}, tt.question)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRadioNoRuleReturnsFalse(t *testing.T) {
	m := newTestMapper()
	_, ok := m.RadioAnswer(dom.Field{Type: dom.FieldRadio}, "Do you prefer dogs or cats?")
	assert.False(t, ok)
}

func TestShouldCheck(t *testing.T) {
	m := newTestMapper()
	assert.True(t, m.ShouldCheck(dom.Field{Type: dom.FieldCheckbox, Label: "I agree to the terms of service"}))
	assert.True(t, m.ShouldCheck(dom.Field{Type: dom.FieldCheckbox, Label: "I acknowledge the privacy policy"}))
	assert.False(t, m.ShouldCheck(dom.Field{Type: dom.FieldCheckbox, Label: "Send me newsletter updates"}))
	assert.False(t, m.ShouldCheck(dom.Field{Type: dom.FieldCheckbox, Label: "Optional extras"}))
	assert.True(t, m.ShouldCheck(dom.Field{Type: dom.FieldCheckbox, Label: "Something mandatory", Required: true}))
}
