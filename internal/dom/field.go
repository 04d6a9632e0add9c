// Package dom discovers and semantically classifies form controls on
// rendered pages. Analysis runs over an HTML snapshot, so classification is
// pure and testable; controls are referenced by generated selectors rather
// than live handles, which go stale across navigations.
package dom

import (
	"github.com/google/uuid"

	"github.com/jonathan/job-applier/internal/challenge"
)

// FieldType is the semantic classification of a form control.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldEmail      FieldType = "email"
	FieldPhone      FieldType = "phone"
	FieldName       FieldType = "name"
	FieldFirstName  FieldType = "first_name"
	FieldLastName   FieldType = "last_name"
	FieldURL        FieldType = "url"
	FieldLinkedIn   FieldType = "linkedin"
	FieldPortfolio  FieldType = "portfolio"
	FieldTextarea   FieldType = "textarea"
	FieldSelect     FieldType = "select"
	FieldRadio      FieldType = "radio"
	FieldCheckbox   FieldType = "checkbox"
	FieldFile       FieldType = "file"
	FieldDate       FieldType = "date"
	FieldNumber     FieldType = "number"
	FieldUnknown    FieldType = "unknown"
)

// Option is one choice in a select control.
type Option struct {
	Value string
	Text  string
}

// Field is one discovered control. Created fresh on every page analysis and
// discarded after the fill pass; never reused across page loads.
type Field struct {
	// Selector locates the control on the live page. CSS when the control
	// has a usable id or name, positional XPath otherwise.
	Selector string

	Type        FieldType
	Tag         string // input, textarea, select
	InputType   string // the type attribute for inputs
	Name        string
	ID          string
	Label       string
	Placeholder string
	Required    bool
	Visible     bool
	Value       string
	Options     []Option
	Confidence  float64
}

// CombinedText is the text classification and mapping policies match
// against: name, label and placeholder, lowercased by callers as needed.
func (f *Field) CombinedText() string {
	return f.Name + " " + f.Label + " " + f.Placeholder
}

// Fillable reports whether the fill pass should act on this field at all.
func (f *Field) Fillable() bool {
	return f.Visible && f.Confidence > 0
}

// Analysis is the aggregate result for one page load, owned by the engine
// for that page's lifetime.
type Analysis struct {
	ID             string
	PageURL        string
	Title          string
	Fields         []Field
	SubmitSelector string
	HasFileUpload  bool
	Challenge      *challenge.Challenge
}

// RequiredUnfilled returns the required fields that currently hold no value.
func (a *Analysis) RequiredUnfilled() []Field {
	var out []Field
	for _, f := range a.Fields {
		if f.Required && f.Visible && f.Value == "" {
			out = append(out, f)
		}
	}
	return out
}

func newAnalysisID() string {
	return uuid.NewString()[:12]
}
