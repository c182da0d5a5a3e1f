package core

// columns.go is the single table describing every column an import file may
// carry. Parsing consults it for types and required-ness; the template and
// column listing read the same table for display.

import (
	"slices"
	"strings"
)

// FieldType defines how a column's cells are parsed.
type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
	FieldNumeric
	FieldBool
)

func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "number"
	case FieldBool:
		return "yes/no"
	}
	return "value"
}

// FieldSpec describes one import column.
type FieldSpec struct {
	Name string
	Type FieldType

	// RequiredFor lists the strategies that need this column. AlwaysRequired
	// columns are needed regardless of strategy.
	RequiredFor    []MatchStrategy
	AlwaysRequired bool

	// Identity marks member-identifying columns; they show up first in templates.
	Identity bool

	Description string
	Example     string

	set func(row *ParsedRow, raw string) error
}

// RequiredBy reports whether strategy needs this column.
func (f FieldSpec) RequiredBy(strategy MatchStrategy) bool {
	return f.AlwaysRequired || slices.Contains(f.RequiredFor, strategy)
}

// Column names recognized in the header.
const (
	ColEmail               = "email"
	ColBadgeNumber         = "badge_number"
	ColName                = "name"
	ColFirstName           = "first_name"
	ColLastName            = "last_name"
	ColCourseName          = "course_name"
	ColCourseCode          = "course_code"
	ColCompletionDate      = "completion_date"
	ColExpirationDate      = "expiration_date"
	ColHours               = "hours"
	ColCreditHours         = "credit_hours"
	ColTrainingType        = "training_type"
	ColCertificationNumber = "certification_number"
	ColIssuingAgency       = "issuing_agency"
	ColInstructor          = "instructor"
	ColLocation            = "location"
	ColScore               = "score"
	ColPassed              = "passed"
	ColNotes               = "notes"
)

var fieldSpecs = []FieldSpec{
	{
		Name: ColEmail, Type: FieldText, Identity: true,
		RequiredFor: []MatchStrategy{MatchByEmail},
		Description: "Member email address", Example: "jsmith@example.org",
		set: func(r *ParsedRow, v string) error { r.Email = v; return nil },
	},
	{
		Name: ColBadgeNumber, Type: FieldText, Identity: true,
		RequiredFor: []MatchStrategy{MatchByBadge},
		Description: "Badge or employee number", Example: "1042",
		set: func(r *ParsedRow, v string) error { r.BadgeNumber = v; return nil },
	},
	// name, or first_name plus last_name, is checked separately for the
	// name strategy since either form satisfies it.
	{
		Name: ColName, Type: FieldText, Identity: true,
		Description: "Full name, first then last", Example: "Jordan Smith",
		set: func(r *ParsedRow, v string) error { r.Name = collapseSpaces(v); return nil },
	},
	{
		Name: ColFirstName, Type: FieldText, Identity: true,
		Description: "First name, used with last_name", Example: "Jordan",
		set: func(r *ParsedRow, v string) error { r.FirstName = v; return nil },
	},
	{
		Name: ColLastName, Type: FieldText, Identity: true,
		Description: "Last name, used with first_name", Example: "Smith",
		set: func(r *ParsedRow, v string) error { r.LastName = v; return nil },
	},
	{
		Name: ColCourseName, Type: FieldText, AlwaysRequired: true,
		Description: "Course or class title", Example: "EMT Refresher",
		set: func(r *ParsedRow, v string) error { r.CourseName = collapseSpaces(v); return nil },
	},
	{
		Name: ColCourseCode, Type: FieldText,
		Description: "Catalog course code", Example: "EMS-201",
		set: func(r *ParsedRow, v string) error { r.CourseCode = v; return nil },
	},
	{
		Name: ColCompletionDate, Type: FieldDate,
		Description: "Date the training was completed", Example: "2024-03-15",
		set: func(r *ParsedRow, v string) error { return setDate(&r.CompletionDate, v) },
	},
	{
		Name: ColExpirationDate, Type: FieldDate,
		Description: "Date the certification expires", Example: "2026-03-15",
		set: func(r *ParsedRow, v string) error { return setDate(&r.ExpirationDate, v) },
	},
	{
		Name: ColHours, Type: FieldNumeric,
		Description: "Contact hours", Example: "8",
		set: func(r *ParsedRow, v string) error { return setDecimal(&r.Hours, v, true) },
	},
	{
		Name: ColCreditHours, Type: FieldNumeric,
		Description: "Continuing-education credit hours", Example: "0.5",
		set: func(r *ParsedRow, v string) error { return setDecimal(&r.CreditHours, v, true) },
	},
	{
		Name: ColTrainingType, Type: FieldText,
		Description: "Training type such as certification or drill", Example: "continuing_education",
		set: func(r *ParsedRow, v string) error { r.TrainingType = v; return nil },
	},
	{
		Name: ColCertificationNumber, Type: FieldText,
		Description: "Certificate or license number", Example: "NR-88123",
		set: func(r *ParsedRow, v string) error { r.CertificationNumber = v; return nil },
	},
	{
		Name: ColIssuingAgency, Type: FieldText,
		Description: "Agency that issued the certificate", Example: "NREMT",
		set: func(r *ParsedRow, v string) error { r.IssuingAgency = v; return nil },
	},
	{
		Name: ColInstructor, Type: FieldText,
		Description: "Instructor name", Example: "Capt. Reyes",
		set: func(r *ParsedRow, v string) error { r.Instructor = v; return nil },
	},
	{
		Name: ColLocation, Type: FieldText,
		Description: "Where the training took place", Example: "Station 4",
		set: func(r *ParsedRow, v string) error { r.Location = v; return nil },
	},
	{
		Name: ColScore, Type: FieldNumeric,
		Description: "Exam score", Example: "92.5",
		set: func(r *ParsedRow, v string) error { return setDecimal(&r.Score, v, false) },
	},
	{
		Name: ColPassed, Type: FieldBool,
		Description: "Whether the member passed (yes/no)", Example: "yes",
		set: func(r *ParsedRow, v string) error {
			b, ok := ToBool(v)
			if !ok {
				return errInvalidBool
			}
			r.Passed = &b
			return nil
		},
	},
	{
		Name: ColNotes, Type: FieldText,
		Description: "Free-form notes", Example: "",
		set: func(r *ParsedRow, v string) error { r.Notes = v; return nil },
	},
}

var fieldSpecIndex = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(fieldSpecs))
	for _, f := range fieldSpecs {
		m[f.Name] = f
	}
	return m
}()

// FieldSpecs returns the column table in template order.
func FieldSpecs() []FieldSpec {
	return slices.Clone(fieldSpecs)
}

// LookupField returns the spec for a normalized column name.
func LookupField(name string) (FieldSpec, bool) {
	f, ok := fieldSpecIndex[name]
	return f, ok
}

// TemplateColumns returns the header a template file should carry for strategy:
// the identity columns the strategy uses, then every non-identity column.
func TemplateColumns(strategy MatchStrategy) []string {
	var cols []string
	switch strategy {
	case MatchByEmail:
		cols = append(cols, ColEmail)
	case MatchByBadge:
		cols = append(cols, ColBadgeNumber)
	case MatchByName:
		cols = append(cols, ColFirstName, ColLastName)
	}
	for _, f := range fieldSpecs {
		if !f.Identity {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// TemplateExample returns one example row aligned with TemplateColumns.
func TemplateExample(strategy MatchStrategy) []string {
	cols := TemplateColumns(strategy)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fieldSpecIndex[c].Example
	}
	return out
}

// RequiredColumns describes the columns strategy needs, for help text.
func RequiredColumns(strategy MatchStrategy) []string {
	var out []string
	switch strategy {
	case MatchByEmail:
		out = append(out, ColEmail)
	case MatchByBadge:
		out = append(out, ColBadgeNumber)
	case MatchByName:
		out = append(out, ColName+" (or "+strings.Join([]string{ColFirstName, ColLastName}, "+")+")")
	}
	for _, f := range fieldSpecs {
		if f.AlwaysRequired {
			out = append(out, f.Name)
		}
	}
	return out
}
