package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStrategy selects how every row of one file is resolved to a member.
type MatchStrategy string

const (
	MatchByEmail MatchStrategy = "email"
	MatchByBadge MatchStrategy = "badge_number"
	MatchByName  MatchStrategy = "name"
)

// Strategies lists the supported strategies in display order.
var Strategies = []MatchStrategy{MatchByEmail, MatchByBadge, MatchByName}

// Valid reports whether s is a supported strategy.
func (s MatchStrategy) Valid() bool {
	switch s {
	case MatchByEmail, MatchByBadge, MatchByName:
		return true
	}
	return false
}

// ParseMatchStrategy converts user input into a MatchStrategy.
// "badge" is accepted as shorthand for badge_number.
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch normalizeHeader(s) {
	case "email":
		return MatchByEmail, nil
	case "badge", "badge_number":
		return MatchByBadge, nil
	case "name":
		return MatchByName, nil
	}
	return "", &invalidStrategyError{value: s}
}

// MappingAction is the disposition chosen for one unmatched course bucket.
type MappingAction string

const (
	ActionMapExisting MappingAction = "map_existing"
	ActionCreateNew   MappingAction = "create_new"
	ActionSkip        MappingAction = "skip"
)

// ParsedRow is one data line of the import file plus its match state.
type ParsedRow struct {
	RowNumber int `json:"row_number"`

	// Member identity exactly as provided in the file.
	Email       string `json:"email,omitempty"`
	BadgeNumber string `json:"badge_number,omitempty"`
	Name        string `json:"name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`

	MemberID          string `json:"member_id,omitempty"`
	MatchedMemberName string `json:"matched_member_name,omitempty"`
	MemberMatched     bool   `json:"member_matched"`

	CourseName    string `json:"course_name"`
	CourseCode    string `json:"course_code,omitempty"`
	CourseID      string `json:"course_id,omitempty"`
	CourseMatched bool   `json:"course_matched"`

	// CourseTrainingType is the catalog course's type when the course matched.
	CourseTrainingType string `json:"course_training_type,omitempty"`

	TrainingType        string              `json:"training_type,omitempty"`
	CompletionDate      *time.Time          `json:"completion_date,omitempty"`
	ExpirationDate      *time.Time          `json:"expiration_date,omitempty"`
	Hours               decimal.NullDecimal `json:"hours"`
	CreditHours         decimal.NullDecimal `json:"credit_hours"`
	CertificationNumber string              `json:"certification_number,omitempty"`
	IssuingAgency       string              `json:"issuing_agency,omitempty"`
	Instructor          string              `json:"instructor,omitempty"`
	Location            string              `json:"location,omitempty"`
	Score               decimal.NullDecimal `json:"score"`
	Passed              *bool               `json:"passed,omitempty"`
	Notes               string              `json:"notes,omitempty"`

	// Errors holds row-level problems in the order they were found.
	// A row with any error never imports.
	Errors []string `json:"errors"`
}

// HasErrors reports whether the row carries any row-level error.
func (r ParsedRow) HasErrors() bool {
	return len(r.Errors) > 0
}

// CourseKey returns the bucket key for the row's course name.
func (r ParsedRow) CourseKey() string {
	return NormalizeKey(r.CourseName)
}

func (r *ParsedRow) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// clone returns a deep copy so stages never share mutable slices.
func (r ParsedRow) clone() ParsedRow {
	out := r
	if r.Errors != nil {
		out.Errors = append([]string(nil), r.Errors...)
	} else {
		out.Errors = []string{}
	}
	return out
}

func cloneRows(rows []ParsedRow) []ParsedRow {
	out := make([]ParsedRow, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return out
}

// CourseSuggestion is a catalog course whose name resembles an unmatched name.
type CourseSuggestion struct {
	CourseID string `json:"course_id"`
	Name     string `json:"name"`
	Distance int    `json:"distance"`
}

// UnmatchedCourse is one bucket of rows sharing a course name that is not in
// the catalog.
type UnmatchedCourse struct {
	Key           string             `json:"key"`
	CSVCourseName string             `json:"csv_course_name"`
	CourseCode    string             `json:"course_code,omitempty"`
	Occurrences   int                `json:"occurrences"`
	Suggestions   []CourseSuggestion `json:"suggestions,omitempty"`
}

// CourseMappingEntry is the user's decision for one unmatched bucket.
type CourseMappingEntry struct {
	CSVCourseName    string        `json:"csv_course_name" validate:"required"`
	Action           MappingAction `json:"action" validate:"required,oneof=map_existing create_new skip"`
	ExistingCourseID string        `json:"existing_course_id,omitempty" validate:"required_if=Action map_existing"`
	TrainingType     string        `json:"training_type,omitempty" validate:"max=100"`
}

// ImportSummary holds the aggregate counts shown before commit.
type ImportSummary struct {
	TotalRows            int `json:"total_rows"`
	MembersMatched       int `json:"members_matched"`
	MembersUnmatched     int `json:"members_unmatched"`
	CoursesMatched       int `json:"courses_matched"`
	CoursesUnmatched     int `json:"courses_unmatched"`
	UnmatchedCourseNames int `json:"unmatched_course_names"`
	ErrorRows            int `json:"error_rows"`
	SkippedRows          int `json:"skipped_rows"`
	WillImport           int `json:"will_import"`
}

// ImportResult is the outcome of one commit. Total always equals
// Imported + Skipped + Failed.
type ImportResult struct {
	Total          int           `json:"total"`
	Imported       int           `json:"imported"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Excluded       int           `json:"excluded"`
	CoursesCreated int           `json:"courses_created"`
	Errors         []string      `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// Member is one entry of the member directory.
type Member struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	BadgeNumber string `json:"badge_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

// DisplayName returns "First Last".
func (m Member) DisplayName() string {
	return collapseSpaces(m.FirstName + " " + m.LastName)
}

// Course is one entry of the canonical course catalog.
type Course struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Code         string `json:"code,omitempty"`
	TrainingType string `json:"training_type,omitempty"`
}

// NewCourse is the payload for creating a catalog course during commit.
type NewCourse struct {
	Name         string
	Code         string
	TrainingType string
}

// TrainingRecord is the write issued for each imported row.
type TrainingRecord struct {
	MemberID            string
	CourseID            string
	CourseName          string
	TrainingType        string
	Status              string
	CompletionDate      *time.Time
	ExpirationDate      *time.Time
	Hours               decimal.NullDecimal
	CreditHours         decimal.NullDecimal
	CertificationNumber string
	IssuingAgency       string
	Instructor          string
	Location            string
	Score               decimal.NullDecimal
	Passed              *bool
	Notes               string
	SourceRow           int
	ImportID            string
}

// MemberDirectory resolves member identities. Each lookup returns every
// member matching the key so callers can detect ambiguity. LookupByName
// compares against "first last", case-insensitively with whitespace collapsed.
type MemberDirectory interface {
	LookupByEmail(ctx context.Context, email string) ([]Member, error)
	LookupByBadge(ctx context.Context, badge string) ([]Member, error)
	LookupByName(ctx context.Context, fullName string) ([]Member, error)
}

// CourseCatalog is the canonical course list. Find methods return nil, nil
// when no course matches.
type CourseCatalog interface {
	FindCourseByName(ctx context.Context, name string) (*Course, error)
	FindCourseByCode(ctx context.Context, code string) (*Course, error)
	CreateCourse(ctx context.Context, c NewCourse) (Course, error)
}

// CourseLister is implemented by catalogs that can enumerate their courses.
// The reconciler uses it for suggestions only.
type CourseLister interface {
	ListCourses(ctx context.Context) ([]Course, error)
}

// TrainingRecordWriter persists training records.
type TrainingRecordWriter interface {
	CreateTrainingRecord(ctx context.Context, rec TrainingRecord) (string, error)
}
