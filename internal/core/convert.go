package core

// convert.go turns spreadsheet cells into typed values.
//
// These functions handle the messy reality of legacy training exports:
//   - Multiple date formats (US, ISO, month names, two-digit years)
//   - Thousand separators and stray unit suffixes in hour columns
//   - Various boolean representations (yes/no, pass/fail, 1/0)
//   - Excel formula prefixes (="value")
//
// Every To* function reports ok=false for empty or unparseable input so the
// caller can decide whether that is a row error.

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are assumed
// to be in the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2-Jan-2006", "Jan-06-2006",
		"2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00",
		"20060102",
	}
)

// HeaderIndex maps normalized column names to their position in a record.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header record. The first
// occurrence of a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(cleanHeader(h))
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Get returns the cleaned cell for column name, or "" when the column is
// absent or the record is short.
func (h HeaderIndex) Get(record []string, name string) string {
	pos, ok := h[name]
	if !ok || pos >= len(record) {
		return ""
	}
	return CleanCell(record[pos])
}

// Has reports whether the header contains column name.
func (h HeaderIndex) Has(name string) bool {
	_, ok := h[name]
	return ok
}

// normalizeHeader lowercases a column name and maps spaces and dashes to
// underscores, so "Course Name" and "course-name" both become course_name.
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
	return s
}

// CleanCell trims a data cell and unwraps the Excel text-formula form
// ="...". Quotes and a bare leading = are part of the value.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// cleanHeader is CleanCell plus removal of a stray = prefix and quotes,
// which only ever show up around column names as export artifacts.
func cleanHeader(s string) string {
	s = strings.TrimPrefix(CleanCell(s), "=")
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// NormalizeKey produces the comparison key used for course buckets and name
// matching: NFC-normalized, Unicode case-folded and whitespace-collapsed.
func NormalizeKey(s string) string {
	s = collapseSpaces(s)
	if s == "" {
		return ""
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Fold().String(norm.NFC.String(s))
}

// NormalizeEmail is the key used for email lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ToDate parses a date cell. Four-digit-year layouts are tried first since
// they are unambiguous; two-digit years are pivoted around the current year.
func ToDate(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return truncateDay(t), true
		}
	}

	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToDecimal parses a numeric cell. Thousands separators and an "h"/"hrs"
// suffix are tolerated since hour columns are often typed by hand.
func ToDecimal(s string) (decimal.Decimal, bool) {
	s = strings.ToLower(CleanCell(s))
	if s == "" {
		return decimal.Decimal{}, false
	}

	for _, suffix := range []string{"hours", "hrs", "hr", "h"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ToBool parses a boolean cell.
// Accepts true/false, yes/no, t/f, y/n, 1/0 and pass/fail.
func ToBool(s string) (bool, bool) {
	switch strings.ToLower(CleanCell(s)) {
	case "true", "t", "yes", "y", "1", "pass", "passed":
		return true, true
	case "false", "f", "no", "n", "0", "fail", "failed":
		return false, true
	}
	return false, false
}
