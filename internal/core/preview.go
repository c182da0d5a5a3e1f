package core

import (
	"fmt"
	"strings"
)

// RowStatus is the projected outcome of one row.
type RowStatus string

// Statuses in precedence order: a skipped row is skipped even if it also has
// errors, and an errored row reports the error before a missing member.
const (
	StatusSkipped         RowStatus = "skipped"
	StatusError           RowStatus = "error"
	StatusUnmatchedMember RowStatus = "unmatched_member"
	StatusReady           RowStatus = "ready"
)

// PreviewView selects a filtered list of preview rows.
type PreviewView string

const (
	ViewAll       PreviewView = "all"
	ViewReady     PreviewView = "ready"
	ViewUnmatched PreviewView = "unmatched"
	ViewErrored   PreviewView = "errored"
	ViewSkipped   PreviewView = "skipped"
)

// ParseView converts user input into a PreviewView. Empty means all.
func ParseView(s string) (PreviewView, error) {
	switch v := PreviewView(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ViewAll, nil
	case ViewAll, ViewReady, ViewUnmatched, ViewErrored, ViewSkipped:
		return v, nil
	}
	return "", fmt.Errorf("%w %q (use all, ready, unmatched, errored or skipped)", ErrInvalidView, s)
}

// PreviewRow is a row with its projected status.
type PreviewRow struct {
	ParsedRow

	Status RowStatus `json:"status"`

	// Action is the mapping decision for rows whose course is not in the
	// catalog; empty for catalog-matched courses.
	Action     MappingAction `json:"action,omitempty"`
	Importable bool          `json:"importable"`
}

// Preview is the read-only projection of rows plus mapping.
type Preview struct {
	Rows    []PreviewRow  `json:"rows"`
	Summary ImportSummary `json:"summary"`
}

// classifyRow is the single importability rule shared by Project and Commit.
func classifyRow(row ParsedRow, mapping *MappingTable) (RowStatus, MappingAction) {
	var action MappingAction
	if !row.CourseMatched && NormalizeKey(row.CourseName) != "" {
		action = mapping.Get(row.CourseName).Action
	}

	switch {
	case action == ActionSkip:
		return StatusSkipped, action
	case row.HasErrors():
		return StatusError, action
	case !row.MemberMatched:
		return StatusUnmatchedMember, action
	}
	return StatusReady, action
}

// Project combines rows and the mapping into a Preview. It performs no I/O
// and returns identical output for identical input.
func Project(rows []ParsedRow, mapping *MappingTable) *Preview {
	if mapping == nil {
		mapping = NewMappingTable("")
	}

	p := &Preview{Rows: make([]PreviewRow, len(rows))}
	s := &p.Summary
	unmatchedNames := make(map[string]struct{})

	for i, row := range rows {
		status, action := classifyRow(row, mapping)
		p.Rows[i] = PreviewRow{
			ParsedRow:  row.clone(),
			Status:     status,
			Action:     action,
			Importable: status == StatusReady,
		}

		s.TotalRows++
		if row.MemberMatched {
			s.MembersMatched++
		} else {
			s.MembersUnmatched++
		}
		if row.CourseMatched {
			s.CoursesMatched++
		} else if key := NormalizeKey(row.CourseName); key != "" {
			s.CoursesUnmatched++
			unmatchedNames[key] = struct{}{}
		}
		if row.HasErrors() {
			s.ErrorRows++
		}
		if status == StatusSkipped {
			s.SkippedRows++
		}
		if status == StatusReady {
			s.WillImport++
		}
	}
	s.UnmatchedCourseNames = len(unmatchedNames)
	return p
}

// Filter returns the rows in view. Views may overlap: an unmatched member
// row with a bad date shows under both unmatched and errored.
func (p *Preview) Filter(view PreviewView) []PreviewRow {
	out := []PreviewRow{}
	for _, r := range p.Rows {
		if inView(r, view) {
			out = append(out, r)
		}
	}
	return out
}

func inView(r PreviewRow, view PreviewView) bool {
	switch view {
	case ViewReady:
		return r.Importable
	case ViewUnmatched:
		return !r.MemberMatched
	case ViewErrored:
		return r.HasErrors()
	case ViewSkipped:
		return r.Status == StatusSkipped
	}
	return true
}
