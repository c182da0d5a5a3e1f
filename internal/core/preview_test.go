package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRow_Precedence(t *testing.T) {
	m := NewMappingTable("")
	require.NoError(t, m.Upsert(CourseMappingEntry{CSVCourseName: "Yoga", Action: ActionSkip}))

	tests := []struct {
		name       string
		row        ParsedRow
		wantStatus RowStatus
		wantAction MappingAction
	}{
		{
			name:       "skip wins over errors and unmatched member",
			row:        ParsedRow{CourseName: "yoga", Errors: []string{"bad date"}},
			wantStatus: StatusSkipped,
			wantAction: ActionSkip,
		},
		{
			name:       "errors win over unmatched member",
			row:        ParsedRow{CourseName: "CPR", CourseMatched: true, Errors: []string{"bad date"}},
			wantStatus: StatusError,
		},
		{
			name:       "unmatched member",
			row:        ParsedRow{CourseName: "CPR", CourseMatched: true},
			wantStatus: StatusUnmatchedMember,
		},
		{
			name:       "ready with catalog course",
			row:        ParsedRow{MemberMatched: true, CourseName: "CPR", CourseMatched: true},
			wantStatus: StatusReady,
		},
		{
			name:       "ready through default create_new",
			row:        ParsedRow{MemberMatched: true, CourseName: "Rope Rescue"},
			wantStatus: StatusReady,
			wantAction: ActionCreateNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, action := classifyRow(tt.row, m)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func previewFixture(t *testing.T) ([]ParsedRow, *MappingTable) {
	t.Helper()
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	rows, _ := runStages(t,
		"email,course_name,completion_date\n"+
			"alex@fd.org,CPR,2024-01-10\n"+
			"blair@fd.org,Yoga,2024-01-11\n"+
			"ghost@fd.org,CPR,2024-01-12\n"+
			"casey@fd.org,Rope Rescue,not-a-date\n"+
			"dana@fd.org,Rope Rescue,2024-02-01\n"+
			"ghost@fd.org,CPR,13/45/2024\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	m := NewMappingTable("")
	require.NoError(t, m.Upsert(CourseMappingEntry{CSVCourseName: "Yoga", Action: ActionSkip}))
	return rows, m
}

func TestProject_Summary(t *testing.T) {
	rows, m := previewFixture(t)
	p := Project(rows, m)

	want := ImportSummary{
		TotalRows:            6,
		MembersMatched:       4,
		MembersUnmatched:     2,
		CoursesMatched:       3,
		CoursesUnmatched:     3,
		UnmatchedCourseNames: 2,
		ErrorRows:            2,
		SkippedRows:          1,
		WillImport:           2,
	}
	assert.Equal(t, want, p.Summary)

	statuses := make([]RowStatus, len(p.Rows))
	for i, r := range p.Rows {
		statuses[i] = r.Status
	}
	assert.Equal(t, []RowStatus{
		StatusReady, StatusSkipped, StatusUnmatchedMember, StatusError, StatusReady, StatusError,
	}, statuses)
}

func TestPreview_Filter(t *testing.T) {
	rows, m := previewFixture(t)
	p := Project(rows, m)

	rowNumbers := func(view PreviewView) []int {
		var out []int
		for _, r := range p.Filter(view) {
			out = append(out, r.RowNumber)
		}
		return out
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, rowNumbers(ViewAll))
	assert.Equal(t, []int{1, 5}, rowNumbers(ViewReady))
	assert.Equal(t, []int{3, 6}, rowNumbers(ViewUnmatched))
	assert.Equal(t, []int{4, 6}, rowNumbers(ViewErrored), "row 6 is both unmatched and errored")
	assert.Equal(t, []int{2}, rowNumbers(ViewSkipped))
	assert.Empty(t, p.Filter(ViewReady)[0].Errors)
}

func TestProject_IsPure(t *testing.T) {
	rows, m := previewFixture(t)
	before, err := json.Marshal(rows)
	require.NoError(t, err)

	first, err := json.Marshal(Project(rows, m))
	require.NoError(t, err)
	second, err := json.Marshal(Project(rows, m))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))

	after, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "Project must not modify rows")

	p := Project(rows, m)
	p.Rows[3].Errors[0] = "changed"
	assert.NotEqual(t, "changed", rows[3].Errors[0], "preview rows must not alias input errors")
}

func TestProject_SkipMappingMovesRowsOutOfImport(t *testing.T) {
	rows, m := previewFixture(t)
	require.NoError(t, m.Upsert(CourseMappingEntry{CSVCourseName: "Rope Rescue", Action: ActionSkip}))

	p := Project(rows, m)
	assert.Equal(t, 1, p.Summary.WillImport)
	assert.Equal(t, 3, p.Summary.SkippedRows)
	assert.Equal(t, StatusSkipped, p.Rows[3].Status, "row 4 has errors but reports skipped")
	assert.Equal(t, 2, p.Summary.ErrorRows)
}

func TestParseView(t *testing.T) {
	tests := []struct {
		in      string
		want    PreviewView
		wantErr bool
	}{
		{"", ViewAll, false},
		{" Ready ", ViewReady, false},
		{"errored", ViewErrored, false},
		{"broken", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseView(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidView)
				assert.Equal(t, "IMP005", MapError(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
