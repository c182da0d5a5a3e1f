package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEngine(catalog CourseCatalog, writer TrainingRecordWriter, workers int) *CommitEngine {
	return NewCommitEngine(catalog, writer, workers).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func assertReconciles(t *testing.T, r *ImportResult) {
	t.Helper()
	assert.Equal(t, r.Total, r.Imported+r.Skipped+r.Failed, "total must equal imported+skipped+failed")
	assert.Len(t, r.Errors, r.Failed)
}

// Scenario C: five ready rows, the third write fails. The other four still
// import and the failure is reported by row number.
func TestScenarioC_PartialFailure(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	rows, _ := runStages(t,
		"email,course_name\n"+
			"alex@fd.org,CPR\n"+
			"blair@fd.org,CPR\n"+
			"casey@fd.org,CPR\n"+
			"dana@fd.org,CPR\n"+
			"eli@fd.org,CPR\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	writer := newFakeWriter()
	writer.failRows[3] = errors.New("record rejected by store")

	result := quietEngine(catalog, writer, 2).Commit(context.Background(), rows, NewMappingTable(""), CommitDefaults{})

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"row 3: record rejected by store"}, result.Errors)
	assertReconciles(t, result)
	assert.Len(t, writer.written(), 4)
}

func TestCommit_CreatesEachNewCourseOnce(t *testing.T) {
	catalog := newFakeCatalog()
	var csv strings.Builder
	csv.WriteString("badge_number,course_name,course_code\n")
	for i := 0; i < 10; i++ {
		code := ""
		if i == 4 {
			code = "RR-1"
		}
		spelling := "Rope Rescue"
		if i%2 == 1 {
			spelling = "rope  RESCUE"
		}
		fmt.Fprintf(&csv, "%d,%s,%s\n", 101+i%5, spelling, code)
	}
	rows, buckets := runStages(t, csv.String(), MatchByBadge, NewDirectorySnapshot(roster()), catalog)
	require.Len(t, buckets, 1)

	writer := newFakeWriter()
	result := quietEngine(catalog, writer, 8).Commit(context.Background(), rows, NewMappingTable("in_service"), CommitDefaults{})

	assert.Equal(t, 1, catalog.created(), "exactly one course per bucket")
	assert.Equal(t, 1, result.CoursesCreated)
	assert.Equal(t, 10, result.Imported)
	assertReconciles(t, result)

	courses, _ := catalog.ListCourses(context.Background())
	require.Len(t, courses, 1)
	assert.Equal(t, "Rope Rescue", courses[0].Name, "first spelling names the course")
	assert.Equal(t, "RR-1", courses[0].Code)
	assert.Equal(t, "in_service", courses[0].TrainingType)

	for _, rec := range writer.written() {
		assert.Equal(t, courses[0].ID, rec.CourseID)
	}
}

func TestCommit_AllSkippedRoundTrip(t *testing.T) {
	catalog := newFakeCatalog()
	rows, _ := runStages(t,
		"email,course_name\nalex@fd.org,Yoga\nblair@fd.org,Yoga\nghost@fd.org,yoga\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	m := NewMappingTable("")
	require.NoError(t, m.Upsert(CourseMappingEntry{CSVCourseName: "Yoga", Action: ActionSkip}))

	writer := newFakeWriter()
	result := quietEngine(catalog, writer, 0).Commit(context.Background(), rows, m, CommitDefaults{})

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 0, result.Excluded)
	assert.Empty(t, writer.written())
	assert.Equal(t, 0, catalog.created())
	assertReconciles(t, result)
}

func TestCommit_ExcludesRowsThatAreNotReady(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	rows, _ := runStages(t,
		"email,course_name,hours\n"+
			"alex@fd.org,CPR,2\n"+
			"ghost@fd.org,CPR,2\n"+
			"blair@fd.org,CPR,lots\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	writer := newFakeWriter()
	result := quietEngine(catalog, writer, 1).Commit(context.Background(), rows, nil, CommitDefaults{})

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Excluded)
	assertReconciles(t, result)
}

func TestCommit_RetryReusesCourseFromEarlierAttempt(t *testing.T) {
	catalog := newFakeCatalog()
	rows, _ := runStages(t,
		"email,course_name\nalex@fd.org,Rope Rescue\nblair@fd.org,Rope Rescue\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)
	m := NewMappingTable("")

	writer := newFakeWriter()
	writer.failRows[2] = errors.New("connection reset by peer")
	first := quietEngine(catalog, writer, 1).Commit(context.Background(), rows, m, CommitDefaults{})
	require.Equal(t, 1, first.Failed)
	require.Equal(t, 1, first.CoursesCreated)

	delete(writer.failRows, 2)
	second := quietEngine(catalog, writer, 1).Commit(context.Background(), rows, m, CommitDefaults{})

	assert.Equal(t, 0, second.CoursesCreated)
	assert.Equal(t, 1, catalog.created(), "no second course for the same name")
	assert.Equal(t, 2, second.Imported)
}

func TestCommit_CourseCreationFailureFailsBucket(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	catalog.createErr["Rope Rescue"] = errors.New("permission denied for table courses")

	rows, _ := runStages(t,
		"email,course_name\n"+
			"alex@fd.org,Rope Rescue\n"+
			"blair@fd.org,CPR\n"+
			"casey@fd.org,Rope Rescue\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	result := quietEngine(catalog, newFakeWriter(), 4).Commit(context.Background(), rows, NewMappingTable(""), CommitDefaults{})

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, catalog.created(), "creation is attempted once even when it fails")
	require.Len(t, result.Errors, 2)
	assert.True(t, strings.HasPrefix(result.Errors[0], `row 1: course "Rope Rescue" could not be created`), result.Errors[0])
	assert.True(t, strings.HasPrefix(result.Errors[1], "row 3: "), result.Errors[1])
	assertReconciles(t, result)
}

func TestCommit_MapExistingUsesTarget(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-emt", Name: "EMT-Refresher"})
	rows, _ := runStages(t,
		"email,course_name\nalex@fd.org,EMT Refresher\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	m := NewMappingTable("")
	require.NoError(t, m.Upsert(CourseMappingEntry{CSVCourseName: "EMT Refresher", Action: ActionMapExisting, ExistingCourseID: "c-emt"}))

	writer := newFakeWriter()
	result := quietEngine(catalog, writer, 1).Commit(context.Background(), rows, m, CommitDefaults{ImportID: "imp-1"})

	require.Equal(t, 1, result.Imported)
	rec := writer.written()[0]
	assert.Equal(t, "c-emt", rec.CourseID)
	assert.Equal(t, "m-1", rec.MemberID)
	assert.Equal(t, "imp-1", rec.ImportID)
	assert.Equal(t, DefaultRecordStatus, rec.Status)
	assert.Equal(t, 0, catalog.created())
}

func TestCommit_PanicFailsOnlyThatRow(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	rows, _ := runStages(t,
		"email,course_name\nalex@fd.org,CPR\nblair@fd.org,CPR\ncasey@fd.org,CPR\n",
		MatchByEmail, NewDirectorySnapshot(roster()), catalog)

	writer := newFakeWriter()
	writer.panicRow = 2

	result := quietEngine(catalog, writer, 2).Commit(context.Background(), rows, nil, CommitDefaults{})

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, []string{"row 2: " + errInternalWrite.Error()}, result.Errors)
	assertReconciles(t, result)
}

func TestCommit_CancellationIsHardCutoff(t *testing.T) {
	catalog := newFakeCatalog(Course{ID: "c-1", Name: "CPR"})
	var csv strings.Builder
	csv.WriteString("badge_number,course_name\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&csv, "%d,CPR\n", 101+i%5)
	}
	rows, _ := runStages(t, csv.String(), MatchByBadge, NewDirectorySnapshot(roster()), catalog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	writer := newFakeWriter()
	writer.onWrite = func(rec TrainingRecord) {
		if rec.SourceRow == 5 {
			once.Do(cancel)
		}
	}

	result := quietEngine(catalog, writer, 1).Commit(ctx, rows, nil, CommitDefaults{})

	assert.Equal(t, 20, result.Total)
	assert.Equal(t, 4, result.Imported, "rows before the cancel stay imported")
	assert.Equal(t, 16, result.Failed)
	assert.Len(t, writer.written(), 4)
	assertReconciles(t, result)
}

func TestEffectiveTrainingType(t *testing.T) {
	defaults := CommitDefaults{TrainingType: "default_type"}

	tests := []struct {
		name string
		job  commitJob
		want string
	}{
		{
			name: "row value wins",
			job: commitJob{
				row:    ParsedRow{TrainingType: "drill", CourseMatched: true, CourseTrainingType: "certification"},
				action: "",
			},
			want: "drill",
		},
		{
			name: "created course type",
			job: commitJob{
				row:    ParsedRow{},
				action: ActionCreateNew,
				entry:  CourseMappingEntry{TrainingType: "in_service"},
			},
			want: "in_service",
		},
		{
			name: "catalog course type",
			job:  commitJob{row: ParsedRow{CourseMatched: true, CourseTrainingType: "certification"}},
			want: "certification",
		},
		{
			name: "mapped existing falls back to default",
			job:  commitJob{row: ParsedRow{}, action: ActionMapExisting, entry: CourseMappingEntry{ExistingCourseID: "c-1"}},
			want: "default_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, effectiveTrainingType(tt.job, defaults))
		})
	}
}
