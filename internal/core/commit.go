package core

// commit.go writes the importable rows of a session.
//
// Commit is a batch of independent writes, not a transaction. Each row either
// imports or fails on its own and the result always reconciles:
// Total == Imported + Skipped + Failed. Rows outside that identity (member not
// matched, row errors) are reported as Excluded and never touched.
//
// Courses for create_new buckets are created lazily by the first row that
// needs one, exactly once per commit. Before creating, the catalog is asked
// for the name again, so confirming again after a partial failure reuses the
// course the earlier attempt made.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	errCourseNotCreated = errors.New("course creation did not finish")
	errInternalWrite    = errors.New("internal error while writing row")
)

// DefaultCommitWorkers is the write parallelism when none is configured.
const DefaultCommitWorkers = 4

// DefaultRecordStatus is the status given to imported training records.
const DefaultRecordStatus = "completed"

// CommitDefaults are the fallbacks applied when a row leaves a value unset.
type CommitDefaults struct {
	TrainingType string
	RecordStatus string

	// ImportID tags every written record with the session that produced it.
	ImportID string
}

// CommitEngine performs the commit stage against a catalog and record writer.
type CommitEngine struct {
	catalog CourseCatalog
	writer  TrainingRecordWriter
	workers int
	logger  *slog.Logger
}

// NewCommitEngine creates an engine. workers <= 0 uses DefaultCommitWorkers.
func NewCommitEngine(catalog CourseCatalog, writer TrainingRecordWriter, workers int) *CommitEngine {
	if workers <= 0 {
		workers = DefaultCommitWorkers
	}
	return &CommitEngine{
		catalog: catalog,
		writer:  writer,
		workers: workers,
		logger:  slog.Default(),
	}
}

// WithLogger returns a copy of the engine that logs to logger.
func (e *CommitEngine) WithLogger(logger *slog.Logger) *CommitEngine {
	c := *e
	c.logger = logger
	return &c
}

// courseCell holds the outcome of creating one bucket's course.
type courseCell struct {
	once   sync.Once
	name   string
	code   string
	ttype  string
	course Course
	err    error
}

type commitJob struct {
	row    ParsedRow
	action MappingAction
	entry  CourseMappingEntry
	cell   *courseCell
}

type rowOutcome struct {
	recordID string
	err      error
}

// Commit classifies rows with the same rule as Project, creates the courses
// the importable rows need and writes one training record per importable row.
//
// Cancelling ctx is a hard cut-off: rows not yet written fail with the
// context error, rows already written stay imported, and the counts still
// reconcile. The returned result is never nil.
func (e *CommitEngine) Commit(ctx context.Context, rows []ParsedRow, mapping *MappingTable, defaults CommitDefaults) *ImportResult {
	start := time.Now()
	if mapping == nil {
		mapping = NewMappingTable(defaults.TrainingType)
	}
	if defaults.RecordStatus == "" {
		defaults.RecordStatus = DefaultRecordStatus
	}
	if defaults.TrainingType == "" {
		defaults.TrainingType = mapping.DefaultTrainingType()
	}

	result := &ImportResult{Errors: []string{}}
	cells := make(map[string]*courseCell)
	var jobs []commitJob

	for _, row := range rows {
		status, action := classifyRow(row, mapping)
		switch status {
		case StatusSkipped:
			result.Skipped++
			continue
		case StatusReady:
		default:
			result.Excluded++
			continue
		}

		job := commitJob{row: row, action: action}
		if action != "" {
			job.entry = mapping.Get(row.CourseName)
		}
		if action == ActionCreateNew {
			key := NormalizeKey(row.CourseName)
			cell, ok := cells[key]
			if !ok {
				// First appearance fixes the spelling and code of the new course.
				cell = &courseCell{name: row.CourseName, code: row.CourseCode, ttype: job.entry.TrainingType}
				cells[key] = cell
			} else if cell.code == "" {
				cell.code = row.CourseCode
			}
			job.cell = cell
		}
		jobs = append(jobs, job)
	}
	result.Total = len(jobs) + result.Skipped

	outcomes := make([]rowOutcome, len(jobs))
	var created atomic.Int64

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range jobs {
		g.Go(func() error {
			outcomes[i] = e.commitRow(ctx, jobs[i], defaults, &created)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", jobs[i].row.RowNumber, o.err.Error()))
			continue
		}
		result.Imported++
	}
	result.CoursesCreated = int(created.Load())
	result.Duration = time.Since(start)

	e.logger.Info("import committed",
		"import_id", defaults.ImportID,
		"total", result.Total,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"excluded", result.Excluded,
		"courses_created", result.CoursesCreated,
		"duration", result.Duration,
	)
	return result
}

func (e *CommitEngine) commitRow(ctx context.Context, job commitJob, defaults CommitDefaults, created *atomic.Int64) (out rowOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in commit", "row", job.row.RowNumber, "panic", r)
			out = rowOutcome{err: errInternalWrite}
		}
	}()

	if err := ctx.Err(); err != nil {
		return rowOutcome{err: userFacing(err)}
	}

	courseID, err := e.resolveCourse(ctx, job, created)
	if err != nil {
		return rowOutcome{err: err}
	}

	rec := buildRecord(job, courseID, defaults)
	id, err := e.writer.CreateTrainingRecord(ctx, rec)
	if err != nil {
		return rowOutcome{err: userFacing(err)}
	}
	return rowOutcome{recordID: id}
}

func (e *CommitEngine) resolveCourse(ctx context.Context, job commitJob, created *atomic.Int64) (string, error) {
	switch {
	case job.row.CourseMatched:
		return job.row.CourseID, nil
	case job.action == ActionMapExisting:
		return job.entry.ExistingCourseID, nil
	case job.cell != nil:
		cell := job.cell
		cell.once.Do(func() {
			// Preset so a panicking creator leaves the bucket failed, not empty.
			cell.err = errCourseNotCreated
			cell.course, cell.err = e.ensureCourse(ctx, cell, created)
		})
		if cell.err != nil {
			return "", fmt.Errorf("course %q could not be created: %s", cell.name, commitErrorMessage(cell.err))
		}
		return cell.course.ID, nil
	}
	return "", fmt.Errorf("course %q has no resolution", job.row.CourseName)
}

// ensureCourse reuses a same-named catalog course if one exists by now and
// creates it otherwise.
func (e *CommitEngine) ensureCourse(ctx context.Context, cell *courseCell, created *atomic.Int64) (Course, error) {
	if err := ctx.Err(); err != nil {
		return Course{}, err
	}
	existing, err := e.catalog.FindCourseByName(ctx, cell.name)
	if err != nil {
		return Course{}, fmt.Errorf("check catalog: %w", err)
	}
	if existing != nil {
		e.logger.Info("reusing existing course", "course", cell.name, "course_id", existing.ID)
		return *existing, nil
	}

	c, err := e.catalog.CreateCourse(ctx, NewCourse{Name: cell.name, Code: cell.code, TrainingType: cell.ttype})
	if err != nil {
		return Course{}, err
	}
	created.Add(1)
	e.logger.Info("course created", "course", c.Name, "course_id", c.ID, "training_type", c.TrainingType)
	return c, nil
}

func buildRecord(job commitJob, courseID string, defaults CommitDefaults) TrainingRecord {
	row := job.row
	return TrainingRecord{
		MemberID:            row.MemberID,
		CourseID:            courseID,
		CourseName:          row.CourseName,
		TrainingType:        effectiveTrainingType(job, defaults),
		Status:              defaults.RecordStatus,
		CompletionDate:      row.CompletionDate,
		ExpirationDate:      row.ExpirationDate,
		Hours:               row.Hours,
		CreditHours:         row.CreditHours,
		CertificationNumber: row.CertificationNumber,
		IssuingAgency:       row.IssuingAgency,
		Instructor:          row.Instructor,
		Location:            row.Location,
		Score:               row.Score,
		Passed:              row.Passed,
		Notes:               row.Notes,
		SourceRow:           row.RowNumber,
		ImportID:            defaults.ImportID,
	}
}

// effectiveTrainingType applies the precedence: the row's own value, the
// type chosen for a created course, the catalog course's type, the default.
func effectiveTrainingType(job commitJob, defaults CommitDefaults) string {
	if t := strings.TrimSpace(job.row.TrainingType); t != "" {
		return t
	}
	if job.action == ActionCreateNew && job.entry.TrainingType != "" {
		return job.entry.TrainingType
	}
	if job.row.CourseMatched && job.row.CourseTrainingType != "" {
		return job.row.CourseTrainingType
	}
	return defaults.TrainingType
}

// userFacing keeps the technical text out of ImportResult for mapped errors.
func userFacing(err error) error {
	return fmt.Errorf("%s", commitErrorMessage(err))
}
