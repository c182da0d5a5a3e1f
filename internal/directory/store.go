// Package directory implements the member directory, course catalog and
// training record writer on Postgres.
package directory

import (
	"context"
	"errors"
	"strings"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

// DB is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads members and courses and writes training records.
type Store struct {
	db DB
}

// NewStore creates a Store on db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const memberColumns = `id, email, badge_number, first_name, last_name`

// Name lookups compare lower(single-spaced stored name) with sqlKey of the
// input.
const (
	lookupByEmailSQL = `SELECT ` + memberColumns + ` FROM members
		WHERE active AND lower(email) = $1 ORDER BY id`
	lookupByBadgeSQL = `SELECT ` + memberColumns + ` FROM members
		WHERE active AND badge_number = $1 ORDER BY id`
	lookupByNameSQL = `SELECT ` + memberColumns + ` FROM members
		WHERE active AND lower(regexp_replace(btrim(first_name || ' ' || last_name), '\s+', ' ', 'g')) = $1
		ORDER BY id`
)

// LookupByEmail returns active members with the given email, case-insensitively.
func (s *Store) LookupByEmail(ctx context.Context, email string) ([]core.Member, error) {
	return s.queryMembers(ctx, lookupByEmailSQL, core.NormalizeEmail(email))
}

// LookupByBadge returns active members with the given badge number.
func (s *Store) LookupByBadge(ctx context.Context, badge string) ([]core.Member, error) {
	return s.queryMembers(ctx, lookupByBadgeSQL, strings.TrimSpace(badge))
}

// LookupByName returns active members whose "first last" name matches.
func (s *Store) LookupByName(ctx context.Context, fullName string) ([]core.Member, error) {
	return s.queryMembers(ctx, lookupByNameSQL, sqlKey(fullName))
}

// sqlKey is the Go side of the lower(...) comparisons. It lower-cases rather
// than case-folds: Postgres lower() leaves ß alone and turns Σ into σ, which
// strings.ToLower matches and cases.Fold does not.
func sqlKey(s string) string {
	return strings.ToLower(norm.NFC.String(strings.Join(strings.Fields(s), " ")))
}

func (s *Store) queryMembers(ctx context.Context, sql, arg string) ([]core.Member, error) {
	rows, err := s.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, gerrors.Wrap(err, "query members")
	}
	members, err := pgx.CollectRows(rows, scanMember)
	if err != nil {
		return nil, gerrors.Wrap(err, "scan members")
	}
	return members, nil
}

func scanMember(row pgx.CollectableRow) (core.Member, error) {
	var (
		id pgtype.UUID
		m  core.Member
	)
	if err := row.Scan(&id, &m.Email, &m.BadgeNumber, &m.FirstName, &m.LastName); err != nil {
		return core.Member{}, err
	}
	m.ID = pgUUIDToString(id)
	return m, nil
}

const courseColumns = `id, name, code, training_type`

const (
	findCourseByNameSQL = `SELECT ` + courseColumns + ` FROM courses
		WHERE lower(regexp_replace(btrim(name), '\s+', ' ', 'g')) = $1
		ORDER BY created_at LIMIT 1`
	findCourseByCodeSQL = `SELECT ` + courseColumns + ` FROM courses
		WHERE code <> '' AND lower(code) = lower($1)
		ORDER BY created_at LIMIT 1`
	listCoursesSQL  = `SELECT ` + courseColumns + ` FROM courses ORDER BY name, id`
	createCourseSQL = `INSERT INTO courses (name, code, training_type) VALUES ($1, $2, $3) RETURNING ` + courseColumns
)

// FindCourseByName returns the course whose normalized name equals name's,
// or nil when there is none.
func (s *Store) FindCourseByName(ctx context.Context, name string) (*core.Course, error) {
	return s.findCourse(ctx, findCourseByNameSQL, sqlKey(name))
}

// FindCourseByCode returns the course with the given code, or nil.
func (s *Store) FindCourseByCode(ctx context.Context, code string) (*core.Course, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return s.findCourse(ctx, findCourseByCodeSQL, code)
}

func (s *Store) findCourse(ctx context.Context, sql, arg string) (*core.Course, error) {
	c, err := scanCourse(s.db.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.Wrap(err, "find course")
	}
	return &c, nil
}

// ListCourses returns the whole catalog ordered by name.
func (s *Store) ListCourses(ctx context.Context) ([]core.Course, error) {
	rows, err := s.db.Query(ctx, listCoursesSQL)
	if err != nil {
		return nil, gerrors.Wrap(err, "list courses")
	}
	courses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Course, error) {
		return scanCourse(row)
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan courses")
	}
	return courses, nil
}

// CreateCourse inserts a course. When another writer created the same name
// first, the unique index rejects the insert and the existing course is
// returned instead.
func (s *Store) CreateCourse(ctx context.Context, nc core.NewCourse) (core.Course, error) {
	name := strings.Join(strings.Fields(nc.Name), " ")
	c, err := scanCourse(s.db.QueryRow(ctx, createCourseSQL, name, strings.TrimSpace(nc.Code), nc.TrainingType))
	if err == nil {
		return c, nil
	}
	if isUniqueViolation(err) {
		existing, findErr := s.FindCourseByName(ctx, name)
		if findErr == nil && existing != nil {
			return *existing, nil
		}
	}
	return core.Course{}, gerrors.Wrap(err, "create course")
}

func scanCourse(row pgx.Row) (core.Course, error) {
	var (
		id pgtype.UUID
		c  core.Course
	)
	if err := row.Scan(&id, &c.Name, &c.Code, &c.TrainingType); err != nil {
		return core.Course{}, err
	}
	c.ID = pgUUIDToString(id)
	return c, nil
}

const createRecordSQL = `INSERT INTO training_records (
	member_id, course_id, training_type, status,
	completion_date, expiration_date, hours, credit_hours,
	certification_number, issuing_agency, instructor, location,
	score, passed, notes, source_row, import_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id`

// CreateTrainingRecord inserts one record and returns its id.
func (s *Store) CreateTrainingRecord(ctx context.Context, rec core.TrainingRecord) (string, error) {
	args, err := recordArgs(rec)
	if err != nil {
		return "", err
	}

	var id pgtype.UUID
	if err := s.db.QueryRow(ctx, createRecordSQL, args...).Scan(&id); err != nil {
		return "", gerrors.Wrap(err, "create training record")
	}
	return pgUUIDToString(id), nil
}

func recordArgs(rec core.TrainingRecord) ([]any, error) {
	memberID, err := toPgUUID("member_id", rec.MemberID)
	if err != nil {
		return nil, err
	}
	courseID, err := toPgUUID("course_id", rec.CourseID)
	if err != nil {
		return nil, err
	}
	return []any{
		memberID,
		courseID,
		rec.TrainingType,
		rec.Status,
		toPgDate(rec.CompletionDate),
		toPgDate(rec.ExpirationDate),
		toPgNumeric(rec.Hours),
		toPgNumeric(rec.CreditHours),
		toPgText(rec.CertificationNumber),
		toPgText(rec.IssuingAgency),
		toPgText(rec.Instructor),
		toPgText(rec.Location),
		toPgNumeric(rec.Score),
		toPgBool(rec.Passed),
		toPgText(rec.Notes),
		toPgInt4(rec.SourceRow),
		toPgText(rec.ImportID),
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ core.MemberDirectory      = (*Store)(nil)
	_ core.CourseCatalog        = (*Store)(nil)
	_ core.CourseLister         = (*Store)(nil)
	_ core.TrainingRecordWriter = (*Store)(nil)
)
