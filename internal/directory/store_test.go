package directory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

type queryCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls    []queryCall
	rows     []pgx.Row
	queryErr error
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.calls = append(db.calls, queryCall{sql, args})
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	return nil, errors.New("unexpected Query")
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.calls = append(db.calls, queryCall{sql, args})
	if len(db.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	r := db.rows[0]
	db.rows = db.rows[1:]
	return r
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d dest for %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *pgtype.UUID:
			*p = pgtype.UUID{Bytes: uuid.MustParse(r.vals[i].(string)), Valid: true}
		case *string:
			*p = r.vals[i].(string)
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

const courseUUID = "6f1c2a0e-5b7d-4c1e-9a77-2f0e5d3c9b11"

func courseRow(name, code, ttype string) fakeRow {
	return fakeRow{vals: []any{courseUUID, name, code, ttype}}
}

func TestStore_FindCourseByName(t *testing.T) {
	db := &fakeDB{rows: []pgx.Row{courseRow("EMT-Refresher", "EMT-1", "certification")}}
	s := NewStore(db)

	c, err := s.FindCourseByName(context.Background(), "  EMT-Refresher ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, courseUUID, c.ID)
	assert.Equal(t, "certification", c.TrainingType)
	assert.Equal(t, []any{"emt-refresher"}, db.calls[0].args, "lookup uses the normalized key")

	c, err = s.FindCourseByName(context.Background(), "Unknown")
	require.NoError(t, err)
	assert.Nil(t, c, "no rows is not an error")
}

func TestStore_NameLookupKeys(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ascii", input: "  Alex   Rivera ", want: "alex rivera"},
		{name: "sharp s", input: "Jörg Straße", want: "jörg straße"},
		{name: "capital sharp s", input: "STRAẞE", want: "straße"},
		{name: "final sigma", input: "ΟΔΥΣΣΕΥΣ", want: "οδυσσευσ"},
		{name: "decomposed accent", input: "Rene\u0301 Dubois", want: "ren\u00e9 dubois"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{queryErr: errors.New("stop")}
			s := NewStore(db)

			_, _ = s.LookupByName(context.Background(), tt.input)
			c, err := s.FindCourseByName(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Nil(t, c)

			require.Len(t, db.calls, 2)
			assert.Equal(t, []any{tt.want}, db.calls[0].args, "member lookup key")
			assert.Equal(t, []any{tt.want}, db.calls[1].args, "course lookup key")
		})
	}
}

func TestStore_FindCourseByCodeSkipsBlank(t *testing.T) {
	db := &fakeDB{}
	c, err := NewStore(db).FindCourseByCode(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, db.calls)
}

func TestStore_CreateCourseReusesOnUniqueViolation(t *testing.T) {
	db := &fakeDB{rows: []pgx.Row{
		fakeRow{err: &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}},
		courseRow("Rope Rescue", "", "in_service"),
	}}

	c, err := NewStore(db).CreateCourse(context.Background(), core.NewCourse{Name: " Rope   Rescue ", TrainingType: "in_service"})
	require.NoError(t, err)
	assert.Equal(t, courseUUID, c.ID)
	require.Len(t, db.calls, 2)
	assert.Equal(t, "Rope Rescue", db.calls[0].args[0], "name is stored single-spaced")
}

func TestStore_CreateCourseOtherErrors(t *testing.T) {
	db := &fakeDB{rows: []pgx.Row{fakeRow{err: errors.New("connection refused")}}}

	_, err := NewStore(db).CreateCourse(context.Background(), core.NewCourse{Name: "Rope Rescue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create course")
	assert.Equal(t, "DB004", core.MapError(err).Code)
}

func TestStore_CreateTrainingRecord(t *testing.T) {
	recordID := "0b9d5c1a-1111-4e2f-8c3d-1234567890ab"
	db := &fakeDB{rows: []pgx.Row{fakeRow{vals: []any{recordID}}}}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	passed := true
	rec := core.TrainingRecord{
		MemberID:       "1e0f6a4b-2222-4c8d-9e7f-abcdefabcdef",
		CourseID:       courseUUID,
		TrainingType:   "certification",
		Status:         "completed",
		CompletionDate: &day,
		Hours:          decimal.NewNullDecimal(decimal.RequireFromString("2.5")),
		Passed:         &passed,
		SourceRow:      7,
		ImportID:       "imp-1",
	}

	id, err := NewStore(db).CreateTrainingRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, recordID, id)

	args := db.calls[0].args
	require.Len(t, args, 17)
	assert.Equal(t, pgtype.Date{Time: day, Valid: true}, args[4])
	assert.Equal(t, pgtype.Date{}, args[5], "absent expiration is NULL")
	assert.Equal(t, pgtype.Numeric{Int: big.NewInt(25), Exp: -1, Valid: true}, args[6])
	assert.Equal(t, pgtype.Numeric{}, args[7])
	assert.Equal(t, pgtype.Bool{Bool: true, Valid: true}, args[13])
	assert.Equal(t, pgtype.Int4{Int32: 7, Valid: true}, args[15])
}

func TestStore_CreateTrainingRecordRejectsBadIDs(t *testing.T) {
	db := &fakeDB{}
	_, err := NewStore(db).CreateTrainingRecord(context.Background(), core.TrainingRecord{MemberID: "m-1", CourseID: courseUUID})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Contains(t, err.Error(), "member_id")
	assert.Empty(t, db.calls, "nothing is sent for a bad id")
}

func TestStore_LookupWrapsQueryErrors(t *testing.T) {
	cause := errors.New("connection reset by peer")
	db := &fakeDB{queryErr: cause}

	_, err := NewStore(db).LookupByEmail(context.Background(), " Alex@FD.org ")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []any{"alex@fd.org"}, db.calls[0].args)
}

func TestPgConv(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"blank text", toPgText("  "), pgtype.Text{}},
		{"text trimmed", toPgText(" CPR "), pgtype.Text{String: "CPR", Valid: true}},
		{"nil date", toPgDate(nil), pgtype.Date{}},
		{"null decimal", toPgNumeric(decimal.NullDecimal{}), pgtype.Numeric{}},
		{"negative score", toPgNumeric(decimal.NewNullDecimal(decimal.RequireFromString("-3"))), pgtype.Numeric{Int: big.NewInt(-3), Exp: 0, Valid: true}},
		{"nil bool", toPgBool(nil), pgtype.Bool{}},
		{"zero int", toPgInt4(0), pgtype.Int4{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}

	u, err := toPgUUID("course_id", courseUUID)
	require.NoError(t, err)
	assert.Equal(t, courseUUID, pgUUIDToString(u))
	assert.Empty(t, pgUUIDToString(pgtype.UUID{}))
}
