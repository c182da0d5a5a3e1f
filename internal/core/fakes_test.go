package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// In-memory collaborators
// ============================================================================

type countingDirectory struct {
	*DirectorySnapshot
	mu    sync.Mutex
	calls int
	err   error
}

func newCountingDirectory(members ...Member) *countingDirectory {
	return &countingDirectory{DirectorySnapshot: NewDirectorySnapshot(members)}
}

func (d *countingDirectory) hit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

func (d *countingDirectory) LookupByEmail(ctx context.Context, email string) ([]Member, error) {
	if err := d.hit(); err != nil {
		return nil, err
	}
	return d.DirectorySnapshot.LookupByEmail(ctx, email)
}

func (d *countingDirectory) LookupByBadge(ctx context.Context, badge string) ([]Member, error) {
	if err := d.hit(); err != nil {
		return nil, err
	}
	return d.DirectorySnapshot.LookupByBadge(ctx, badge)
}

func (d *countingDirectory) LookupByName(ctx context.Context, name string) ([]Member, error) {
	if err := d.hit(); err != nil {
		return nil, err
	}
	return d.DirectorySnapshot.LookupByName(ctx, name)
}

type fakeCatalog struct {
	mu          sync.Mutex
	courses     []Course
	createCalls int
	createErr   map[string]error
	findErr     error
}

func newFakeCatalog(courses ...Course) *fakeCatalog {
	return &fakeCatalog{courses: courses, createErr: map[string]error{}}
}

func (c *fakeCatalog) FindCourseByName(_ context.Context, name string) (*Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	for _, course := range c.courses {
		if NormalizeKey(course.Name) == NormalizeKey(name) {
			found := course
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) FindCourseByCode(_ context.Context, code string) (*Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, course := range c.courses {
		if course.Code != "" && strings.EqualFold(course.Code, strings.TrimSpace(code)) {
			found := course
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) CreateCourse(_ context.Context, nc NewCourse) (Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if err := c.createErr[nc.Name]; err != nil {
		return Course{}, err
	}
	course := Course{
		ID:           fmt.Sprintf("new-%d", len(c.courses)+1),
		Name:         nc.Name,
		Code:         nc.Code,
		TrainingType: nc.TrainingType,
	}
	c.courses = append(c.courses, course)
	return course, nil
}

func (c *fakeCatalog) ListCourses(_ context.Context) ([]Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Course(nil), c.courses...), nil
}

func (c *fakeCatalog) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls
}

// plainCatalog hides ListCourses so suggestions are off.
type plainCatalog struct{ c *fakeCatalog }

func (p plainCatalog) FindCourseByName(ctx context.Context, name string) (*Course, error) {
	return p.c.FindCourseByName(ctx, name)
}

func (p plainCatalog) FindCourseByCode(ctx context.Context, code string) (*Course, error) {
	return p.c.FindCourseByCode(ctx, code)
}

func (p plainCatalog) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	return p.c.CreateCourse(ctx, nc)
}

type fakeWriter struct {
	mu       sync.Mutex
	records  []TrainingRecord
	failRows map[int]error
	panicRow int
	onWrite  func(rec TrainingRecord)
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{failRows: map[int]error{}}
}

func (w *fakeWriter) CreateTrainingRecord(ctx context.Context, rec TrainingRecord) (string, error) {
	if w.onWrite != nil {
		w.onWrite(rec)
	}
	if w.panicRow != 0 && rec.SourceRow == w.panicRow {
		panic("writer exploded")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failRows[rec.SourceRow]; err != nil {
		return "", err
	}
	w.records = append(w.records, rec)
	return fmt.Sprintf("rec-%d", len(w.records)), nil
}

func (w *fakeWriter) written() []TrainingRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TrainingRecord(nil), w.records...)
}

// ============================================================================
// Pipeline helper
// ============================================================================

// runStages parses, matches and reconciles csv the way a session does.
func runStages(t *testing.T, csv string, strategy MatchStrategy, dir MemberDirectory, catalog CourseCatalog) ([]ParsedRow, []UnmatchedCourse) {
	t.Helper()
	ctx := context.Background()

	out, err := ParseFile(strings.NewReader(csv), "history.csv", strategy)
	require.NoError(t, err)

	rows, err := MatchMembers(ctx, out.Rows, strategy, dir)
	require.NoError(t, err)

	rows, buckets, err := ReconcileCourses(ctx, rows, catalog)
	require.NoError(t, err)
	return rows, buckets
}

var (
	memberAlex  = Member{ID: "m-1", Email: "alex@fd.org", BadgeNumber: "101", FirstName: "Alex", LastName: "Rivera"}
	memberBlair = Member{ID: "m-2", Email: "blair@fd.org", BadgeNumber: "102", FirstName: "Blair", LastName: "Chen"}
	memberCasey = Member{ID: "m-3", Email: "casey@fd.org", BadgeNumber: "103", FirstName: "Casey", LastName: "Ortiz"}
	memberDana  = Member{ID: "m-4", Email: "dana@fd.org", BadgeNumber: "104", FirstName: "Dana", LastName: "Park"}
	memberEli   = Member{ID: "m-5", Email: "eli@fd.org", BadgeNumber: "105", FirstName: "Eli", LastName: "Moss"}
)

func roster() []Member {
	return []Member{memberAlex, memberBlair, memberCasey, memberDana, memberEli}
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string][]byte

	// failSave, when set, can refuse a save before anything is stored.
	failSave func(s *Session) error
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string][]byte{}}
}

// Save stores a JSON copy so tests see exactly what a persistent store keeps.
func (m *memStore) Save(_ context.Context, s *Session) error {
	if m.failSave != nil {
		if err := m.failSave(s); err != nil {
			return err
		}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	data, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
