package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stage tags where an import session is in the wizard.
type Stage string

const (
	StageUploaded  Stage = "uploaded"
	StageMapped    Stage = "mapped"
	StagePreviewed Stage = "previewed"
	StageCommitted Stage = "committed"
)

var stageOrder = map[Stage]int{
	StageUploaded:  0,
	StageMapped:    1,
	StagePreviewed: 2,
	StageCommitted: 3,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes earlier in the wizard than other.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// ParseStage converts user input into a Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
	return st, nil
}

// Session is the single state object of one import. Each stage reads the
// fields the previous stage wrote and stepping back clears everything
// downstream of the target stage.
type Session struct {
	ID        string        `json:"id"`
	Stage     Stage         `json:"stage"`
	FileName  string        `json:"file_name"`
	Strategy  MatchStrategy `json:"strategy"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Parsed holds the parser output before matching. Stepping back to
	// uploaded re-derives Rows and Buckets from it.
	Parsed   []ParsedRow `json:"parsed"`
	Columns  []string    `json:"columns"`
	Warnings []string    `json:"warnings"`

	Rows    []ParsedRow       `json:"rows"`
	Buckets []UnmatchedCourse `json:"buckets"`
	Mapping *MappingTable     `json:"mapping"`

	// Summary is the last previewed summary; nil until previewed.
	Summary *ImportSummary `json:"summary,omitempty"`
	Result  *ImportResult  `json:"result,omitempty"`

	// CommitStartedAt is saved before the first record is written.
	CommitStartedAt *time.Time `json:"commit_started_at,omitempty"`
}

// SessionStore persists sessions between wizard steps.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error

	// Load returns ErrSessionNotFound for unknown or expired ids.
	Load(ctx context.Context, id string) (*Session, error)

	Delete(ctx context.Context, id string) error
}

// Bucket returns the unmatched course bucket for a course name.
func (s *Session) Bucket(courseName string) (UnmatchedCourse, bool) {
	key := NormalizeKey(courseName)
	for _, b := range s.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return UnmatchedCourse{}, false
}

// ParseSummary returns the counts as of the parse stage: every bucket at its
// current mapping, nothing previewed.
func (s *Session) ParseSummary() ImportSummary {
	return Project(s.Rows, s.Mapping).Summary
}

// Clone returns a copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	c := *s
	c.Parsed = cloneRows(s.Parsed)
	c.Rows = cloneRows(s.Rows)
	c.Columns = append([]string(nil), s.Columns...)
	c.Warnings = append([]string(nil), s.Warnings...)
	c.Buckets = append([]UnmatchedCourse(nil), s.Buckets...)
	if s.Mapping != nil {
		c.Mapping = s.Mapping.Clone()
	}
	if s.Summary != nil {
		sum := *s.Summary
		c.Summary = &sum
	}
	if s.Result != nil {
		r := *s.Result
		r.Errors = append([]string(nil), s.Result.Errors...)
		c.Result = &r
	}
	if s.CommitStartedAt != nil {
		t := *s.CommitStartedAt
		c.CommitStartedAt = &t
	}
	return &c
}

// checkMutable rejects any change to a committed session or to one whose
// commit was interrupted.
func (s *Session) checkMutable() error {
	if s.Stage == StageCommitted {
		return ErrSessionCommitted
	}
	if s.CommitStartedAt != nil {
		return ErrCommitIncomplete
	}
	return nil
}

// stepBack moves the session to an earlier stage and discards what the later
// stages produced. Returning to uploaded also drops every mapping decision;
// the caller re-derives rows and buckets.
func (s *Session) stepBack(to Stage, defaultTrainingType string) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if !to.Valid() || !to.Before(s.Stage) {
		return fmt.Errorf("%w: cannot step back from %s to %s", ErrInvalidStage, s.Stage, to)
	}

	s.Summary = nil
	if to == StageUploaded {
		s.Mapping = NewMappingTable(defaultTrainingType)
		s.Rows = nil
		s.Buckets = nil
	}
	s.Stage = to
	return nil
}
