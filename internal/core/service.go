package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCommitTimeout bounds one confirm when none is configured.
var DefaultCommitTimeout = 10 * time.Minute

// ServiceConfig holds the tunables of an import Service.
type ServiceConfig struct {
	DefaultTrainingType string
	DefaultRecordStatus string
	CommitWorkers       int
	CommitTimeout       time.Duration

	// MaxFileSize rejects larger uploads with a FileError; 0 means no limit.
	MaxFileSize int64
}

// Observer receives stage outcomes, for metrics.
type Observer interface {
	ObserveParse(strategy MatchStrategy, rows int, elapsed time.Duration, err error)
	ObserveCommit(result *ImportResult, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveParse(MatchStrategy, int, time.Duration, error) {}
func (nopObserver) ObserveCommit(*ImportResult, error)                   {}

// Service drives import sessions through the wizard stages: Parse, then any
// number of UpsertMapping and Preview calls, then Confirm. Each session may
// be driven by one caller at a time; a second concurrent call on the same
// session fails with ErrSessionBusy.
type Service struct {
	directory MemberDirectory
	catalog   CourseCatalog
	writer    TrainingRecordWriter
	store     SessionStore
	limiter   *ImportLimiter
	cfg       ServiceConfig
	logger    *slog.Logger
	observer  Observer

	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewService creates a Service. A nil limiter allows unbounded concurrency.
func NewService(dir MemberDirectory, catalog CourseCatalog, writer TrainingRecordWriter, store SessionStore, limiter *ImportLimiter, cfg ServiceConfig) *Service {
	if cfg.DefaultTrainingType == "" {
		cfg.DefaultTrainingType = DefaultTrainingType
	}
	if cfg.DefaultRecordStatus == "" {
		cfg.DefaultRecordStatus = DefaultRecordStatus
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	return &Service{
		directory: dir,
		catalog:   catalog,
		writer:    writer,
		store:     store,
		limiter:   limiter,
		cfg:       cfg,
		logger:    slog.Default(),
		observer:  nopObserver{},
		now:       time.Now,
		newID:     uuid.NewString,
		busy:      make(map[string]struct{}),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithObserver sets the receiver of stage outcomes.
func (s *Service) WithObserver(o Observer) *Service {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
	return s
}

// Limiter returns the import limiter, or nil.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Parse reads an import file, matches members and reconciles courses, and
// stores the result as a new session at the uploaded stage.
func (s *Service) Parse(ctx context.Context, r io.Reader, fileName string, strategy MatchStrategy) (*Session, error) {
	start := s.now()
	release, err := s.acquire(ctx, OpParse)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.parse(ctx, r, fileName, strategy)
	rows := 0
	if sess != nil {
		rows = len(sess.Rows)
	}
	s.observer.ObserveParse(strategy, rows, s.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	s.logFor(ctx).Info("import parsed",
		"session_id", sess.ID,
		"file", fileName,
		"strategy", strategy,
		"rows", len(sess.Rows),
		"buckets", len(sess.Buckets),
		"warnings", len(sess.Warnings),
		"duration", s.now().Sub(start),
	)
	return sess.Clone(), nil
}

func (s *Service) parse(ctx context.Context, r io.Reader, fileName string, strategy MatchStrategy) (*Session, error) {
	if s.cfg.MaxFileSize > 0 {
		r = &sizeLimitedReader{r: r, remaining: s.cfg.MaxFileSize}
	}

	out, err := ParseFile(r, fileName, strategy)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, newFileError(fileName, fmt.Sprintf("larger than %d bytes", s.cfg.MaxFileSize), ErrFileTooLarge)
		}
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        s.newID(),
		Stage:     StageUploaded,
		FileName:  fileName,
		Strategy:  strategy,
		CreatedAt: now,
		UpdatedAt: now,
		Parsed:    out.Rows,
		Columns:   out.Columns,
		Warnings:  out.Warnings,
		Mapping:   NewMappingTable(s.cfg.DefaultTrainingType),
	}
	if err := s.derive(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// derive runs member matching and course reconciliation on the parsed rows.
func (s *Service) derive(ctx context.Context, sess *Session) error {
	rows, err := MatchMembers(ctx, sess.Parsed, sess.Strategy, s.directory)
	if err != nil {
		return err
	}
	rows, buckets, err := ReconcileCourses(ctx, rows, s.catalog)
	if err != nil {
		return err
	}
	sess.Rows = rows
	sess.Buckets = buckets
	return nil
}

// Session returns a copy of the stored session.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// UpsertMapping records the decision for one unmatched course bucket and
// moves the session to mapped. Any earlier preview is discarded.
func (s *Service) UpsertMapping(ctx context.Context, id string, entry CourseMappingEntry) (*Session, error) {
	var out *Session
	err := s.withSession(ctx, id, func(sess *Session) error {
		if err := sess.checkMutable(); err != nil {
			return err
		}
		if _, ok := sess.Bucket(entry.CSVCourseName); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBucket, entry.CSVCourseName)
		}
		if err := sess.Mapping.Upsert(entry); err != nil {
			return err
		}
		sess.Stage = StageMapped
		sess.Summary = nil
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logFor(ctx).Info("course mapping updated",
		"session_id", id,
		"course", entry.CSVCourseName,
		"action", entry.Action,
	)
	return out.Clone(), nil
}

// Preview projects the session's rows with its current mapping, moves the
// session to previewed and returns the rows in view with the full summary.
func (s *Service) Preview(ctx context.Context, id string, view PreviewView) (*Preview, error) {
	var out *Preview
	err := s.withSession(ctx, id, func(sess *Session) error {
		if err := sess.checkMutable(); err != nil {
			return err
		}
		p := Project(sess.Rows, sess.Mapping)
		summary := p.Summary
		sess.Summary = &summary
		sess.Stage = StagePreviewed
		out = &Preview{Rows: p.Filter(view), Summary: summary}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StepBack returns the session to an earlier stage, discarding downstream
// state. Stepping back to uploaded re-runs matching and reconciliation so
// directory and catalog changes since the upload are picked up.
func (s *Service) StepBack(ctx context.Context, id string, to Stage) (*Session, error) {
	var out *Session
	err := s.withSession(ctx, id, func(sess *Session) error {
		from := sess.Stage
		if err := sess.stepBack(to, s.cfg.DefaultTrainingType); err != nil {
			return err
		}
		if to == StageUploaded {
			if err := s.derive(ctx, sess); err != nil {
				return err
			}
		}
		s.logFor(ctx).Info("import stepped back", "session_id", id, "from", from, "to", to)
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// Confirm commits a previewed session. The session becomes committed even
// when rows fail; the returned result says which. If the commit ran but the
// session could not be saved afterwards, both the result and an error
// wrapping ErrResultNotSaved are returned.
func (s *Service) Confirm(ctx context.Context, id string) (*ImportResult, error) {
	release, err := s.acquire(ctx, OpCommit)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := s.confirm(ctx, id)
	s.observer.ObserveCommit(result, err)
	return result, err
}

// confirm saves CommitStartedAt before writing anything, so a session whose
// final save fails refuses a second commit instead of writing twice.
func (s *Service) confirm(ctx context.Context, id string) (*ImportResult, error) {
	if err := s.claim(id); err != nil {
		return nil, err
	}
	defer s.unclaim(id)

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.checkMutable(); err != nil {
		return nil, err
	}
	if sess.Stage != StagePreviewed {
		return nil, fmt.Errorf("%w: preview the import before confirming", ErrInvalidStage)
	}

	started := s.now().UTC()
	sess.CommitStartedAt = &started
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	commitCtx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	defer cancel()

	engine := NewCommitEngine(s.catalog, s.writer, s.cfg.CommitWorkers).WithLogger(s.logFor(ctx))
	result := engine.Commit(commitCtx, sess.Rows, sess.Mapping, CommitDefaults{
		TrainingType: sess.Mapping.DefaultTrainingType(),
		RecordStatus: s.cfg.DefaultRecordStatus,
		ImportID:     sess.ID,
	})
	sess.Result = result
	sess.Stage = StageCommitted
	if err := s.save(ctx, sess); err != nil {
		s.logFor(ctx).Error("committed import not saved",
			"session_id", id,
			"imported", result.Imported,
			"error", err,
		)
		return result, fmt.Errorf("%w: %w", ErrResultNotSaved, err)
	}
	return result, nil
}

// Delete discards a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Drain waits for in-flight parses and commits to finish.
func (s *Service) Drain(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.WaitForDrain(ctx)
}

// withSession loads a session, hands it to fn and saves it if fn succeeds.
// The save outlives ctx cancellation so a finished commit is never lost.
func (s *Service) withSession(ctx context.Context, id string, fn func(*Session) error) error {
	if err := s.claim(id); err != nil {
		return err
	}
	defer s.unclaim(id)

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.save(ctx, sess)
}

func (s *Service) save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) claim(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[id]; ok {
		return ErrSessionBusy
	}
	s.busy[id] = struct{}{}
	return nil
}

func (s *Service) unclaim(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
}

func (s *Service) acquire(ctx context.Context, op ImportOp) (func(), error) {
	if s.limiter == nil {
		return func() {}, nil
	}
	return s.limiter.Acquire(ctx, op)
}

func (s *Service) logFor(ctx context.Context) *slog.Logger {
	return s.logger.With(requestAttrs(ctx)...)
}

// sizeLimitedReader fails with ErrFileTooLarge once more than remaining
// bytes have been read.
type sizeLimitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
