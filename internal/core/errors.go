package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when an import session id is unknown or expired.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrSessionCommitted is returned for any change to a session that was already committed.
	ErrSessionCommitted = errors.New("import session already committed")

	// ErrUnknownBucket is returned when a mapping names a course that is not an unmatched bucket.
	ErrUnknownBucket = errors.New("unknown course bucket")

	// ErrInvalidStage is returned when an operation is not allowed at the session's stage.
	ErrInvalidStage = errors.New("invalid import stage")

	// ErrInvalidStrategy is returned for an unsupported match strategy.
	ErrInvalidStrategy = errors.New("invalid match strategy")

	// ErrInvalidMapping is returned when a course mapping entry fails validation.
	ErrInvalidMapping = errors.New("invalid course mapping")

	// ErrSessionBusy is returned when another caller is driving the same session.
	ErrSessionBusy = errors.New("import session is busy")

	// ErrCommitIncomplete is returned for a session whose commit started but
	// never recorded a result. Some of its records may already be written.
	ErrCommitIncomplete = errors.New("import session commit did not finish")

	// ErrResultNotSaved accompanies a commit result that could not be stored
	// on the session. The records were written.
	ErrResultNotSaved = errors.New("import committed but the session could not be saved")

	// ErrInvalidView is returned for an unknown preview filter.
	ErrInvalidView = errors.New("invalid preview view")

	// ErrFileTooLarge is returned when an upload exceeds the configured size.
	ErrFileTooLarge = errors.New("file too large")
)

type invalidStrategyError struct {
	value string
}

func (e *invalidStrategyError) Error() string {
	return fmt.Sprintf("%s %q (use email, badge_number or name)", ErrInvalidStrategy.Error(), e.value)
}

func (e *invalidStrategyError) Unwrap() error {
	return ErrInvalidStrategy
}

// FileError aborts parsing of a whole file: unreadable encoding, no header,
// or nothing recognizable in the header.
type FileError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *FileError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.FileName != "" {
		return fmt.Sprintf("%s: %s", e.FileName, msg)
	}
	return msg
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IsFileError reports whether err is or wraps a *FileError.
func IsFileError(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}

func newFileError(fileName, reason string, err error) *FileError {
	return &FileError{FileName: fileName, Reason: reason, Err: err}
}
