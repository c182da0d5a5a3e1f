package core

// error_messages.go maps technical errors to user-friendly messages with codes
// for support reference. When users hit an error they can quote the code.
//
// Codes are grouped by category:
//
//	DB001-DB007    Database errors (constraints, connectivity)
//	VAL001-VAL006  Validation (dates, numbers, empty cells, ambiguity, mappings)
//	FILE001-FILE006 File errors (size, encoding, header)
//	IMP001-IMP005  Import process (busy, cancelled, timed out, strategy, view)
//	SES001-SES007  Import session (expired, committed, stage, bucket, busy, interrupted)
//	RATE001        Request throttling
//	ERR000         Fallback; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is first. Everything else is
// matched case-insensitively with strings.Contains and the first matching
// pattern wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var (
	msgSessionNotFound = UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please upload the file again",
		Code:    "SES001",
	}
	msgSessionCommitted = UserMessage{
		Message: "This import was already committed",
		Action:  "Start a new import to load more records",
		Code:    "SES002",
	}
	msgInvalidStage = UserMessage{
		Message: "This step is not available yet",
		Action:  "Complete the previous step first",
		Code:    "SES003",
	}
	msgUnknownBucket = UserMessage{
		Message: "That course name is not in the unmatched list",
		Action:  "Refresh the mapping step and pick a listed course name",
		Code:    "SES004",
	}
	msgSessionBusy = UserMessage{
		Message: "This import is being updated by another request",
		Action:  "Wait for the other step to finish and try again",
		Code:    "SES005",
	}
	msgCommitIncomplete = UserMessage{
		Message: "An earlier confirm of this import did not finish",
		Action:  "Some records may already be written. Check member training histories, then delete this import",
		Code:    "SES006",
	}
	msgResultNotSaved = UserMessage{
		Message: "Records were written but the import could not be marked as committed",
		Action:  "Do not confirm again. Check member training histories, then delete this import",
		Code:    "SES007",
	}
	msgTooManyImports = UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}
	msgInvalidMapping = UserMessage{
		Message: "The course mapping is incomplete",
		Action:  "Pick an existing course for map_existing, or choose create_new or skip",
		Code:    "VAL006",
	}
	msgInvalidStrategy = UserMessage{
		Message: "Unsupported member match strategy",
		Action:  "Choose email, badge_number or name",
		Code:    "IMP004",
	}
	msgInvalidView = UserMessage{
		Message: "Unknown preview filter",
		Action:  "Use all, ready, unmatched, errored or skipped",
		Code:    "IMP005",
	}
)

var sentinelMessages = []sentinelMessage{
	{ErrSessionNotFound, msgSessionNotFound},
	{ErrSessionCommitted, msgSessionCommitted},
	{ErrInvalidStage, msgInvalidStage},
	{ErrUnknownBucket, msgUnknownBucket},
	{ErrSessionBusy, msgSessionBusy},
	{ErrCommitIncomplete, msgCommitIncomplete},
	{ErrResultNotSaved, msgResultNotSaved},
	{ErrTooManyImports, msgTooManyImports},
	{ErrInvalidStrategy, msgInvalidStrategy},
	{ErrInvalidMapping, msgInvalidMapping},
	{ErrInvalidView, msgInvalidView},
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "The training record may already have been imported",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check the file for duplicate entries",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check the file for duplicate entries",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced member or course does not exist",
			Action:  "Re-run the import so members and courses are matched again",
			Code:    "DB003",
		},
	},
	{
		pattern: "check constraint",
		msg: UserMessage{
			Message: "A value was rejected by the database",
			Action:  "Review dates, hours and scores on this row",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL005)
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use a plain decimal number such as 2.5",
			Code:    "VAL002",
		},
	},
	{
		pattern: "is empty",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Fill in the member and course columns on every row",
			Code:    "VAL003",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "Required column is missing from the file",
			Action:  "Download the template to see the expected columns",
			Code:    "VAL004",
		},
	},
	{
		pattern: "ambiguous",
		msg: UserMessage{
			Message: "More than one member matches this row",
			Action:  "Use the email or badge number strategy for these members",
			Code:    "VAL005",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with a header row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains unreadable characters",
			Action:  "Save the file as UTF-8 CSV",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or XLSX file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "no header",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Add a header row; download the template for the column names",
			Code:    "FILE005",
		},
	},
	{
		pattern: "no recognized column",
		msg: UserMessage{
			Message: "None of the file's columns are recognized",
			Action:  "Rename the headers to match the template",
			Code:    "FILE006",
		},
	},
	{
		pattern: "invalid spreadsheet",
		msg: UserMessage{
			Message: "The spreadsheet could not be opened",
			Action:  "Save the workbook as .xlsx or export it as CSV",
			Code:    "FILE002",
		},
	},

	// =========================================================================
	// Import Process Errors (IMP002-IMP003)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Confirm again; rows already imported are reused safely",
			Code:    "IMP003",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known sentinels are matched with errors.Is, then the pattern table is
// searched. If nothing matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// commitErrorMessage renders a failed write for ImportResult.Errors. Mapped
// errors get their coded message; unknown ones keep the raw text since it is
// usually a constraint name the admin can act on.
func commitErrorMessage(err error) string {
	if IsUserFacing(err) {
		return FormatUserError(err)
	}
	return err.Error()
}
