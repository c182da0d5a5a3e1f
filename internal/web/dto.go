package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// maxJSONBody bounds mapping and step-back request bodies.
const maxJSONBody = 64 << 10

// mappingRequest is the body of PUT /api/imports/{id}/mappings.
type mappingRequest struct {
	CSVCourseName    string `json:"csv_course_name" validate:"required,max=500"`
	Action           string `json:"action" validate:"required"`
	ExistingCourseID string `json:"existing_course_id"`
	TrainingType     string `json:"training_type" validate:"max=100"`
}

func (m mappingRequest) entry() core.CourseMappingEntry {
	return core.CourseMappingEntry{
		CSVCourseName:    m.CSVCourseName,
		Action:           core.MappingAction(m.Action),
		ExistingCourseID: m.ExistingCourseID,
		TrainingType:     m.TrainingType,
	}
}

// stepBackRequest is the body of POST /api/imports/{id}/back.
type stepBackRequest struct {
	Stage string `json:"stage" validate:"required,oneof=uploaded mapped previewed"`
}

// decodeJSON reads one JSON object from the request into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return badRequest("request body is empty", nil)
		}
		return badRequest("invalid JSON body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return badRequest("invalid request", err)
	}
	return nil
}

// sessionResponse is what the session endpoints return: everything the
// wizard needs to render the current step, without the per-row data.
type sessionResponse struct {
	ID        string                    `json:"id"`
	Stage     core.Stage                `json:"stage"`
	FileName  string                    `json:"file_name"`
	Strategy  core.MatchStrategy        `json:"strategy"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Columns   []string                  `json:"columns"`
	Warnings  []string                  `json:"warnings"`
	Summary   core.ImportSummary        `json:"summary"`
	Buckets   []core.UnmatchedCourse    `json:"unmatched_courses"`
	Mappings  []core.CourseMappingEntry `json:"mappings"` // effective decision per bucket
	Result    *core.ImportResult        `json:"result,omitempty"`
}

func toSessionResponse(sess *core.Session) sessionResponse {
	resp := sessionResponse{
		ID:        sess.ID,
		Stage:     sess.Stage,
		FileName:  sess.FileName,
		Strategy:  sess.Strategy,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Columns:   nonNil(sess.Columns),
		Warnings:  nonNil(sess.Warnings),
		Summary:   sess.ParseSummary(),
		Buckets:   sess.Buckets,
		Mappings:  []core.CourseMappingEntry{},
		Result:    sess.Result,
	}
	if resp.Buckets == nil {
		resp.Buckets = []core.UnmatchedCourse{}
	}
	if sess.Mapping != nil {
		resp.Mappings = sess.Mapping.Resolved(sess.Buckets)
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
