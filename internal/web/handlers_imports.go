package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/trainingimport/internal/core"
	"github.com/JonMunkholm/trainingimport/internal/logging"
)

// multipartOverhead is allowed on top of the file size limit for the form
// boundaries and the match field.
const multipartOverhead = 1 << 20

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// handleParse accepts a multipart upload (file, match) and starts a session.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, &core.FileError{Reason: "upload rejected", Err: core.ErrFileTooLarge})
			return
		}
		s.respondError(w, r, badRequest("invalid multipart form", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, badRequest("no file provided", err))
		return
	}
	defer file.Close()

	strategy, err := core.ParseMatchStrategy(r.FormValue("match"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.service.Parse(requestContext(r), file, header.Filename, strategy)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(requestContext(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, toSessionResponse(sess))
}

// handleUpsertMapping records the decision for one unmatched course.
func (s *Server) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.service.UpsertMapping(requestContext(r), chi.URLParam(r, "id"), req.entry())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, toSessionResponse(sess))
}

// handlePreview returns the projected rows for ?view= with the full summary.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	view, err := core.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.Preview(requestContext(r), chi.URLParam(r, "id"), view)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if preview.Rows == nil {
		preview.Rows = []core.PreviewRow{}
	}
	writeJSON(w, preview)
}

func (s *Server) handleStepBack(w http.ResponseWriter, r *http.Request) {
	var req stepBackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	stage, err := core.ParseStage(req.Stage)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.service.StepBack(requestContext(r), chi.URLParam(r, "id"), stage)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, toSessionResponse(sess))
}

// handleConfirm commits a previewed session. The commit runs to completion
// (or the service's commit timeout) even if the client goes away.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := context.WithoutCancel(requestContext(r))

	result, err := s.service.Confirm(ctx, id)
	if err != nil {
		if result != nil {
			logging.WithFields(r.Context(), "session_id", id).Error("import written but not recorded",
				"imported", result.Imported,
				"failed", result.Failed,
				"error", err,
			)
		}
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", id).Info("import confirmed",
		"imported", result.Imported,
		"failed", result.Failed,
	)
	if result.Errors == nil {
		result.Errors = []string{}
	}
	writeJSON(w, result)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(requestContext(r), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTemplate serves a blank import file for ?match= as CSV or, with
// ?format=xlsx, as a workbook.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	strategy, err := core.ParseMatchStrategy(r.URL.Query().Get("match"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := "training_import_" + string(strategy)
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
		err = core.WriteTemplateCSV(w, strategy)
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
		err = core.WriteTemplateWorkbook(w, strategy)
	default:
		s.respondError(w, r, badRequest("format must be csv or xlsx", nil))
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("template write failed", "error", err)
	}
}

// handleHealth reports liveness plus import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if l := s.service.Limiter(); l != nil {
		resp["imports"] = l.Status()
	}
	writeJSON(w, resp)
}
