package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aragossa/tablescrub/pkg/jobs"
	"github.com/aragossa/tablescrub/pkg/pipeline"
	"github.com/aragossa/tablescrub/pkg/table"
)

// JobIDHeader optionally carries a caller-chosen job id on upload.
const JobIDHeader = "jobId"

// SyncField is the form field that asks for the scrubbed file in the
// upload response instead of a job summary.
const SyncField = "sync"

// multipart parts above this size are spooled to disk by net/http.
const formMemory = 8 << 20

// acceptedUpload reports whether a file part is CSV or JSON. Parts sent
// with a generic type are judged by their file extension.
func acceptedUpload(h *multipart.FileHeader) bool {
	mediaType, _, err := mime.ParseMediaType(h.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "text/csv", "application/json":
		return true
	case "", "application/octet-stream", "text/plain":
		switch strings.ToLower(filepath.Ext(h.Filename)) {
		case ".csv", ".json":
			return true
		}
	}
	return false
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) handleJobCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large (limit %d bytes)", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart upload with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()
	if !acceptedUpload(header) {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only CSV and JSON are supported")
		return
	}

	job, err := s.jobs.Run(r.Context(), r.Header.Get(JobIDHeader), header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case job != nil && job.Status == jobs.StatusFailed:
		status := http.StatusInternalServerError
		if errors.Is(err, table.ErrParse) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]interface{}{
			"jobId":   job.ID,
			"status":  job.Status,
			"error":   "Processing error",
			"details": pipeline.Message(err),
		})
		return
	default:
		log.Error().Err(err).Msg("running job")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if r.FormValue(SyncField) == "true" {
		s.serveOutput(w, r, job.ID, "processed_"+header.Filename)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":       job.ID,
		"status":      job.Status,
		"downloadUrl": "/v1/jobs/" + job.ID + "/output",
		"outputSize":  job.OutputSize,
		"durationMs":  job.DurationMS,
	})
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("loading job")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	s.serveOutput(w, r, chi.URLParam(r, "jobID"), "")
}

// serveOutput streams a job's output. An empty filename names the download
// after the job id.
func (s *Server) serveOutput(w http.ResponseWriter, r *http.Request, id, filename string) {
	path, format, err := s.jobs.Output(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Output not found")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "Output not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("stat output")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if filename == "" {
		filename = id + format.Extension()
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", attachment(filename))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	err := s.jobs.Delete(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("deleting job")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("computing metrics")
		writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
