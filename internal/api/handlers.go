package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/mediaflow/internal/dispatch"
	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	services := s.dispatcher.Services()
	sort.Strings(services)

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Services:      services,
	}
	if s.guard != nil {
		st := s.guard.Stats()
		resp.Transcriber = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	client, service := clientFrom(r), serviceFrom(r)

	if r.ContentLength > s.config.MaxUploadBytes {
		s.writeErrorStatus(w, http.StatusRequestEntityTooLarge, string(jobs.KindValidation), "upload exceeds size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorStatus(w, http.StatusRequestEntityTooLarge, string(jobs.KindValidation), "upload exceeds size limit")
			return
		}
		s.writeError(w, jobs.Validation("invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	uploads := make([]dispatch.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, jobs.Validation("open upload %q: %v", fh.Filename, err))
			return
		}
		defer f.Close()
		uploads = append(uploads, dispatch.Upload{Filename: fh.Filename, Size: fh.Size, Content: f})
	}

	receipt, err := s.dispatcher.SubmitBatch(r.Context(), client, service, uploads)
	if err != nil {
		s.writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, UploadResponse{
		Message:    fmt.Sprintf("Uploaded %d file(s), processing started", receipt.TotalFiles),
		TotalFiles: receipt.TotalFiles,
		BatchID:    receipt.BatchID,
		JobIDs:     receipt.JobIDs,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.RequestCancel(r.Context(), clientFrom(r), serviceFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "Cancellation requested"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.progress.GetProgress(clientFrom(r), serviceFrom(r)))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	groups, err := s.artifacts.List(serviceFrom(r), clientFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, FilesResponse{Groups: groups})
}

func (s *Server) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	base := chi.URLParam(r, "base")
	n, err := s.artifacts.Delete(r.Context(), serviceFrom(r), clientFrom(r), base)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteResponse{
		Message: fmt.Sprintf("Deleted %d file(s) for %s", n, base),
		Count:   n,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	f, info, err := s.artifacts.OpenFile(serviceFrom(r), clientFrom(r), rel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer f.Close()

	setAttachment(w, info.Name())
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDownloadSingle(w http.ResponseWriter, r *http.Request) {
	base := chi.URLParam(r, "base")
	s.serveArchive(w, r, base, base+".zip")
}

func (s *Server) handleBatchDownload(w http.ResponseWriter, r *http.Request) {
	s.serveArchive(w, r, "", serviceFrom(r)+"_results.zip")
}

// serveArchive streams a zip of base's artifacts, or of every artifact
// when base is empty.
func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, base, name string) {
	service, client := serviceFrom(r), clientFrom(r)
	rels, err := s.artifacts.Resolve(service, client, base)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(rels) == 0 {
		s.writeError(w, jobs.NotFound("no files to download"))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	setAttachment(w, name)
	w.WriteHeader(http.StatusOK)
	if err := s.artifacts.WriteArchive(r.Context(), w, service, client, rels); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		s.logger.Error("archive write failed", "service", service, "client_id", client, "error", err)
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	base := chi.URLParam(r, "base")
	rel, content, err := s.artifacts.Preview(serviceFrom(r), clientFrom(r), base)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PreviewResponse{BaseName: base, Path: rel, Content: content})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, HistoryResponse{Entries: nil})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, jobs.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}
	entries, err := s.history.Recent(r.Context(), clientFrom(r), serviceFrom(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.dispatcher.Services()))
}

func setAttachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind jobs.Kind) int {
	switch kind {
	case jobs.KindValidation, jobs.KindUnsupportedFormat:
		return http.StatusBadRequest
	case jobs.KindNotFound:
		return http.StatusNotFound
	case jobs.KindCanceled:
		return http.StatusConflict
	case jobs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := jobs.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.writeErrorStatus(w, status, string(kind), msg)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, statusCode int, kind, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Kind: kind})
}
