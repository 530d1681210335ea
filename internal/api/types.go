package api

import (
	"github.com/mattjoyce/mediaflow/internal/guard"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// UploadResponse is returned by POST /{service}/upload.
type UploadResponse struct {
	Message    string   `json:"message"`
	TotalFiles int      `json:"total_files"`
	BatchID    string   `json:"batch_id"`
	JobIDs     []string `json:"job_ids"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// DeleteResponse is returned by DELETE /{service}/files/{base}.
type DeleteResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// FilesResponse is returned by GET /{service}/files.
type FilesResponse struct {
	Groups []workspace.ArtifactGroup `json:"groups"`
}

// PreviewResponse is returned by GET /{service}/preview/{base}.
type PreviewResponse struct {
	BaseName string `json:"base_name"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

// HistoryResponse is returned by GET /{service}/history.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Services      []string     `json:"services"`
	Transcriber   *guard.Stats `json:"transcriber,omitempty"`
}
