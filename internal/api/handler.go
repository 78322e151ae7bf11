// Package api exposes the presenter view, history and live updates over
// HTTP. Every handler is read-only with respect to collector files.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	"hwpulse/internal/presenter"
	"hwpulse/internal/store"
	"hwpulse/internal/websockets"
)

// ViewSource supplies the current presenter view.
type ViewSource interface {
	View() presenter.View
}

// ArchiveReader reads records back from the sqlite archive.
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// Handler는 API 핸들러들의 의존성을 관리합니다.
type Handler struct {
	Views        ViewSource
	HistoryPath  string
	HistoryLimit int
	// Archive is nil when the archive is disabled.
	Archive ArchiveReader
	Hub     *websockets.Hub
	Logger  *slog.Logger
	Version string
}

// RegisterRoutes는 mux 라우터에 API 경로들을 등록합니다.
func RegisterRoutes(r *mux.Router, h *Handler) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if h.HistoryLimit <= 0 {
		h.HistoryLimit = 300
	}

	r.HandleFunc("/metrics.json", h.MetricsFileHandler).Methods(http.MethodGet)
	r.HandleFunc("/history.csv", h.HistoryFileHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", h.SnapshotHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/history", h.HistoryHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)
	if h.Hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			websockets.ServeWs(h.Hub, w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// MetricsFileHandler serves the bytes of the last good snapshot file.
func (h *Handler) MetricsFileHandler(w http.ResponseWriter, r *http.Request) {
	view := h.Views.View()
	raw := view.Raw()
	if raw == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot not available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Snapshot-Status", string(view.Status))
	w.Write(raw)
}

// HistoryFileHandler serves the history CSV as written by the collector.
func (h *Handler) HistoryFileHandler(w http.ResponseWriter, r *http.Request) {
	file, err := os.Open(h.HistoryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "history not available yet")
			return
		}
		h.Logger.Error("opening history failed", "path", h.HistoryPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	http.ServeContent(w, r, "history.csv", info.ModTime(), file)
}

// SnapshotHandler returns the current view with its status.
func (h *Handler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Views.View())
}

// HistoryHandler returns recent history records from the CSV file or, with
// source=archive, from the sqlite archive.
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := h.HistoryLimit
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := cast.ToIntE(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		records []store.Record
		err     error
	)
	switch source := r.URL.Query().Get("source"); source {
	case "", "csv":
		records, err = store.ReadHistory(h.HistoryPath, limit)
		if errors.Is(err, os.ErrNotExist) {
			records, err = []store.Record{}, nil
		}
	case "archive":
		if h.Archive == nil {
			writeError(w, http.StatusBadRequest, "archive is not enabled")
			return
		}
		records, err = h.Archive.Recent(r.Context(), limit)
	default:
		writeError(w, http.StatusBadRequest, "unknown history source: "+source)
		return
	}
	if err != nil {
		h.Logger.Error("reading history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// HealthHandler reports server liveness and the collector status as seen
// through the snapshot file.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	view := h.Views.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"version":            h.Version,
		"snapshot_status":    view.Status,
		"snapshot_timestamp": view.Snapshot.Timestamp,
		"archive_enabled":    h.Archive != nil,
	})
}
