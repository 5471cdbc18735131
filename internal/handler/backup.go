package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/dukerupert/famcal/internal/backup"
	"github.com/dukerupert/famcal/internal/model"
)

// BackupHandler exposes database backups to administrators.
type BackupHandler struct {
	mgr    *backup.Manager
	logger *slog.Logger
}

func NewBackupHandler(mgr *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{mgr: mgr, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	backups, err := h.mgr.List(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	b, err := h.mgr.Run(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BackupHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Verify(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	body, b, err := h.mgr.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(b.ObjectKey)+`"`)
	if b.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(b.SizeBytes, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("backup download interrupted", "backup_id", b.ID, "error", err)
	}
}
