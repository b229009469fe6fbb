package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voltaic/blockcryptd/interfaces"
)

// Enabler is the slice of the enablement service the control API needs.
type Enabler interface {
	MountExistingEncrypted(ctx context.Context) error
	EnableEncryptionInPlace(ctx context.Context) error
}

// MappingStatus reports on the logical data mapping.
type MappingStatus interface {
	Status(name string) (blockDevice string, exists bool, err error)
}

// Handler processes control API requests.
type Handler struct {
	enabler Enabler
	status  MappingStatus
	mapping string
	log     *slog.Logger
}

// NewHandler creates a control API handler.
func NewHandler(enabler Enabler, status MappingStatus, mappingName string, log *slog.Logger) *Handler {
	return &Handler{enabler: enabler, status: status, mapping: mappingName, log: log}
}

// HandleMountExisting triggers the boot-time mount of an already-encrypted
// volume.
func (h *Handler) HandleMountExisting(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "mount", h.enabler.MountExistingEncrypted)
}

// HandleEnable triggers first-time in-place encryption enablement.
func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "enable", h.enabler.EnableEncryptionInPlace)
}

func (h *Handler) runOperation(w http.ResponseWriter, r *http.Request, name string, op func(context.Context) error) {
	log := h.log.With("operation", name)
	log.Info("Control operation requested")

	if err := op(r.Context()); err != nil {
		log.Error("Control operation failed", "err", err)
		writeJSONError(w, statusForError(err), err)
		return
	}

	log.Info("Control operation succeeded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports whether the data mapping is active and its mapped
// device path.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	blockDevice, exists, err := h.status.Status(h.mapping)
	if err != nil {
		h.log.Error("Mapping status query failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mapping": h.mapping,
		"active":  exists,
		"device":  blockDevice,
	})
}

// statusForError maps the error taxonomy onto HTTP status codes. Conflicts
// (already-provisioned state) are distinguished from missing prerequisites
// and internal failures.
func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrUnexpectedState), errors.Is(err, interfaces.ErrMappingExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrKeyMissing), errors.Is(err, interfaces.ErrVolumeNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
