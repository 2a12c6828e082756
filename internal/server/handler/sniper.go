package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/snipekit/sniperbot/internal/domain"
)

// SniperHandler serves sniper config queries and activation toggles.
type SniperHandler struct {
	snipers domain.SniperStore
	logger  *slog.Logger
}

// NewSniperHandler creates a SniperHandler.
func NewSniperHandler(snipers domain.SniperStore, logger *slog.Logger) *SniperHandler {
	return &SniperHandler{
		snipers: snipers,
		logger:  logger.With(slog.String("handler", "sniper")),
	}
}

// GetSniper returns a single sniper config by ID.
// GET /api/snipers/{id}
func (h *SniperHandler) GetSniper(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	sniper, err := h.snipers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sniper not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get sniper failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load sniper")
		return
	}

	writeJSON(w, http.StatusOK, sniper)
}

// ListActiveSnipers returns every active sniper config.
// GET /api/snipers
func (h *SniperHandler) ListActiveSnipers(w http.ResponseWriter, r *http.Request) {
	snipers, err := h.snipers.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list snipers failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list snipers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snipers": snipers,
		"count":   len(snipers),
	})
}

// ActivateSniper switches a sniper on.
// POST /api/snipers/{id}/activate
func (h *SniperHandler) ActivateSniper(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateSniper switches a sniper off.
// POST /api/snipers/{id}/deactivate
func (h *SniperHandler) DeactivateSniper(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *SniperHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := pathParam(r, "id")

	if err := h.snipers.SetActive(r.Context(), id, active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sniper not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "set sniper active failed",
			slog.String("sniper", id),
			slog.Bool("active", active),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update sniper")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}
