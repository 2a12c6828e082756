package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/snipekit/sniperbot/internal/domain"
)

// Closer executes a manual position close. It shares the conditional status
// transition with the automation engine, so a manual request that races an
// automated trigger loses with ErrStaleTransition instead of double-selling.
type Closer interface {
	CloseNow(ctx context.Context, positionID string) error
}

// PositionHandler serves position queries and the manual close endpoint.
type PositionHandler struct {
	positions domain.PositionStore
	closer    Closer
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, closer Closer, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		logger:    logger.With(slog.String("handler", "position")),
	}
}

// ListPositions returns positions for a wallet, newest first.
// GET /api/positions?wallet_id=...&limit=...&offset=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	walletID := r.URL.Query().Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "wallet_id query parameter required")
		return
	}

	limit, offset := parsePagination(r)
	positions, err := h.positions.ListByWallet(r.Context(), walletID, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

// GetPosition returns a single position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition sells an open position out immediately.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	err := h.closer.CloseNow(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrStaleTransition):
		// Already selling, closed, or claimed by an automated trigger.
		writeError(w, http.StatusConflict, "position is not open")
	default:
		h.logger.ErrorContext(r.Context(), "manual close failed",
			slog.String("position", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "close attempt failed")
	}
}
