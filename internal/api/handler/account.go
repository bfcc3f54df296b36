package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// NewBalanceHandler returns an http.HandlerFunc for GET /api/v1/balance.
func NewBalanceHandler(s UserReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		user, err := s.GetUser(r.Context(), owner)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		if err != nil {
			slog.Error("loading balance", "owner_id", owner, "error", err)
			internalError(w)
			return
		}
		response.JSON(w, map[string]any{
			"user_id": user.ID,
			"credits": user.Credits,
		})
	}
}
