package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
	"github.com/kiranshivaraju/svgforge/internal/cache"
	"github.com/kiranshivaraju/svgforge/internal/classify"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

type ArtifactReader interface {
	GetArtifact(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
}

type GalleryReader interface {
	ListPublicArtifacts(ctx context.Context, page, limit int) ([]*models.Artifact, int, error)
}

type artifactResponse struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style"`
	Model     string    `json:"model"`
	SizeBytes int       `json:"size_bytes"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// NewGetArtifactHandler returns an http.HandlerFunc for GET /api/v1/artifacts/{artifactID}.
// Private artifacts look missing to everyone but their owner.
func NewGetArtifactHandler(s ArtifactReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "artifactID", "INVALID_ARTIFACT_ID")
		if !ok {
			return
		}

		artifact, err := s.GetArtifact(r.Context(), id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("loading artifact", "artifact_id", id, "error", err)
			internalError(w)
			return
		}
		if err != nil || !visible(r, artifact) {
			response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "Artifact not found", nil)
			return
		}
		response.SVG(w, artifact.SVG)
	}
}

func visible(r *http.Request, a *models.Artifact) bool {
	if !a.Private {
		return true
	}
	owner, ok := mw.GetOwnerID(r)
	return ok && owner == a.OwnerID
}

// NewGalleryHandler returns an http.HandlerFunc for GET /api/v1/gallery.
// The first page is served from the cache when present and stored after a
// miss; workers delete it when a public artifact is created.
func NewGalleryHandler(s GalleryReader, c cache.Cache, ttl time.Duration, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := store.NormalizePage(intQuery(r, "page", 1), pageSize)
		key := cache.GalleryFirstPageKey()

		if page == 1 {
			body, found, err := c.Get(r.Context(), key)
			if err != nil {
				slog.Warn("gallery cache read failed", "error_code", classify.CacheUnavailable, "error", err)
			}
			if found {
				response.Raw(w, http.StatusOK, body)
				return
			}
		}

		artifacts, total, err := s.ListPublicArtifacts(r.Context(), page, limit)
		if err != nil {
			slog.Error("listing gallery", "page", page, "error", err)
			internalError(w)
			return
		}

		items := make([]artifactResponse, 0, len(artifacts))
		for _, a := range artifacts {
			items = append(items, artifactResponse{
				ID:        a.ID,
				JobID:     a.JobID,
				Prompt:    a.Prompt,
				Style:     a.Style,
				Model:     a.Model,
				SizeBytes: a.SizeBytes,
				URL:       "/api/v1/artifacts/" + a.ID.String(),
				CreatedAt: a.CreatedAt,
			})
		}
		meta := response.PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}

		if page != 1 {
			response.Collection(w, items, meta)
			return
		}

		body, err := response.Encode(items, meta)
		if err != nil {
			internalError(w)
			return
		}
		if err := c.Set(r.Context(), key, body, ttl); err != nil {
			slog.Warn("gallery cache write failed", "error_code", classify.CacheUnavailable, "error", err)
		}
		response.Raw(w, http.StatusOK, body)
	}
}
