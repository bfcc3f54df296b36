package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
	"github.com/kiranshivaraju/svgforge/internal/intake"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Submitter is the intake contract the submit endpoint depends on.
type Submitter interface {
	Submit(ctx context.Context, req intake.SubmitRequest) (*models.GenerationJob, bool, error)
}

// JobReader loads a job on behalf of its owner.
type JobReader interface {
	GetJobForOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.GenerationJob, error)
}

type jobResponse struct {
	ID           uuid.UUID  `json:"id"`
	Status       string     `json:"status"`
	Prompt       string     `json:"prompt"`
	Style        string     `json:"style"`
	Model        string     `json:"model"`
	Private      bool       `json:"private"`
	AttemptsMade int        `json:"attempts_made"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ResultID     *uuid.UUID `json:"result_id,omitempty"`
	ArtifactURL  string     `json:"artifact_url,omitempty"`
	IsDuplicate  bool       `json:"is_duplicate"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(job *models.GenerationJob, duplicate bool) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		Status:       job.Status,
		Prompt:       job.Prompt,
		Style:        job.Style,
		Model:        job.Model,
		Private:      job.Private,
		AttemptsMade: job.AttemptsMade,
		ErrorCode:    job.ErrorCode,
		ErrorMessage: job.ErrorMessage,
		ResultID:     job.ResultID,
		IsDuplicate:  duplicate,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.ResultID != nil {
		resp.ArtifactURL = "/api/v1/artifacts/" + job.ResultID.String()
	}
	return resp
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/generations.
//
// A new job answers 202. A replayed idempotency key answers 200 once the
// original job is terminal and 202 while it is still in flight.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var req struct {
			Prompt         string `json:"prompt"`
			Style          string `json:"style"`
			Model          string `json:"model"`
			Private        bool   `json:"private"`
			IdempotencyKey string `json:"idempotency_key"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		key := req.IdempotencyKey
		if h := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); h != "" {
			if key != "" && strings.TrimSpace(key) != h {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"Idempotency key in header and body differ",
					map[string]string{"idempotency_key": "does not match " + IdempotencyHeader + " header"})
				return
			}
			key = h
		}

		job, duplicate, err := svc.Submit(r.Context(), intake.SubmitRequest{
			OwnerID:        owner,
			Prompt:         req.Prompt,
			Style:          req.Style,
			Model:          req.Model,
			Private:        req.Private,
			IdempotencyKey: key,
		})
		if err != nil {
			var verr *intake.ValidationError
			switch {
			case errors.As(err, &verr):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid generation request", verr.Fields)
			case errors.Is(err, intake.ErrIdempotencyConflict):
				response.Error(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
					"Idempotency key was already used with different parameters", nil)
			default:
				slog.Error("submitting generation", "owner_id", owner, "error", err)
				internalError(w)
			}
			return
		}
		mw.SetJobID(r, job.ID)

		if duplicate && job.Terminal() {
			response.JSON(w, toJobResponse(job, true))
			return
		}
		response.Accepted(w, toJobResponse(job, duplicate))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/generations/{jobID}.
func NewGetJobHandler(s JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}
		mw.SetJobID(r, jobID)

		job, err := s.GetJobForOwner(r.Context(), jobID, owner)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("loading job", "job_id", jobID, "error", err)
			internalError(w)
			return
		}
		response.JSON(w, toJobResponse(job, false))
	}
}
