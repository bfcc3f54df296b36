package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix    = "sf_"
	keyRandBytes = 24

	ScopeGenerate = "generate"
	ScopeAdmin    = "admin"
)

// AccountStore is what the admin endpoints need from the store.
type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GrantCredits(ctx context.Context, id uuid.UUID, amount int) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type issuedKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

type createKeyRequest struct {
	Name   string   `json:"name"   validate:"omitempty,max=100"`
	Scopes []string `json:"scopes" validate:"omitempty,dive,oneof=generate admin"`
}

var keyFieldNames = map[string]string{"Name": "name", "Scopes": "scopes"}

// NewCreateUserHandler returns an http.HandlerFunc for POST /api/v1/admin/users.
// The response carries the user's first API key; it is not retrievable later.
func NewCreateUserHandler(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email   string   `json:"email"    validate:"required,email,max=254"`
			Credits int      `json:"credits"  validate:"min=0,max=1000000"`
			KeyName string   `json:"key_name" validate:"omitempty,max=100"`
			Scopes  []string `json:"scopes"   validate:"omitempty,dive,oneof=generate admin"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if !checkStruct(w, req, map[string]string{
			"Email": "email", "Credits": "credits", "KeyName": "key_name", "Scopes": "scopes",
		}) {
			return
		}

		now := time.Now().UTC()
		user := &models.User{
			ID:        uuid.New(),
			Email:     req.Email,
			Credits:   req.Credits,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateUser(r.Context(), user); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "EMAIL_TAKEN", "A user with this email already exists", nil)
				return
			}
			slog.Error("creating user", "error", err)
			internalError(w)
			return
		}

		key, err := issueKey(r.Context(), s, user.ID, createKeyRequest{Name: req.KeyName, Scopes: req.Scopes})
		if err != nil {
			slog.Error("issuing api key", "user_id", user.ID, "error", err)
			internalError(w)
			return
		}
		slog.Info("user created", "user_id", user.ID, "credits", user.Credits, "key_prefix", key.KeyPrefix)

		response.Created(w, map[string]any{
			"user":    user,
			"api_key": key,
		})
	}
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/users/{userID}/keys.
func NewCreateKeyHandler(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := uuidParam(w, r, "userID", "INVALID_USER_ID")
		if !ok {
			return
		}
		var req createKeyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !checkStruct(w, req, keyFieldNames) {
			return
		}

		if _, err := s.GetUser(r.Context(), userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
				return
			}
			slog.Error("loading user", "user_id", userID, "error", err)
			internalError(w)
			return
		}

		key, err := issueKey(r.Context(), s, userID, req)
		if err != nil {
			slog.Error("issuing api key", "user_id", userID, "error", err)
			internalError(w)
			return
		}
		response.Created(w, key)
	}
}

// NewGrantCreditsHandler returns an http.HandlerFunc for
// POST /api/v1/admin/users/{userID}/credits.
func NewGrantCreditsHandler(s AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := uuidParam(w, r, "userID", "INVALID_USER_ID")
		if !ok {
			return
		}
		var req struct {
			Amount int `json:"amount" validate:"required,min=1,max=1000000"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if !checkStruct(w, req, map[string]string{"Amount": "amount"}) {
			return
		}

		user, err := s.GrantCredits(r.Context(), userID, req.Amount)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		if err != nil {
			slog.Error("granting credits", "user_id", userID, "error", err)
			internalError(w)
			return
		}
		slog.Info("credits granted", "user_id", userID, "amount", req.Amount, "balance", user.Credits)
		response.JSON(w, user)
	}
}

func issueKey(ctx context.Context, s AccountStore, ownerID uuid.UUID, req createKeyRequest) (*issuedKey, error) {
	raw, err := generateRawKey()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}

	name := req.Name
	if name == "" {
		name = "default"
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeGenerate}
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("storing api key: %w", err)
	}
	return &issuedKey{
		ID:        key.ID,
		Name:      key.Name,
		Key:       raw,
		KeyPrefix: key.KeyPrefix,
		Scopes:    key.Scopes,
		CreatedAt: key.CreatedAt,
	}, nil
}

func generateRawKey() (string, error) {
	b := make([]byte, keyRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}
