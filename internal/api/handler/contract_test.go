package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/api"
	"github.com/kiranshivaraju/svgforge/internal/api/handler"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/cache"
	"github.com/kiranshivaraju/svgforge/internal/cache/cachetest"
	"github.com/kiranshivaraju/svgforge/internal/intake"
	"github.com/kiranshivaraju/svgforge/internal/queue"
	"github.com/kiranshivaraju/svgforge/internal/store/storetest"
	"github.com/kiranshivaraju/svgforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	userKey  = "sf_contract_key_1234567890"
	otherKey = "sf_other__key_1234567890"
	adminKey = "sf_admin__key_1234567890"

	rateLimit = 25
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *recordingQueue) Enqueue(_ context.Context, id uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.ids {
		if existing == id {
			return false, nil
		}
	}
	q.ids = append(q.ids, id)
	return true, nil
}

func (q *recordingQueue) Counts(_ context.Context) (queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Counts{Waiting: int64(len(q.ids))}, nil
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *storetest.MemStore
	cache  *cachetest.MemCache
	queue  *recordingQueue
	user   *models.User
	other  *models.User
}

func addKey(t *testing.T, ms *storetest.MemStore, raw string, owner uuid.UUID, scopes ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	ms.AddAPIKey(&models.APIKey{
		ID:        uuid.New(),
		OwnerID:   owner,
		Name:      "test-key",
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := storetest.New()
	mc := cachetest.New()
	q := &recordingQueue{}

	user := ms.AddUser(5)
	other := ms.AddUser(1)
	admin := ms.AddUser(0)
	addKey(t, ms, userKey, user.ID, "generate")
	addKey(t, ms, otherKey, other.ID, "generate")
	addKey(t, ms, adminKey, admin.ID, "admin")

	svc := intake.NewService(ms, q, nil)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, rateLimit),

		HealthHandler:       handler.NewHealthHandler(ms, mc, q),
		SubmitHandler:       handler.NewSubmitHandler(svc),
		GetJobHandler:       handler.NewGetJobHandler(ms),
		GetArtifactHandler:  handler.NewGetArtifactHandler(ms),
		GalleryHandler:      handler.NewGalleryHandler(ms, mc, time.Minute, 2),
		BalanceHandler:      handler.NewBalanceHandler(ms),
		CreateUserHandler:   handler.NewCreateUserHandler(ms),
		CreateKeyHandler:    handler.NewCreateKeyHandler(ms),
		GrantCreditsHandler: handler.NewGrantCreditsHandler(ms),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, cache: mc, queue: q, user: user, other: other}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var parsed map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &parsed), string(raw))
	} else {
		parsed = map[string]any{"raw": string(raw)}
	}
	return resp, parsed
}

func data(body map[string]any) map[string]any {
	return body["data"].(map[string]any)
}

func errCode(body map[string]any) string {
	return body["error"].(map[string]any)["code"].(string)
}

func submitBody(prompt string) map[string]any {
	return map[string]any{"prompt": prompt, "style": "outline", "model": models.ModelFlash}
}

func (ts *testServer) putArtifact(owner uuid.UUID, private bool, created time.Time) *models.Artifact {
	a := &models.Artifact{
		ID:        uuid.New(),
		JobID:     uuid.New(),
		OwnerID:   owner,
		Prompt:    "a lighthouse",
		Style:     models.StyleOutline,
		Model:     models.ModelFlash,
		Private:   private,
		SVG:       `<svg viewBox="0 0 24 24"></svg>`,
		SizeBytes: 31,
		CreatedAt: created,
	}
	ts.store.AddArtifact(a)
	return a
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONTRACT TESTS
// ═══════════════════════════════════════════════════════════════════════════════

// ─── GET /api/v1/health ──────────────────────────────────────────────────────

func TestHealth_200_AllOK(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	d := data(body)
	assert.Equal(t, "ok", d["status"])
	assert.Contains(t, d, "queue")
}

func TestHealth_503_CacheDown(t *testing.T) {
	ts := newTestServer(t)
	ts.cache.Err = assert.AnError

	resp, body := ts.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "DEGRADED", errCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "degraded", details["cache"])
	assert.Equal(t, "ok", details["database"])
}

// ─── POST /api/v1/generations ────────────────────────────────────────────────

func TestSubmit_202_NewJob(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	d := data(body)
	assert.Equal(t, models.JobStatusQueued, d["status"])
	assert.Equal(t, false, d["is_duplicate"])
	assert.Equal(t, "a red fox", d["prompt"])
	assert.Equal(t, 1, ts.queue.Len())
	assert.Equal(t, 5, ts.store.Balance(ts.user.ID), "intake never charges")
}

func TestSubmit_IdempotencyKeyHeader_Dedups(t *testing.T) {
	ts := newTestServer(t)

	resp1, body1 := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	require.Equal(t, http.StatusAccepted, resp1.StatusCode)

	resp2, body2 := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	require.Equal(t, http.StatusAccepted, resp2.StatusCode, "in-flight duplicate")

	assert.Equal(t, data(body1)["id"], data(body2)["id"])
	assert.Equal(t, true, data(body2)["is_duplicate"])
	assert.Equal(t, 1, ts.store.JobCount())
	assert.Equal(t, 1, ts.queue.Len())
}

func TestSubmit_IdempotencyKeyBody_Dedups(t *testing.T) {
	ts := newTestServer(t)
	req := submitBody("a red fox")
	req["idempotency_key"] = "body-key"

	_, body1 := ts.do(t, "POST", "/api/v1/generations", userKey, req)
	// The same key in the header matches the earlier body key.
	_, body2 := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "body-key")

	assert.Equal(t, data(body1)["id"], data(body2)["id"])
	assert.Equal(t, 1, ts.store.JobCount())
}

func TestSubmit_200_TerminalDuplicate(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	id := uuid.MustParse(data(body)["id"].(string))

	job, err := ts.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	resultID := uuid.New()
	job.Status = models.JobStatusSucceeded
	job.ResultID = &resultID
	ts.store.PutJob(job)

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	d := data(body)
	assert.Equal(t, models.JobStatusSucceeded, d["status"])
	assert.Equal(t, true, d["is_duplicate"])
	assert.Equal(t, "/api/v1/artifacts/"+resultID.String(), d["artifact_url"])
}

func TestSubmit_409_IdempotencyConflict(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a blue fox"), handler.IdempotencyHeader, "k1")

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", errCode(body))
	assert.Equal(t, 1, ts.store.JobCount())
}

func TestSubmit_SameKeyDifferentOwners(t *testing.T) {
	ts := newTestServer(t)

	_, a := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"), handler.IdempotencyHeader, "k1")
	_, b := ts.do(t, "POST", "/api/v1/generations", otherKey, submitBody("a blue fox"), handler.IdempotencyHeader, "k1")

	assert.NotEqual(t, data(a)["id"], data(b)["id"])
	assert.Equal(t, 2, ts.store.JobCount())
}

func TestSubmit_400_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, map[string]any{"prompt": "", "style": "neon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "prompt")
	assert.Contains(t, details, "style")
	assert.Equal(t, 0, ts.store.JobCount())
}

func TestSubmit_400_KeyTooLong(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a fox"),
		handler.IdempotencyHeader, strings.Repeat("k", intake.MaxKeyLength+1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
}

func TestSubmit_400_HeaderBodyKeyMismatch(t *testing.T) {
	ts := newTestServer(t)
	req := submitBody("a fox")
	req["idempotency_key"] = "a"

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, req, handler.IdempotencyHeader, "b")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
}

func TestSubmit_400_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/generations", userKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestSubmit_403_WithoutGenerateScope(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/generations", adminKey, submitBody("a fox"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errCode(body))
}

// ─── GET /api/v1/generations/{jobID} ─────────────────────────────────────────

func TestGetJob_200_Owner(t *testing.T) {
	ts := newTestServer(t)
	_, created := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"))
	id := data(created)["id"].(string)

	resp, body := ts.do(t, "GET", "/api/v1/generations/"+id, userKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, data(body)["id"])
	assert.Equal(t, models.JobStatusQueued, data(body)["status"])
	assert.NotContains(t, data(body), "request_hash")
}

func TestGetJob_FailedJobExposesCode(t *testing.T) {
	ts := newTestServer(t)
	code, msg := "InsufficientCredits", "insufficient credits"
	job := &models.GenerationJob{
		ID: uuid.New(), OwnerID: ts.user.ID, Prompt: "x", Style: models.StyleFlat, Model: models.ModelFlash,
		Status: models.JobStatusFailed, ErrorCode: &code, ErrorMessage: &msg, AttemptsMade: 1,
	}
	ts.store.PutJob(job)

	resp, body := ts.do(t, "GET", "/api/v1/generations/"+job.ID.String(), userKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, code, data(body)["error_code"])
	assert.Equal(t, msg, data(body)["error_message"])
}

func TestGetJob_404_OtherOwner(t *testing.T) {
	ts := newTestServer(t)
	_, created := ts.do(t, "POST", "/api/v1/generations", userKey, submitBody("a red fox"))

	resp, body := ts.do(t, "GET", "/api/v1/generations/"+data(created)["id"].(string), otherKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "JOB_NOT_FOUND", errCode(body))
}

func TestGetJob_400_InvalidID(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "GET", "/api/v1/generations/not-a-uuid", userKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_JOB_ID", errCode(body))
}

// ─── GET /api/v1/artifacts/{artifactID} ──────────────────────────────────────

func TestGetArtifact_Public(t *testing.T) {
	ts := newTestServer(t)
	a := ts.putArtifact(ts.user.ID, false, time.Now())

	resp, body := ts.do(t, "GET", "/api/v1/artifacts/"+a.ID.String(), otherKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, a.SVG, body["raw"])
}

func TestGetArtifact_PrivateVisibleToOwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	a := ts.putArtifact(ts.user.ID, true, time.Now())

	resp, _ := ts.do(t, "GET", "/api/v1/artifacts/"+a.ID.String(), userKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, "GET", "/api/v1/artifacts/"+a.ID.String(), otherKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ARTIFACT_NOT_FOUND", errCode(body))
}

func TestGetArtifact_404_Missing(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "GET", "/api/v1/artifacts/"+uuid.NewString(), userKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ARTIFACT_NOT_FOUND", errCode(body))
}

// ─── GET /api/v1/gallery ─────────────────────────────────────────────────────

func TestGallery_FirstPageCached(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	older := ts.putArtifact(ts.user.ID, false, now.Add(-time.Minute))
	newer := ts.putArtifact(ts.other.ID, false, now)
	ts.putArtifact(ts.user.ID, true, now.Add(time.Minute))

	resp, body := ts.do(t, "GET", "/api/v1/gallery", userKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["data"].([]any)
	require.Len(t, items, 2, "private artifacts are not listed")
	assert.Equal(t, newer.ID.String(), items[0].(map[string]any)["id"])
	assert.Equal(t, older.ID.String(), items[1].(map[string]any)["id"])
	assert.NotContains(t, items[0].(map[string]any), "svg")
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["total"])
	assert.Equal(t, false, meta["has_next"])
	assert.True(t, ts.cache.Has(cache.GalleryFirstPageKey()))

	// A new public artifact is not visible until the cached page is invalidated.
	ts.putArtifact(ts.user.ID, false, now.Add(2*time.Minute))
	_, body = ts.do(t, "GET", "/api/v1/gallery", userKey, nil)
	assert.Len(t, body["data"].([]any), 2)

	require.NoError(t, ts.cache.Delete(context.Background(), cache.GalleryFirstPageKey()))
	_, body = ts.do(t, "GET", "/api/v1/gallery", userKey, nil)
	assert.Equal(t, float64(3), body["meta"].(map[string]any)["total"])
	assert.Equal(t, true, body["meta"].(map[string]any)["has_next"])
}

func TestGallery_LaterPagesNotCached(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		ts.putArtifact(ts.user.ID, false, now.Add(time.Duration(i)*time.Second))
	}

	resp, body := ts.do(t, "GET", "/api/v1/gallery?page=2", userKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]any), 1)
	assert.Equal(t, float64(2), body["meta"].(map[string]any)["page"])
	assert.False(t, ts.cache.Has(cache.GalleryFirstPageKey()))
}

// ─── GET /api/v1/balance ─────────────────────────────────────────────────────

func TestBalance(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "GET", "/api/v1/balance", userKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), data(body)["credits"])
	assert.Equal(t, ts.user.ID.String(), data(body)["user_id"])
}

// ─── admin ───────────────────────────────────────────────────────────────────

func TestAdmin_CreateUser_KeyWorks(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/admin/users", adminKey, map[string]any{
		"email":   "New@Example.com",
		"credits": 7,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	d := data(body)
	assert.Equal(t, "new@example.com", d["user"].(map[string]any)["email"])
	key := d["api_key"].(map[string]any)
	raw := key["key"].(string)
	assert.True(t, strings.HasPrefix(raw, "sf_"))
	assert.Equal(t, raw[:mw.KeyPrefixLen], key["key_prefix"])
	assert.Equal(t, []any{"generate"}, key["scopes"])

	resp, body = ts.do(t, "GET", "/api/v1/balance", raw, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(7), data(body)["credits"])
}

func TestAdmin_CreateUser_409_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	req := map[string]any{"email": "dup@example.com", "credits": 1}

	resp, _ := ts.do(t, "POST", "/api/v1/admin/users", adminKey, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, "POST", "/api/v1/admin/users", adminKey, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMAIL_TAKEN", errCode(body))
}

func TestAdmin_CreateUser_400_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/admin/users", adminKey, map[string]any{
		"email": "not-an-email", "credits": -1, "scopes": []string{"root"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "credits")
}

func TestAdmin_403_ForNonAdmin(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/admin/users", userKey, map[string]any{"email": "x@example.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errCode(body))
}

func TestAdmin_GrantCredits(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/admin/users/" + ts.user.ID.String() + "/credits"

	resp, body := ts.do(t, "POST", path, adminKey, map[string]any{"amount": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(15), data(body)["credits"])
	assert.Equal(t, 15, ts.store.Balance(ts.user.ID))

	resp, body = ts.do(t, "POST", path, adminKey, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errCode(body))

	resp, body = ts.do(t, "POST", "/api/v1/admin/users/"+uuid.NewString()+"/credits", adminKey, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "USER_NOT_FOUND", errCode(body))
}

func TestAdmin_CreateKey(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/admin/users/"+ts.other.ID.String()+"/keys", adminKey,
		map[string]any{"name": "ci", "scopes": []string{"generate"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw := data(body)["key"].(string)
	assert.Equal(t, "ci", data(body)["name"])

	resp, body = ts.do(t, "GET", "/api/v1/balance", raw, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ts.other.ID.String(), data(body)["user_id"])

	resp, _ = ts.do(t, "POST", "/api/v1/admin/users/"+uuid.NewString()+"/keys", adminKey, map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── rate limiting ───────────────────────────────────────────────────────────

func TestRateLimit_429_AfterLimit(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < rateLimit; i++ {
		resp, _ := ts.do(t, "GET", "/api/v1/balance", userKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, body := ts.do(t, "GET", "/api/v1/balance", userKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errCode(body))

	// Other keys are unaffected.
	resp, _ = ts.do(t, "GET", "/api/v1/balance", otherKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
