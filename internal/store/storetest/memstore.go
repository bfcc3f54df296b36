// Package storetest provides an in-memory store.Store for tests. Its conditional
// updates mirror the SQL in the Postgres implementation.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// MemStore is a goroutine-safe in-memory Store.
type MemStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	keys      []*models.APIKey
	jobs      map[uuid.UUID]*models.GenerationJob
	artifacts map[uuid.UUID]*models.Artifact

	// Calls counts method invocations by name.
	Calls map[string]int

	// Fail, when set, is consulted before each mutating call; a non-nil return is
	// returned as that call's error.
	Fail func(method string) error

	// OnCreateJob runs after the idempotency lookup inside CreateJob, before the insert.
	// Tests use it to interleave a competing insert.
	OnCreateJob func(job *models.GenerationJob)
}

func New() *MemStore {
	return &MemStore{
		users:     make(map[uuid.UUID]*models.User),
		jobs:      make(map[uuid.UUID]*models.GenerationJob),
		artifacts: make(map[uuid.UUID]*models.Artifact),
		Calls:     make(map[string]int),
	}
}

// AddUser seeds a user with the given balance and returns it.
func (m *MemStore) AddUser(credits int) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Credits: credits, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	return cloneUser(u)
}

// AddAPIKey seeds an API key.
func (m *MemStore) AddAPIKey(k *models.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.keys = append(m.keys, &cp)
}

// Balance returns a user's credits, or -1 if the user does not exist.
func (m *MemStore) Balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return -1
	}
	return u.Credits
}

// JobCount returns the number of stored jobs.
func (m *MemStore) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// PutJob stores a copy of job as-is.
func (m *MemStore) PutJob(job *models.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
}

// AddArtifact seeds an artifact without a job transition.
func (m *MemStore) AddArtifact(a *models.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts[a.ID] = &cp
}

// DeleteJob removes a job row.
func (m *MemStore) DeleteJob(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

func (m *MemStore) begin(method string) error {
	m.mu.Lock()
	m.Calls[method]++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail(method)
	}
	return nil
}

func (m *MemStore) Ping(_ context.Context) error { return m.begin("Ping") }

func (m *MemStore) CreateUser(_ context.Context, user *models.User) error {
	if err := m.begin("CreateUser"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicateKey
		}
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	if err := m.begin("GetUser"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemStore) GrantCredits(_ context.Context, id uuid.UUID, amount int) (*models.User, error) {
	if err := m.begin("GrantCredits"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Credits += amount
	u.UpdatedAt = time.Now().UTC()
	return cloneUser(u), nil
}

func (m *MemStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	if err := m.begin("GetAPIKeyByPrefix"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	if err := m.begin("UpdateAPIKeyLastUsed"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, k := range m.keys {
		if k.ID == id {
			k.LastUsedAt = &now
		}
	}
	return nil
}

func (m *MemStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	if err := m.begin("CreateAPIKey"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == key.ID {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	m.keys = append(m.keys, &cp)
	return nil
}

func (m *MemStore) CreateJob(_ context.Context, job *models.GenerationJob) error {
	if err := m.begin("CreateJob"); err != nil {
		return err
	}
	if m.OnCreateJob != nil {
		m.OnCreateJob(job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	if job.IdempotencyKey != nil {
		for _, j := range m.jobs {
			if j.OwnerID == job.OwnerID && j.IdempotencyKey != nil && *j.IdempotencyKey == *job.IdempotencyKey {
				return store.ErrDuplicateKey
			}
		}
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemStore) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	if err := m.begin("GetJob"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemStore) GetJobForOwner(_ context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.GenerationJob, error) {
	if err := m.begin("GetJobForOwner"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemStore) GetJobByIdempotencyKey(_ context.Context, ownerID uuid.UUID, key string) (*models.GenerationJob, error) {
	if err := m.begin("GetJobByIdempotencyKey"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.OwnerID == ownerID && j.IdempotencyKey != nil && *j.IdempotencyKey == key {
			return cloneJob(j), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) ClaimJob(_ context.Context, id uuid.UUID, token string) (bool, error) {
	if err := m.begin("ClaimJob"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.ResultID != nil || heldBy(j, token) {
		return false, nil
	}
	if j.Status != models.JobStatusQueued && j.Status != models.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusRunning
	j.ClaimToken = &token
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.LastStartedAt = &now
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.UpdatedAt = now
	return true, nil
}

func (m *MemStore) RequeueJob(_ context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error) {
	if err := m.begin("RequeueJob"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusRunning || !heldBy(j, token) {
		return false, nil
	}
	j.Status = models.JobStatusQueued
	j.ClaimToken = nil
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.AttemptsMade = max(j.AttemptsMade, attempt)
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemStore) ReleaseStalledJob(_ context.Context, id uuid.UUID, token string) (bool, error) {
	if err := m.begin("ReleaseStalledJob"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusRunning || j.ResultID != nil {
		return false, nil
	}
	held := ""
	if j.ClaimToken != nil {
		held = *j.ClaimToken
	}
	if held != token {
		return false, nil
	}
	j.Status = models.JobStatusQueued
	j.ClaimToken = nil
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemStore) ListRecoverableJobs(_ context.Context, olderThan time.Time, limit int) ([]*models.GenerationJob, error) {
	if err := m.begin("ListRecoverableJobs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		switch {
		case j.Status == models.JobStatusQueued && j.UpdatedAt.Before(olderThan):
		case j.Status == models.JobStatusRunning && j.LastStartedAt != nil && j.LastStartedAt.Before(olderThan):
		default:
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ChargeJobCredit(_ context.Context, id uuid.UUID) (int, error) {
	if err := m.begin("ChargeJobCredit"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.CreditsCharged {
		return 0, store.ErrAlreadyCharged
	}
	u, ok := m.users[j.OwnerID]
	if !ok || u.Credits <= 0 {
		return 0, store.ErrInsufficientCredits
	}
	u.Credits--
	j.CreditsCharged = true
	return u.Credits, nil
}

func (m *MemStore) RefundAndFailJob(_ context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error) {
	if err := m.begin("RefundAndFailJob"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !heldBy(j, token) || j.Status == models.JobStatusSucceeded {
		return false, store.ErrJobNotRunning
	}
	refunded := false
	if j.CreditsCharged && !j.CreditsRefunded && j.ResultID == nil {
		j.CreditsRefunded = true
		if u, ok := m.users[j.OwnerID]; ok {
			u.Credits++
		}
		refunded = true
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	if j.FinishedAt == nil {
		j.FinishedAt = &now
	}
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.AttemptsMade = max(j.AttemptsMade, attempt)
	j.UpdatedAt = now
	return refunded, nil
}

func (m *MemStore) CompleteJob(_ context.Context, id uuid.UUID, token string, artifact *models.Artifact) error {
	if err := m.begin("CompleteJob"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusRunning || j.ResultID != nil || !heldBy(j, token) {
		return store.ErrJobNotRunning
	}
	now := time.Now().UTC()
	cp := *artifact
	m.artifacts[cp.ID] = &cp
	j.Status = models.JobStatusSucceeded
	j.FinishedAt = &now
	j.ResultID = &cp.ID
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.UpdatedAt = now
	return nil
}

func (m *MemStore) GetArtifact(_ context.Context, id uuid.UUID) (*models.Artifact, error) {
	if err := m.begin("GetArtifact"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) ListPublicArtifacts(_ context.Context, page, limit int) ([]*models.Artifact, int, error) {
	if err := m.begin("ListPublicArtifacts"); err != nil {
		return nil, 0, err
	}
	page, limit = store.NormalizePage(page, limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	var public []*models.Artifact
	for _, a := range m.artifacts {
		if !a.Private {
			cp := *a
			public = append(public, &cp)
		}
	}
	sort.Slice(public, func(a, b int) bool { return public[a].CreatedAt.After(public[b].CreatedAt) })
	total := len(public)
	start := (page - 1) * limit
	if start >= total {
		return []*models.Artifact{}, total, nil
	}
	end := min(start+limit, total)
	return public[start:end], total, nil
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func cloneJob(j *models.GenerationJob) *models.GenerationJob {
	cp := *j
	if j.ClaimToken != nil {
		tok := *j.ClaimToken
		cp.ClaimToken = &tok
	}
	return &cp
}

func heldBy(j *models.GenerationJob, token string) bool {
	return j.ClaimToken != nil && *j.ClaimToken == token
}

var _ store.Store = (*MemStore)(nil)
