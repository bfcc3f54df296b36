package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

type contextKey int

const (
	ownerIDKey contextKey = iota
	keyPrefixKey
	scopesKey
	requestTagsKey
)

// requestTags collects the owner and job a request turns out to concern, so the
// access log line and any panic report can name them. Logger installs one per
// request; Auth and the job handlers fill it in as they learn the ids.
type requestTags struct {
	mu      sync.Mutex
	ownerID uuid.UUID
	jobID   uuid.UUID
}

func (t *requestTags) attrs() []any {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []any
	if t.ownerID != uuid.Nil {
		out = append(out, "owner_id", t.ownerID)
	}
	if t.jobID != uuid.Nil {
		out = append(out, "job_id", t.jobID)
	}
	return out
}

func withRequestTags(ctx context.Context) (context.Context, *requestTags) {
	t := &requestTags{}
	return context.WithValue(ctx, requestTagsKey, t), t
}

func tagsFrom(ctx context.Context) *requestTags {
	t, _ := ctx.Value(requestTagsKey).(*requestTags)
	return t
}

func tag(ctx context.Context, set func(*requestTags)) {
	if t := tagsFrom(ctx); t != nil {
		t.mu.Lock()
		set(t)
		t.mu.Unlock()
	}
}

// SetOwnerID stores the authenticated owner on ctx and on the request's log line.
func SetOwnerID(ctx context.Context, id uuid.UUID) context.Context {
	tag(ctx, func(t *requestTags) { t.ownerID = id })
	return context.WithValue(ctx, ownerIDKey, id)
}

func GetOwnerID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ownerIDKey).(uuid.UUID)
	return id, ok
}

// SetJobID names the generation job a request concerns on its log line.
func SetJobID(r *http.Request, id uuid.UUID) {
	tag(r.Context(), func(t *requestTags) { t.jobID = id })
}

func SetKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}
