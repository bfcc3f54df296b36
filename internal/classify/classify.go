// Package classify maps worker failures onto the stable error codes stored on a
// generation job. The upstream model SDK exposes no typed error taxonomy, so
// classification is driven by message patterns and any embedded HTTP status.
package classify

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

type Code string

const (
	InsufficientCredits      Code = "InsufficientCredits"
	UpstreamRateLimited      Code = "UpstreamRateLimited"
	UpstreamModelUnavailable Code = "UpstreamModelUnavailable"
	UpstreamPermissionDenied Code = "UpstreamPermissionDenied"
	CacheUnavailable         Code = "CacheUnavailable"
	ValidationError          Code = "ValidationError"
	StorageError             Code = "StorageError"
	GenerationFailed         Code = "GenerationFailed"
)

// MaxMessageBytes bounds the message persisted on the job row.
const MaxMessageBytes = 500

// Sentinels that callers wrap so classification does not depend on wording.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrCacheUnavailable    = errors.New("cache unavailable")
	ErrValidation          = errors.New("validation failed")
	ErrStorage             = errors.New("storage failure")
)

// Classification is the persisted form of a failure.
type Classification struct {
	Code    Code
	Message string
}

// Retryable reports whether a failure with this code may be attempted again.
func (c Code) Retryable() bool {
	return c != InsufficientCredits
}

type rule struct {
	code     Code
	patterns []string
}

// rules are evaluated in order against the lowercased message; first match wins.
// Storage and cache failures are recognised by their sentinels only, never by
// wording, since upstream messages may mention either.
var rules = []rule{
	{InsufficientCredits, []string{"insufficient credits", "insufficient_credits"}},
	{UpstreamRateLimited, []string{"rate limit", "ratelimit", "resource_exhausted", "resource exhausted", "quota", "too many requests"}},
	{UpstreamPermissionDenied, []string{"permission_denied", "permission denied", "unauthenticated", "api key not valid", "invalid api key", "forbidden"}},
	{UpstreamModelUnavailable, []string{"model not found", "not_found", "unavailable", "overloaded", "is not supported for"}},
	{ValidationError, []string{"validation", "invalid_argument", "invalid argument"}},
}

// statusCodes maps an HTTP status embedded in the message to a code.
var statusCodes = map[int]Code{
	400: ValidationError,
	401: UpstreamPermissionDenied,
	403: UpstreamPermissionDenied,
	404: UpstreamModelUnavailable,
	429: UpstreamRateLimited,
	502: UpstreamModelUnavailable,
	503: UpstreamModelUnavailable,
	504: UpstreamModelUnavailable,
}

// publicMessages replace the raw error text for codes whose messages can carry internals.
var publicMessages = map[Code]string{
	StorageError:     "a storage error occurred while processing the job",
	CacheUnavailable: "the cache was unavailable",
}

var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// Classify maps err to a code and a bounded message. A nil error yields the zero value.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	code := codeFor(err)
	msg, ok := publicMessages[code]
	if !ok {
		msg = err.Error()
		if errors.Is(err, context.DeadlineExceeded) && code == GenerationFailed {
			msg = "generation timed out: " + msg
		}
	}
	return Classification{Code: code, Message: Truncate(msg, MaxMessageBytes)}
}

func codeFor(err error) Code {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return InsufficientCredits
	case errors.Is(err, ErrCacheUnavailable):
		return CacheUnavailable
	case errors.Is(err, ErrStorage):
		return StorageError
	case errors.Is(err, ErrValidation):
		return ValidationError
	case errors.Is(err, context.DeadlineExceeded):
		return GenerationFailed
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.code
			}
		}
	}

	for _, m := range statusPattern.FindAllStringSubmatch(msg, -1) {
		status, _ := strconv.Atoi(m[1])
		if code, ok := statusCodes[status]; ok {
			return code
		}
	}
	return GenerationFailed
}

// Truncate shortens s to at most maxBytes without splitting a UTF-8 sequence.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
