// Package idempotency replays the first response for a repeated
// Idempotency-Key so retried writes are applied once.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/requestcontext"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength = 128
	maxBodyBytes = 1 << 20

	DefaultTTL = 24 * time.Hour
)

// Middleware caches responses by tenant, route and key. Requests without
// the header pass through. Server errors release the key so the client can
// retry; a store outage degrades to plain pass-through.
func Middleware(store Store, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "Idempotency-Key is too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			key := scopedKey(r, raw)
			fingerprint := fingerprintOf(r.Method, r.URL.Path, body)

			prior, err := store.Begin(ctx, key, fingerprint, ttl)
			switch {
			case errors.Is(err, ErrInFlight):
				httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a request with this Idempotency-Key is in progress"))
				return
			case err != nil:
				logger.WarnContext(ctx, "idempotency store unavailable",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			case prior != nil:
				if prior.Fingerprint != fingerprint {
					httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "Idempotency-Key was used for a different request"))
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(prior.Status)
				_, _ = w.Write(prior.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := store.Abort(ctx, key); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
				}
				return
			}
			if err := store.Complete(ctx, key, Record{
				Fingerprint: fingerprint,
				Status:      rec.status,
				Body:        rec.body.Bytes(),
			}, ttl); err != nil {
				logger.WarnContext(ctx, "failed to store idempotent response",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
		})
	}
}

func scopedKey(r *http.Request, key string) string {
	return requestcontext.TenantID(r.Context()).String() + ":" + r.Method + " " + r.URL.Path + ":" + key
}

func fingerprintOf(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
