// Package fingerprint derives a coarse browser fingerprint from request
// headers. The portal folds it into the csrf binding so that a token copied
// to another browser no longer validates.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

// The Accept header differs between page loads and form posts, so only the
// user agent is used.
var headerKeys = []string{"User-Agent"}

type ctxKey string

const fingerprintKey ctxKey = "fingerprint"

var ErrNoFingerprint = errors.New("no fingerprint in ctx")

func FromHTTPRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", errors.New("http request is nil")
	}

	h := sha256.New()

	for _, key := range headerKeys {
		h.Write([]byte(r.Header.Get(key)))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Middleware stores the fingerprint of the request in its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp, _ := FromHTTPRequest(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fingerprintKey, fp)))
	})
}

func FromContext(ctx context.Context) (string, error) {
	fp, ok := ctx.Value(fingerprintKey).(string)
	if !ok {
		return "", ErrNoFingerprint
	}

	return fp, nil
}
