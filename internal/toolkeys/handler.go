package toolkeys

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Handler serves /.well-known/jwks.json. The body is marshaled once at
// construction; keys do not rotate within a process lifetime.
type Handler struct {
	payload []byte
	etag    string

	// CacheMaxAge controls the Cache-Control header (default 10 minutes).
	CacheMaxAge time.Duration
}

func NewHandler(pub *rsa.PublicKey) (*Handler, error) {
	payload, err := json.Marshal(PublicJWKS(pub))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	return &Handler{
		payload: payload,
		etag:    `W/"` + b64url(sum[:]) + `"`,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	maxAge := int(h.cacheAge().Seconds())
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	w.Header().Set("ETag", h.etag)

	if match := r.Header.Get("If-None-Match"); match != "" && match == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.payload)
}

func (h *Handler) cacheAge() time.Duration {
	if h.CacheMaxAge > 0 {
		return h.CacheMaxAge
	}
	return 10 * time.Minute
}
