package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v3"
)

// KeySource supplies the public half of the provider's keys.
type KeySource interface {
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeysHandler serves the provider's JWKS at its jwks_uri. The encoded set is
// reused until maxAge has passed, and relying parties are told they may cache
// it for the remainder of that time.
type KeysHandler struct {
	src    KeySource
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	body    []byte
	expires time.Time
}

func NewKeysHandler(src KeySource, maxAge time.Duration) *KeysHandler {
	return &KeysHandler{
		src:    src,
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (h *KeysHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, ttl, err := h.encoded(req.Context())
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	_, _ = w.Write(body)
}

// encoded returns the serialized key set and how much longer it is good for.
func (h *KeysHandler) encoded(ctx context.Context) ([]byte, time.Duration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.body == nil || !now.Before(h.expires) {
		ks, err := h.src.PublicKeys(ctx)
		if err != nil {
			return nil, 0, err
		}
		b, err := json.Marshal(ks)
		if err != nil {
			return nil, 0, err
		}
		h.body, h.expires = b, now.Add(h.maxAge)
	}

	return h.body, h.expires.Sub(now), nil
}
