package lti

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
)

// KeyFetcher retrieves a platform's public key set over HTTP and caches it
// for a short TTL per key-set URL. A kid that is absent from the cached set
// triggers exactly one forced refetch, so platform key rotation is picked up
// without ever retrying a failed fetch.
type KeyFetcher struct {
	// HTTPClient must carry a hard timeout; NewKeyFetcher sets 10s.
	HTTPClient *http.Client
	CacheTTL   time.Duration

	mu    sync.RWMutex
	cache map[string]cachedKeySet

	// Now overrides the clock (tests).
	Now func() time.Time
}

type cachedKeySet struct {
	set     jose.JSONWebKeySet
	expires time.Time
}

func NewKeyFetcher(cacheTTL time.Duration) *KeyFetcher {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &KeyFetcher{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		CacheTTL:   cacheTTL,
		cache:      make(map[string]cachedKeySet),
	}
}

// KeyForKID returns the public key material for kid from the set published
// at keySetURL. The error kind is KeyFetchError when the endpoint cannot be
// read and UnknownKey when the set is readable but has no such key.
func (f *KeyFetcher) KeyForKID(ctx context.Context, keySetURL, kid string) (any, error) {
	set, err := f.keySet(ctx, keySetURL, false)
	if err != nil {
		return nil, err
	}
	if key := findKey(set, kid); key != nil {
		return key.Key, nil
	}

	// Cache may predate a key rotation; refetch once before giving up.
	set, err = f.keySet(ctx, keySetURL, true)
	if err != nil {
		return nil, err
	}
	if key := findKey(set, kid); key != nil {
		return key.Key, nil
	}
	return nil, errKind(KindUnknownKey, "no key with kid "+kid+" in platform key set")
}

func (f *KeyFetcher) keySet(ctx context.Context, keySetURL string, force bool) (jose.JSONWebKeySet, error) {
	now := f.now()
	if !force {
		f.mu.RLock()
		c, ok := f.cache[keySetURL]
		f.mu.RUnlock()
		if ok && now.Before(c.expires) {
			return c.set, nil
		}
	}

	set, err := f.fetch(ctx, keySetURL)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	f.mu.Lock()
	f.cache[keySetURL] = cachedKeySet{set: set, expires: now.Add(f.CacheTTL)}
	f.mu.Unlock()
	return set, nil
}

func (f *KeyFetcher) fetch(ctx context.Context, keySetURL string) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, wrapKind(KindKeyFetchError, "build key set request", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, wrapKind(KindKeyFetchError, "fetch key set", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jose.JSONWebKeySet{}, errKind(KindKeyFetchError, "key set endpoint returned "+resp.Status)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, wrapKind(KindKeyFetchError, "decode key set", err)
	}
	return set, nil
}

func (f *KeyFetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	for i := range set.Keys {
		if set.Keys[i].KeyID == kid {
			return &set.Keys[i]
		}
	}
	return nil
}
