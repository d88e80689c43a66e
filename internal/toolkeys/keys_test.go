package toolkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v3"
)

func TestLoadOrGeneratePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "tool.pem")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.N.Cmp(second.N) != 0 || first.E != second.E {
		t.Fatal("reloaded key differs from generated key")
	}
}

func TestKIDIsStable(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	a, b := KID(&key.PublicKey), KID(&key.PublicKey)
	if a != b {
		t.Fatalf("kid not deterministic: %q vs %q", a, b)
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if KID(&other.PublicKey) == a {
		t.Fatal("distinct keys share a kid")
	}
}

func TestPublicJWKSShape(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	set := PublicJWKS(&key.PublicKey)
	if len(set.Keys) != 1 {
		t.Fatalf("keys = %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k.Kty != "RSA" || k.Use != "sig" || k.Alg != "RS256" {
		t.Errorf("jwk = %+v", k)
	}
	if k.Kid != KID(&key.PublicKey) {
		t.Errorf("kid = %q", k.Kid)
	}
	if k.N == "" || k.E == "" {
		t.Errorf("modulus/exponent missing: %+v", k)
	}

	// The published document must round-trip through a standard JWKS parser
	// back to the same public key.
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	var parsed jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("parse published jwks: %v", err)
	}
	pub, ok := parsed.Keys[0].Key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("parsed key type %T", parsed.Keys[0].Key)
	}
	if pub.N.Cmp(key.N) != 0 || pub.E != key.E {
		t.Fatal("published key does not match source key")
	}
}

func TestHandlerServesJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewHandler(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/jwk-set+json" {
		t.Errorf("content type = %q", ct)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("no etag")
	}
	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatal(err)
	}
	if len(set.Keys) != 1 || set.Keys[0].Kid != KID(&key.PublicKey) {
		t.Errorf("served set = %+v", set)
	}

	// Conditional revalidation.
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional status = %d", resp2.StatusCode)
	}
}
