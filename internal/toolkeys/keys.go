package toolkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

/*
Tool signing key.

The tool keeps one RSA-2048 key pair on disk and publishes the public half
at /.well-known/jwks.json for platforms that receive tokens from us in the
opposite role. The key is loaded from SIGNING_KEY_PATH, or generated and
persisted on first start.
*/

// LoadOrGenerate returns the tool's RSA private key, creating and persisting
// a new 2048-bit key when none exists at path.
func LoadOrGenerate(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return parsePEM(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("toolkeys: read key: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: generate key: %w", err)
	}
	if err := persist(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func parsePEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("toolkeys: no PEM block in key file")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("toolkeys: key file is not an RSA key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: parse key: %w", err)
	}
	return key, nil
}

func persist(path string, priv *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("toolkeys: marshal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("toolkeys: key dir: %w", err)
	}
	buf := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("toolkeys: write key: %w", err)
	}
	return nil
}

// KID derives a stable key id from the public key material.
func KID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	return "rsa-" + hex.EncodeToString(h.Sum(nil)[:8])
}

// JWK is a single RFC 7517 public key entry.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the published key set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS builds the RFC 7517 key set for the tool's key.
func PublicJWKS(pub *rsa.PublicKey) JWKS {
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: KID(pub),
		Alg: "RS256",
		N:   b64url(pub.N.Bytes()),
		E:   b64url(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
