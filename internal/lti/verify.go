package lti

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/courseloop/ltibridge/internal/platform"
)

// IMS claim URIs carried by LTI 1.3 id_tokens.
const (
	claimMessageType  = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion      = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimDeploymentID = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimRoles        = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimContext      = "https://purl.imsglobal.org/spec/lti/claim/context"
	claimResourceLink = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
)

// allowedAlgs is the hard-coded signature algorithm allow-list. It is never
// derived from the token: accepting a caller-supplied "none" or an HMAC alg
// would let the platform's public key double as a signing secret.
var allowedAlgs = []string{jwt.SigningMethodRS256.Alg()}

// Context is the course a launch originated from.
type Context struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Title string `json:"title,omitempty"`
}

// ResourceLink is the specific placement (assignment, activity) launched.
type ResourceLink struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// IdentityClaims is the verified result of a launch token. It is only ever
// built after every verification step has passed.
type IdentityClaims struct {
	Subject   string
	Email     string
	Name      string
	Issuer    string
	Audience  []string
	Nonce     string
	ExpiresAt time.Time

	MessageType  string
	Version      string
	DeploymentID string
	Roles        []string
	Context      Context
	ResourceLink ResourceLink
}

// Verifier validates platform-signed id_tokens.
type Verifier struct {
	Keys *KeyFetcher

	// Leeway is the clock-skew allowance for temporal claims (default 60s).
	Leeway time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

func NewVerifier(keys *KeyFetcher) *Verifier {
	return &Verifier{Keys: keys, Leeway: 60 * time.Second}
}

// Verify runs the whole pipeline in strict order: structural checks, then
// key retrieval, then signature, then claims. Cheap checks come first so a
// malformed or downgraded token never costs a key fetch, and nonce/audience
// are only trusted once the signature is.
func (v *Verifier) Verify(ctx context.Context, rawToken string, p platform.Platform, expectedNonce, expectedClientID string) (IdentityClaims, error) {
	alg, kid, err := peekHeader(rawToken)
	if err != nil {
		return IdentityClaims{}, err
	}
	if !algAllowed(alg) {
		return IdentityClaims{}, errKind(KindDisallowedAlgorithm, "token alg "+alg+" is not allowed")
	}

	key, err := v.Keys.KeyForKID(ctx, p.KeySetURL, kid)
	if err != nil {
		return IdentityClaims{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(allowedAlgs),
		jwt.WithLeeway(v.leeway()),
		jwt.WithAudience(expectedClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return IdentityClaims{}, mapParseError(err, claims)
	}

	nonce, _ := claims["nonce"].(string)
	if nonce == "" || nonce != expectedNonce {
		return IdentityClaims{}, errKind(KindNonceMismatch, "token nonce does not match expected nonce")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return IdentityClaims{}, errKind(KindMissingSubject, "token has no sub claim")
	}

	return buildClaims(claims, sub, nonce), nil
}

func (v *Verifier) leeway() time.Duration {
	if v.Leeway > 0 {
		return v.Leeway
	}
	return 60 * time.Second
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}

// peekHeader reads alg and kid from the unverified token header.
func peekHeader(rawToken string) (alg, kid string, err error) {
	tok, _, perr := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if perr != nil {
		return "", "", wrapKind(KindMalformedToken, "parse token header", perr)
	}
	alg, _ = tok.Header["alg"].(string)
	kid, _ = tok.Header["kid"].(string)
	if alg == "" {
		return "", "", errKind(KindMalformedToken, "token header missing alg")
	}
	if kid == "" {
		return "", "", errKind(KindMalformedToken, "token header missing kid")
	}
	return alg, kid, nil
}

func algAllowed(alg string) bool {
	for _, a := range allowedAlgs {
		if a == alg {
			return true
		}
	}
	return false
}

// mapParseError translates golang-jwt failures into launch kinds. Signature
// problems are reported ahead of claim problems; temporal claims ahead of
// audience, matching the verification order of the pipeline.
// ErrTokenRequiredClaimMissing covers both a missing exp and a missing aud,
// so the decoded claims decide which kind it is.
func mapParseError(err error, claims jwt.MapClaims) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return wrapKind(KindInvalidSignature, "token signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return wrapKind(KindExpired, "token temporal claims rejected", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		if _, ok := claims["exp"]; !ok {
			return wrapKind(KindExpired, "token has no exp claim", err)
		}
		return wrapKind(KindAudienceMismatch, "token has no aud claim", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return wrapKind(KindAudienceMismatch, "token audience does not include client id", err)
	default:
		return wrapKind(KindMalformedToken, "parse token", err)
	}
}

func buildClaims(mc jwt.MapClaims, sub, nonce string) IdentityClaims {
	out := IdentityClaims{
		Subject: sub,
		Nonce:   nonce,
	}
	out.Email, _ = mc["email"].(string)
	out.Name, _ = mc["name"].(string)
	out.Issuer, _ = mc["iss"].(string)
	if aud, err := mc.GetAudience(); err == nil {
		out.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	out.MessageType, _ = mc[claimMessageType].(string)
	out.Version, _ = mc[claimVersion].(string)
	out.DeploymentID, _ = mc[claimDeploymentID].(string)

	if roles, ok := mc[claimRoles].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				out.Roles = append(out.Roles, s)
			}
		}
	}
	if c, ok := mc[claimContext].(map[string]any); ok {
		out.Context.ID, _ = c["id"].(string)
		out.Context.Label, _ = c["label"].(string)
		out.Context.Title, _ = c["title"].(string)
	}
	if rl, ok := mc[claimResourceLink].(map[string]any); ok {
		out.ResourceLink.ID, _ = rl["id"].(string)
		out.ResourceLink.Title, _ = rl["title"].(string)
	}
	return out
}
