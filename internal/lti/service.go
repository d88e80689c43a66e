package lti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/courseloop/ltibridge/internal/platform"
	"github.com/courseloop/ltibridge/internal/user"
)

/*
Launch orchestration.

Each launch is a single-shot pair of transitions: login initiation mints a
fresh state+nonce and redirects to the platform, the callback redeems both
exactly once and either verifies the id_token or rejects the attempt. A
failed callback burns its state/nonce, so the platform has to restart the
login to try again.
*/

// LoginRequest carries the query parameters of an OIDC login initiation.
type LoginRequest struct {
	Issuer         string // iss
	LoginHint      string // login_hint
	TargetLinkURI  string // target_link_uri (optional; defaults to our launch URL)
	ClientID       string // client_id (optional; defaults to the platform's)
	LTIMessageHint string // lti_message_hint (optional, echoed back)
}

// LaunchResult is the terminal success of a launch attempt.
type LaunchResult struct {
	Claims   IdentityClaims
	User     user.User
	Platform platform.Platform
}

// Service sequences login initiation and the launch callback.
type Service struct {
	Registry platform.Registry
	Users    user.Store
	Tokens   TokenStore
	Verifier *Verifier

	// LaunchURL is the default redirect_uri (publicURL + /lti/launch).
	LaunchURL string

	// LoginTTL bounds how long a minted state/nonce pair stays redeemable.
	LoginTTL time.Duration

	Logger zerolog.Logger
}

// LoginInitiation resolves the platform, mints state and nonce, and returns
// the authorization redirect URL. The only side effect is the token-store
// write pair.
func (s *Service) LoginInitiation(ctx context.Context, req LoginRequest) (string, error) {
	if strings.TrimSpace(req.Issuer) == "" || strings.TrimSpace(req.LoginHint) == "" {
		return "", errKind(KindMissingParameter, "iss and login_hint are required")
	}

	p, err := s.Registry.ResolveByIssuer(ctx, req.Issuer)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return "", errKind(KindUnknownPlatform, "no active platform for issuer "+req.Issuer)
		}
		return "", err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = p.ClientID
	}
	target := req.TargetLinkURI
	if target == "" {
		target = s.LaunchURL
	}

	state, err := s.Tokens.Issue(TokenKindState, &PendingLogin{
		Issuer:        req.Issuer,
		TargetLinkURI: target,
		ClientID:      clientID,
	}, s.LoginTTL)
	if err != nil {
		return "", err
	}
	nonce, err := s.Tokens.Issue(TokenKindNonce, nil, s.LoginTTL)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", target)
	q.Set("login_hint", req.LoginHint)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("prompt", "none")
	if req.LTIMessageHint != "" {
		q.Set("lti_message_hint", req.LTIMessageHint)
	}

	s.Logger.Debug().Str("issuer", p.Issuer).Str("client_id", clientID).Msg("login initiation accepted")
	return p.AuthLoginURL + "?" + q.Encode(), nil
}

// HandleLaunch redeems state and nonce, verifies the id_token, and hands the
// verified identity to the user store.
func (s *Service) HandleLaunch(ctx context.Context, idToken, state string) (LaunchResult, error) {
	if strings.TrimSpace(idToken) == "" || strings.TrimSpace(state) == "" {
		return LaunchResult{}, errKind(KindMissingParameter, "id_token and state are required")
	}

	pending, err := s.Tokens.Redeem(TokenKindState, state)
	if err != nil {
		// Expired, reused, and forged states all land here.
		return LaunchResult{}, errKind(KindInvalidState, "state was not issued or is no longer valid")
	}

	// The nonce claim is read pre-verification strictly as a lookup key for
	// the pending-nonce store. It is re-checked, authenticated, in Verify.
	tokenNonce, err := peekNonce(idToken)
	if err != nil {
		return LaunchResult{}, err
	}
	if _, err := s.Tokens.Redeem(TokenKindNonce, tokenNonce); err != nil {
		return LaunchResult{}, errKind(KindInvalidNonce, "nonce was not issued or is no longer valid")
	}

	p, err := s.Registry.ResolveByIssuer(ctx, pending.Issuer)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return LaunchResult{}, errKind(KindUnknownPlatform, "no active platform for issuer "+pending.Issuer)
		}
		return LaunchResult{}, err
	}

	claims, err := s.Verifier.Verify(ctx, idToken, p, tokenNonce, pending.ClientID)
	if err != nil {
		s.Logger.Info().Str("issuer", p.Issuer).Str("kind", string(KindOf(err))).Msg("launch rejected")
		return LaunchResult{}, err
	}

	u, err := s.Users.UpsertByPlatformSubject(ctx, p.ID, claims.Subject, claims.Email, claims.Name)
	if err != nil {
		return LaunchResult{}, err
	}

	s.Logger.Info().
		Str("issuer", p.Issuer).
		Str("subject", claims.Subject).
		Str("context", claims.Context.ID).
		Msg("launch verified")
	return LaunchResult{Claims: claims, User: u, Platform: p}, nil
}

// peekNonce decodes the token payload without verification and returns its
// nonce claim. The value is never trusted as authenticated data.
func peekNonce(rawToken string) (string, error) {
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return "", errKind(KindMalformedToken, "token is not a compact JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", wrapKind(KindMalformedToken, "decode token payload", err)
	}
	var c struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", wrapKind(KindMalformedToken, "parse token payload", err)
	}
	if c.Nonce == "" {
		return "", errKind(KindInvalidNonce, "token has no nonce claim")
	}
	return c.Nonce, nil
}
