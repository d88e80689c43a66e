package lti

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies why a launch attempt failed. Kinds are stable, machine-
// readable, and surfaced to the caller; none of them are retried.
type Kind string

const (
	KindMissingParameter    Kind = "missing_parameter"
	KindUnknownPlatform     Kind = "unknown_platform"
	KindInvalidState        Kind = "invalid_state"
	KindInvalidNonce        Kind = "invalid_nonce"
	KindMalformedToken      Kind = "malformed_token"
	KindDisallowedAlgorithm Kind = "disallowed_algorithm"
	KindUnknownKey          Kind = "unknown_key"
	KindKeyFetchError       Kind = "key_fetch_error"
	KindInvalidSignature    Kind = "invalid_signature"
	KindExpired             Kind = "expired"
	KindAudienceMismatch    Kind = "audience_mismatch"
	KindNonceMismatch       Kind = "nonce_mismatch"
	KindMissingSubject      Kind = "missing_subject"
)

// Error is a terminal launch failure carrying its Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lti: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("lti: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func errKind(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapKind(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error, or "" for non-launch errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// HTTPStatus maps a failure kind to a response status. Everything the caller
// caused is a 400; an unreachable platform key endpoint is the one
// infrastructure fault and maps to 502.
func HTTPStatus(kind Kind) int {
	if kind == KindKeyFetchError {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
