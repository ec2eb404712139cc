package core

import (
	"errors"
	"net/http"
)

// ErrorKind classifies why a request was rejected.
type ErrorKind int

const (
	KindMissingHeader ErrorKind = iota + 1
	KindMalformedHeader
	KindKeySetUnavailable
	KindMalformedToken
	KindKeyNotFound
	KindTokenUnparseable
	KindExpiredToken
	KindClaimMismatch
	KindNoPermissionsClaim
	KindPermissionDenied
)

var kindCodes = map[ErrorKind]string{
	KindMissingHeader:      "missing_header",
	KindMalformedHeader:    "malformed_header",
	KindKeySetUnavailable:  "key_set_unavailable",
	KindMalformedToken:     "malformed_token",
	KindKeyNotFound:        "key_not_found",
	KindTokenUnparseable:   "token_unparseable",
	KindExpiredToken:       "expired_token",
	KindClaimMismatch:      "claim_mismatch",
	KindNoPermissionsClaim: "no_permissions_claim",
	KindPermissionDenied:   "permission_denied",
}

var kindMessages = map[ErrorKind]string{
	KindMissingHeader:      "Authorization header is expected",
	KindMalformedHeader:    "Authorization header must be a bearer token",
	KindKeySetUnavailable:  "Unable to fetch signing keys",
	KindMalformedToken:     "Authorization header is malformed",
	KindKeyNotFound:        "Unable to find the appropriate key",
	KindTokenUnparseable:   "Unable to parse the authentication token",
	KindExpiredToken:       "Token expired",
	KindClaimMismatch:      "Incorrect claims, please check the audience and issuer",
	KindNoPermissionsClaim: "Permissions not included in token",
	KindPermissionDenied:   "Permission not found",
}

// String returns the machine-readable code, e.g. "expired_token".
func (k ErrorKind) String() string {
	if s, ok := kindCodes[k]; ok {
		return s
	}
	return "unknown"
}

// Status maps the kind onto an HTTP status code.
func (k ErrorKind) Status() int {
	switch k {
	case KindMissingHeader, KindMalformedHeader, KindMalformedToken,
		KindExpiredToken, KindClaimMismatch, KindPermissionDenied:
		return http.StatusUnauthorized
	case KindKeyNotFound, KindTokenUnparseable, KindNoPermissionsClaim:
		return http.StatusBadRequest
	case KindKeySetUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (k ErrorKind) Retryable() bool { return k == KindKeySetUnavailable }

// AuthError is the only error type produced on a rejection path.
// Err keeps the underlying cause for logs; it is never rendered to clients.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds an AuthError with the kind's default message.
func NewError(kind ErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: kindMessages[kind], Err: cause}
}

func (e *AuthError) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any *AuthError of the same kind, so the sentinels below work with errors.Is.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Status returns the HTTP status for this error.
func (e *AuthError) Status() int { return e.Kind.Status() }

// ErrorResponse is the JSON body adapters send for a rejected request.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	ErrorCode  int    `json:"error_code"`
	HTTPStatus int    `json:"http_status"`
}

// Response renders the client-facing body. Every field is always populated.
func (e *AuthError) Response() ErrorResponse {
	msg := e.Message
	if msg == "" {
		msg = kindMessages[e.Kind]
	}
	status := e.Status()
	return ErrorResponse{
		Success:    false,
		Code:       e.Kind.String(),
		Message:    msg,
		ErrorCode:  status,
		HTTPStatus: status,
	}
}

// AsAuthError extracts an *AuthError from err's chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind of err, or 0 if err is not an AuthError.
func KindOf(err error) ErrorKind {
	if ae, ok := AsAuthError(err); ok {
		return ae.Kind
	}
	return 0
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingHeader      = &AuthError{Kind: KindMissingHeader}
	ErrMalformedHeader    = &AuthError{Kind: KindMalformedHeader}
	ErrKeySetUnavailable  = &AuthError{Kind: KindKeySetUnavailable}
	ErrMalformedToken     = &AuthError{Kind: KindMalformedToken}
	ErrKeyNotFound        = &AuthError{Kind: KindKeyNotFound}
	ErrTokenUnparseable   = &AuthError{Kind: KindTokenUnparseable}
	ErrExpiredToken       = &AuthError{Kind: KindExpiredToken}
	ErrClaimMismatch      = &AuthError{Kind: KindClaimMismatch}
	ErrNoPermissionsClaim = &AuthError{Kind: KindNoPermissionsClaim}
	ErrPermissionDenied   = &AuthError{Kind: KindPermissionDenied}
)

// Challenge returns the WWW-Authenticate value for a 401, or "" for other statuses.
func (e *AuthError) Challenge() string {
	switch e.Kind {
	case KindMissingHeader:
		return "Bearer"
	case KindPermissionDenied:
		return `Bearer error="insufficient_scope"`
	}
	if e.Status() == http.StatusUnauthorized {
		return `Bearer error="invalid_token"`
	}
	return ""
}
