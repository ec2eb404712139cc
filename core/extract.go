package core

import (
	"net/http"
	"strings"
)

// AuthorizationHeader is the only request header the gate reads.
const AuthorizationHeader = "Authorization"

// ExtractBearerToken pulls the raw bearer token out of r's Authorization header.
// The token content is not inspected.
func ExtractBearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", NewError(KindMissingHeader, nil)
	}
	values, ok := r.Header[http.CanonicalHeaderKey(AuthorizationHeader)]
	if !ok || len(values) == 0 {
		return "", NewError(KindMissingHeader, nil)
	}
	return ParseAuthorizationHeader(values[0])
}

// ParseAuthorizationHeader splits a header value of the form "Bearer <token>".
// The scheme is matched case-insensitively; anything other than exactly two
// whitespace-separated parts is malformed.
func ParseAuthorizationHeader(value string) (string, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", NewError(KindMalformedHeader, nil)
	}
	return parts[1], nil
}
