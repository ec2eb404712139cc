package core

import (
	"encoding/json"
	"maps"
	"slices"

	jwt "github.com/golang-jwt/jwt/v5"
)

// PermissionsClaim is the payload entry holding the caller's permission strings.
const PermissionsClaim = "permissions"

// Claims is a verified token payload. The registered claims and permissions
// are typed; everything else the provider sent is reachable through Get/Raw.
// Values are only produced by decoding a token inside the verifier.
type Claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions,omitempty"`

	raw            map[string]any
	hasPermissions bool
}

// UnmarshalJSON decodes the typed view and keeps the full payload alongside it.
func (c *Claims) UnmarshalJSON(b []byte) error {
	type plain Claims
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, ok := raw[PermissionsClaim]
	p.raw = raw
	p.hasPermissions = ok && v != nil
	*c = Claims(p)
	return nil
}

// MarshalJSON emits the payload as it was received.
func (c *Claims) MarshalJSON() ([]byte, error) {
	if c.raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.raw)
}

// HasPermissions reports whether the payload carried a permissions entry.
func (c *Claims) HasPermissions() bool { return c != nil && c.hasPermissions }

// HasPermission reports whether p is one of the granted permissions.
func (c *Claims) HasPermission(p string) bool {
	return c != nil && slices.Contains(c.Permissions, p)
}

// Get returns a raw claim by name.
func (c *Claims) Get(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.raw[name]
	return v, ok
}

// Raw returns a copy of the decoded payload.
func (c *Claims) Raw() map[string]any {
	if c == nil {
		return nil
	}
	return maps.Clone(c.raw)
}

// Decode unmarshals the payload into ref, for provider-specific claim structs.
func (c *Claims) Decode(ref any) error {
	b, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
