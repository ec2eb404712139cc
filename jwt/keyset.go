package jwtkit

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySet is an ordered set of provider signing keys.
// Key IDs are expected to be unique but duplicates are tolerated: lookups
// return the first match.
type KeySet struct {
	set jwk.Set
}

// ParseKeySet parses a JWKS document of the form {"keys":[...]}.
func ParseKeySet(doc []byte) (*KeySet, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	return &KeySet{set: set}, nil
}

// Len returns the number of keys.
func (ks *KeySet) Len() int {
	if ks == nil || ks.set == nil {
		return 0
	}
	return ks.set.Len()
}

// LookupKeyID returns the first key whose kid equals kid exactly.
func (ks *KeySet) LookupKeyID(kid string) (jwk.Key, bool) {
	if kid == "" {
		return nil, false
	}
	for i := 0; i < ks.Len(); i++ {
		k, ok := ks.set.Key(i)
		if ok && k.KeyID() == kid {
			return k, true
		}
	}
	return nil, false
}

// KeyIDs lists key identifiers in document order.
func (ks *KeySet) KeyIDs() []string {
	out := make([]string, 0, ks.Len())
	for i := 0; i < ks.Len(); i++ {
		if k, ok := ks.set.Key(i); ok {
			out = append(out, k.KeyID())
		}
	}
	return out
}
