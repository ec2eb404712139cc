package jwtkit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
)

// JWK is the published form of a signing key: {kty, kid, use, alg} plus
// n/e for RSA or crv/x/y for EC.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"` // base64url
	E   string `json:"e,omitempty"` // base64url
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Marshal encodes the document; the result is accepted by ParseKeySet.
func (ks JWKS) Marshal() []byte {
	b, _ := json.Marshal(ks)
	return b
}

// PublicToJWK converts an RSA or ECDSA public key to a JWK.
func PublicToJWK(pub crypto.PublicKey, kid, alg string) (JWK, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA", Use: "sig", Kid: kid, Alg: alg,
			N: b64(trimZeros(k.N.Bytes())),
			E: b64(trimZeros(big.NewInt(int64(k.E)).Bytes())),
		}, nil
	case *ecdsa.PublicKey:
		size := (k.Curve.Params().BitSize + 7) / 8
		return JWK{
			Kty: "EC", Use: "sig", Kid: kid, Alg: alg,
			Crv: k.Curve.Params().Name,
			X:   b64(k.X.FillBytes(make([]byte, size))),
			Y:   b64(k.Y.FillBytes(make([]byte, size))),
		}, nil
	default:
		return JWK{}, fmt.Errorf("jwk: unsupported public key type %T", pub)
	}
}

// ServeJWKS writes the document with an ETag so clients can revalidate cheaply.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks JWKS) {
	b := ks.Marshal()
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// trimZeros gives the canonical big-endian form RSA parameters are published in.
func trimZeros(b []byte) []byte {
	for len(b) > 1 && b[0] == 0x00 {
		b = b[1:]
	}
	return b
}
