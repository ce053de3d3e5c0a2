// Package signature verifies GitHub webhook HMAC signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
	"sync/atomic"
)

const (
	// HeaderSHA256 carries the preferred sha256 signature.
	HeaderSHA256 = "X-Hub-Signature-256"

	// HeaderSHA1 carries the legacy sha1 signature.
	HeaderSHA1 = "X-Hub-Signature"
)

type scheme struct {
	prefix string
	hash   func() hash.Hash
	size   int
}

var schemes = []scheme{
	{prefix: "sha256=", hash: sha256.New, size: sha256.Size},
	{prefix: "sha1=", hash: sha1.New, size: sha1.Size},
}

// VerifySignature reports whether header is a valid signature of body under
// secret. header has the form "sha256=<hex>" or "sha1=<hex>". Any malformed
// input, an empty secret or an empty body yields false.
func VerifySignature(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 || len(body) == 0 || header == "" {
		return false
	}

	for _, s := range schemes {
		encoded, ok := strings.CutPrefix(header, s.prefix)
		if !ok {
			continue
		}
		got, err := hex.DecodeString(encoded)
		if err != nil || len(got) != s.size {
			return false
		}
		mac := hmac.New(s.hash, secret)
		mac.Write(body)
		return hmac.Equal(got, mac.Sum(nil))
	}

	return false
}

// Sign returns the "sha256=<hex>" signature of body, as GitHub sends it.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks request signatures against a secret that can be rotated
// while requests are being served.
type Verifier struct {
	secret atomic.Pointer[[]byte]
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{}
	v.SetSecret(secret)
	return v
}

// SetSecret replaces the secret used for subsequent verifications.
func (v *Verifier) SetSecret(secret string) {
	b := []byte(secret)
	v.secret.Store(&b)
}

// Verify checks body against the signature headers in h. The sha256 header
// wins when present, even if it is invalid; the sha1 header is only used when
// the sha256 header is absent.
func (v *Verifier) Verify(body []byte, h http.Header) bool {
	header := h.Get(HeaderSHA256)
	if header == "" {
		header = h.Get(HeaderSHA1)
		if !strings.HasPrefix(header, "sha1=") {
			return false
		}
	} else if !strings.HasPrefix(header, "sha256=") {
		return false
	}

	secret := v.secret.Load()
	if secret == nil {
		return false
	}
	return VerifySignature(body, header, *secret)
}
