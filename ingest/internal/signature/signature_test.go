package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

func sha1Sign(body, secret []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened","number":1}`)
	secret := []byte("It's a Secret to Everybody")
	valid := Sign(body, secret)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret []byte
		want   bool
	}{
		{"valid sha256", body, valid, secret, true},
		{"valid sha1", body, sha1Sign(body, secret), secret, true},
		{"wrong secret", body, valid, []byte("other"), false},
		{"tampered body", []byte(`{"action":"closed","number":1}`), valid, secret, false},
		{"missing header", body, "", secret, false},
		{"empty secret", body, valid, nil, false},
		{"empty body", nil, Sign(nil, secret), secret, false},
		{"unknown scheme", body, "md5=abcdef", secret, false},
		{"no scheme", body, valid[len("sha256="):], secret, false},
		{"bad hex", body, "sha256=zzzz", secret, false},
		{"truncated digest", body, valid[:len(valid)-2], secret, false},
		{"sha1 length under sha256 scheme", body, "sha256=" + sha1Sign(body, secret)[len("sha1="):], secret, false},
		{"uppercase scheme", body, "SHA256=" + valid[len("sha256="):], secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.body, tt.header, tt.secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Known vector from GitHub's webhook documentation.
func TestVerifySignature_GitHubVector(t *testing.T) {
	header := "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
	if !VerifySignature([]byte("Hello, World!"), header, []byte("It's a Secret to Everybody")) {
		t.Error("documented signature should verify")
	}
}

func TestVerifySignature_RoundTripProperty(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 200; i++ {
		secret := []byte(faker.Password(true, true, true, true, false, faker.IntRange(1, 64)))
		body := []byte(faker.Sentence(faker.IntRange(1, 50)))

		header := Sign(body, secret)
		if !VerifySignature(body, header, secret) {
			t.Fatalf("round trip failed for secret %q body %q", secret, body)
		}

		// Flip a single bit of the body.
		bit := faker.IntRange(0, len(body)*8-1)
		mutated := append([]byte(nil), body...)
		mutated[bit/8] ^= 1 << (bit % 8)
		if VerifySignature(mutated, header, secret) {
			t.Fatalf("body bit %d flip still verified", bit)
		}

		// Flip a single bit of the secret.
		bit = faker.IntRange(0, len(secret)*8-1)
		wrongSecret := append([]byte(nil), secret...)
		wrongSecret[bit/8] ^= 1 << (bit % 8)
		if VerifySignature(body, header, wrongSecret) {
			t.Fatalf("secret bit %d flip still verified", bit)
		}
	}
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"zen":"Keep it logically awesome."}`)
	secret := "webhook-secret"

	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"sha256 only", map[string]string{HeaderSHA256: Sign(body, []byte(secret))}, true},
		{"sha1 fallback", map[string]string{HeaderSHA1: sha1Sign(body, []byte(secret))}, true},
		{
			"both valid",
			map[string]string{HeaderSHA256: Sign(body, []byte(secret)), HeaderSHA1: sha1Sign(body, []byte(secret))},
			true,
		},
		{
			"invalid sha256 is not rescued by valid sha1",
			map[string]string{HeaderSHA256: Sign(body, []byte("wrong")), HeaderSHA1: sha1Sign(body, []byte(secret))},
			false,
		},
		{"sha1 value in sha256 header", map[string]string{HeaderSHA256: sha1Sign(body, []byte(secret))}, false},
		{"sha256 value in sha1 header", map[string]string{HeaderSHA1: Sign(body, []byte(secret))}, false},
		{"no headers", map[string]string{}, false},
	}

	v := NewVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, val := range tt.headers {
				h.Set(k, val)
			}
			if got := v.Verify(body, h); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifier_SetSecret(t *testing.T) {
	body := []byte(`{}`)
	h := http.Header{}
	h.Set(HeaderSHA256, Sign(body, []byte("new")))

	v := NewVerifier("old")
	if v.Verify(body, h) {
		t.Fatal("signature under the new secret should not verify before rotation")
	}

	v.SetSecret("new")
	if !v.Verify(body, h) {
		t.Error("signature should verify after rotation")
	}
}

func TestVerifier_EmptySecretFailsClosed(t *testing.T) {
	body := []byte(`{}`)
	h := http.Header{}
	h.Set(HeaderSHA256, Sign(body, nil))

	if NewVerifier("").Verify(body, h) {
		t.Error("empty secret must never verify")
	}
}
