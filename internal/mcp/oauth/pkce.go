package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateCodeVerifier generates a random code verifier for PKCE
// 32 random bytes encode to 43 base64url characters, the RFC 7636 minimum.
func GenerateCodeVerifier() (string, error) {
	return randomToken()
}

// GenerateCodeChallenge generates the code challenge from a code verifier using S256 method
// S256: code_challenge = BASE64URL(SHA256(ASCII(code_verifier)))
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateCodeChallenge reports whether verifier matches challenge. Only
// S256 is accepted; "plain" and unknown methods always fail.
func ValidateCodeChallenge(verifier, challenge, method string) bool {
	if method != "S256" || verifier == "" || challenge == "" {
		return false
	}
	computed := GenerateCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// randomToken returns 256 bits of crypto/rand entropy, base64url encoded.
// Used for transaction ids, bearer tokens and grant codes.
func randomToken() (string, error) {
	b := make([]byte, randomTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
