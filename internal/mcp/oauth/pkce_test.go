package oauth

import (
	"encoding/base64"
	"testing"
)

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("GenerateCodeVerifier() error = %v", err)
	}

	// 32 bytes base64url encoded = 43 characters
	if len(verifier) != 43 {
		t.Errorf("GenerateCodeVerifier() length = %d, want 43", len(verifier))
	}
	if _, err := base64.RawURLEncoding.DecodeString(verifier); err != nil {
		t.Errorf("GenerateCodeVerifier() not valid base64url: %v", err)
	}

	seen := make(map[string]bool)
	for i := range 100 {
		v, err := GenerateCodeVerifier()
		if err != nil {
			t.Fatalf("GenerateCodeVerifier() iteration %d error = %v", i, err)
		}
		if seen[v] {
			t.Errorf("GenerateCodeVerifier() generated duplicate: %s", v)
		}
		seen[v] = true
	}
}

func TestGenerateCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := GenerateCodeChallenge(verifier); got != want {
		t.Errorf("GenerateCodeChallenge() = %s, want %s", got, want)
	}
}

func TestValidateCodeChallenge(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
		want      bool
	}{
		{name: "valid S256", verifier: verifier, challenge: challenge, method: "S256", want: true},
		{name: "wrong verifier", verifier: "wrong-verifier", challenge: challenge, method: "S256"},
		{name: "plain rejected", verifier: verifier, challenge: verifier, method: "plain"},
		{name: "unknown method", verifier: verifier, challenge: challenge, method: "S512"},
		{name: "empty verifier", verifier: "", challenge: challenge, method: "S256"},
		{name: "empty challenge", verifier: verifier, challenge: "", method: "S256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateCodeChallenge(tt.verifier, tt.challenge, tt.method); got != tt.want {
				t.Errorf("ValidateCodeChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}
