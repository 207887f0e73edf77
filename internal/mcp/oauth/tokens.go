package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/storage"
)

// TokenRecord is the persisted mapping from a locally issued bearer token to
// the identity provider's tokens. Upstream tokens are held only as codec
// envelopes; the bearer token itself is never stored, only its hash.
type TokenRecord struct {
	AccessToken  codec.Envelope `json:"access_token"`
	RefreshToken codec.Envelope `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type"`
	Scopes       []string       `json:"scopes,omitempty"`
	IssuedAt     time.Time      `json:"issued_at"`
	Expiry       time.Time      `json:"expiry,omitzero"`
	Subject      string         `json:"subject,omitempty"`
	Email        string         `json:"email,omitempty"`
}

// HasRefreshToken reports whether the record can be refreshed upstream.
func (r *TokenRecord) HasRefreshToken() bool {
	return r.RefreshToken != ""
}

// Identity returns the provider identity bound to the record.
func (r *TokenRecord) Identity() Identity {
	return Identity{Subject: r.Subject, Email: r.Email}
}

// needsRefresh reports whether the upstream access token is expired or
// within ClockSkewGrace of expiring.
func (r *TokenRecord) needsRefresh(now time.Time) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return !now.Add(ClockSkewGrace).Before(r.Expiry)
}

// StoredToken is a token record as listed by the admin commands.
type StoredToken struct {
	Hash   string
	Record *TokenRecord
}

// HashToken returns the hex SHA-256 of a bearer token, the record key suffix.
func HashToken(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:])
}

func tokenKey(bearer string) string {
	return tokenKeyPrefix + HashToken(bearer)
}

// TokenStore persists token records through the codec.
type TokenStore struct {
	backend storage.Backend
	codec   *codec.Codec
	ttl     time.Duration
}

// NewTokenStore creates a store. A zero ttl uses DefaultTokenRecordTTL.
func NewTokenStore(backend storage.Backend, c *codec.Codec, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenRecordTTL
	}
	return &TokenStore{backend: backend, codec: c, ttl: ttl}
}

// NewRecord seals an upstream token into a record.
func (s *TokenStore) NewRecord(tok *oauth2.Token, id Identity, scopes []string, issuedAt time.Time) (*TokenRecord, error) {
	access, err := s.codec.SealString(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}

	rec := &TokenRecord{
		AccessToken: access,
		TokenType:   tok.Type(),
		Scopes:      scopes,
		IssuedAt:    issuedAt,
		Expiry:      tok.Expiry,
		Subject:     id.Subject,
		Email:       id.Email,
	}
	if tok.RefreshToken != "" {
		refresh, err := s.codec.SealString(tok.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("sealing refresh token: %w", err)
		}
		rec.RefreshToken = refresh
	}
	return rec, nil
}

// Save writes the whole record under the bearer token's hash.
func (s *TokenStore) Save(ctx context.Context, bearer string, rec *TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}
	if err := s.backend.Set(ctx, tokenKey(bearer), data, s.ttl); err != nil {
		return fmt.Errorf("persisting token record: %w", err)
	}
	return nil
}

// Update overwrites an existing record. It fails with ErrNotFound when the
// record is gone, so that a write racing a revocation cannot bring the
// bearer token back.
func (s *TokenStore) Update(ctx context.Context, bearer string, rec *TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}
	ok, err := s.backend.Replace(ctx, tokenKey(bearer), data, s.ttl)
	if err != nil {
		return fmt.Errorf("persisting token record: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Load returns the record for a bearer token or ErrNotFound.
func (s *TokenStore) Load(ctx context.Context, bearer string) (*TokenRecord, error) {
	if bearer == "" {
		return nil, ErrNotFound
	}
	return s.loadKey(ctx, tokenKey(bearer))
}

func (s *TokenStore) loadKey(ctx context.Context, key string) (*TokenRecord, error) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading token record: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed token record", codec.ErrIntegrity)
	}
	return &rec, nil
}

// Delete removes the record for a bearer token. Idempotent.
func (s *TokenStore) Delete(ctx context.Context, bearer string) error {
	if err := s.backend.Delete(ctx, tokenKey(bearer)); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}

// Upstream opens the record's envelopes into an oauth2 token.
// A record sealed under another key fails with codec.ErrIntegrity.
func (s *TokenStore) Upstream(rec *TokenRecord) (*oauth2.Token, error) {
	access, err := s.codec.OpenString(rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("opening access token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   rec.TokenType,
		Expiry:      rec.Expiry,
	}
	if rec.HasRefreshToken() {
		refresh, err := s.codec.OpenString(rec.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("opening refresh token: %w", err)
		}
		tok.RefreshToken = refresh
	}
	return tok, nil
}

// List returns every stored record keyed by hash. Unreadable records are
// returned with a nil Record so that they can still be purged.
func (s *TokenStore) List(ctx context.Context) ([]StoredToken, error) {
	keys, err := s.backend.List(ctx, tokenKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing token records: %w", err)
	}

	out := make([]StoredToken, 0, len(keys))
	for _, key := range keys {
		rec, err := s.loadKey(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case errors.Is(err, codec.ErrIntegrity):
			rec = nil
		case err != nil:
			return nil, err
		}
		out = append(out, StoredToken{Hash: strings.TrimPrefix(key, tokenKeyPrefix), Record: rec})
	}
	return out, nil
}

// DeleteHash removes a record by its hash, as printed by List.
func (s *TokenStore) DeleteHash(ctx context.Context, hash string) error {
	if err := s.backend.Delete(ctx, tokenKeyPrefix+hash); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}
