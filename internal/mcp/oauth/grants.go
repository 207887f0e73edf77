package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/storage"
)

// Grant is a single-use local authorization code handed to the agent client
// after a successful callback. Exchanging it at the token endpoint yields
// the bearer token.
type Grant struct {
	Code                string         `json:"-"`
	BearerToken         codec.Envelope `json:"bearer_token"`
	RedirectURI         string         `json:"redirect_uri"`
	ClientID            string         `json:"client_id,omitempty"`
	CodeChallenge       string         `json:"code_challenge,omitempty"`
	CodeChallengeMethod string         `json:"code_challenge_method,omitempty"`
	Scopes              []string       `json:"scopes,omitempty"`
	ExpiresAt           time.Time      `json:"expires_at"`
}

// GrantStore persists grants under "grant:<code>".
type GrantStore struct {
	backend storage.Backend
	codec   *codec.Codec
	ttl     time.Duration
	now     func() time.Time
}

// NewGrantStore creates a store. A zero ttl uses DefaultGrantTTL.
func NewGrantStore(backend storage.Backend, c *codec.Codec, ttl time.Duration, clock func() time.Time) *GrantStore {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &GrantStore{backend: backend, codec: c, ttl: ttl, now: clock}
}

// Issue stores a grant for bearer, bound to the client's redirect target and
// PKCE challenge, and returns its code.
func (s *GrantStore) Issue(ctx context.Context, bearer string, txn *Transaction) (string, error) {
	code, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generating grant code: %w", err)
	}
	sealed, err := s.codec.SealString(bearer)
	if err != nil {
		return "", fmt.Errorf("sealing bearer token: %w", err)
	}

	g := Grant{
		BearerToken:         sealed,
		RedirectURI:         txn.RedirectURI,
		ClientID:            txn.ClientID,
		CodeChallenge:       txn.ClientCodeChallenge,
		CodeChallengeMethod: txn.ClientCodeChallengeMethod,
		Scopes:              txn.Scopes,
		ExpiresAt:           s.now().Add(s.ttl),
	}
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encoding grant: %w", err)
	}
	if err := s.backend.Set(ctx, grantKeyPrefix+code, data, s.ttl); err != nil {
		return "", fmt.Errorf("persisting grant: %w", err)
	}
	return code, nil
}

// Redeem consumes a grant. Unknown, expired and already used codes fail
// with ErrInvalidGrant.
func (s *GrantStore) Redeem(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, ErrInvalidGrant
	}

	data, ok, err := s.backend.Take(ctx, grantKeyPrefix+code)
	if err != nil {
		return nil, fmt.Errorf("redeeming grant: %w", err)
	}
	if !ok {
		return nil, ErrInvalidGrant
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: malformed record", ErrInvalidGrant)
	}
	if !s.now().Before(g.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidGrant)
	}
	g.Code = code
	return &g, nil
}

// Bearer opens the sealed bearer token carried by the grant.
func (s *GrantStore) Bearer(g *Grant) (string, error) {
	return s.codec.OpenString(g.BearerToken)
}
