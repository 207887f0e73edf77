package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teemow/calendar-mcp/internal/storage"
)

// TransactionRequest carries what the agent client sent to /authorize.
type TransactionRequest struct {
	RedirectURI               string
	Scopes                    []string
	ClientState               string
	ClientID                  string
	ClientCodeChallenge       string
	ClientCodeChallengeMethod string
}

// Transaction is the state of one in-flight authorization. It survives the
// browser round-trip to the identity provider and is consumed exactly once.
type Transaction struct {
	ID            string   `json:"id"`
	CodeVerifier  string   `json:"code_verifier"`
	CodeChallenge string   `json:"code_challenge"`
	Scopes        []string `json:"scopes"`
	RedirectURI   string   `json:"redirect_uri"`

	ClientState               string `json:"client_state,omitempty"`
	ClientID                  string `json:"client_id,omitempty"`
	ClientCodeChallenge       string `json:"client_code_challenge,omitempty"`
	ClientCodeChallengeMethod string `json:"client_code_challenge_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TransactionStore persists transactions in a storage backend under
// "txn:<id>".
type TransactionStore struct {
	backend storage.Backend
	ttl     time.Duration
	now     func() time.Time
}

// NewTransactionStore creates a store. A zero ttl uses DefaultTransactionTTL
// and a nil clock uses time.Now.
func NewTransactionStore(backend storage.Backend, ttl time.Duration, clock func() time.Time) *TransactionStore {
	if ttl <= 0 {
		ttl = DefaultTransactionTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &TransactionStore{backend: backend, ttl: ttl, now: clock}
}

// TTL returns the configured transaction lifetime.
func (s *TransactionStore) TTL() time.Duration {
	return s.ttl
}

// Begin creates a transaction with a fresh id and PKCE pair and persists it.
func (s *TransactionStore) Begin(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	id, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating transaction id: %w", err)
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}

	now := s.now()
	txn := &Transaction{
		ID:                        id,
		CodeVerifier:              verifier,
		CodeChallenge:             GenerateCodeChallenge(verifier),
		Scopes:                    req.Scopes,
		RedirectURI:               req.RedirectURI,
		ClientState:               req.ClientState,
		ClientID:                  req.ClientID,
		ClientCodeChallenge:       req.ClientCodeChallenge,
		ClientCodeChallengeMethod: req.ClientCodeChallengeMethod,
		CreatedAt:                 now,
		ExpiresAt:                 now.Add(s.ttl),
	}

	data, err := json.Marshal(txn)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	if err := s.backend.Set(ctx, transactionKeyPrefix+id, data, s.ttl); err != nil {
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}
	return txn, nil
}

// Redeem consumes the transaction. A second redeem of the same id, an
// expired transaction and an unreadable one all fail with
// ErrUnknownTransaction.
func (s *TransactionStore) Redeem(ctx context.Context, id string) (*Transaction, error) {
	if id == "" {
		return nil, ErrUnknownTransaction
	}

	data, ok, err := s.backend.Take(ctx, transactionKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("redeeming transaction: %w", err)
	}
	if !ok {
		return nil, ErrUnknownTransaction
	}

	var txn Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("%w: malformed record", ErrUnknownTransaction)
	}
	if !s.now().Before(txn.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired", ErrUnknownTransaction)
	}
	return &txn, nil
}
