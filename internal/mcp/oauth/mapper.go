package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/codec"
)

// Mapper resolves locally issued bearer tokens to upstream tokens for the
// resource server. It never touches authorization transactions.
type Mapper struct {
	controller *Controller
	tokens     *TokenStore
	now        func() time.Time
	audit      *AuditLogger
}

// NewMapper creates a mapper backed by the controller's token store.
func NewMapper(c *Controller) *Mapper {
	return &Mapper{
		controller: c,
		tokens:     c.tokens,
		now:        c.now,
		audit:      c.audit,
	}
}

// Resolve returns a usable upstream token for bearer. An expired upstream
// token is refreshed once. Unknown, unreadable and unrefreshable bearer
// tokens fail with ErrUnauthenticated.
func (m *Mapper) Resolve(ctx context.Context, bearer string) (*oauth2.Token, error) {
	tok, _, err := m.resolve(ctx, bearer)
	return tok, err
}

func (m *Mapper) resolve(ctx context.Context, bearer string) (*oauth2.Token, *TokenRecord, error) {
	rec, err := m.tokens.Load(ctx, bearer)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, codec.ErrIntegrity) {
			m.audit.LogInvalidToken(bearer, clientIPFromContext(ctx), err.Error())
			return nil, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return nil, nil, err
	}

	if rec.needsRefresh(m.now()) {
		rec, err = m.controller.Refresh(ctx, bearer)
		if err != nil {
			m.audit.LogInvalidToken(bearer, clientIPFromContext(ctx), err.Error())
			return nil, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
	}

	tok, err := m.tokens.Upstream(rec)
	if err != nil {
		m.audit.LogInvalidToken(bearer, clientIPFromContext(ctx), err.Error())
		return nil, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return tok, rec, nil
}
