package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

const renewalRetryDelay = 500 * time.Millisecond

type authenticator interface {
	Auth(ctx context.Context, secret string) (string, error)
	TokenDetails(ctx context.Context, token string) ([]string, error)
}

type renewer interface {
	StreamTokenRenewal(ctx context.Context, secret string, fn func(token string)) error
}

// TokenProvider obtains the access token once on first use and keeps it
// fresh from the renewal stream. It implements Authorizer.
type TokenProvider struct {
	auth   authenticator
	renew  renewer
	secret string
	logger *slog.Logger

	token atomic.Pointer[string]
	mu    sync.Mutex // serializes the first Auth call
}

// NewTokenProvider creates a TokenProvider for secret.
func NewTokenProvider(auth authenticator, renew renewer, secret string, logger *slog.Logger) *TokenProvider {
	return &TokenProvider{
		auth:   auth,
		renew:  renew,
		secret: secret,
		logger: logger.With(slog.String("component", "token_provider")),
	}
}

func (p *TokenProvider) current() string {
	if t := p.token.Load(); t != nil {
		return *t
	}
	return ""
}

func (p *TokenProvider) set(token string) { p.token.Store(&token) }

// Token returns the current token, authenticating on first call. Concurrent
// first callers share a single Auth request.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if t := p.current(); t != "" {
		return t, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.current(); t != "" {
		return t, nil
	}
	t, err := p.auth.Auth(ctx, p.secret)
	if err != nil {
		return "", fmt.Errorf("broker: ensure token: %w", err)
	}
	p.set(t)
	return t, nil
}

// AccountID returns the first account id granted to the token.
func (p *TokenProvider) AccountID(ctx context.Context) (string, error) {
	t, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	ids, err := p.auth.TokenDetails(ctx, t)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("broker: account id: %w", domain.ErrNotFound)
	}
	return ids[0], nil
}

// RunRenewal keeps the renewal stream open until ctx is cancelled, swapping
// in every pushed token. Stream failures are retried after a fixed delay.
func (p *TokenProvider) RunRenewal(ctx context.Context) error {
	if _, err := p.Token(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("initial auth failed", slog.String("error", err.Error()))
	}
	for {
		err := p.renew.StreamTokenRenewal(ctx, p.secret, func(token string) {
			p.set(token)
			p.logger.Debug("token renewed", slog.Int("len", len(token)))
		})
		if ctx.Err() != nil {
			return nil
		}
		attrs := []any{slog.String("op", "token_renewal")}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		p.logger.Warn("renewal stream disconnected, reconnecting", attrs...)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(renewalRetryDelay):
		}
	}
}

var _ Authorizer = (*TokenProvider)(nil)
