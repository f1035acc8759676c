package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/pkg/api"
)

// storedSession формат записи auth_session в хранилище
type storedSession struct {
	SavedAt     time.Time `json:"saved_at"`
	AccessToken string    `json:"access_token"`
}

// TokenProvider keeps a JWT access token in the store and derives the
// session from its claims. The signature is not verified: the client never
// holds the server secret, the remote store verifies every request.
type TokenProvider struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
	parser *jwt.Parser
}

var _ Provider = (*TokenProvider)(nil)

// NewTokenProvider creates a provider backed by store.
func NewTokenProvider(store storage.Store, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{
		store:  store,
		logger: logger,
		now:    time.Now,
		// срок действия проверяем сами, чтобы отличать истёкший токен от битого
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

// Login validates token and saves it as the current session.
func (p *TokenProvider) Login(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), api.BearerPrefix))

	session, err := p.parse(token)
	if err != nil {
		return Session{}, err
	}

	data, err := json.Marshal(storedSession{AccessToken: token, SavedAt: p.now().UTC()})
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := p.store.Set(ctx, storage.KeySession, data); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}

	p.logger.Info("Logged in", "tenant_id", session.TenantID, "user_id", session.ActorID)
	return session, nil
}

// Logout removes the saved session.
func (p *TokenProvider) Logout(ctx context.Context) error {
	if err := p.store.Delete(ctx, storage.KeySession); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	p.logger.Info("Logged out")
	return nil
}

// Session returns the session of the saved token.
func (p *TokenProvider) Session(ctx context.Context) (Session, error) {
	token, err := p.load(ctx)
	if err != nil {
		return Session{}, err
	}
	return p.parse(token)
}

// Token returns the saved access token if it is still valid.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	token, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if _, err := p.parse(token); err != nil {
		return "", err
	}
	return token, nil
}

func (p *TokenProvider) load(ctx context.Context) (string, error) {
	data, err := p.store.Get(ctx, storage.KeySession)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("failed to read session: %w", err)
	}

	var saved storedSession
	if err := json.Unmarshal(data, &saved); err != nil || saved.AccessToken == "" {
		p.logger.Warn("Saved session is corrupted, treating as logged out", "error", err)
		return "", ErrNotAuthenticated
	}
	return saved.AccessToken, nil
}

func (p *TokenProvider) parse(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}

	claims := &api.Claims{}
	if _, _, err := p.parser.ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TenantID == "" || claims.UserID == "" {
		return Session{}, fmt.Errorf("%w: tenant_id and user_id claims are required", ErrInvalidToken)
	}

	session := Session{TenantID: claims.TenantID, ActorID: claims.UserID}
	if claims.ExpiresAt != nil {
		expiresAt := claims.ExpiresAt.Time
		if !p.now().Before(expiresAt) {
			return Session{}, ErrTokenExpired
		}
		session.ExpiresAt = &expiresAt
	}

	return session, nil
}
