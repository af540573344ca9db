// Package auth issues the anonymous identity a device replicates under.
// The identity is a signed token kept in local storage, so the same device
// keeps the same uid across restarts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrSignInFailed = errors.New("authentication failed")
	errEmptySecret  = errors.New("session secret is empty")
	errMissingStore = errors.New("token store is required")
)

const (
	defaultTTL       = 365 * 24 * time.Hour
	defaultIssuer    = "invoicedesk"
	defaultTokenColl = "resources"
	defaultTokenKey  = "auth_session"
)

// Identity is the signed-in anonymous user.
type Identity struct {
	UID       string    `json:"uid"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider signs a device in.
type Provider interface {
	SignIn(ctx context.Context) (Identity, error)
}

// TokenStore persists the session token between runs.
type TokenStore interface {
	Get(ctx context.Context, collection, key string, dest any) bool
	Set(ctx context.Context, collection, key string, value any) error
}

// Options configures an AnonymousProvider.
type Options struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	Store      TokenStore
	Collection string
	Key        string
	Now        func() time.Time
}

// AnonymousProvider mints HS256 tokens whose subject is a random uid.
type AnonymousProvider struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	store      TokenStore
	collection string
	key        string
	now        func() time.Time
}

func NewAnonymousProvider(opts Options) (*AnonymousProvider, error) {
	if opts.Secret == "" {
		return nil, errEmptySecret
	}
	if opts.Store == nil {
		return nil, errMissingStore
	}
	p := &AnonymousProvider{
		secret:     []byte(opts.Secret),
		issuer:     opts.Issuer,
		ttl:        opts.TTL,
		store:      opts.Store,
		collection: opts.Collection,
		key:        opts.Key,
		now:        opts.Now,
	}
	if p.issuer == "" {
		p.issuer = defaultIssuer
	}
	if p.ttl <= 0 {
		p.ttl = defaultTTL
	}
	if p.collection == "" {
		p.collection = defaultTokenColl
	}
	if p.key == "" {
		p.key = defaultTokenKey
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

type storedSession struct {
	Token string `json:"token"`
}

// SignIn reuses the stored token while it is valid, otherwise it mints a new
// identity and stores its token.
func (p *AnonymousProvider) SignIn(ctx context.Context) (Identity, error) {
	var stored storedSession
	if p.store.Get(ctx, p.collection, p.key, &stored) && stored.Token != "" {
		if id, err := p.Verify(stored.Token); err == nil {
			return id, nil
		}
	}

	id, err := p.Mint(uuid.New())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	if err := p.store.Set(ctx, p.collection, p.key, storedSession{Token: id.Token}); err != nil {
		return Identity{}, fmt.Errorf("%w: persist session: %v", ErrSignInFailed, err)
	}
	return id, nil
}

// Mint signs a token for uid.
func (p *AnonymousProvider) Mint(uid uuid.UUID) (Identity, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   uid.String(),
		Issuer:    p.issuer,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return Identity{UID: uid.String(), Token: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Verify parses a token minted by this provider.
func (p *AnonymousProvider) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return Identity{UID: uid.String(), Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

type ctxKey string

const identityCtxKey = ctxKey("identity")

// WithIdentity stores the identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext extracts the identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}
