package devbackend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errTokenInvalid = errors.New("token is invalid or expired")

// tokenClaims follows the simplejwt layout plus the fields the portal reads
type tokenClaims struct {
	jwt.RegisteredClaims
	Username   string        `json:"username"`
	Role       entities.Role `json:"role"`
	Type       string        `json:"typ"`
	Generation int           `json:"gen,omitempty"`
}

// tokenIssuer mints and verifies HS256 tokens and keeps the refresh blacklist
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu         sync.Mutex
	blacklist  map[string]time.Time
	generation int
}

func newTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration, now func() time.Time) *tokenIssuer {
	return &tokenIssuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		blacklist:  make(map[string]time.Time),
	}
}

func (ti *tokenIssuer) issue(user entities.User, typ string) (string, *tokenClaims, error) {
	ttl := ti.accessTTL
	if typ == tokenTypeRefresh {
		ttl = ti.refreshTTL
	}

	ti.mu.Lock()
	gen := ti.generation
	ti.mu.Unlock()

	now := ti.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:   user.Username,
		Role:       user.Role,
		Type:       typ,
		Generation: gen,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

func (ti *tokenIssuer) pair(user entities.User) (entities.Credential, error) {
	access, _, err := ti.issue(user, tokenTypeAccess)
	if err != nil {
		return entities.Credential{}, err
	}
	refresh, _, err := ti.issue(user, tokenTypeRefresh)
	if err != nil {
		return entities.Credential{}, err
	}
	return entities.Credential{AccessToken: access, RefreshToken: refresh}, nil
}

// verify parses a token of the wanted type and rejects expired, revoked and
// outdated ones
func (ti *tokenIssuer) verify(raw, typ string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", errTokenInvalid, typ, claims.Type)
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	if _, revoked := ti.blacklist[claims.ID]; revoked {
		return nil, fmt.Errorf("%w: token is blacklisted", errTokenInvalid)
	}
	if typ == tokenTypeAccess && claims.Generation < ti.generation {
		return nil, fmt.Errorf("%w: access token was revoked", errTokenInvalid)
	}
	return claims, nil
}

func (ti *tokenIssuer) revoke(claims *tokenClaims) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.blacklist[claims.ID] = claims.ExpiresAt.Time
	for id, exp := range ti.blacklist {
		if ti.now().After(exp) {
			delete(ti.blacklist, id)
		}
	}
}

// expireAccess invalidates every access token issued so far
func (ti *tokenIssuer) expireAccess() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.generation++
}
