package guard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
)

// Cache namespaces for issued tokens.
const (
	nsAccess  = "access"
	nsRefresh = "refresh"
)

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID        string `json:"id"`
	CurrentTeamID string `json:"currentTeamId,omitempty"`
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenOptions configures a TokenService.
type TokenOptions struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService issues and verifies HS256 tokens, and tracks the single
// active token per user and device in the cache.
//
// Issuance deletes the previous cache entry before writing the new one, so
// a token is live only while it is both unexpired and the cached value for
// its (user, device) pair. Deleting the entry revokes the token without
// touching the token itself.
type TokenService struct {
	cache         cache.Store
	keys          cache.Keyer
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService creates a token service over the given cache.
func NewTokenService(store cache.Store, keys cache.Keyer, opts TokenOptions) *TokenService {
	return &TokenService{
		cache:         store,
		keys:          keys,
		accessSecret:  []byte(opts.AccessSecret),
		refreshSecret: []byte(opts.RefreshSecret),
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
	}
}

// IssuePair signs and activates an access and refresh token for the user on
// the given device.
func (s *TokenService) IssuePair(ctx context.Context, userID, teamID, deviceID string) (*TokenPair, error) {
	access, err := s.issue(ctx, nsAccess, s.accessSecret, s.accessTTL, userID, teamID, deviceID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issue(ctx, nsRefresh, s.refreshSecret, s.refreshTTL, userID, teamID, deviceID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// issue signs a token and replaces the cached active token for the pair.
func (s *TokenService) issue(ctx context.Context, ns string, secret []byte, ttl time.Duration, userID, teamID, deviceID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:        userID,
		CurrentTeamID: teamID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", ns, err)
	}

	key := s.keys.Key(ns, userID, deviceID)
	if err := s.cache.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("clearing stale %s token: %w", ns, err)
	}
	if err := s.cache.Set(ctx, key, signed, ttl); err != nil {
		return "", fmt.Errorf("activating %s token: %w", ns, err)
	}

	return signed, nil
}

// VerifyAccess checks an access token's signature and expiry. It never
// returns an error: any defect yields (nil, false).
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, bool) {
	return verify(tokenString, s.accessSecret)
}

// VerifyRefresh checks a refresh token's signature and expiry. It never
// returns an error: any defect yields (nil, false).
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, bool) {
	return verify(tokenString, s.refreshSecret)
}

func verify(tokenString string, secret []byte) (*Claims, bool) {
	if tokenString == "" {
		return nil, false
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, false
	}

	return claims, true
}

// AccessActive reports whether the presented access token is the cached
// active token for the (user, device) pair.
func (s *TokenService) AccessActive(ctx context.Context, userID, deviceID, presented string) (bool, error) {
	return s.active(ctx, nsAccess, userID, deviceID, presented)
}

// RefreshActive reports whether the presented refresh token is the cached
// active token for the (user, device) pair.
func (s *TokenService) RefreshActive(ctx context.Context, userID, deviceID, presented string) (bool, error) {
	return s.active(ctx, nsRefresh, userID, deviceID, presented)
}

func (s *TokenService) active(ctx context.Context, ns, userID, deviceID, presented string) (bool, error) {
	cached, ok, err := s.cache.Get(ctx, s.keys.Key(ns, userID, deviceID))
	if err != nil {
		return false, fmt.Errorf("reading active %s token: %w", ns, err)
	}
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(cached), []byte(presented)) == 1, nil
}

// Revoke drops the active tokens for a (user, device) pair. Missing entries
// are not an error.
func (s *TokenService) Revoke(ctx context.Context, userID, deviceID string) error {
	for _, ns := range []string{nsAccess, nsRefresh} {
		if err := s.cache.Delete(ctx, s.keys.Key(ns, userID, deviceID)); err != nil {
			return fmt.Errorf("revoking %s token: %w", ns, err)
		}
	}
	return nil
}

// RevokeDevices drops active tokens for every listed device. Used after a
// password reset to force re-login everywhere else.
func (s *TokenService) RevokeDevices(ctx context.Context, userID string, deviceIDs []string) error {
	for _, id := range deviceIDs {
		if err := s.Revoke(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}
