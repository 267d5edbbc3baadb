package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
)

// responseTokenTTL is the lifetime of signed command responses. Responses
// are consumed immediately, so they expire fast.
const responseTokenTTL = time.Minute

// TokenService turns a destination's auth policy into broker credentials
// and signs command responses with the device key pair.
type TokenService struct {
	provider Provider
	cache    *TokenCache

	publicKey     string
	privateKey    string
	clientVersion string
}

// NewTokenService returns a service signing with the given device keys.
// privateKey may be empty when the firmware does not expose it; token
// destinations then fail credential generation and stay in backoff.
func NewTokenService(provider Provider, publicKey, privateKey, clientVersion string) *TokenService {
	return &TokenService{
		provider:      provider,
		cache:         NewTokenCache(0),
		publicKey:     publicKey,
		privateKey:    privateKey,
		clientVersion: clientVersion,
	}
}

// Credentials resolves the username and password for a destination per
// its auth method. Token credentials use a cached token when one is
// fresh enough, identified by the v1_{PUBLIC_KEY} username convention.
func (s *TokenService) Credentials(ctx context.Context, dest config.DestinationConfig) (string, string, error) {
	switch dest.Auth.Method {
	case "password":
		return dest.Auth.Username, dest.Auth.Password, nil
	case "token":
		return s.tokenCredentials(ctx, dest)
	default:
		return "", "", nil
	}
}

// Invalidate discards the cached token for a destination after the
// broker rejects it.
func (s *TokenService) Invalidate(destName string) {
	s.cache.Invalidate(destName)
}

func (s *TokenService) tokenCredentials(ctx context.Context, dest config.DestinationConfig) (string, string, error) {
	if s.privateKey == "" {
		return "", "", fmt.Errorf("%w: device did not expose a private key", ErrKeyUnavailable)
	}

	username := "v1_" + strings.ToUpper(s.publicKey)

	if token, ok := s.cache.Get(dest.Name); ok {
		return username, token, nil
	}

	claims := Claims{"client": s.clientVersion}
	if dest.Auth.Audience != "" {
		claims["aud"] = dest.Auth.Audience
	}

	// Identity claims ride only on connections that are both encrypted
	// and verified, so they cannot leak to a spoofed broker.
	if dest.TLS.Enabled && dest.TLS.Verify {
		if dest.Auth.Owner != "" {
			claims["owner"] = dest.Auth.Owner
		}
		if dest.Auth.Email != "" {
			claims["email"] = strings.ToLower(dest.Auth.Email)
		}
	}

	token, err := s.provider.CreateToken(ctx, s.publicKey, s.privateKey, s.cache.TTL(), claims)
	if err != nil {
		return "", "", err
	}

	s.cache.Put(dest.Name, token)
	return username, token, nil
}

// SignResponse signs a command response claim set with the device keys.
func (s *TokenService) SignResponse(ctx context.Context, claims Claims) (string, error) {
	if s.privateKey == "" {
		return "", fmt.Errorf("%w: device did not expose a private key", ErrKeyUnavailable)
	}
	return s.provider.CreateToken(ctx, s.publicKey, s.privateKey, responseTokenTTL, claims)
}

// Verifier exposes the envelope operations the command arbiter needs.
func (s *TokenService) Verifier() Provider { return s.provider }
