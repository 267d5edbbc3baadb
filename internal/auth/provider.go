package auth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultUtilityTimeout bounds one invocation of the token utility.
const defaultUtilityTimeout = 10 * time.Second

// Claims is a free-form JWT claim set.
type Claims map[string]any

// String returns the named claim as a string, or "" when absent or not
// a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Int64 returns the named claim as an integer. JSON numbers decode as
// float64, so both forms are accepted.
func (c Claims) Int64(name string) (int64, bool) {
	switch v := c[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Provider produces and validates signed tokens.
//
// Token creation is delegated to the meshcore-decoder utility because the
// device private key is in MeshCore's own 64-byte format. Verification
// and payload decoding are local: issuer keys are plain Ed25519 public
// keys and the envelope is a standard EdDSA JWT.
type Provider interface {
	CreateToken(ctx context.Context, publicKey, privateKey string, ttl time.Duration, claims Claims) (string, error)
	VerifyToken(token, issuerKey string) (Claims, error)
	DecodePayload(token string) (Claims, error)
}

// DecoderProvider is the production Provider backed by the
// meshcore-decoder command-line utility.
type DecoderProvider struct {
	// Binary is the utility path. Default: "meshcore-decoder" on PATH.
	Binary string

	// Timeout bounds each utility invocation. Default: 10s.
	Timeout time.Duration
}

// NewDecoderProvider returns a provider using the meshcore-decoder
// utility from PATH.
func NewDecoderProvider() *DecoderProvider {
	return &DecoderProvider{}
}

// CreateToken invokes the utility to sign a token with the device key
// pair. The returned token is opaque to the bridge beyond its three-part
// JWT shape.
func (p *DecoderProvider) CreateToken(ctx context.Context, publicKey, privateKey string, ttl time.Duration, claims Claims) (string, error) {
	if publicKey == "" || privateKey == "" {
		return "", ErrKeyUnavailable
	}

	binary := p.Binary
	if binary == "" {
		binary = "meshcore-decoder"
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultUtilityTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"auth-token", publicKey, privateKey, "-e", strconv.Itoa(int(ttl.Seconds()))}
	if len(claims) > 0 {
		claimsJSON, err := json.Marshal(claims)
		if err != nil {
			return "", fmt.Errorf("auth: marshal claims: %w", err)
		}
		args = append(args, "-c", string(claimsJSON))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, msg)
	}

	token := strings.TrimSpace(stdout.String())
	if strings.Count(token, ".") != 2 {
		return "", fmt.Errorf("%w: utility output is not a token", ErrInvalidToken)
	}
	return token, nil
}

// VerifyToken checks the token signature against the issuer's Ed25519
// public key and returns its claims.
func (p *DecoderProvider) VerifyToken(token, issuerKey string) (Claims, error) {
	keyBytes, err := hex.DecodeString(issuerKey)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: issuer key is not a 32-byte hex key", ErrBadSignature)
	}
	pub := ed25519.PublicKey(keyBytes)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return Claims(mapClaims), nil
}

// DecodePayload extracts a token's claims without verifying its
// signature. Used to discover the declared issuer before the real
// verification runs against that issuer's key.
func (p *DecoderProvider) DecodePayload(token string) (Claims, error) {
	var mapClaims jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &mapClaims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Claims(mapClaims), nil
}
