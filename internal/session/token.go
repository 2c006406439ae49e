package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL bounds how long a minted session token stays valid without
// a fresh login.
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidIssuerConfig = errors.New("invalid token issuer config")
	ErrInvalidToken        = errors.New("invalid session token")
)

// Claims are the signed contents of a session token.
type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies per-login session tokens. Every login mints
// a fresh token (unique jti), so two logins for the same account never share
// one.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	nowFn      func() time.Time
}

// NewTokenIssuer wires a TokenIssuer.
func NewTokenIssuer(signingKey []byte, issuer string, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is empty", ErrInvalidIssuerConfig)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is empty", ErrInvalidIssuerConfig)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{signingKey: signingKey, issuer: issuer, ttl: ttl, nowFn: now}, nil
}

// Mint signs a fresh session token for the account/device pair.
func (issuer *TokenIssuer) Mint(accountID string, deviceID string) (string, error) {
	nowUTC := issuer.nowFn().UTC()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    issuer.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(nowUTC),
			ExpiresAt: jwt.NewNumericDate(nowUTC.Add(issuer.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.signingKey)
}

// Verify parses and validates a session token, returning its claims.
func (issuer *TokenIssuer) Verify(raw string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return issuer.signingKey, nil
	}, jwt.WithIssuer(issuer.issuer), jwt.WithTimeFunc(issuer.nowFn))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
