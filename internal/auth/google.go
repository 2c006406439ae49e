package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ErrInvalidIDToken is returned for Google ID tokens that fail validation.
var ErrInvalidIDToken = errors.New("invalid id token")

// GoogleVerifier validates Google-issued ID tokens and maps them to an
// Identity. The token subject becomes the account id.
type GoogleVerifier struct {
	audience string
}

// NewGoogleVerifier wires a GoogleVerifier for the given OAuth client id.
func NewGoogleVerifier(audience string) (*GoogleVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("%w: empty audience", ErrInvalidIDToken)
	}
	return &GoogleVerifier{audience: audience}, nil
}

// Verify validates the raw ID token and extracts the identity claims.
func (verifier *GoogleVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	payload, err := idtoken.Validate(ctx, rawToken, verifier.audience)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	identity := Identity{AccountID: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := payload.Claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if identity.AccountID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}
	return identity, nil
}
