// Package signing issues and verifies the bearer tokens embedded in
// signature-request links. A token binds an agreement, a signer, and an
// email address for a fixed validity window; possession of the token is
// sufficient to exercise that signer's identity until it expires.
package signing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity is how long a signing link stays usable.
const DefaultValidity = 7 * 24 * time.Hour

var (
	// ErrSecretMissing signals the server-held signing secret is not provisioned.
	ErrSecretMissing = errors.New("signing: secret not configured")
	// ErrInvalidToken signals a malformed token or failed signature check.
	ErrInvalidToken = errors.New("signing: invalid token")
	// ErrExpiredToken signals the token's validity window has passed.
	ErrExpiredToken = errors.New("signing: token expired")
	// ErrIdentityMismatch signals the authenticated user differs from the token's bound email.
	ErrIdentityMismatch = errors.New("signing: authenticated identity does not match token")
)

// Claims is the decoded payload of a signature token.
type Claims struct {
	AgreementID string
	SignerID    string
	Email       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenService mints and validates HMAC-signed signature tokens.
type TokenService struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}
	return &TokenService{
		secret:   []byte(secret),
		validity: DefaultValidity,
		now:      time.Now,
	}, nil
}

func (s *TokenService) WithValidity(d time.Duration) *TokenService {
	s.validity = d
	return s
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue mints a token for the given signer. Tokens are independent bearer
// credentials: issuing twice yields two tokens, both valid until expiry.
func (s *TokenService) Issue(agreementID, signerID, email string) (string, error) {
	if agreementID == "" || signerID == "" || email == "" {
		return "", fmt.Errorf("signing: agreement id, signer id, and email are required")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"agreement_id": agreementID,
		"signer_id":    signerID,
		"email":        email,
		"iat":          now.Unix(),
		"exp":          now.Add(s.validity).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and expiry and returns the decoded
// payload. It mutates nothing.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	parser := jwt.NewParser(jwt.WithTimeFunc(s.now))
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{}
	if claims.AgreementID, ok = mapClaims["agreement_id"].(string); !ok || claims.AgreementID == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.SignerID, ok = mapClaims["signer_id"].(string); !ok || claims.SignerID == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Email, ok = mapClaims["email"].(string); !ok || claims.Email == "" {
		return Claims{}, ErrInvalidToken
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	return claims, nil
}

// VerifyFor validates the token and then asserts the session identity when
// one exists. An empty sessionEmail is the guest-signer flow: the token
// alone authenticates.
func (s *TokenService) VerifyFor(tokenString, sessionEmail string) (Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if sessionEmail != "" && !strings.EqualFold(sessionEmail, claims.Email) {
		return Claims{}, ErrIdentityMismatch
	}
	return claims, nil
}
