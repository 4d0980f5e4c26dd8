package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chargehub/backend/services/charging-service/internal/clock"
)

// ActivationClaims is the payload of the QR activation token.
type ActivationClaims struct {
	SessionID int64 `json:"sid"`
	BookingID int64 `json:"bid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs activation tokens and hashes their one-time secret.
type TokenIssuer struct {
	secret    []byte
	expiresIn time.Duration
	cost      int
	clock     clock.Clock
}

// NewTokenIssuer returns configured issuer.
func NewTokenIssuer(secret string, expiresIn time.Duration, cost int, clk clock.Clock) *TokenIssuer {
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenIssuer{secret: []byte(secret), expiresIn: expiresIn, cost: cost, clock: clk}
}

// Issue signs a token for the session and returns it with the hash to store.
func (t *TokenIssuer) Issue(sessionID, bookingID int64) (token, hash string, expiresAt time.Time, err error) {
	if sessionID == 0 {
		return "", "", time.Time{}, errors.New("token: session id is required")
	}
	jti := uuid.NewString()
	sum, err := bcrypt.GenerateFromPassword([]byte(jti), t.cost)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("token: hash secret: %w", err)
	}

	now := t.clock.Now().UTC()
	expiresAt = now.Add(t.expiresIn)
	claims := ActivationClaims{
		SessionID: sessionID,
		BookingID: bookingID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, string(sum), expiresAt, nil
}

// Parse verifies the signature and expiry and decodes the claims.
func (t *TokenIssuer) Parse(tokenString string) (*ActivationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActivationClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*ActivationClaims); ok && token.Valid && claims.ID != "" {
		return claims, nil
	}
	return nil, errors.New("token: invalid claims")
}

// Matches reports whether the token's secret corresponds to the stored hash.
func (t *TokenIssuer) Matches(hash string, claims *ActivationClaims) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(claims.ID)) == nil
}
