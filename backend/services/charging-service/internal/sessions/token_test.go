package sessions

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chargehub/backend/services/charging-service/internal/clock"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	clk := clock.NewManual(t0)
	issuer := NewTokenIssuer("s3cret", time.Minute, bcrypt.MinCost, clk)

	token, hash, expiresAt, err := issuer.Issue(42, 7)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), expiresAt)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.SessionID)
	assert.Equal(t, int64(7), claims.BookingID)
	assert.True(t, issuer.Matches(hash, claims))
	assert.False(t, issuer.Matches("", claims))

	_, otherHash, _, err := issuer.Issue(42, 7)
	require.NoError(t, err)
	assert.False(t, issuer.Matches(otherHash, claims))
}

func TestTokenIssuerRejectsForeignAndExpired(t *testing.T) {
	clk := clock.NewManual(t0)
	issuer := NewTokenIssuer("s3cret", time.Minute, bcrypt.MinCost, clk)
	token, _, _, err := issuer.Issue(1, 1)
	require.NoError(t, err)

	_, err = NewTokenIssuer("other", time.Minute, bcrypt.MinCost, clk).Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	clk.Advance(2 * time.Minute)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, _, _, err = issuer.Issue(0, 1)
	assert.Error(t, err)
}
