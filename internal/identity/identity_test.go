package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("s3cret", "cafepos")
	require.NoError(t, err)

	token, err := v.Issue(Operator{ID: "kasir-1", Name: "Sari", Roles: []string{RoleCashier}}, time.Hour)
	require.NoError(t, err)

	op, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "kasir-1", op.ID)
	assert.Equal(t, "Sari", op.Name)
	assert.True(t, op.HasRole(RoleCashier))
	assert.False(t, op.HasRole(RoleAdmin))
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier("s3cret", "cafepos")
	require.NoError(t, err)

	other, err := NewVerifier("different", "cafepos")
	require.NoError(t, err)
	wrongKey, err := other.Issue(Operator{ID: "x"}, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := (&Verifier{secret: []byte("s3cret"), issuer: "someone-else", now: time.Now}).Issue(Operator{ID: "x"}, time.Hour)
	require.NoError(t, err)

	expired, err := v.Issue(Operator{ID: "x"}, -time.Minute)
	require.NoError(t, err)

	noSubject, err := v.Issue(Operator{}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewVerifierNeedsSecret(t *testing.T) {
	_, err := NewVerifier("", "cafepos")
	assert.Error(t, err)
}

func TestContextProvider(t *testing.T) {
	var p ContextProvider

	_, ok := p.CurrentUserID(context.Background())
	assert.False(t, ok)

	ctx := WithOperator(context.Background(), Operator{ID: "kasir-2"})
	id, ok := p.CurrentUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "kasir-2", id)

	op, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "kasir-2", op.ID)
}

func TestAdminHoldsEveryRole(t *testing.T) {
	assert.True(t, Operator{Roles: []string{RoleAdmin}}.HasRole(RoleCashier))
}
