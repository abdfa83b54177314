package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	token, err := GenerateJWT("user-42", testSecret, time.Hour)
	require.NoError(t, err)

	userID, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestGenerateRejectsEmptyUser(t *testing.T) {
	_, err := GenerateJWT("  ", testSecret, time.Hour)
	require.Error(t, err)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT("user-42", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, []byte("other"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	token, err := GenerateJWT("user-42", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsNonHMAC(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-42"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, testSecret)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier(t *testing.T) {
	_, err := NewJWTVerifier("")
	require.Error(t, err)

	verifier, err := NewJWTVerifier(string(testSecret))
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidToken)

	token, err := GenerateJWT("user-7", testSecret, time.Hour)
	require.NoError(t, err)
	userID, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)
}
