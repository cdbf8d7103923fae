package offsync

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsMissingDeviceID(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	// A token with only registered claims has no did.
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err := raw.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.ErrorContains(t, err, "did")
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "device-1", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestRequestIdentityExtraction(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/sync/upload", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	userID, err := auth.GetUserID(r)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	sourceID, err := auth.GetSourceID(r)
	require.NoError(t, err)
	require.Equal(t, "device-1", sourceID)
}

func TestRequestWithoutBearerToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	r := httptest.NewRequest("POST", "/sync/upload", nil)
	_, err := auth.GetUserID(r)
	require.ErrorContains(t, err, "authorization header")

	r.Header.Set("Authorization", "Basic abc")
	_, err = auth.GetUserID(r)
	require.ErrorContains(t, err, "bearer token")
}
