package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyResolvesConfiguredRole(t *testing.T) {
	v := NewJWTVerifier(testSecret, map[string]string{
		"rider-7":             "courier",
		"kiosk@lockerbox.app": "monitor",
	})

	id, err := v.Verify(signToken(t, testSecret, jwt.MapClaims{
		"sub": "rider-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, RoleCourier, id.Role)

	id, err = v.Verify(signToken(t, testSecret, jwt.MapClaims{
		"sub":   "kiosk-1",
		"email": "Kiosk@LockerBox.app",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, RoleMonitor, id.Role)
}

func TestVerifyDefaultsToRecipient(t *testing.T) {
	v := NewJWTVerifier(testSecret, nil)

	id, err := v.Verify(signToken(t, testSecret, jwt.MapClaims{
		"sub":   "somebody",
		"email": "somebody@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, RoleRecipient, id.Role)
	require.Equal(t, "somebody", id.Subject)
	require.Equal(t, "somebody@example.com", id.Email)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewJWTVerifier(testSecret, nil)

	_, err := v.Verify("not a token")
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(signToken(t, "other-secret", jwt.MapClaims{"sub": "x"}))
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(signToken(t, testSecret, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRequiresSubjectOrEmail(t *testing.T) {
	v := NewJWTVerifier(testSecret, nil)
	_, err := v.Verify(signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	require.ErrorIs(t, err, ErrInvalidCredential)
}
