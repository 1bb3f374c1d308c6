package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

func testVerifier() *Verifier {
	return NewVerifier(config.AuthConfig{Secret: "secret", Issuer: "welfare", ExpirationMinutes: 30})
}

func TestMintThenVerify(t *testing.T) {
	v := testVerifier()
	now := time.Now().UTC()
	actorID := uuid.New()

	token, err := v.Mint(now, actorID, enums.ActorRoleStaff)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, types.Actor{ID: actorID.String(), Role: enums.ActorRoleStaff}, claims.Actor())
	require.Equal(t, "welfare", claims.Issuer)
	require.Equal(t, actorID.String(), claims.Subject)
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := testVerifier()
	good, err := v.Mint(time.Now(), uuid.New(), enums.ActorRoleAdmin)
	require.NoError(t, err)
	expired, err := v.Mint(time.Now().Add(-time.Hour), uuid.New(), enums.ActorRoleAdmin)
	require.NoError(t, err)
	foreign, err := NewVerifier(config.AuthConfig{Secret: "secret", Issuer: "someone-else", ExpirationMinutes: 30}).
		Mint(time.Now(), uuid.New(), enums.ActorRoleAdmin)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID:          uuid.New(),
		Role:             enums.ActorRoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "welfare"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	systemRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleSystem,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "welfare",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"tampered signature": good + "x",
		"expired":            expired,
		"wrong issuer":       foreign,
		"missing expiry":     noExpiry,
		"system role":        systemRole,
		"garbage":            "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
		})
	}
}

func TestVerifyToleratesSmallClockSkew(t *testing.T) {
	v := testVerifier()
	// Expired ten seconds ago, inside the allowed skew.
	token, err := v.Mint(time.Now().Add(-30*time.Minute-10*time.Second), uuid.New(), enums.ActorRoleResident)
	require.NoError(t, err)
	_, err = v.Verify(token)
	require.NoError(t, err)
}

func TestMintRejectsInvalidIdentity(t *testing.T) {
	v := testVerifier()
	now := time.Now()

	_, err := v.Mint(now, uuid.New(), "")
	require.Error(t, err)
	_, err = v.Mint(now, uuid.New(), enums.ActorRoleSystem)
	require.Error(t, err)
	_, err = v.Mint(now, uuid.Nil, enums.ActorRoleAdmin)
	require.Error(t, err)

	_, err = NewVerifier(config.AuthConfig{Issuer: "welfare", ExpirationMinutes: 5}).Mint(now, uuid.New(), enums.ActorRoleAdmin)
	require.Error(t, err)
}
