package utils

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
    raw, exp, err := NewAccessToken("secret", "staff-7", "STAFF", time.Hour)
    require.NoError(t, err)
    assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

    claims, err := ParseAccessToken("secret", raw)
    require.NoError(t, err)
    assert.Equal(t, "staff-7", claims.Subject)
    assert.Equal(t, "STAFF", claims.Role)
}

func TestParseAccessTokenRejects(t *testing.T) {
    raw, _, err := NewAccessToken("secret", "staff-7", "STAFF", time.Hour)
    require.NoError(t, err)
    _, err = ParseAccessToken("other", raw)
    assert.ErrorIs(t, err, ErrInvalidToken)

    expired, _, err := NewAccessToken("secret", "staff-7", "STAFF", -time.Minute)
    require.NoError(t, err)
    _, err = ParseAccessToken("secret", expired)
    assert.ErrorIs(t, err, ErrInvalidToken)

    anon, _, err := NewAccessToken("secret", "", "STAFF", time.Hour)
    require.NoError(t, err)
    _, err = ParseAccessToken("secret", anon)
    assert.ErrorIs(t, err, ErrInvalidToken)

    _, err = ParseAccessToken("secret", "not.a.token")
    assert.ErrorIs(t, err, ErrInvalidToken)
}
