package token

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueThenVerify(t *testing.T) {
	start := time.Now().Add(-time.Hour) // well past the grace period
	secrets, err := New(start, 300*time.Second)
	require.NoError(t, err)

	ip := net.ParseIP("10.0.0.1")
	tok := secrets.Issue(ip)
	require.True(t, secrets.Verify(ip, tok, start.Add(time.Hour)))
}

func TestVerifyFailsForWrongIP(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	secrets, err := New(start, 300*time.Second)
	require.NoError(t, err)

	tok := secrets.Issue(net.ParseIP("10.0.0.1"))
	require.False(t, secrets.Verify(net.ParseIP("10.0.0.2"), tok, start.Add(time.Hour)))
}

func TestVerifyAcceptsPreviousSecretOnce(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	secrets, err := New(start, 300*time.Second)
	require.NoError(t, err)

	ip := net.ParseIP("10.0.0.1")
	tok := secrets.Issue(ip)

	require.NoError(t, secrets.Rotate())
	require.True(t, secrets.Verify(ip, tok, start.Add(time.Hour)))

	require.NoError(t, secrets.Rotate())
	require.False(t, secrets.Verify(ip, tok, start.Add(time.Hour)))
}

func TestColdStartGracePeriod(t *testing.T) {
	start := time.Now()
	secrets, err := New(start, 300*time.Second)
	require.NoError(t, err)

	ip := net.ParseIP("10.0.0.1")
	require.True(t, secrets.Verify(ip, []byte("garbage-token"), start.Add(10*time.Second)))
	require.False(t, secrets.Verify(ip, []byte("garbage-token"), start.Add(301*time.Second)))
}
