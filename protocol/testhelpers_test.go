package protocol

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func mustParseIP(t *testing.T, host string) net.IP {
	t.Helper()
	ip := net.ParseIP(host)
	require.NotNil(t, ip)
	return ip
}
