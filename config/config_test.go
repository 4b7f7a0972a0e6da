package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEmptyDocumentEqualsDefault(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesK(t *testing.T) {
	cfg, err := Load(strings.NewReader(`k = 16`))
	require.NoError(t, err)
	require.Equal(t, 16, cfg.K)
	require.Equal(t, Default().Alpha, cfg.Alpha)
}
