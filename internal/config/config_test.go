package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnvPrefersOverlayOverProcessEnv(t *testing.T) {
	t.Setenv("ANCHOR_TEST_KEY", "from-env")
	old := overlay
	overlay = map[string]string{"ANCHOR_TEST_KEY": "from-overlay"}
	defer func() { overlay = old }()

	require.Equal(t, "from-overlay", getEnv("ANCHOR_TEST_KEY", "default"))
}

func TestGetEnvFallsBackToDefault(t *testing.T) {
	old := overlay
	overlay = nil
	defer func() { overlay = old }()

	require.Equal(t, "default", getEnv("ANCHOR_TEST_KEY_UNSET", "default"))
}

func TestLoadPoolConfigDefaults(t *testing.T) {
	old := overlay
	overlay = nil
	defer func() { overlay = old }()

	cfg := LoadPoolConfig()
	require.Equal(t, 64, cfg.Concurrency)
	require.Equal(t, 800*time.Millisecond, cfg.BackoffBase)
}
