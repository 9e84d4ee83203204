package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", "1,2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.StorageBackend)
	require.Equal(t, 30*time.Minute, cfg.StoreIdleTTL)
	require.Equal(t, "Kore", cfg.DefaultVoice)
	require.Equal(t, "3", cfg.PriceCompletionPerMTok.String())
	require.True(t, cfg.IsAdmin(2))
	require.False(t, cfg.IsAdmin(3))
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := Load()
	require.Error(t, err, "empty token")

	os.Unsetenv("BOT_TOKEN")
	_, err = Load()
	require.Error(t, err, "unset token")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"sqlite", Config{StorageBackend: "sqlite", RateLimitPerMinute: 1}, true},
		{"postgres without url", Config{StorageBackend: "postgres", RateLimitPerMinute: 1}, false},
		{"postgres", Config{StorageBackend: "postgres", DatabaseURL: "postgres://x", RateLimitPerMinute: 1}, true},
		{"redis without url", Config{StorageBackend: "redis", RateLimitPerMinute: 1}, false},
		{"unknown backend", Config{StorageBackend: "s3", RateLimitPerMinute: 1}, false},
		{"zero rate limit", Config{StorageBackend: "memory"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestSlotFor(t *testing.T) {
	cfg := &Config{StorageSlot: "evochat_pro_v9_stable"}
	require.Equal(t, "evochat_pro_v9_stable:-100123", cfg.SlotFor(-100123))
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		require.Equal(t, want, (&Config{LogLevel: in}).SlogLevel(), in)
	}
}
