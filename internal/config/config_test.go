package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMA_PORTAL_BASE_URL", "http://portal.local/api/")
	t.Setenv("GEMA_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://portal.local/api", cfg.PortalBaseURL)
	require.Equal(t, 3*time.Second, cfg.SyncInterval)
	require.Equal(t, 10*time.Second, cfg.PortalTimeout)
	require.Equal(t, 15*time.Minute, cfg.EngineIdleTTL)
	require.Equal(t, 50, cfg.FeedPageSize)
	require.Equal(t, "gema", cfg.ChannelBase)
	require.Equal(t, ":8080", cfg.HTTPAddress())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMA_PORTAL_BASE_URL", "http://portal.local")
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_SYNC_INTERVAL", "5s")
	t.Setenv("GEMA_FEED_PAGE_SIZE", "20")
	t.Setenv("GEMA_APP_PORT", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.SyncInterval)
	require.Equal(t, 20, cfg.FeedPageSize)
	require.Equal(t, ":9090", cfg.HTTPAddress())
}

func TestLoadRequiresPortalAndSecret(t *testing.T) {
	t.Setenv("GEMA_PORTAL_BASE_URL", "")
	t.Setenv("GEMA_JWT_SECRET", "secret")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_PORTAL_BASE_URL", "http://portal.local")
	t.Setenv("GEMA_JWT_SECRET", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GEMA_PORTAL_BASE_URL", "http://portal.local")
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_SYNC_INTERVAL", "soon")

	_, err := Load()
	require.ErrorContains(t, err, "sync.interval")
}
