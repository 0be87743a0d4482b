package helium

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/models"
)

func TestConfigStoreLifecycle(t *testing.T) {
	store := NewConfigStore(nil, zap.NewNop())

	cfg, status := store.Snapshot()
	assert.Nil(t, cfg)
	assert.Equal(t, models.DownloadStateNotDownloadedYet, status.State)
	assert.False(t, store.HasConfig())

	store.BeginDownload()
	_, status = store.Snapshot()
	assert.Equal(t, models.DownloadStateDownloading, status.State)

	installed := testConfig("onboarding", showablePaywall())
	store.Install(context.Background(), installed)

	cfg, status = store.Snapshot()
	require.NotNil(t, cfg)
	assert.Equal(t, installed.ConfigID, cfg.ConfigID)
	assert.Equal(t, models.DownloadStateDownloaded, status.State)
	assert.Equal(t, installed.ConfigID, status.ConfigID)
	assert.True(t, store.HasConfig())
}

func TestConfigStoreFailureKeepsLastGoodSnapshot(t *testing.T) {
	store := NewConfigStore(nil, zap.NewNop())

	installed := testConfig("onboarding", showablePaywall())
	store.Install(context.Background(), installed)

	store.BeginDownload()
	store.FailDownload("status 503")

	cfg, status := store.Snapshot()
	require.NotNil(t, cfg, "stale snapshot keeps serving")
	assert.Equal(t, installed.ConfigID, cfg.ConfigID)
	assert.Equal(t, models.DownloadStateFailure, status.State)
	assert.Equal(t, "status 503", status.FailureReason)
}

func TestConfigStoreFailureWithoutSnapshot(t *testing.T) {
	store := NewConfigStore(nil, zap.NewNop())
	store.BeginDownload()
	store.FailDownload("unreachable")

	cfg, status := store.Snapshot()
	assert.Nil(t, cfg)
	assert.Equal(t, models.DownloadStateFailure, status.State)
}

func TestConfigStoreReadySignal(t *testing.T) {
	store := NewConfigStore(nil, zap.NewNop())

	select {
	case <-store.Ready():
		t.Fatal("ready before any install")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.Install(context.Background(), testConfig("onboarding", showablePaywall()))
	}()

	select {
	case <-store.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready never signalled")
	}

	// A second install leaves the closed channel closed.
	store.Install(context.Background(), testConfig("settings", showablePaywall()))
	select {
	case <-store.Ready():
	default:
		t.Fatal("ready channel reopened")
	}
}
