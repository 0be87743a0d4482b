package helium

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/models"
)

// redisConfigKey is where the last good snapshot is mirrored so a
// restarted process can serve triggers before its first fetch.
const redisConfigKey = "helium:config:current"

// ConfigStore holds the most recently fetched paywall configuration and
// its download status. All mutation funnels through the store mutex;
// reads are consistent snapshots. A failed fetch never discards a
// previously good snapshot (stale-but-usable policy).
type ConfigStore struct {
	mu     sync.RWMutex
	cfg    *models.FetchedConfig
	status models.DownloadStatus

	ready     chan struct{}
	readyOnce sync.Once

	redis  *redis.Client
	logger *zap.Logger
}

// NewConfigStore creates an empty store. The Redis client is optional;
// when nil the store is memory-only.
func NewConfigStore(redisClient *redis.Client, logger *zap.Logger) *ConfigStore {
	return &ConfigStore{
		status: models.DownloadStatus{
			State:     models.DownloadStateNotDownloadedYet,
			UpdatedAt: time.Now().UTC(),
		},
		ready:  make(chan struct{}),
		redis:  redisClient,
		logger: logger,
	}
}

// Snapshot returns the current config (nil when none was ever
// installed) and the download status as one consistent view.
func (s *ConfigStore) Snapshot() (*models.FetchedConfig, models.DownloadStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.status
}

// HasConfig reports whether any snapshot has been installed.
func (s *ConfigStore) HasConfig() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg != nil
}

// Ready returns a channel closed once the first snapshot is installed.
// Presentation paths select on it against the loading budget.
func (s *ConfigStore) Ready() <-chan struct{} {
	return s.ready
}

// BeginDownload marks a new fetch attempt in flight. The previous
// snapshot, if any, keeps serving while the attempt runs.
func (s *ConfigStore) BeginDownload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.DownloadStatus{
		State:     models.DownloadStateDownloading,
		UpdatedAt: time.Now().UTC(),
	}
}

// Install atomically replaces the snapshot and flips the status to
// downloaded. The snapshot is mirrored to Redis; mirror failures are
// logged and otherwise ignored.
func (s *ConfigStore) Install(ctx context.Context, cfg *models.FetchedConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.status = models.DownloadStatus{
		State:     models.DownloadStateDownloaded,
		ConfigID:  cfg.ConfigID,
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	if s.redis != nil {
		payload, err := json.Marshal(cfg)
		if err == nil {
			err = s.redis.Set(ctx, redisConfigKey, payload, 0).Err()
		}
		if err != nil {
			s.logger.Warn("failed to mirror config to Redis", zap.Error(err))
		}
	}
}

// FailDownload records a fetch failure. The last good snapshot, if one
// exists, keeps serving.
func (s *ConfigStore) FailDownload(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.DownloadStatus{
		State:         models.DownloadStateFailure,
		FailureReason: reason,
		UpdatedAt:     time.Now().UTC(),
	}
}

// RestoreFromRedis loads the mirrored snapshot, if any, into an empty
// store. Used at startup so a restarted process can resolve triggers
// before its first fetch completes. The restored snapshot does not flip
// the status to downloaded: the next fetch attempt still runs.
func (s *ConfigStore) RestoreFromRedis(ctx context.Context) bool {
	if s.redis == nil {
		return false
	}

	payload, err := s.redis.Get(ctx, redisConfigKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("failed to read mirrored config from Redis", zap.Error(err))
		}
		return false
	}

	var cfg models.FetchedConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		s.logger.Warn("failed to decode mirrored config", zap.Error(err))
		return false
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("mirrored config is invalid, ignoring", zap.Error(err))
		return false
	}

	s.mu.Lock()
	if s.cfg == nil {
		s.cfg = &cfg
	}
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("restored config snapshot from Redis",
		zap.String("config_id", cfg.ConfigID.String()),
		zap.Int("triggers", len(cfg.TriggerToPaywalls)),
	)
	return true
}
