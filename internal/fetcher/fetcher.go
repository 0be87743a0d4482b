package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
	"github.com/heliumhq/helium-go/internal/helium"
	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// maxConfigBytes bounds how much of a config response is read.
const maxConfigBytes = 8 << 20

// Fetcher downloads the remote paywall configuration and installs it
// into the config store. Failures flip the download status but never
// discard a previously good snapshot.
type Fetcher struct {
	url    string
	apiKey string
	client *http.Client
	store  *helium.ConfigStore
	bus    *helium.Bus

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFetcher constructs a config fetcher.
func NewFetcher(cfg config.FetchConfig, store *helium.ConfigStore, bus *helium.Bus, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		store:   store,
		bus:     bus,
		logger:  logger,
		metrics: m,
	}
}

// FetchOnce runs one fetch attempt: download, decode, validate,
// install. The returned error is also reflected in the download status.
func (f *Fetcher) FetchOnce(ctx context.Context) error {
	start := time.Now()
	f.store.BeginDownload()

	cfg, err := f.download(ctx)
	if err != nil {
		f.store.FailDownload(err.Error())
		f.metrics.RecordFetch("error", start)
		f.bus.Fire(models.NewDownloadEvent(models.EventConfigDownloadFailed, uuid.Nil, err.Error()), nil)
		f.logger.Warn("config fetch failed", zap.Error(err))
		return err
	}

	f.store.Install(ctx, cfg)
	f.metrics.RecordFetch("success", start)
	f.bus.Fire(models.NewDownloadEvent(models.EventConfigDownloadSucceeded, cfg.ConfigID, ""), nil)

	f.logger.Info("config fetched",
		zap.String("config_id", cfg.ConfigID.String()),
		zap.Int("triggers", len(cfg.TriggerToPaywalls)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (f *Fetcher) download(ctx context.Context) (*models.FetchedConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("config endpoint returned status %d", resp.StatusCode)
	}

	var cfg models.FetchedConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxConfigBytes)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
