package identity

import (
	"sync"
	"time"

	"github.com/heliumhq/helium-go/internal/models"
)

// GeoInfo holds geographic information for an IP.
type GeoInfo struct {
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Region      string `json:"region,omitempty"`
	City        string `json:"city,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// GeoProvider interface for IP geolocation.
type GeoProvider interface {
	Lookup(ip string) (*GeoInfo, error)
	Close() error
}

// UserContext is the identity and device context attached to a
// presentation: who the user is and where the request came from. It
// feeds targeting decisions and the data injected into rendered content.
type UserContext struct {
	UserID string            `json:"user_id"`
	Traits map[string]string `json:"traits,omitempty"`
	Locale string            `json:"locale,omitempty"`
	IP     string            `json:"ip,omitempty"`
	Geo    *GeoInfo          `json:"geo,omitempty"`
}

// Provider resolves and enriches user context. Geo lookups go through a
// TTL cache; a missing or failing geo provider degrades to no geo data.
type Provider struct {
	geoProvider GeoProvider
	geoCache    *geoCache
}

// geoCache caches geo lookups.
type geoCache struct {
	mu      sync.RWMutex
	data    map[string]*geoCacheEntry
	maxSize int
	ttl     time.Duration
}

type geoCacheEntry struct {
	info      *GeoInfo
	expiresAt time.Time
}

// NewProvider creates an identity provider. The geo provider is
// optional.
func NewProvider(geoProvider GeoProvider, cacheSize int, cacheTTL time.Duration) *Provider {
	return &Provider{
		geoProvider: geoProvider,
		geoCache: &geoCache{
			data:    make(map[string]*geoCacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
	}
}

// FromPresentation builds the user context for one presentation, with
// geo enrichment when an IP is available.
func (p *Provider) FromPresentation(pctx *models.PresentationContext) UserContext {
	uc := UserContext{
		UserID: pctx.UserID,
		Traits: pctx.UserTraits,
		Locale: pctx.Locale,
		IP:     pctx.IP,
	}
	if pctx.IP != "" {
		uc.Geo = p.lookupGeo(pctx.IP)
	}
	return uc
}

// lookupGeo performs a cached geo lookup. Returns nil on any failure.
func (p *Provider) lookupGeo(ip string) *GeoInfo {
	if p.geoProvider == nil {
		return nil
	}

	if info := p.geoCache.get(ip); info != nil {
		return info
	}

	info, err := p.geoProvider.Lookup(ip)
	if err != nil {
		return nil
	}

	p.geoCache.put(ip, info)
	return info
}

func (c *geoCache) get(ip string) *GeoInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.info
}

func (c *geoCache) put(ip string, info *GeoInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Crude eviction: reset when full. Lookup volume per IP is low and
	// the cache refills quickly.
	if len(c.data) >= c.maxSize {
		c.data = make(map[string]*geoCacheEntry)
	}
	c.data[ip] = &geoCacheEntry{
		info:      info,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Close releases the geo provider.
func (p *Provider) Close() error {
	if p.geoProvider != nil {
		return p.geoProvider.Close()
	}
	return nil
}
