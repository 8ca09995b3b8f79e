package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

const snapshotKey = "catalog"

// TableLister reports which tables exist in the live warehouse.
type TableLister interface {
	ListTables(ctx context.Context, database string) ([]string, error)
}

// Provider hands out catalog snapshots. A snapshot stays valid until the
// refresh TTL elapses; zero TTL keeps it for the process lifetime.
type Provider struct {
	cfg       model.CatalogConfig
	warehouse model.WarehouseConfig
	lister    TableLister
	cache     *ttlcache.Cache[string, *model.SchemaCatalog]
	mu        sync.Mutex
}

// NewProvider builds a provider. lister may be nil, which disables live
// filtering.
func NewProvider(cfg model.CatalogConfig, wh model.WarehouseConfig, lister TableLister) *Provider {
	ttl := cfg.RefreshTTL
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	return &Provider{
		cfg:       cfg,
		warehouse: wh,
		lister:    lister,
		cache: ttlcache.New[string, *model.SchemaCatalog](
			ttlcache.WithTTL[string, *model.SchemaCatalog](ttl),
			ttlcache.WithDisableTouchOnHit[string, *model.SchemaCatalog](),
		),
	}
}

// Get returns the cached snapshot, loading it on first use or after expiry.
func (p *Provider) Get(ctx context.Context) (*model.SchemaCatalog, error) {
	if item := p.cache.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if item := p.cache.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	return p.load(ctx)
}

// Refresh discards the snapshot and loads a new one.
func (p *Provider) Refresh(ctx context.Context) (*model.SchemaCatalog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Delete(snapshotKey)
	return p.load(ctx)
}

func (p *Provider) load(ctx context.Context) (*model.SchemaCatalog, error) {
	c, err := LoadFile(p.cfg.MetadataFile, p.warehouse.Catalog, p.warehouse.Database)
	if err != nil {
		return nil, err
	}
	if p.cfg.FilterLive && p.lister != nil {
		tables, err := p.lister.ListTables(ctx, p.warehouse.Database)
		if err != nil {
			return nil, fmt.Errorf("list warehouse tables: %w", err)
		}
		c = Filter(c, tables)
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("catalog %s has no usable tables", p.cfg.MetadataFile)
	}
	p.cache.Set(snapshotKey, c, ttlcache.DefaultTTL)
	logx.Info().Int("tables", len(c.Tables)).Str("database", c.Database).Msg("catalog loaded")
	return c, nil
}
