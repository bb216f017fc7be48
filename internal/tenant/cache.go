// Package tenant resolves tenant and business-unit identifiers to display
// names through a read-through Redis cache over the store that owns tenant
// identity. The orchestrator depends on the Resolver interface only.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNameNotFound = errors.New("tenant name not found")

// Resolver resolves tenant and business-unit IDs to display names.
type Resolver interface {
	TenantName(ctx context.Context, tenantID string) (string, error)
	BusinessUnitName(ctx context.Context, tenantID, businessUnitID string) (string, error)
}

// Store is the source of truth for tenant identity.
type Store interface {
	LookupTenantName(ctx context.Context, tenantID string) (string, error)
	LookupBusinessUnitName(ctx context.Context, tenantID, businessUnitID string) (string, error)
}

// Cache is a read-through cache in front of a Store.
type Cache struct {
	store Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCache(store Store, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{store: store, rdb: rdb, ttl: ttl}
}

func (c *Cache) TenantName(ctx context.Context, tenantID string) (string, error) {
	key := "tenant:name:" + tenantID
	return c.resolve(ctx, key, func(ctx context.Context) (string, error) {
		return c.store.LookupTenantName(ctx, tenantID)
	})
}

func (c *Cache) BusinessUnitName(ctx context.Context, tenantID, businessUnitID string) (string, error) {
	key := "tenant:bu:name:" + tenantID + ":" + businessUnitID
	return c.resolve(ctx, key, func(ctx context.Context) (string, error) {
		return c.store.LookupBusinessUnitName(ctx, tenantID, businessUnitID)
	})
}

func (c *Cache) resolve(ctx context.Context, key string, lookup func(context.Context) (string, error)) (string, error) {
	if c.rdb != nil {
		if name, err := c.rdb.Get(ctx, key).Result(); err == nil && name != "" {
			return name, nil
		}
	}

	name, err := lookup(ctx)
	if err != nil {
		return "", err
	}

	if c.rdb != nil {
		// Cache population is best-effort.
		_ = c.rdb.Set(ctx, key, name, c.ttl).Err()
	}
	return name, nil
}

// DBStore reads tenant identity from the platform's tenant tables.
type DBStore struct {
	db *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) LookupTenantName(ctx context.Context, tenantID string) (string, error) {
	const query = `SELECT name FROM payrail_saga.tenants WHERE id = $1`
	var name string
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNameNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup tenant: %w", err)
	}
	return name, nil
}

func (s *DBStore) LookupBusinessUnitName(ctx context.Context, tenantID, businessUnitID string) (string, error) {
	const query = `SELECT name FROM payrail_saga.business_units WHERE tenant_id = $1 AND id = $2`
	var name string
	err := s.db.QueryRowContext(ctx, query, tenantID, businessUnitID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNameNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup business unit: %w", err)
	}
	return name, nil
}
