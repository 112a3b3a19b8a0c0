package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchType classifies how a raw SKU was resolved against the catalog.
type MatchType string

const (
	MatchBundle        MatchType = "bundle"
	MatchProduct       MatchType = "product"
	MatchClientProduct MatchType = "client_product"
	// MatchNone means no confident catalog match; BaseSKU is a best-effort
	// guess and callers must not act on it as an identity.
	MatchNone MatchType = ""
)

// Resolution is the outcome of resolving one raw SKU string.
type Resolution struct {
	BaseSKU string
	Match   MatchType
	Entity  *CatalogEntry
	Client  *ClientItem
}

// Catalog holds the bundle, product, and optional client-SKU maps, all keyed
// by normalized SKU. It is immutable after construction and safe to share.
type Catalog struct {
	bundles     map[string]CatalogEntry
	products    map[string]CatalogEntry
	clientItems map[string]ClientItem
}

func NewCatalog(bundles, products map[string]CatalogEntry, clientItems map[string]ClientItem) *Catalog {
	if bundles == nil {
		bundles = map[string]CatalogEntry{}
	}
	if products == nil {
		products = map[string]CatalogEntry{}
	}
	return &Catalog{bundles: bundles, products: products, clientItems: clientItems}
}

// ClientItem returns the client inventory item for a normalized base SKU.
func (c *Catalog) ClientItem(baseSKU string) (ClientItem, bool) {
	ci, ok := c.clientItems[baseSKU]
	return ci, ok
}

// NormalizeSKU lower-cases a raw SKU and strips all whitespace. Every SKU
// comparison in this engine happens on the normalized form; raw SKUs are
// never compared raw-to-raw.
func NormalizeSKU(raw string) string {
	lowered := strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Resolve maps a raw SKU to its canonical base identity.
//
// Order: exact bundle, exact product, exact client item, then longest
// registered prefix — a bundle prefix of any length beats a product prefix,
// so a bundle SKU is never mis-resolved to a product sharing a prefix. SKUs
// frequently carry size/color/variant suffixes appended to a shorter catalog
// SKU, which is why prefix matching prefers the longest key. With no match
// at all, the SKU is split on '-', '_' or '.' and the first segment returned
// with MatchNone.
func (c *Catalog) Resolve(raw string) Resolution {
	sku := NormalizeSKU(raw)
	if sku == "" {
		return Resolution{}
	}

	if e, ok := c.bundles[sku]; ok {
		return Resolution{BaseSKU: sku, Match: MatchBundle, Entity: &e}
	}
	if e, ok := c.products[sku]; ok {
		return Resolution{BaseSKU: sku, Match: MatchProduct, Entity: &e}
	}
	if ci, ok := c.clientItems[sku]; ok {
		return Resolution{BaseSKU: sku, Match: MatchClientProduct, Client: &ci}
	}

	if key, e, ok := longestPrefix(c.bundles, sku); ok {
		return Resolution{BaseSKU: key, Match: MatchBundle, Entity: &e}
	}
	if key, e, ok := longestPrefix(c.products, sku); ok {
		return Resolution{BaseSKU: key, Match: MatchProduct, Entity: &e}
	}

	return Resolution{BaseSKU: firstSegment(sku), Match: MatchNone}
}

func longestPrefix(entries map[string]CatalogEntry, sku string) (string, CatalogEntry, bool) {
	var bestKey string
	var best CatalogEntry
	for key, e := range entries {
		if len(key) > len(bestKey) && len(key) < len(sku) && strings.HasPrefix(sku, key) {
			bestKey, best = key, e
		}
	}
	return bestKey, best, bestKey != ""
}

func firstSegment(sku string) string {
	parts := strings.FieldsFunc(sku, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// CatalogService loads the resolver's maps from the store.
type CatalogService interface {
	Load(ctx context.Context) (*Catalog, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) Load(ctx context.Context) (*Catalog, error) {
	bundles, err := s.loadEntries(ctx, "SELECT id, sku, name FROM bundles")
	if err != nil {
		return nil, fmt.Errorf("failed to load bundles: %w", err)
	}
	products, err := s.loadEntries(ctx, "SELECT id, sku, name FROM products")
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	clientItems := make(map[string]ClientItem)
	rows, err := s.pool.Query(ctx, "SELECT id, sku, client_id FROM client_inventory")
	if err != nil {
		return nil, fmt.Errorf("failed to load client inventory: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ci ClientItem
		if err := rows.Scan(&ci.ID, &ci.SKU, &ci.ClientID); err != nil {
			return nil, fmt.Errorf("failed to scan client inventory row: %w", err)
		}
		ci.SKU = NormalizeSKU(ci.SKU)
		if ci.SKU == "" {
			continue
		}
		clientItems[ci.SKU] = ci
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client inventory rows: %w", err)
	}

	return NewCatalog(bundles, products, clientItems), nil
}

func (s *catalogService) loadEntries(ctx context.Context, query string) (map[string]CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]CatalogEntry)
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.ID, &e.SKU, &e.Name); err != nil {
			return nil, err
		}
		e.SKU = NormalizeSKU(e.SKU)
		if e.SKU == "" {
			continue
		}
		entries[e.SKU] = e
	}
	return entries, rows.Err()
}
