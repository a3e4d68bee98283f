package billing

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stripe/stripe-go/v81"

	"github.com/subgate/subgate/pkg/observability"
)

// ListPrices returns the prices behind the given lookup keys
func (c *Client) ListPrices(ctx context.Context, lookupKeys []string) ([]*stripe.Price, error) {
	const op = "list prices"
	if len(lookupKeys) == 0 {
		return nil, badRequest(op, "at least one lookup key is required")
	}

	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice(lookupKeys),
	}
	params.Context = ctx

	prices := make([]*stripe.Price, 0, len(lookupKeys))
	iter := c.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return prices, nil
}

// CreateMeteredPrice creates a recurring monthly price billed from a meter,
// creating the product inline
func (c *Client) CreateMeteredPrice(ctx context.Context, in CreateMeteredPriceInput) (*stripe.Price, error) {
	const op = "create price"
	if in.ProductName == "" || in.Currency == "" || in.MeterID == "" {
		return nil, badRequest(op, "product name, currency and meter id are required")
	}

	params := &stripe.PriceParams{
		UnitAmount: stripe.Int64(in.UnitAmount),
		Currency:   stripe.String(in.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval:  stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			Meter:     stripe.String(in.MeterID),
			UsageType: stripe.String(string(stripe.PriceRecurringUsageTypeMetered)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(in.ProductName),
		},
	}
	params.Context = ctx

	p, err := c.api.Prices.New(params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	c.logger.WithField("price_id", p.ID).Info("Created metered price")
	return p, nil
}

// LookupTable resolves configured price aliases; config.PriceTable satisfies
// this
type LookupTable interface {
	Lookup(lookupKey string) (string, bool)
}

// PriceLister is the slice of Service the resolver needs
type PriceLister interface {
	ListPrices(ctx context.Context, lookupKeys []string) ([]*stripe.Price, error)
}

// Resolver turns whatever the frontend sends as a price reference into a
// provider price id. Raw price ids pass through untouched; lookup keys
// resolve through the configured table first, then through the provider's
// price list, with provider results cached in a small LRU so repeated config
// fetches do not hammer the list endpoint.
type Resolver struct {
	svc     PriceLister
	table   LookupTable
	cache   *lru.Cache[string, string]
	metrics *observability.Metrics
}

// resolverCacheSize bounds provider-resolved lookup keys held in memory
const resolverCacheSize = 128

// NewResolver creates a price resolver. table and metrics may be nil.
func NewResolver(svc PriceLister, table LookupTable, metrics *observability.Metrics) *Resolver {
	// Size is a constant; lru.New only errors on size <= 0
	cache, _ := lru.New[string, string](resolverCacheSize)
	return &Resolver{
		svc:     svc,
		table:   table,
		cache:   cache,
		metrics: metrics,
	}
}

// Resolve maps a price reference to a provider price id
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", badRequest("resolve price", "price is required")
	}
	if strings.HasPrefix(ref, "price_") {
		return ref, nil
	}

	key := strings.ToLower(ref)
	if r.table != nil {
		if id, ok := r.table.Lookup(key); ok {
			r.countHit()
			return id, nil
		}
	}
	if id, ok := r.cache.Get(key); ok {
		r.countHit()
		return id, nil
	}
	r.countMiss()

	prices, err := r.svc.ListPrices(ctx, []string{key})
	if err != nil {
		return "", err
	}
	for _, p := range prices {
		if p.LookupKey == key {
			r.cache.Add(key, p.ID)
			return p.ID, nil
		}
	}
	return "", badRequest("resolve price", fmt.Sprintf("unknown price lookup key %q", ref))
}

func (r *Resolver) countHit() {
	if r.metrics != nil {
		r.metrics.PriceCacheHitsTotal.Inc()
	}
}

func (r *Resolver) countMiss() {
	if r.metrics != nil {
		r.metrics.PriceCacheMissesTotal.Inc()
	}
}
