// Package tariff resolves utility tariff components for a distributor and
// customer class.
package tariff

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"solar-platform/internal/models"
)

// Source names
const (
	SourceANEEL   = "aneel"
	SourceStore   = "store"
	SourceFixture = "fixture"
	SourceDefault = "default"
)

// ErrTariffNotFound is wrapped in a *models.DataUnavailableError when the
// source has no tariff for a key.
var ErrTariffNotFound = errors.New("tariff not found")

// Provider looks up the tariff in force on key.AsOf.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, key models.TariffKey) (models.TariffRate, error)
}

func notFound(source string, key models.TariffKey) error {
	return &models.DataUnavailableError{Source: source, Key: key.String(), Err: ErrTariffNotFound}
}

// latestInForce returns the rate with the greatest AsOf not after asOf.
func latestInForce(rates []models.TariffRate, asOf time.Time) (models.TariffRate, bool) {
	var best models.TariffRate
	found := false
	for _, r := range rates {
		if r.AsOf.After(asOf) {
			continue
		}
		if !found || r.AsOf.After(best.AsOf) {
			best, found = r, true
		}
	}
	return best, found
}

// FixtureProvider serves rates from memory.
type FixtureProvider struct {
	mu    sync.RWMutex
	rates map[string][]models.TariffRate
	calls int
}

// NewFixtureProvider creates a fixture source holding rates.
func NewFixtureProvider(rates ...models.TariffRate) *FixtureProvider {
	f := &FixtureProvider{rates: make(map[string][]models.TariffRate)}
	for _, r := range rates {
		f.Put(r)
	}
	return f
}

// Put registers a rate. Later AsOf dates supersede earlier ones for lookups
// on or after them.
func (f *FixtureProvider) Put(r models.TariffRate) {
	key := models.NewTariffKey(models.TariffClassification{Distributor: r.Distributor, Class: r.Class}, r.AsOf)
	r.Distributor, r.Class, r.AsOf = key.Distributor, key.Class, key.AsOf

	f.mu.Lock()
	defer f.mu.Unlock()
	id := key.Distributor + "/" + key.Class
	f.rates[id] = append(f.rates[id], r)
	sort.Slice(f.rates[id], func(i, j int) bool { return f.rates[id][i].AsOf.Before(f.rates[id][j].AsOf) })
}

// Name returns the source name
func (f *FixtureProvider) Name() string {
	return SourceFixture
}

// Calls reports how many lookups were made.
func (f *FixtureProvider) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

// Lookup returns the latest rate in force on key.AsOf.
func (f *FixtureProvider) Lookup(ctx context.Context, key models.TariffKey) (models.TariffRate, error) {
	f.mu.Lock()
	f.calls++
	rates := f.rates[key.Distributor+"/"+key.Class]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.TariffRate{}, &models.DataUnavailableError{Source: SourceFixture, Key: key.String(), Transient: true, Err: err}
	}
	rate, ok := latestInForce(rates, key.AsOf)
	if !ok {
		return models.TariffRate{}, notFound(SourceFixture, key)
	}
	return rate, nil
}

// Store is the persistence the StoreProvider reads from. A nil rate with a
// nil error means no row matched.
type Store interface {
	LatestTariff(ctx context.Context, distributor, class string, asOf time.Time) (*models.TariffRate, error)
}

// StoreProvider serves tariffs loaded by the ingester.
type StoreProvider struct {
	store Store
}

// NewStoreProvider wraps store.
func NewStoreProvider(store Store) *StoreProvider {
	return &StoreProvider{store: store}
}

// Name returns the source name
func (p *StoreProvider) Name() string {
	return SourceStore
}

// Lookup reads the latest stored rate in force on key.AsOf.
func (p *StoreProvider) Lookup(ctx context.Context, key models.TariffKey) (models.TariffRate, error) {
	rate, err := p.store.LatestTariff(ctx, key.Distributor, key.Class, key.AsOf)
	if err != nil {
		return models.TariffRate{}, &models.DataUnavailableError{Source: SourceStore, Key: key.String(), Transient: true, Err: err}
	}
	if rate == nil {
		return models.TariffRate{}, notFound(SourceStore, key)
	}
	return *rate, nil
}
