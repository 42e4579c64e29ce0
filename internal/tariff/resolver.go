package tariff

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"solar-platform/internal/models"
	"solar-platform/pkg/logging"
)

// Observer receives cache lookup outcomes.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)  {}
func (nopObserver) CacheMiss(string) {}

// Defaults are the components applied when a source cannot resolve them.
// A nil component has no default.
type Defaults struct {
	Energy       *float64
	Distribution *float64
}

// Resolution is a tariff ready for savings calculation.
type Resolution struct {
	Rate       models.TariffRate
	Combined   float64
	Provenance models.Provenance
	Alerts     []models.Alert
}

// Resolver fronts a Provider with an append-only cache keyed by
// distributor, class and as-of date. A revised tariff has a new as-of date
// and therefore a new entry.
type Resolver struct {
	provider Provider
	cache    *gocache.Cache
	group    singleflight.Group
	defaults Defaults
	logger   *logging.StructuredLogger
	obs      Observer
}

// NewResolver creates a resolver. ttl <= 0 keeps entries for the life of
// the resolver.
func NewResolver(provider Provider, defaults Defaults, ttl time.Duration, logger *logging.StructuredLogger, obs Observer) *Resolver {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Resolver{
		provider: provider,
		cache:    gocache.New(ttl, 10*time.Minute),
		defaults: defaults,
		logger:   logger,
		obs:      obs,
	}
}

// Resolve returns the tariff in force for key or a DataUnavailable error.
// Unresolved components stay nil; nothing is defaulted here.
func (r *Resolver) Resolve(ctx context.Context, key models.TariffKey) (models.TariffRate, error) {
	cacheKey := key.String()
	if v, ok := r.cache.Get(cacheKey); ok {
		r.obs.CacheHit("tariff")
		return v.(models.TariffRate), nil
	}
	r.obs.CacheMiss("tariff")

	if ctx.Err() != nil {
		return models.TariffRate{}, r.cancelled(ctx, cacheKey)
	}

	// Waiters share one lookup that no single caller can cancel.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(cacheKey, func() (interface{}, error) {
		rate, err := r.provider.Lookup(detached, key)
		if err != nil {
			return nil, err
		}
		_ = r.cache.Add(cacheKey, rate, gocache.DefaultExpiration)
		return rate, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.TariffRate{}, res.Err
		}
		return res.Val.(models.TariffRate), nil
	case <-ctx.Done():
		return models.TariffRate{}, r.cancelled(ctx, cacheKey)
	}
}

func (r *Resolver) cancelled(ctx context.Context, cacheKey string) error {
	return &models.DataUnavailableError{
		Source:    r.provider.Name(),
		Key:       cacheKey,
		Transient: true,
		Err:       ctx.Err(),
	}
}

// ResolveWithDefaults resolves key and fills unresolved components from the
// configured defaults, attaching an alert whenever a default is used. It
// fails with DataUnavailable when a component is unknown and has no default.
func (r *Resolver) ResolveWithDefaults(ctx context.Context, key models.TariffKey) (Resolution, error) {
	rate, err := r.Resolve(ctx, key)
	if err != nil {
		if models.KindOf(err) != models.KindDataUnavailable || r.defaults.Energy == nil || r.defaults.Distribution == nil {
			return Resolution{}, err
		}

		r.logger.Warn(ctx, "[TARIFF_DEFAULT] Tariff unresolved, applying configured default", logging.Fields{
			"distributor": key.Distributor,
			"class":       key.Class,
			"error":       err.Error(),
		})
		energy, distribution := *r.defaults.Energy, *r.defaults.Distribution
		res := Resolution{
			Rate: models.TariffRate{
				Distributor:        key.Distributor,
				Class:              key.Class,
				EnergyCharge:       &energy,
				DistributionCharge: &distribution,
				AsOf:               key.AsOf,
			},
			Combined:   energy + distribution,
			Provenance: models.Provenance{Source: SourceDefault, AsOf: key.AsOf, Degraded: true},
			Alerts: []models.Alert{{
				Code:    models.AlertTariffDefaultApplied,
				Message: fmt.Sprintf("tariff for %s/%s unresolved, using configured default %.4f/kWh", key.Distributor, key.Class, energy+distribution),
			}},
		}
		return res, nil
	}

	res := Resolution{
		Rate:       rate,
		Provenance: models.Provenance{Source: r.provider.Name(), SourceURL: rate.SourceURL, AsOf: rate.AsOf},
	}

	fill := func(component string, value **float64, def *float64) error {
		if *value != nil {
			return nil
		}
		if def == nil {
			return &models.DataUnavailableError{
				Source: r.provider.Name(),
				Key:    key.String(),
				Err:    fmt.Errorf("%s charge unresolved and no default configured", component),
			}
		}
		v := *def
		*value = &v
		res.Provenance.Degraded = true
		res.Alerts = append(res.Alerts, models.Alert{
			Code:    models.AlertTariffPartial,
			Message: fmt.Sprintf("%s charge for %s/%s unresolved, using configured default %.4f/kWh", component, key.Distributor, key.Class, v),
		})
		return nil
	}

	// Copy so the cached entry is never touched.
	res.Rate.EnergyCharge = copyFloat(rate.EnergyCharge)
	res.Rate.DistributionCharge = copyFloat(rate.DistributionCharge)
	if err := fill("energy", &res.Rate.EnergyCharge, r.defaults.Energy); err != nil {
		return Resolution{}, err
	}
	if err := fill("distribution", &res.Rate.DistributionCharge, r.defaults.Distribution); err != nil {
		return Resolution{}, err
	}

	res.Combined, _ = res.Rate.Combined()
	return res, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}
