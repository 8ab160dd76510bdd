package geo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcloughlin/geohash"

	"tunishome/httputil"
	"tunishome/identity"
)

// MinInterval is the provider's usage policy: at most one request per second.
const MinInterval = time.Second

const hashPrecision = 7

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Hash returns the geohash stored alongside a property's coordinates.
func Hash(p Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, hashPrecision)
}

// Query is what a provider is asked to resolve.
type Query struct {
	City   string
	Region string
}

// Provider resolves a place name. A nil point with a nil error means no match.
type Provider interface {
	Lookup(ctx context.Context, q Query) (*Point, error)
}

// Cache memoizes successful lookups by locality key.
type Cache interface {
	Get(ctx context.Context, key string) (Point, bool, error)
	Put(ctx context.Context, key string, p Point) error
}

type Locality struct {
	City   string
	Region *string
}

func (l Locality) Key() string {
	return identity.LocalityKey(l.City, l.Region)
}

// Geocoder turns (city, region) into coordinates. Lookups go through a throttled
// gateway; only hits are cached so misses get another chance on the next sweep.
type Geocoder struct {
	provider Provider
	cache    Cache
	gateway  *httputil.Gateway
}

func NewGeocoder(provider Provider, cache Cache, clock httputil.Clock) *Geocoder {
	if cache == nil {
		cache = NewMemoryCache(nil)
	}
	return &Geocoder{
		provider: provider,
		cache:    cache,
		gateway:  httputil.NewGateway(MinInterval, clock),
	}
}

// Geocode never fails: provider errors, empty input and no-match all yield nil.
func (g *Geocoder) Geocode(ctx context.Context, city string, region *string) *Point {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil
	}
	key := identity.LocalityKey(city, region)

	if p, ok, err := g.cache.Get(ctx, key); err != nil {
		slog.Warn("geocode cache read failed", "key", key, "err", err)
	} else if ok {
		return &p
	}

	q := Query{City: city}
	if region != nil {
		q.Region = strings.TrimSpace(*region)
	}

	var point *Point
	err := g.gateway.Do(ctx, func(ctx context.Context) error {
		var err error
		point, err = g.provider.Lookup(ctx, q)
		return err
	})
	if err != nil {
		slog.Warn("geocode lookup failed", "key", key, "err", err)
		return nil
	}
	if point == nil {
		slog.Debug("geocode miss", "key", key)
		return nil
	}

	if err := g.cache.Put(ctx, key, *point); err != nil {
		slog.Warn("geocode cache write failed", "key", key, "err", err)
	}
	return point
}

// GeocodeBatch resolves each distinct locality once. Misses map to nil.
func (g *Geocoder) GeocodeBatch(ctx context.Context, localities []Locality) map[string]*Point {
	out := make(map[string]*Point, len(localities))
	for _, l := range localities {
		key := l.Key()
		if _, done := out[key]; done {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		out[key] = g.Geocode(ctx, l.City, l.Region)
	}
	return out
}
