package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
	return nil
}

type fakeProvider struct {
	calls   int
	queries []Query
	points  map[string]*Point
	err     error
}

func (p *fakeProvider) Lookup(ctx context.Context, q Query) (*Point, error) {
	p.calls++
	p.queries = append(p.queries, q)
	if p.err != nil {
		return nil, p.err
	}
	return p.points[q.City], nil
}

func strPtr(s string) *string { return &s }

func TestGeocode_MemoizesHits(t *testing.T) {
	provider := &fakeProvider{points: map[string]*Point{"Sousse": {Lat: 35.8256, Lon: 10.6084}}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	g := NewGeocoder(provider, NewMemoryCache(nil), clock)

	ctx := context.Background()
	first := g.Geocode(ctx, "Sousse", strPtr("Sousse"))
	second := g.Geocode(ctx, "  sousse ", strPtr("SOUSSE"))

	if first == nil || second == nil {
		t.Fatalf("expected hits, got %v and %v", first, second)
	}
	if *first != *second {
		t.Errorf("cached point differs: %v vs %v", first, second)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestGeocode_MissIsNotCached(t *testing.T) {
	provider := &fakeProvider{points: map[string]*Point{}}
	cache := NewMemoryCache(nil)
	g := NewGeocoder(provider, cache, &fakeClock{now: time.Unix(0, 0)})

	ctx := context.Background()
	if p := g.Geocode(ctx, "Nowhere", nil); p != nil {
		t.Fatalf("expected nil, got %v", p)
	}
	g.Geocode(ctx, "Nowhere", nil)

	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
	if cache.Len() != 0 {
		t.Errorf("cache len = %d, want 0", cache.Len())
	}
}

func TestGeocode_ProviderErrorYieldsNil(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	g := NewGeocoder(provider, nil, &fakeClock{now: time.Unix(0, 0)})
	if p := g.Geocode(context.Background(), "Tunis", nil); p != nil {
		t.Errorf("expected nil on provider error, got %v", p)
	}
}

func TestGeocode_EmptyCitySkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	g := NewGeocoder(provider, nil, &fakeClock{now: time.Unix(0, 0)})
	if p := g.Geocode(context.Background(), "   ", strPtr("Tunis")); p != nil {
		t.Errorf("expected nil, got %v", p)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
}

func TestGeocode_ThrottlesProviderCalls(t *testing.T) {
	provider := &fakeProvider{points: map[string]*Point{
		"Tunis":  {Lat: 36.8, Lon: 10.18},
		"Sfax":   {Lat: 34.74, Lon: 10.76},
		"Nabeul": {Lat: 36.45, Lon: 10.73},
	}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	g := NewGeocoder(provider, nil, clock)

	for _, city := range []string{"Tunis", "Sfax", "Nabeul"} {
		g.Geocode(context.Background(), city, nil)
	}
	if clock.slept < 2*MinInterval {
		t.Errorf("slept %v across 3 calls, want at least %v", clock.slept, 2*MinInterval)
	}
}

func TestGeocodeBatch_DeduplicatesKeys(t *testing.T) {
	provider := &fakeProvider{points: map[string]*Point{"Tunis": {Lat: 36.8, Lon: 10.18}}}
	g := NewGeocoder(provider, nil, &fakeClock{now: time.Unix(0, 0)})

	res := g.GeocodeBatch(context.Background(), []Locality{
		{City: "Tunis", Region: strPtr("Tunis")},
		{City: "tunis", Region: strPtr("tunis")},
		{City: "Ariana"},
	})
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
	if res["tunis_tunis"] == nil {
		t.Error("expected hit for tunis_tunis")
	}
	if p, ok := res["ariana_"]; !ok || p != nil {
		t.Errorf("ariana_ = %v (present %v), want nil entry", p, ok)
	}
}

type mapCache map[string]Point

func (m mapCache) Get(_ context.Context, key string) (Point, bool, error) {
	p, ok := m[key]
	return p, ok, nil
}

func (m mapCache) Put(_ context.Context, key string, p Point) error {
	m[key] = p
	return nil
}

func TestMemoryCache_FallsThroughToBacking(t *testing.T) {
	backing := mapCache{"tunis_": {Lat: 1, Lon: 2}}
	cache := NewMemoryCache(backing)
	ctx := context.Background()

	p, ok, err := cache.Get(ctx, "tunis_")
	if err != nil || !ok || p.Lat != 1 {
		t.Fatalf("Get = %v %v %v", p, ok, err)
	}
	if err := cache.Put(ctx, "sfax_", Point{Lat: 3, Lon: 4}); err != nil {
		t.Fatal(err)
	}
	if _, ok := backing["sfax_"]; !ok {
		t.Error("Put should write through to backing cache")
	}
}

func TestHash(t *testing.T) {
	h := Hash(Point{Lat: 36.8065, Lon: 10.1815})
	if len(h) != hashPrecision {
		t.Fatalf("hash %q has length %d", h, len(h))
	}
	if h[:3] != "snx" {
		t.Errorf("hash %q should start with snx for Tunis", h)
	}
}

func TestNominatimProvider(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Query().Get("q") == "Nowhere, Tunisia" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"lat":"37.2744","lon":"9.8739","display_name":"Bizerte"}]`))
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.Client(), srv.URL, "tunishome-test/1.0", "")
	pt, err := p.Lookup(context.Background(), Query{City: "Bizerte Nord", Region: "Bizerte"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if pt == nil || pt.Lat != 37.2744 || pt.Lon != 9.8739 {
		t.Errorf("point = %v", pt)
	}
	if gotUA != "tunishome-test/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}
	want := "countrycodes=tn&format=json&limit=1&q=Bizerte+Nord%2C+Bizerte%2C+Tunisia"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}

	pt, err = p.Lookup(context.Background(), Query{City: "Nowhere"})
	if err != nil || pt != nil {
		t.Errorf("no-match lookup = %v, %v", pt, err)
	}
}

func TestNominatimProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.Client(), srv.URL, "", "")
	if _, err := p.Lookup(context.Background(), Query{City: "Tunis"}); err == nil {
		t.Error("expected error on 429")
	}
}
