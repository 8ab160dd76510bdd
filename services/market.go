package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tunishome/events"
	"tunishome/models"
	"tunishome/storage"
)

// ComputeNeighborhoodStats recomputes every locality from scratch. Properties without a
// city are ignored; price statistics only use active listings with a positive price.
func ComputeNeighborhoodStats(props []models.Property, now time.Time) []models.NeighborhoodStats {
	type acc struct {
		stats     models.NeighborhoodStats
		areaPrice []float64
		prices    []float64
		rent      []float64
		sale      []float64
	}
	groups := make(map[string]*acc)

	for i := range props {
		p := &props[i]
		key := p.LocalityKey()
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &acc{stats: models.NeighborhoodStats{City: *p.City, Region: p.Region, UpdatedAt: now}}
			groups[key] = g
		}

		g.stats.TotalListings++
		if p.Status != models.StatusActive {
			continue
		}
		g.stats.ActiveListings++
		if p.Price <= 0 {
			continue
		}
		g.prices = append(g.prices, p.Price)
		switch p.ListingType {
		case models.ListingRent:
			g.rent = append(g.rent, p.Price)
		case models.ListingSale:
			g.sale = append(g.sale, p.Price)
		}
		if p.SurfaceArea != nil && *p.SurfaceArea > 0 {
			g.areaPrice = append(g.areaPrice, p.Price / *p.SurfaceArea)
		}
	}

	out := make([]models.NeighborhoodStats, 0, len(groups))
	for _, g := range groups {
		g.stats.AvgPricePerArea = mean(g.areaPrice)
		g.stats.MedianPricePerArea = median(g.areaPrice)
		g.stats.MedianPrice = median(g.prices)
		g.stats.AvgRentPrice = mean(g.rent)
		g.stats.AvgSalePrice = mean(g.sale)
		out = append(out, g.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func mean(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	m := round(sum/float64(len(vals)), 2)
	return &m
}

func median(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	m := s[mid]
	if len(s)%2 == 0 {
		m = (s[mid-1] + s[mid]) / 2
	}
	m = round(m, 2)
	return &m
}

type RefreshResult struct {
	Localities int
	Pruned     int
	Changed    int
	Rated      int
}

// MarketService keeps neighborhood statistics and deal ratings in step with the property table.
type MarketService struct {
	properties storage.PropertyStore
	stats      storage.StatsStore
	publisher  events.Publisher
	now        func() time.Time
}

func NewMarketService(properties storage.PropertyStore, stats storage.StatsStore, publisher events.Publisher) *MarketService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &MarketService{properties: properties, stats: stats, publisher: publisher, now: time.Now}
}

// Refresh replaces the stats table with a full recompute, then re-rates every property
// in a locality that is new, whose average moved, or that saw a write since the last refresh.
func (m *MarketService) Refresh(ctx context.Context) (*RefreshResult, error) {
	now := m.now().UTC()

	props, err := m.properties.ListProperties(ctx, models.PropertyFilter{})
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	next := ComputeNeighborhoodStats(props, now)

	prev, err := m.stats.ListNeighborhoodStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	prevByKey := make(map[string]models.NeighborhoodStats, len(prev))
	for _, st := range prev {
		prevByKey[st.Key()] = st
	}

	if err := m.stats.ReplaceNeighborhoodStats(ctx, next); err != nil {
		return nil, fmt.Errorf("replace stats: %w", err)
	}

	touched := make(map[string]bool)
	for i := range props {
		key := props[i].LocalityKey()
		if key == "" {
			continue
		}
		if old, ok := prevByKey[key]; ok && props[i].UpdatedAt.After(old.UpdatedAt) {
			touched[key] = true
		}
	}

	nextByKey := make(map[string]*models.NeighborhoodStats, len(next))
	var changed []string
	for i := range next {
		key := next[i].Key()
		nextByKey[key] = &next[i]
		old, ok := prevByKey[key]
		if !ok || !floatPtrEqual(old.AvgPricePerArea, next[i].AvgPricePerArea) || touched[key] {
			changed = append(changed, key)
		}
	}

	result := &RefreshResult{Localities: len(next), Changed: len(changed)}
	for key := range prevByKey {
		if _, ok := nextByKey[key]; !ok {
			result.Pruned++
		}
	}

	rated, err := m.rateLocalities(ctx, changed, nextByKey)
	result.Rated = rated
	if err != nil {
		return result, fmt.Errorf("rate localities: %w", err)
	}

	if err := m.publisher.Publish(ctx, events.Event{Type: events.TypeStatsRefreshed, OccurredAt: now}); err != nil {
		slog.Warn("publish event failed", "type", events.TypeStatsRefreshed, "err", err)
	}
	slog.Info("neighborhood stats refreshed",
		"localities", result.Localities, "changed", result.Changed, "pruned", result.Pruned, "rated", result.Rated)
	return result, nil
}

// rateLocalities is the only writer of dealRating and estimatedFairValue.
func (m *MarketService) rateLocalities(ctx context.Context, keys []string, stats map[string]*models.NeighborhoodStats) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	props, err := m.properties.ListProperties(ctx, models.PropertyFilter{LocalityKeys: keys})
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range props {
		p := &props[i]
		st := stats[p.LocalityKey()]
		rating := Rate(p, st)
		fair := FairValue(p, st)
		if floatPtrEqual(rating, p.DealRating) && floatPtrEqual(fair, p.EstimatedFairValue) {
			continue
		}
		if err := m.properties.UpdateDealRating(ctx, p.ID, rating, fair); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// NeighborhoodStats returns the current materialized statistics.
func (m *MarketService) NeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error) {
	return m.stats.ListNeighborhoodStats(ctx)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
