package services

import (
	"math"

	"tunishome/models"
)

const (
	neutralRating     = 50.0
	ratingPerDiscount = 2.5
)

// Rate scores a property against its locality: 50 at the average price per area,
// +2.5 per percent below it, clamped to [0, 100]. Nil when either side is unknown.
func Rate(p *models.Property, stats *models.NeighborhoodStats) *float64 {
	if stats == nil || stats.AvgPricePerArea == nil || *stats.AvgPricePerArea <= 0 {
		return nil
	}
	ppa := p.AreaPrice()
	if ppa == nil {
		return nil
	}
	avg := *stats.AvgPricePerArea
	discount := (avg - *ppa) * 100 / avg
	rating := round(clamp(neutralRating+discount*ratingPerDiscount, 0, 100), 1)
	return &rating
}

// FairValue is what the property would cost at its locality's average price per area.
func FairValue(p *models.Property, stats *models.NeighborhoodStats) *float64 {
	if stats == nil || stats.AvgPricePerArea == nil || *stats.AvgPricePerArea <= 0 {
		return nil
	}
	if p.SurfaceArea == nil || *p.SurfaceArea <= 0 {
		return nil
	}
	v := round(*stats.AvgPricePerArea * *p.SurfaceArea, 2)
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
