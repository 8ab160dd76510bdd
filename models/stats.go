package models

import (
	"time"

	"tunishome/identity"
)

// NeighborhoodStats is a materialized view over Property rows, keyed by (city, region).
type NeighborhoodStats struct {
	City               string    `json:"city" db:"city"`
	Region             *string   `json:"region" db:"region"`
	AvgPricePerArea    *float64  `json:"avg_price_per_area" db:"avg_price_per_area"`
	MedianPricePerArea *float64  `json:"median_price_per_area" db:"median_price_per_area"`
	MedianPrice        *float64  `json:"median_price" db:"median_price"`
	TotalListings      int       `json:"total_listings" db:"total_listings"`
	ActiveListings     int       `json:"active_listings" db:"active_listings"`
	AvgRentPrice       *float64  `json:"avg_rent_price" db:"avg_rent_price"`
	AvgSalePrice       *float64  `json:"avg_sale_price" db:"avg_sale_price"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

func (s *NeighborhoodStats) Key() string {
	return identity.LocalityKey(s.City, s.Region)
}
