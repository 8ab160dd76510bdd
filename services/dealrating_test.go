package services

import (
	"testing"

	"tunishome/models"
)

func TestRate(t *testing.T) {
	stats := &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(2500.0)}

	tests := []struct {
		name    string
		price   float64
		surface float64
		want    float64
	}{
		{"at average", 250000, 100, 50},
		{"20 percent below clamps to top", 200000, 100, 100},
		{"10 percent below", 225000, 100, 75},
		{"10 percent above", 275000, 100, 25},
		{"far above clamps to zero", 1000000, 100, 0},
		{"free clamps to top", 1, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.Property{Price: tt.price, SurfaceArea: ptr(tt.surface)}
			got := Rate(p, stats)
			if got == nil {
				t.Fatal("rating is nil")
			}
			if *got != tt.want {
				t.Errorf("Rate = %v, want %v", *got, tt.want)
			}
		})
	}
}

func TestRate_UsesStoredPricePerArea(t *testing.T) {
	stats := &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(2000.0)}
	p := &models.Property{Price: 1, PricePerArea: ptr(1900.0)}
	if got := Rate(p, stats); got == nil || *got != 62.5 {
		t.Errorf("Rate = %v, want 62.5", got)
	}
}

func TestRate_StoredZeroPricePerArea(t *testing.T) {
	stats := &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(2500.0)}
	p := &models.Property{Price: 0, PricePerArea: ptr(0.0)}
	if got := Rate(p, stats); got == nil || *got != 100 {
		t.Errorf("Rate = %v, want 100", got)
	}
}

func TestRate_Unknown(t *testing.T) {
	withArea := &models.Property{Price: 200000, SurfaceArea: ptr(100.0)}
	noArea := &models.Property{Price: 200000}

	cases := map[string]struct {
		p     *models.Property
		stats *models.NeighborhoodStats
	}{
		"no stats":          {withArea, nil},
		"no average":        {withArea, &models.NeighborhoodStats{City: "Tunis"}},
		"zero average":      {withArea, &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(0.0)}},
		"no price per area": {noArea, &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(2500.0)}},
	}
	for name, c := range cases {
		if got := Rate(c.p, c.stats); got != nil {
			t.Errorf("%s: Rate = %v, want nil", name, *got)
		}
	}
}

func TestFairValue(t *testing.T) {
	stats := &models.NeighborhoodStats{City: "Tunis", AvgPricePerArea: ptr(2333.333)}
	p := &models.Property{Price: 200000, SurfaceArea: ptr(90.0)}
	if got := FairValue(p, stats); got == nil || *got != 209999.97 {
		t.Errorf("FairValue = %v, want 209999.97", got)
	}
	if got := FairValue(&models.Property{Price: 1}, stats); got != nil {
		t.Errorf("FairValue without surface = %v, want nil", *got)
	}
}
