package normalize

import (
	"errors"
	"slices"
	"testing"

	"tunishome/models"
)

func raw(title, desc, price string) *models.RawListing {
	return &models.RawListing{
		SourceURL:    "http://www.tunisie-annonce.com/Details_Annonces_Immobilier.asp?cod_ann=123",
		Source:       models.SourceTunisieAnnonce,
		Title:        title,
		Description:  desc,
		PriceText:    price,
		LocationText: "Tunisie > Bizerte > Bizerte Nord > Bizerte",
	}
}

func TestNormalizeApartmentForRent(t *testing.T) {
	p, err := New().Normalize(raw("Appartement S+2 à louer", "Bel appartement au 2ème étage", "850 DT"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Type == nil || *p.Type != models.PropertyApartment {
		t.Errorf("type = %v, want APARTMENT", p.Type)
	}
	if p.ListingType != models.ListingRent {
		t.Errorf("listing type = %s, want RENT", p.ListingType)
	}
	if p.Rooms == nil || *p.Rooms != 2 {
		t.Errorf("rooms = %v, want 2", p.Rooms)
	}
	if p.Floor == nil || *p.Floor != 2 {
		t.Errorf("floor = %v, want 2", p.Floor)
	}
	if p.Price != 850 {
		t.Errorf("price = %v, want 850", p.Price)
	}
	if p.Status != models.StatusActive || p.Currency != "TND" {
		t.Errorf("status/currency = %s/%s", p.Status, p.Currency)
	}
}

func TestNormalizeVillaForSale(t *testing.T) {
	p, err := New().Normalize(raw("Villa à vendre avec parking et piscine", "", "1.250.000 DT"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Type == nil || *p.Type != models.PropertyVilla {
		t.Errorf("type = %v, want VILLA", p.Type)
	}
	if p.ListingType != models.ListingSale {
		t.Errorf("listing type = %s, want SALE", p.ListingType)
	}
	for _, f := range []string{"parking", "pool"} {
		if !slices.Contains(p.Features, f) {
			t.Errorf("features %v missing %q", p.Features, f)
		}
	}
	if p.Price != 1250000 {
		t.Errorf("price = %v, want 1250000", p.Price)
	}
}

func TestNormalizeListingTypeTieIsSale(t *testing.T) {
	p, err := New().Normalize(raw("Maison à louer ou à vendre", "", "300000"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.ListingType != models.ListingSale {
		t.Errorf("listing type = %s, want SALE on tie", p.ListingType)
	}

	p, err = New().Normalize(raw("Maison", "", "300000"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.ListingType != models.ListingSale {
		t.Errorf("listing type = %s, want SALE with no cues", p.ListingType)
	}
}

func TestNormalizePricePerArea(t *testing.T) {
	r := raw("Appartement à vendre", "", "200 000 DT")
	r.Fields = map[string]string{"surface": "120 m²"}
	p, err := New().Normalize(r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.SurfaceArea == nil || *p.SurfaceArea != 120 {
		t.Fatalf("surface = %v, want 120", p.SurfaceArea)
	}
	if p.PricePerArea == nil || *p.PricePerArea != 1666.67 {
		t.Errorf("price per area = %v, want 1666.67", p.PricePerArea)
	}

	cases := map[string]map[string]string{
		"no surface":   nil,
		"zero surface": {"surface": "0 m²"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			r := raw("Appartement à vendre", "", "200 000 DT")
			r.Fields = fields
			p, err := New().Normalize(r)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if p.PricePerArea != nil {
				t.Errorf("price per area = %v, want nil", *p.PricePerArea)
			}
		})
	}
}

func TestNormalizePriceOnRequest(t *testing.T) {
	r := raw("Terrain à vendre 500 m2", "", "Prix sur demande")
	p, err := New().Normalize(r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !p.PriceOnRequest || p.Price != 0 {
		t.Errorf("price = %v onRequest = %v", p.Price, p.PriceOnRequest)
	}
	if p.PricePerArea != nil {
		t.Errorf("price per area should be nil when price is on request")
	}
	if p.Type == nil || *p.Type != models.PropertyLand {
		t.Errorf("type = %v, want LAND", p.Type)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in        string
		want      float64
		onRequest bool
		ok        bool
	}{
		{"850 DT", 850, false, true},
		{"1.250.000 DT", 1250000, false, true},
		{"350 000 DT à discuter", 350000, false, true},
		{"1,5 million DT", 1500000, false, true},
		{"2,5 millions de dinars", 2500000, false, true},
		{"250 mille DT", 250000, false, true},
		{"250k", 250000, false, true},
		{"350 MD", 350000, false, true},
		{"1\u00a0200 mille", 1200000, false, true},
		{"Prix sur demande", 0, true, true},
		{"N/C", 0, true, true},
		{"appelez-moi", 0, false, false},
	}
	for _, tt := range tests {
		got, onRequest, ok := ParsePrice(tt.in)
		if got != tt.want || onRequest != tt.onRequest || ok != tt.ok {
			t.Errorf("ParsePrice(%q) = %v, %v, %v; want %v, %v, %v", tt.in, got, onRequest, ok, tt.want, tt.onRequest, tt.ok)
		}
	}
}

func TestNormalizeNegotiablePriceKeepsAmount(t *testing.T) {
	p, err := New().Normalize(raw("Villa à vendre", "", "350 000 DT à discuter"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Price != 350000 || p.PriceOnRequest {
		t.Errorf("price = %v onRequest = %v, want 350000 false", p.Price, p.PriceOnRequest)
	}
	if !p.IsNegotiable {
		t.Error("expected negotiable")
	}
}

func TestExtractFeaturesWholeWords(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Appartement dans un immeuble neuf", []string{}},
		{"Vue dégagée, bien regardé par les voisins", []string{}},
		{"Appartement meublée avec climatiseurs", []string{"furnished", "air_conditioning"}},
		{"Résidence sécurisée, espaces verts", []string{"garden", "security"}},
		{"Parking, A/C", []string{"parking", "air_conditioning"}},
	}
	for _, tt := range tests {
		if got := ExtractFeatures(tt.text); !slices.Equal(got, tt.want) {
			t.Errorf("ExtractFeatures(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassifyRoomNotation(t *testing.T) {
	tests := []struct {
		title string
		want  models.PropertyType
	}{
		{"S+1 à louer à Ennasr", models.PropertyApartment},
		{"S + 3 à vendre", models.PropertyApartment},
		{"s1 meublé à louer", models.PropertyStudio},
		{"Studio à La Marsa", models.PropertyStudio},
	}
	for _, tt := range tests {
		got := ClassifyPropertyType(tt.title, "")
		if got == nil || *got != tt.want {
			t.Errorf("ClassifyPropertyType(%q) = %v, want %s", tt.title, got, tt.want)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   *models.RawListing
		field string
	}{
		{"bad price", raw("Appartement", "", "appelez-moi"), "price"},
		{"empty price", raw("Appartement", "", ""), "price"},
		{"empty title", raw("   ", "", "1000"), "title"},
		{"relative url", func() *models.RawListing {
			r := raw("Appartement", "", "1000")
			r.SourceURL = "/Details.asp?cod_ann=1"
			return r
		}(), "source_url"},
		{"unknown source", func() *models.RawListing {
			r := raw("Appartement", "", "1000")
			r.Source = "FACEBOOK"
			return r
		}(), "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Normalize(tt.raw)
			var nerr *models.NormalizationError
			if !errors.As(err, &nerr) {
				t.Fatalf("err = %v, want NormalizationError", err)
			}
			if nerr.Field != tt.field {
				t.Errorf("field = %q, want %q", nerr.Field, tt.field)
			}
			if models.Retryable(err) {
				t.Errorf("normalization errors must not be retryable")
			}
		})
	}
}

func TestNormalizeBathroomsAndLocation(t *testing.T) {
	r := raw("Duplex à vendre", "Deux chambres, 2 salles de bain, jardin", "450 000")
	r.ContactPhone = " 98 123 456 "
	r.ContactEmail = "Owner@Example.TN"
	p, err := New().Normalize(r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Bathrooms == nil || *p.Bathrooms != 2 {
		t.Errorf("bathrooms = %v, want 2", p.Bathrooms)
	}
	if p.City == nil || *p.City != "Bizerte Nord" {
		t.Errorf("city = %v, want Bizerte Nord", p.City)
	}
	if p.Region == nil || *p.Region != "Bizerte" {
		t.Errorf("region = %v, want Bizerte", p.Region)
	}
	if p.ContactPhone == nil || *p.ContactPhone != "98 123 456" {
		t.Errorf("phone = %v", p.ContactPhone)
	}
	if p.ContactEmail == nil || *p.ContactEmail != "owner@example.tn" {
		t.Errorf("email = %v", p.ContactEmail)
	}

	r = raw("Studio", "Salle de bain refaite", "500")
	p, err = New().Normalize(r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Bathrooms == nil || *p.Bathrooms != 1 {
		t.Errorf("bare mention: bathrooms = %v, want 1", p.Bathrooms)
	}
}

func TestNormalizeNegotiableDefaultsFalse(t *testing.T) {
	p, err := New().Normalize(raw("Appartement", "", "1000"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.IsNegotiable {
		t.Error("is negotiable should default to false")
	}
	if p.Features == nil {
		t.Error("features should never be nil")
	}

	p, err = New().Normalize(raw("Appartement", "Prix négociable", "1000"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !p.IsNegotiable {
		t.Error("expected negotiable")
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	r := raw("Appartement S+3 à vendre", "Ascenseur, parking, 3ème étage, 140 m²", "380.000 DT")
	a, err := New().Normalize(r)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New().Normalize(r)
	if err != nil {
		t.Fatal(err)
	}
	if a.Title != b.Title || *a.PricePerArea != *b.PricePerArea || !slices.Equal(a.Features, b.Features) {
		t.Errorf("normalize not deterministic: %+v vs %+v", a, b)
	}
}

func TestParseLocationSingleCrumbIsCity(t *testing.T) {
	city, region := ParseLocation("Tunisie > la marsa")
	if city == nil || *city != "La Marsa" || region != nil {
		t.Errorf("city, region = %v, %v; want La Marsa, nil", city, region)
	}

	city, region = ParseLocation("Tunisie > Bizerte > Bizerte Nord > Bizerte")
	if city == nil || *city != "Bizerte Nord" || region == nil || *region != "Bizerte" {
		t.Errorf("city, region = %v, %v", city, region)
	}
}
