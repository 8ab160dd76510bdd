package normalize

import (
	"strings"

	"tunishome/identity"
	"tunishome/models"
)

const defaultCurrency = "TND"

// Normalizer turns a RawListing into a Property. It holds no clock and does no I/O,
// so the same input always yields the same output.
type Normalizer struct{}

func New() *Normalizer {
	return &Normalizer{}
}

// Normalize rejects a record with a *models.NormalizationError when a required field
// cannot be derived; such failures are deterministic and never worth retrying.
func (n *Normalizer) Normalize(raw *models.RawListing) (*models.Property, error) {
	fail := func(field, reason string) error {
		return &models.NormalizationError{URL: raw.SourceURL, Field: field, Reason: reason}
	}

	sourceURL, err := identity.CanonicalURL(raw.SourceURL)
	if err != nil {
		return nil, fail("source_url", err.Error())
	}
	if !raw.Source.Valid() {
		return nil, fail("source", "unknown source "+string(raw.Source))
	}
	title := CleanDescription(raw.Title)
	if title == "" {
		return nil, fail("title", "empty")
	}

	price, onRequest, ok := ParsePrice(raw.PriceText)
	if !ok {
		return nil, fail("price", "unparseable price "+quote(raw.PriceText))
	}

	description := CleanDescription(raw.Description)

	p := &models.Property{
		SourceURL:      sourceURL,
		Source:         raw.Source,
		Status:         models.StatusActive,
		ListingType:    ClassifyListingType(sourceURL, title, description),
		Type:           ClassifyPropertyType(title, description),
		Title:          title,
		Description:    description,
		Price:          price,
		PriceOnRequest: onRequest,
		Currency:       defaultCurrency,
		IsNegotiable:   IsNegotiable(description, raw.PriceText),
		Features:       ExtractFeatures(title, description),
		Images:         dedupe(raw.ImageURLs),
	}

	surfaceField, _ := raw.Field("surface", "superficie")
	p.SurfaceArea = parseSurface(surfaceField, title, description)

	roomsField, _ := raw.Field("pièces", "pieces", "chambres", "nombre de pièces")
	p.Rooms = parseRooms(roomsField, title, description)

	bathsField, _ := raw.Field("salles de bain", "salle de bain", "sdb")
	p.Bathrooms = parseBathrooms(bathsField, title, description)

	floorField, _ := raw.Field("étage", "etage")
	p.Floor = parseFloor(floorField, title, description)

	if p.Price > 0 && p.SurfaceArea != nil && *p.SurfaceArea > 0 {
		ppa := round(p.Price / *p.SurfaceArea, 2)
		p.PricePerArea = &ppa
	}

	p.City, p.Region = ParseLocation(raw.LocationText)

	if phone := strings.TrimSpace(raw.ContactPhone); phone != "" {
		p.ContactPhone = &phone
	}
	if email := strings.ToLower(strings.TrimSpace(raw.ContactEmail)); strings.Contains(email, "@") {
		p.ContactEmail = &email
	}

	if err := p.Validate(); err != nil {
		return nil, fail("record", err.Error())
	}
	return p, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func quote(s string) string {
	return "\"" + s + "\""
}
