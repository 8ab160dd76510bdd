package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"tunishome/identity"
)

// ErrInvalidEnum is returned when a value falls outside one of the closed sets below.
var ErrInvalidEnum = errors.New("invalid enum value")

type Source string

const (
	SourceTunisieAnnonce Source = "TUNISIE_ANNONCE"
	SourceTayara         Source = "TAYARA"
	SourceMubawab        Source = "MUBAWAB"
	SourceManual         Source = "MANUAL"
)

var sources = []Source{SourceTunisieAnnonce, SourceTayara, SourceMubawab, SourceManual}

func ParseSource(s string) (Source, error) {
	return parseEnum("source", s, sources)
}

func (s Source) Valid() bool { return contains(sources, s) }

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusSold     Status = "SOLD"
	StatusRented   Status = "RENTED"
	StatusInactive Status = "INACTIVE"
)

var statuses = []Status{StatusActive, StatusSold, StatusRented, StatusInactive}

func ParseStatus(s string) (Status, error) {
	return parseEnum("status", s, statuses)
}

func (s Status) Valid() bool { return contains(statuses, s) }

type ListingType string

const (
	ListingRent ListingType = "RENT"
	ListingSale ListingType = "SALE"
)

var listingTypes = []ListingType{ListingRent, ListingSale}

func ParseListingType(s string) (ListingType, error) {
	return parseEnum("listing type", s, listingTypes)
}

func (l ListingType) Valid() bool { return contains(listingTypes, l) }

type PropertyType string

const (
	PropertyApartment  PropertyType = "APARTMENT"
	PropertyStudio     PropertyType = "STUDIO"
	PropertyHouse      PropertyType = "HOUSE"
	PropertyVilla      PropertyType = "VILLA"
	PropertyDuplex     PropertyType = "DUPLEX"
	PropertyPenthouse  PropertyType = "PENTHOUSE"
	PropertyLand       PropertyType = "LAND"
	PropertyOffice     PropertyType = "OFFICE"
	PropertyCommercial PropertyType = "COMMERCIAL"
	PropertyFarm       PropertyType = "FARM"
)

var propertyTypes = []PropertyType{
	PropertyApartment, PropertyStudio, PropertyHouse, PropertyVilla, PropertyDuplex,
	PropertyPenthouse, PropertyLand, PropertyOffice, PropertyCommercial, PropertyFarm,
}

func ParsePropertyType(s string) (PropertyType, error) {
	return parseEnum("property type", s, propertyTypes)
}

func (p PropertyType) Valid() bool { return contains(propertyTypes, p) }

func parseEnum[T ~string](kind, raw string, set []T) (T, error) {
	v := T(strings.ToUpper(strings.TrimSpace(raw)))
	if contains(set, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", ErrInvalidEnum, kind, raw)
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// WriteOrigin tells the upsert client which path a write came from.
type WriteOrigin int

const (
	OriginScrape WriteOrigin = iota
	OriginEnrichment
)

// Property is the normalized, persisted form of a listing. Identity is SourceURL.
type Property struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	SourceURL   string        `json:"source_url" db:"source_url"`
	Source      Source        `json:"source" db:"source"`
	Status      Status        `json:"status" db:"status"`
	ListingType ListingType   `json:"listing_type" db:"listing_type"`
	Type        *PropertyType `json:"property_type" db:"property_type"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description" db:"description"`

	Price              float64  `json:"price" db:"price"`
	PriceOnRequest     bool     `json:"price_on_request" db:"price_on_request"`
	Currency           string   `json:"currency" db:"currency"`
	PricePerArea       *float64 `json:"price_per_area" db:"price_per_area"`
	IsNegotiable       bool     `json:"is_negotiable" db:"is_negotiable"`
	EstimatedFairValue *float64 `json:"estimated_fair_value" db:"estimated_fair_value"`

	SurfaceArea *float64 `json:"surface_area" db:"surface_area"`
	Rooms       *int     `json:"rooms" db:"rooms"`
	Bathrooms   *int     `json:"bathrooms" db:"bathrooms"`
	Floor       *int     `json:"floor" db:"floor"`
	TotalFloors *int     `json:"total_floors" db:"total_floors"`

	City      *string  `json:"city" db:"city"`
	Region    *string  `json:"region" db:"region"`
	Latitude  *float64 `json:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude" db:"longitude"`
	Geohash   string   `json:"geohash" db:"geohash"`

	ContactPhone *string `json:"contact_phone" db:"contact_phone"`
	ContactEmail *string `json:"contact_email" db:"contact_email"`

	Features []string `json:"features" db:"features"`
	Images   []string `json:"images" db:"-"`

	// Rating-owned
	DealRating *float64 `json:"deal_rating" db:"deal_rating"`

	// Enrichment-owned: nil means "not supplied" and never clears a stored value.
	AITags               []string  `json:"ai_tags" db:"ai_tags"`
	AIDescription        *string   `json:"ai_description" db:"ai_description"`
	RenovationScore      *float64  `json:"renovation_score" db:"renovation_score"`
	DescriptionEmbedding []float32 `json:"description_embedding,omitempty" db:"description_embedding"`

	ScrapedAt *time.Time `json:"scraped_at" db:"scraped_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// SetCoordinates keeps latitude and longitude paired.
func (p *Property) SetCoordinates(lat, lon float64, hash string) {
	p.Latitude = &lat
	p.Longitude = &lon
	p.Geohash = hash
}

func (p *Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// AreaPrice returns the stored price-per-area, or derives it when both inputs are positive.
func (p *Property) AreaPrice() *float64 {
	if p.PricePerArea != nil {
		return p.PricePerArea
	}
	if p.SurfaceArea == nil || *p.SurfaceArea <= 0 || p.Price <= 0 {
		return nil
	}
	v := p.Price / *p.SurfaceArea
	return &v
}

// Validate checks the fields a persisted row must always carry.
func (p *Property) Validate() error {
	if p.SourceURL == "" {
		return errors.New("source url is required")
	}
	if !p.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidEnum, p.Source)
	}
	if !p.ListingType.Valid() {
		return fmt.Errorf("%w: listing type %q", ErrInvalidEnum, p.ListingType)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidEnum, p.Status)
	}
	if p.Type != nil && !p.Type.Valid() {
		return fmt.Errorf("%w: property type %q", ErrInvalidEnum, *p.Type)
	}
	if p.Price < 0 {
		return errors.New("price must be non-negative")
	}
	if p.DealRating != nil && (*p.DealRating < 0 || *p.DealRating > 100) {
		return fmt.Errorf("deal rating %.2f out of range", *p.DealRating)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return errors.New("latitude and longitude must be set together")
	}
	return nil
}

// MergeProperty folds an incoming write into the stored row. Identity and createdAt
// always come from existing. A scrape write replaces scrape-owned fields; an
// enrichment write only touches the enrichment fields it supplies. Enrichment and
// rating fields survive a scrape unless the incoming record carries a value.
func MergeProperty(existing, incoming *Property, origin WriteOrigin, now time.Time) *Property {
	var merged Property
	if origin == OriginEnrichment {
		merged = *existing
	} else {
		merged = *incoming
		merged.ScrapedAt = &now
		if !incoming.HasCoordinates() && existing.HasCoordinates() && sameLocality(existing, incoming) {
			merged.Latitude = existing.Latitude
			merged.Longitude = existing.Longitude
			merged.Geohash = existing.Geohash
		}
	}
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.UpdatedAt = now

	merged.AITags = pick(incoming.AITags, existing.AITags)
	merged.DescriptionEmbedding = pick(incoming.DescriptionEmbedding, existing.DescriptionEmbedding)
	merged.AIDescription = pickPtr(incoming.AIDescription, existing.AIDescription)
	merged.RenovationScore = pickPtr(incoming.RenovationScore, existing.RenovationScore)
	merged.DealRating = pickPtr(incoming.DealRating, existing.DealRating)
	merged.EstimatedFairValue = pickPtr(incoming.EstimatedFairValue, existing.EstimatedFairValue)

	return &merged
}

// WriteSet is what an update sends to the store: the merged scrape-owned fields, plus
// only the rating, enrichment and coordinate values the incoming write supplied. A nil
// there leaves the column as stored at write time, so a rating or geocode that landed
// between the read and the write survives. Stored coordinates are dropped by the store
// only when the locality changed.
func WriteSet(merged, incoming *Property) *Property {
	w := *merged
	w.DealRating = incoming.DealRating
	w.EstimatedFairValue = incoming.EstimatedFairValue
	w.AITags = incoming.AITags
	w.AIDescription = incoming.AIDescription
	w.RenovationScore = incoming.RenovationScore
	w.DescriptionEmbedding = incoming.DescriptionEmbedding
	if !incoming.HasCoordinates() {
		w.Latitude, w.Longitude, w.Geohash = nil, nil, ""
	}
	return &w
}

func pick[T any](incoming, existing []T) []T {
	if incoming != nil {
		return incoming
	}
	return existing
}

func pickPtr[T any](incoming, existing *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}

func sameLocality(a, b *Property) bool {
	return a.LocalityKey() == b.LocalityKey()
}

// LocalityKey is empty for properties without a city.
func (p *Property) LocalityKey() string {
	if p.City == nil || *p.City == "" {
		return ""
	}
	return identity.LocalityKey(*p.City, p.Region)
}
