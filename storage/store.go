package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tunishome/models"
)

// ErrDuplicate means an insert lost a race on a unique key.
var ErrDuplicate = errors.New("duplicate key")

// PropertyStore is the persistent side of the upsert client. Lookups return
// (nil, nil) when nothing matches.
type PropertyStore interface {
	GetPropertyBySourceURL(ctx context.Context, sourceURL string) (*models.Property, error)
	InsertProperty(ctx context.Context, p *models.Property) error
	UpdateProperty(ctx context.Context, p *models.Property) error
	SyncImages(ctx context.Context, propertyID uuid.UUID, urls []string, prune bool) error
	ListImages(ctx context.Context, propertyID uuid.UUID) ([]models.PropertyImage, error)
	ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error)
	UpdateDealRating(ctx context.Context, id uuid.UUID, rating, fairValue *float64) error
	UpdateCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, geohash string) error
	// MarkGeocodeAttempt records a failed lookup; missing-coordinate listings order by it.
	MarkGeocodeAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	CountProperties(ctx context.Context) (int, error)
}

type StatsStore interface {
	// ReplaceNeighborhoodStats swaps the whole table atomically; keys not in stats disappear.
	ReplaceNeighborhoodStats(ctx context.Context, stats []models.NeighborhoodStats) error
	ListNeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error)
}

type ImageStore interface {
	ListPendingImages(ctx context.Context, limit int) ([]models.PropertyImage, error)
	MarkImageMirrored(ctx context.Context, id uuid.UUID, storageKey, contentHash string) error
	MarkImageAttempt(ctx context.Context, id uuid.UUID, attempts int, status string) error
}

type Store interface {
	PropertyStore
	StatsStore
	ImageStore
}
