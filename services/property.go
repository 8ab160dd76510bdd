package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tunishome/events"
	"tunishome/geo"
	"tunishome/identity"
	"tunishome/models"
	"tunishome/storage"
)

// maxUpsertAttempts bounds how often an insert that lost a unique-key race is retried as an update.
const maxUpsertAttempts = 3

// PropertyService is the deduplicating upsert client. SourceURL is the identity key.
type PropertyService struct {
	store       storage.PropertyStore
	publisher   events.Publisher
	pruneImages bool
	now         func() time.Time
}

func NewPropertyService(store storage.PropertyStore, publisher events.Publisher, pruneImages bool) *PropertyService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &PropertyService{
		store:       store,
		publisher:   publisher,
		pruneImages: pruneImages,
		now:         time.Now,
	}
}

type UpsertResult struct {
	ID       uuid.UUID
	Inserted bool
}

// Upsert inserts p or merges it into the stored row with the same SourceURL.
// Store failures come back as *models.PersistenceError.
func (s *PropertyService) Upsert(ctx context.Context, p *models.Property, origin models.WriteOrigin) (*UpsertResult, error) {
	if err := p.Validate(); err != nil {
		return nil, &models.NormalizationError{URL: p.SourceURL, Field: "record", Reason: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		res, err := s.upsertOnce(ctx, p, origin)
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Debug("upsert lost insert race, retrying as update", "url", p.SourceURL, "attempt", attempt)
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		s.publish(ctx, events.Event{
			Type:       events.TypePropertyUpserted,
			PropertyID: res.ID,
			SourceURL:  p.SourceURL,
			Inserted:   res.Inserted,
		})
		return res, nil
	}
	return nil, &models.PersistenceError{
		URL: p.SourceURL,
		Op:  "upsert",
		Err: fmt.Errorf("gave up after %d attempts: %w", maxUpsertAttempts, lastErr),
	}
}

func (s *PropertyService) upsertOnce(ctx context.Context, p *models.Property, origin models.WriteOrigin) (*UpsertResult, error) {
	fail := func(op string, err error) error {
		return &models.PersistenceError{URL: p.SourceURL, Op: op, Err: err}
	}
	now := s.now().UTC()

	existing, err := s.store.GetPropertyBySourceURL(ctx, p.SourceURL)
	if err != nil {
		return nil, fail("get", err)
	}

	var (
		record   *models.Property
		inserted bool
	)
	if existing == nil {
		rec := *p
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		rec.ScrapedAt = nil
		if origin == models.OriginScrape {
			rec.ScrapedAt = &now
		}
		if err := s.store.InsertProperty(ctx, &rec); err != nil {
			return nil, fail("insert", err)
		}
		record, inserted = &rec, true
	} else {
		record = models.MergeProperty(existing, p, origin, now)
		if err := s.store.UpdateProperty(ctx, models.WriteSet(record, p)); err != nil {
			return nil, fail("update", err)
		}
	}

	if origin == models.OriginScrape {
		if err := s.store.SyncImages(ctx, record.ID, record.Images, s.pruneImages); err != nil {
			return nil, fail("sync images", err)
		}
	}

	return &UpsertResult{ID: record.ID, Inserted: inserted}, nil
}

func (s *PropertyService) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		slog.Warn("publish event failed", "type", e.Type, "url", e.SourceURL, "err", err)
	}
}

// ApplyCoordinates is the sweep path: it only touches latitude, longitude and geohash.
func (s *PropertyService) ApplyCoordinates(ctx context.Context, id uuid.UUID, pt geo.Point) error {
	if err := s.store.UpdateCoordinates(ctx, id, pt.Lat, pt.Lon, geo.Hash(pt)); err != nil {
		return &models.PersistenceError{URL: id.String(), Op: "update coordinates", Err: err}
	}
	return nil
}

// RecordGeocodeMiss moves a property behind never-tried ones in the next sweep.
func (s *PropertyService) RecordGeocodeMiss(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkGeocodeAttempt(ctx, id, s.now().UTC()); err != nil {
		return &models.PersistenceError{URL: id.String(), Op: "mark geocode attempt", Err: err}
	}
	return nil
}

func (s *PropertyService) Count(ctx context.Context) (int, error) {
	return s.store.CountProperties(ctx)
}

func (s *PropertyService) Exists(ctx context.Context, sourceURL string) (bool, error) {
	canonical, err := identity.CanonicalURL(sourceURL)
	if err != nil {
		return false, err
	}
	p, err := s.store.GetPropertyBySourceURL(ctx, canonical)
	if err != nil {
		return false, fmt.Errorf("get property: %w", err)
	}
	return p != nil, nil
}

// MissingCoordinates lists active properties that have a city but no coordinates,
// never-tried rows first, then by oldest failed attempt.
func (s *PropertyService) MissingCoordinates(ctx context.Context, limit int) ([]models.Property, error) {
	return s.store.ListProperties(ctx, models.PropertyFilter{
		Status:             models.StatusActive,
		MissingCoordinates: true,
		Limit:              limit,
	})
}
