package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunishome/models"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	byURL  map[string]*models.Property
	byID   map[uuid.UUID]string
	images map[uuid.UUID][]models.PropertyImage
	stats  []models.NeighborhoodStats

	geocodeAttempts map[uuid.UUID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byURL:  make(map[string]*models.Property),
		byID:   make(map[uuid.UUID]string),
		images: make(map[uuid.UUID][]models.PropertyImage),

		geocodeAttempts: make(map[uuid.UUID]time.Time),
	}
}

func cloneProperty(p *models.Property) *models.Property {
	c := *p
	c.Features = slices.Clone(p.Features)
	c.Images = slices.Clone(p.Images)
	c.AITags = slices.Clone(p.AITags)
	c.DescriptionEmbedding = slices.Clone(p.DescriptionEmbedding)
	return &c
}

func (s *MemoryStore) GetPropertyBySourceURL(ctx context.Context, sourceURL string) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byURL[sourceURL]
	if !ok {
		return nil, nil
	}
	c := cloneProperty(p)
	c.Images = nil
	for _, img := range s.images[p.ID] {
		c.Images = append(c.Images, img.URL)
	}
	return c, nil
}

func (s *MemoryStore) InsertProperty(ctx context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[p.SourceURL]; exists {
		return fmt.Errorf("insert property %s: %w", p.SourceURL, ErrDuplicate)
	}
	s.byURL[p.SourceURL] = cloneProperty(p)
	s.byID[p.ID] = p.SourceURL
	return nil
}

func (s *MemoryStore) UpdateProperty(ctx context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldURL, ok := s.byID[p.ID]
	if !ok {
		return fmt.Errorf("update property %s: not found", p.ID)
	}
	stored := s.byURL[oldURL]
	if oldURL != p.SourceURL {
		if _, taken := s.byURL[p.SourceURL]; taken {
			return fmt.Errorf("update property %s: %w", p.SourceURL, ErrDuplicate)
		}
		delete(s.byURL, oldURL)
	}
	if stored != nil && stored.LocalityKey() != p.LocalityKey() {
		delete(s.geocodeAttempts, p.ID)
	}
	s.byURL[p.SourceURL] = keepStored(cloneProperty(p), stored)
	s.byID[p.ID] = p.SourceURL
	return nil
}

// keepStored mirrors the COALESCE rules of the Postgres update.
func keepStored(next, stored *models.Property) *models.Property {
	if stored == nil {
		return next
	}
	if next.DealRating == nil {
		next.DealRating = stored.DealRating
	}
	if next.EstimatedFairValue == nil {
		next.EstimatedFairValue = stored.EstimatedFairValue
	}
	if next.AITags == nil {
		next.AITags = slices.Clone(stored.AITags)
	}
	if next.AIDescription == nil {
		next.AIDescription = stored.AIDescription
	}
	if next.RenovationScore == nil {
		next.RenovationScore = stored.RenovationScore
	}
	if next.DescriptionEmbedding == nil {
		next.DescriptionEmbedding = slices.Clone(stored.DescriptionEmbedding)
	}
	if !next.HasCoordinates() {
		next.Latitude, next.Longitude, next.Geohash = nil, nil, ""
		if stored.LocalityKey() == next.LocalityKey() {
			next.Latitude, next.Longitude, next.Geohash = stored.Latitude, stored.Longitude, stored.Geohash
		}
	}
	return next
}

func (s *MemoryStore) SyncImages(ctx context.Context, propertyID uuid.UUID, urls []string, prune bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]models.PropertyImage)
	for _, img := range s.images[propertyID] {
		existing[img.URL] = img
	}

	var next []models.PropertyImage
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		img, ok := existing[u]
		if !ok {
			img = models.PropertyImage{
				ID:           uuid.New(),
				PropertyID:   propertyID,
				URL:          u,
				MirrorStatus: models.MirrorStatusPending,
			}
		}
		img.Position = len(next)
		img.IsPrimary = img.Position == 0
		next = append(next, img)
	}
	if !prune {
		for _, img := range s.images[propertyID] {
			if !seen[img.URL] {
				img.IsPrimary = false
				next = append(next, img)
			}
		}
	}
	s.images[propertyID] = next
	return nil
}

func (s *MemoryStore) ListImages(ctx context.Context, propertyID uuid.UUID) ([]models.PropertyImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.images[propertyID]), nil
}

func (s *MemoryStore) ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Property
	for _, p := range s.byURL {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if len(filter.LocalityKeys) > 0 && !slices.Contains(filter.LocalityKeys, p.LocalityKey()) {
			continue
		}
		if filter.MissingCoordinates && (p.HasCoordinates() || p.LocalityKey() == "") {
			continue
		}
		out = append(out, *cloneProperty(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.MissingCoordinates {
			ai, aj := s.geocodeAttempts[out[i].ID], s.geocodeAttempts[out[j].ID]
			if !ai.Equal(aj) {
				return ai.Before(aj)
			}
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SourceURL < out[j].SourceURL
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) byIDLocked(id uuid.UUID) (*models.Property, error) {
	url, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("property %s: not found", id)
	}
	return s.byURL[url], nil
}

func (s *MemoryStore) UpdateDealRating(ctx context.Context, id uuid.UUID, rating, fairValue *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.byIDLocked(id)
	if err != nil {
		return err
	}
	p.DealRating = rating
	p.EstimatedFairValue = fairValue
	return nil
}

func (s *MemoryStore) UpdateCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, geohash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.byIDLocked(id)
	if err != nil {
		return err
	}
	p.SetCoordinates(lat, lon, geohash)
	return nil
}

func (s *MemoryStore) MarkGeocodeAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.byIDLocked(id); err != nil {
		return err
	}
	s.geocodeAttempts[id] = at
	return nil
}

func (s *MemoryStore) CountProperties(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL), nil
}

func (s *MemoryStore) ReplaceNeighborhoodStats(ctx context.Context, stats []models.NeighborhoodStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = slices.Clone(stats)
	return nil
}

func (s *MemoryStore) ListNeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.stats)
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) ListPendingImages(ctx context.Context, limit int) ([]models.PropertyImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PropertyImage
	for _, imgs := range s.images {
		for _, img := range imgs {
			if img.MirrorStatus == models.MirrorStatusPending {
				out = append(out, img)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PropertyID != out[j].PropertyID {
			return out[i].PropertyID.String() < out[j].PropertyID.String()
		}
		return out[i].Position < out[j].Position
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) updateImage(id uuid.UUID, fn func(*models.PropertyImage)) error {
	for pid, imgs := range s.images {
		for i := range imgs {
			if imgs[i].ID == id {
				fn(&s.images[pid][i])
				return nil
			}
		}
	}
	return fmt.Errorf("image %s: not found", id)
}

func (s *MemoryStore) MarkImageMirrored(ctx context.Context, id uuid.UUID, storageKey, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateImage(id, func(img *models.PropertyImage) {
		img.MirrorStatus = models.MirrorStatusMirrored
		img.StorageKey = &storageKey
		img.ContentHash = &contentHash
		img.Attempts++
	})
}

func (s *MemoryStore) MarkImageAttempt(ctx context.Context, id uuid.UUID, attempts int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateImage(id, func(img *models.PropertyImage) {
		img.Attempts = attempts
		img.MirrorStatus = status
	})
}
