package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tunishome/geo"
	"tunishome/models"
)

type MissingCoordinatesLister interface {
	MissingCoordinates(ctx context.Context, limit int) ([]models.Property, error)
	ApplyCoordinates(ctx context.Context, id uuid.UUID, pt geo.Point) error
	RecordGeocodeMiss(ctx context.Context, id uuid.UUID) error
}

type Geocoder interface {
	GeocodeBatch(ctx context.Context, localities []geo.Locality) map[string]*geo.Point
}

// GeocodeWorker fills coordinates for properties persisted without them. It writes
// nothing but latitude, longitude, geohash and the attempt marker.
type GeocodeWorker struct {
	properties MissingCoordinatesLister
	geocoder   Geocoder
	trigger    chan struct{}
}

func NewGeocodeWorker(properties MissingCoordinatesLister, geocoder Geocoder) *GeocodeWorker {
	return &GeocodeWorker{
		properties: properties,
		geocoder:   geocoder,
		trigger:    make(chan struct{}, 1),
	}
}

func (w *GeocodeWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	loop(ctx, "geocode", interval, w.trigger, func(ctx context.Context) {
		w.ProcessBatch(ctx, batchSize)
	})
}

func (w *GeocodeWorker) Trigger() {
	wake(w.trigger)
}

// ProcessBatch geocodes up to batchSize properties, one lookup per locality. Misses
// are marked so the next sweep tries other rows first.
func (w *GeocodeWorker) ProcessBatch(ctx context.Context, batchSize int) (located, missed int) {
	props, err := w.properties.MissingCoordinates(ctx, batchSize)
	if err != nil {
		slog.Error("geocode worker: list properties", "err", err)
		return 0, 0
	}
	if len(props) == 0 {
		return 0, 0
	}

	localities := make([]geo.Locality, 0, len(props))
	for _, p := range props {
		if p.City != nil {
			localities = append(localities, geo.Locality{City: *p.City, Region: p.Region})
		}
	}
	points := w.geocoder.GeocodeBatch(ctx, localities)

	for i := range props {
		p := &props[i]
		if p.City == nil {
			continue
		}
		pt, tried := points[geo.Locality{City: *p.City, Region: p.Region}.Key()]
		if !tried {
			// cancelled before this locality was looked up
			continue
		}
		if pt == nil {
			missed++
			if err := w.properties.RecordGeocodeMiss(ctx, p.ID); err != nil {
				slog.Error("geocode worker: record miss", "url", p.SourceURL, "err", err)
			}
			continue
		}
		if err := w.properties.ApplyCoordinates(ctx, p.ID, *pt); err != nil {
			slog.Error("geocode worker: apply coordinates", "url", p.SourceURL, "err", err)
			missed++
			continue
		}
		located++
	}

	slog.Info("geocode worker: sweep done", "localities", len(points), "located", located, "missed", missed)
	return located, missed
}
