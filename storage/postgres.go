package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tunishome/models"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id UUID PRIMARY KEY,
		source_url TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL CHECK (source IN ('TUNISIE_ANNONCE', 'TAYARA', 'MUBAWAB', 'MANUAL')),
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'SOLD', 'RENTED', 'INACTIVE')),
		listing_type TEXT NOT NULL CHECK (listing_type IN ('RENT', 'SALE')),
		property_type TEXT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		price_on_request BOOLEAN NOT NULL DEFAULT FALSE,
		currency TEXT NOT NULL DEFAULT 'TND',
		price_per_area DOUBLE PRECISION,
		is_negotiable BOOLEAN NOT NULL DEFAULT FALSE,
		estimated_fair_value DOUBLE PRECISION,
		surface_area DOUBLE PRECISION,
		rooms INTEGER,
		bathrooms INTEGER,
		floor INTEGER,
		total_floors INTEGER,
		city TEXT,
		region TEXT,
		locality_key TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		geohash TEXT NOT NULL DEFAULT '',
		contact_phone TEXT,
		contact_email TEXT,
		features TEXT[] NOT NULL DEFAULT '{}',
		deal_rating DOUBLE PRECISION CHECK (deal_rating BETWEEN 0 AND 100),
		ai_tags TEXT[],
		ai_description TEXT,
		renovation_score DOUBLE PRECISION,
		description_embedding REAL[],
		scraped_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		geocode_attempted_at TIMESTAMPTZ,
		CHECK ((latitude IS NULL) = (longitude IS NULL))
	);

	ALTER TABLE properties ADD COLUMN IF NOT EXISTS geocode_attempted_at TIMESTAMPTZ;

	CREATE INDEX IF NOT EXISTS idx_properties_locality ON properties(locality_key);
	CREATE INDEX IF NOT EXISTS idx_properties_status ON properties(status);

	CREATE TABLE IF NOT EXISTS property_images (
		id UUID PRIMARY KEY,
		property_id UUID NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		position INTEGER NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		storage_key TEXT,
		content_hash TEXT,
		mirror_status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		UNIQUE (property_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_property_images_pending ON property_images(mirror_status);

	CREATE TABLE IF NOT EXISTS neighborhood_stats (
		city TEXT NOT NULL,
		region TEXT,
		locality_key TEXT PRIMARY KEY,
		avg_price_per_area DOUBLE PRECISION,
		median_price_per_area DOUBLE PRECISION,
		median_price DOUBLE PRECISION,
		total_listings INTEGER NOT NULL,
		active_listings INTEGER NOT NULL,
		avg_rent_price DOUBLE PRECISION,
		avg_sale_price DOUBLE PRECISION,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Properties
// =============================================================================

const propertyColumns = `id, source_url, source, status, listing_type, property_type, title, description,
	price, price_on_request, currency, price_per_area, is_negotiable, estimated_fair_value,
	surface_area, rooms, bathrooms, floor, total_floors,
	city, region, latitude, longitude, geohash, contact_phone, contact_email, features,
	deal_rating, ai_tags, ai_description, renovation_score, description_embedding,
	scraped_at, updated_at, created_at`

func scanProperty(row pgx.Row) (*models.Property, error) {
	var p models.Property
	err := row.Scan(
		&p.ID, &p.SourceURL, &p.Source, &p.Status, &p.ListingType, &p.Type, &p.Title, &p.Description,
		&p.Price, &p.PriceOnRequest, &p.Currency, &p.PricePerArea, &p.IsNegotiable, &p.EstimatedFairValue,
		&p.SurfaceArea, &p.Rooms, &p.Bathrooms, &p.Floor, &p.TotalFloors,
		&p.City, &p.Region, &p.Latitude, &p.Longitude, &p.Geohash, &p.ContactPhone, &p.ContactEmail, &p.Features,
		&p.DealRating, &p.AITags, &p.AIDescription, &p.RenovationScore, &p.DescriptionEmbedding,
		&p.ScrapedAt, &p.UpdatedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func propertyArgs(p *models.Property) []any {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return []any{
		p.ID, p.SourceURL, p.Source, p.Status, p.ListingType, p.Type, p.Title, p.Description,
		p.Price, p.PriceOnRequest, p.Currency, p.PricePerArea, p.IsNegotiable, p.EstimatedFairValue,
		p.SurfaceArea, p.Rooms, p.Bathrooms, p.Floor, p.TotalFloors,
		p.City, p.Region, p.Latitude, p.Longitude, p.Geohash, p.ContactPhone, p.ContactEmail, features,
		p.DealRating, p.AITags, p.AIDescription, p.RenovationScore, p.DescriptionEmbedding,
		p.ScrapedAt, p.UpdatedAt, p.CreatedAt,
		p.LocalityKey(),
	}
}

func (s *PostgresStore) GetPropertyBySourceURL(ctx context.Context, sourceURL string) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE source_url = $1`

	p, err := scanProperty(s.pool.QueryRow(ctx, query, sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}

	images, err := s.ListImages(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		p.Images = append(p.Images, img.URL)
	}
	return p, nil
}

func (s *PostgresStore) InsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (` + propertyColumns + `, locality_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36)`

	_, err := s.pool.Exec(ctx, query, propertyArgs(p)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert property %s: %w", p.SourceURL, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

// UpdateProperty writes p over the stored row. Nil rating, enrichment and coordinate
// fields keep the stored value; coordinates are cleared only when the locality changed.
// SET expressions see the pre-update row, so locality_key there is the stored key.
func (s *PostgresStore) UpdateProperty(ctx context.Context, p *models.Property) error {
	query := `
		UPDATE properties SET
			source_url = $2, source = $3, status = $4, listing_type = $5, property_type = $6,
			title = $7, description = $8, price = $9, price_on_request = $10, currency = $11,
			price_per_area = $12, is_negotiable = $13,
			estimated_fair_value = COALESCE($14, estimated_fair_value),
			surface_area = $15, rooms = $16, bathrooms = $17, floor = $18, total_floors = $19,
			city = $20, region = $21,
			latitude = COALESCE($22, CASE WHEN locality_key = $36 THEN latitude END),
			longitude = COALESCE($23, CASE WHEN locality_key = $36 THEN longitude END),
			geohash = CASE
				WHEN $22::double precision IS NOT NULL THEN $24::text
				WHEN locality_key = $36 THEN geohash
				ELSE ''
			END,
			contact_phone = $25, contact_email = $26, features = $27,
			deal_rating = COALESCE($28, deal_rating),
			ai_tags = COALESCE($29, ai_tags),
			ai_description = COALESCE($30, ai_description),
			renovation_score = COALESCE($31, renovation_score),
			description_embedding = COALESCE($32, description_embedding),
			scraped_at = $33, updated_at = $34, created_at = $35,
			geocode_attempted_at = CASE WHEN locality_key = $36 THEN geocode_attempted_at END,
			locality_key = $36
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, propertyArgs(p)...)
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update property %s: not found", p.ID)
	}
	return nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if len(filter.LocalityKeys) > 0 {
		where = append(where, "locality_key = ANY("+arg(filter.LocalityKeys)+")")
	}
	if filter.MissingCoordinates {
		where = append(where, "latitude IS NULL AND city IS NOT NULL AND city <> ''")
	}

	query := `SELECT ` + propertyColumns + ` FROM properties`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.MissingCoordinates {
		// Rows that missed before go to the back so newer rows are not starved.
		query += " ORDER BY geocode_attempted_at NULLS FIRST, created_at, id"
	} else {
		query += " ORDER BY created_at, id"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *PostgresStore) UpdateDealRating(ctx context.Context, id uuid.UUID, rating, fairValue *float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE properties SET deal_rating = $2, estimated_fair_value = $3 WHERE id = $1`,
		id, rating, fairValue)
	if err != nil {
		return fmt.Errorf("update deal rating: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64, geohash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE properties SET latitude = $2, longitude = $3, geohash = $4 WHERE id = $1`,
		id, lat, lon, geohash)
	if err != nil {
		return fmt.Errorf("update coordinates: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkGeocodeAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE properties SET geocode_attempted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark geocode attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountProperties(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count properties: %w", err)
	}
	return n, nil
}

// =============================================================================
// Images
// =============================================================================

func (s *PostgresStore) SyncImages(ctx context.Context, propertyID uuid.UUID, urls []string, prune bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	kept := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		pos := len(kept)
		kept = append(kept, u)

		_, err := tx.Exec(ctx, `
			INSERT INTO property_images (id, property_id, url, position, is_primary, mirror_status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (property_id, url) DO UPDATE SET
				position = EXCLUDED.position,
				is_primary = EXCLUDED.is_primary`,
			uuid.New(), propertyID, u, pos, pos == 0, models.MirrorStatusPending)
		if err != nil {
			return fmt.Errorf("upsert image: %w", err)
		}
	}

	stale := `UPDATE property_images SET is_primary = FALSE WHERE property_id = $1 AND NOT (url = ANY($2))`
	if prune {
		stale = `DELETE FROM property_images WHERE property_id = $1 AND NOT (url = ANY($2))`
	}
	if _, err := tx.Exec(ctx, stale, propertyID, kept); err != nil {
		return fmt.Errorf("reconcile images: %w", err)
	}

	return tx.Commit(ctx)
}

const imageColumns = `id, property_id, url, position, is_primary, storage_key, content_hash, mirror_status, attempts`

func scanImages(rows pgx.Rows) ([]models.PropertyImage, error) {
	defer rows.Close()
	var images []models.PropertyImage
	for rows.Next() {
		var img models.PropertyImage
		if err := rows.Scan(&img.ID, &img.PropertyID, &img.URL, &img.Position, &img.IsPrimary,
			&img.StorageKey, &img.ContentHash, &img.MirrorStatus, &img.Attempts); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) ListImages(ctx context.Context, propertyID uuid.UUID) ([]models.PropertyImage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM property_images WHERE property_id = $1 ORDER BY position`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return scanImages(rows)
}

func (s *PostgresStore) ListPendingImages(ctx context.Context, limit int) ([]models.PropertyImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+imageColumns+` FROM property_images
		WHERE mirror_status = $1
		ORDER BY property_id, position
		LIMIT $2`, models.MirrorStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending images: %w", err)
	}
	return scanImages(rows)
}

func (s *PostgresStore) MarkImageMirrored(ctx context.Context, id uuid.UUID, storageKey, contentHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE property_images
		SET mirror_status = $2, storage_key = $3, content_hash = $4, attempts = attempts + 1
		WHERE id = $1`, id, models.MirrorStatusMirrored, storageKey, contentHash)
	if err != nil {
		return fmt.Errorf("mark image mirrored: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkImageAttempt(ctx context.Context, id uuid.UUID, attempts int, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE property_images SET attempts = $2, mirror_status = $3 WHERE id = $1`,
		id, attempts, status)
	if err != nil {
		return fmt.Errorf("mark image attempt: %w", err)
	}
	return nil
}

// =============================================================================
// Neighborhood stats
// =============================================================================

func (s *PostgresStore) ReplaceNeighborhoodStats(ctx context.Context, stats []models.NeighborhoodStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM neighborhood_stats`); err != nil {
		return fmt.Errorf("clear stats: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(`
			INSERT INTO neighborhood_stats (
				city, region, locality_key, avg_price_per_area, median_price_per_area, median_price,
				total_listings, active_listings, avg_rent_price, avg_sale_price, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			st.City, st.Region, st.Key(), st.AvgPricePerArea, st.MedianPricePerArea, st.MedianPrice,
			st.TotalListings, st.ActiveListings, st.AvgRentPrice, st.AvgSalePrice, st.UpdatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert stats: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListNeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT city, region, avg_price_per_area, median_price_per_area, median_price,
			total_listings, active_listings, avg_rent_price, avg_sale_price, updated_at
		FROM neighborhood_stats ORDER BY locality_key`)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var out []models.NeighborhoodStats
	for rows.Next() {
		var st models.NeighborhoodStats
		if err := rows.Scan(&st.City, &st.Region, &st.AvgPricePerArea, &st.MedianPricePerArea, &st.MedianPrice,
			&st.TotalListings, &st.ActiveListings, &st.AvgRentPrice, &st.AvgSalePrice, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
