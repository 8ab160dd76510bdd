package models

import (
	"github.com/google/uuid"
)

// Image mirror status
const (
	MirrorStatusPending  = "pending"
	MirrorStatusMirrored = "mirrored"
	MirrorStatusFailed   = "failed"
)

// PropertyImage is one entry of a property's ordered image collection. URL is unique per property.
type PropertyImage struct {
	ID           uuid.UUID `json:"id" db:"id"`
	PropertyID   uuid.UUID `json:"property_id" db:"property_id"`
	URL          string    `json:"url" db:"url"`
	Position     int       `json:"position" db:"position"`
	IsPrimary    bool      `json:"is_primary" db:"is_primary"`
	StorageKey   *string   `json:"storage_key" db:"storage_key"`
	ContentHash  *string   `json:"content_hash" db:"content_hash"`
	MirrorStatus string    `json:"mirror_status" db:"mirror_status"`
	Attempts     int       `json:"attempts" db:"attempts"`
}

// PropertyFilter narrows a property select. Zero values mean "no constraint".
type PropertyFilter struct {
	Status             Status
	LocalityKeys       []string
	MissingCoordinates bool
	Limit              int
}
