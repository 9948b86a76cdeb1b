package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Farm участок пользователя. Координаты заданы либо обе, либо ни одной.
type Farm struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OwnerUserID  uuid.UUID `json:"owner_user_id" db:"owner_user_id"`
	Name         string    `json:"name" db:"name"`
	LocationText string    `json:"location_text" db:"location_text"`
	Latitude     *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64  `json:"longitude,omitempty" db:"longitude"`
	Size         *float64  `json:"size,omitempty" db:"size"` // гектары
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	Redacted     bool      `json:"redacted,omitempty" db:"-"` // гостевое представление чужой фермы
}

// NewFarm собирает и валидирует новую ферму
func NewFarm(owner uuid.UUID, name, location string, lat, lon, size *float64, now time.Time) (*Farm, error) {
	f := &Farm{
		ID:           uuid.New(),
		OwnerUserID:  owner,
		Name:         strings.TrimSpace(name),
		LocationText: strings.TrimSpace(location),
		Latitude:     lat,
		Longitude:    lon,
		Size:         size,
		CreatedAt:    now.UTC(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Farm) Validate() error {
	if f.OwnerUserID == uuid.Nil {
		return NewValidationError("owner_user_id", "must be set")
	}
	if strings.TrimSpace(f.Name) == "" {
		return NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(f.LocationText) == "" {
		return NewValidationError("location_text", "must not be empty")
	}
	if (f.Latitude == nil) != (f.Longitude == nil) {
		return NewValidationError("coordinates", "latitude and longitude must be given together")
	}
	if f.Latitude != nil && !inRange(*f.Latitude, 90) {
		return NewValidationError("latitude", "must be within [-90, 90]")
	}
	if f.Longitude != nil && !inRange(*f.Longitude, 180) {
		return NewValidationError("longitude", "must be within [-180, 180]")
	}
	if f.Size != nil && (!isFinite(*f.Size) || *f.Size <= 0) {
		return NewValidationError("size", "must be a positive number")
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// inRange NaN не проходит: сравнения с NaN всегда false
func inRange(v, limit float64) bool {
	return isFinite(v) && v >= -limit && v <= limit
}

func (f *Farm) OwnedBy(userID uuid.UUID) bool {
	return f.OwnerUserID == userID
}

// ViewFor возвращает представление фермы для caller: владелец видит всё,
// остальные только id, название и текстовое местоположение.
func (f *Farm) ViewFor(caller uuid.UUID) *Farm {
	view := *f
	if f.OwnedBy(caller) {
		return &view
	}
	return &Farm{
		ID:           f.ID,
		Name:         f.Name,
		LocationText: f.LocationText,
		Redacted:     true,
	}
}

// FarmPatch частичное обновление фермы. nil поле означает "не менять".
type FarmPatch struct {
	Name             *string
	LocationText     *string
	Latitude         *float64
	Longitude        *float64
	ClearCoordinates bool
	Size             *float64
	ClearSize        bool
}

func (p FarmPatch) IsEmpty() bool {
	return p.Name == nil && p.LocationText == nil && p.Latitude == nil && p.Longitude == nil &&
		!p.ClearCoordinates && p.Size == nil && !p.ClearSize
}

// Apply применяет патч целиком или не применяет вовсе
func (p FarmPatch) Apply(f *Farm) error {
	if p.ClearCoordinates && (p.Latitude != nil || p.Longitude != nil) {
		return NewValidationError("coordinates", "cannot set and clear coordinates at once")
	}
	if p.ClearSize && p.Size != nil {
		return NewValidationError("size", "cannot set and clear size at once")
	}

	next := *f
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.LocationText != nil {
		next.LocationText = strings.TrimSpace(*p.LocationText)
	}
	if p.ClearCoordinates {
		next.Latitude, next.Longitude = nil, nil
	}
	if p.Latitude != nil {
		next.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		next.Longitude = p.Longitude
	}
	if p.ClearSize {
		next.Size = nil
	}
	if p.Size != nil {
		next.Size = p.Size
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*f = next
	return nil
}
