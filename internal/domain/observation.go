package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ObservationKind тип наблюдения
type ObservationKind string

const (
	ObservationKindSoil    ObservationKind = "soil"
	ObservationKindWeather ObservationKind = "weather"
)

func (k ObservationKind) IsValid() bool {
	_, ok := payloadSchemas[k]
	return ok
}

// fieldRange допустимый диапазон значения поля
type fieldRange struct {
	min, max float64
}

var (
	nonNegative = fieldRange{min: 0, max: math.Inf(1)}
	anyValue    = fieldRange{min: math.Inf(-1), max: math.Inf(1)}
	percent     = fieldRange{min: 0, max: 100}
)

// payloadSchemas разрешённые поля и диапазоны по типам наблюдений
var payloadSchemas = map[ObservationKind]map[string]fieldRange{
	ObservationKindSoil: {
		"ph":             {min: 0, max: 14},
		"nitrogen":       nonNegative,
		"phosphorus":     nonNegative,
		"potassium":      nonNegative,
		"moisture":       percent,
		"organic_matter": percent,
	},
	ObservationKindWeather: {
		"temperature": anyValue,
		"humidity":    percent,
		"rainfall":    nonNegative,
		"wind_speed":  nonNegative,
	},
}

// ObservationPayload числовые показатели наблюдения (JSONB) с поддержкой sql.Scanner
type ObservationPayload map[string]float64

// Scan реализует sql.Scanner для сканирования JSONB из БД
func (p *ObservationPayload) Scan(value interface{}) error {
	if value == nil {
		*p = make(ObservationPayload)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", value)
	}

	if len(bytes) == 0 {
		*p = make(ObservationPayload)
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Value реализует driver.Valuer для сохранения в БД
func (p ObservationPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	return json.Marshal(p)
}

func (p ObservationPayload) Equal(other ObservationPayload) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Observation наблюдение по ферме. Неизменяемо после записи,
// уникально по (farm_id, kind, observed_at).
type Observation struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	FarmID     uuid.UUID          `json:"farm_id" db:"farm_id"`
	Kind       ObservationKind    `json:"kind" db:"kind"`
	Payload    ObservationPayload `json:"payload" db:"payload"`
	ObservedAt time.Time          `json:"observed_at" db:"observed_at"`
}

// NewObservation валидирует вход и собирает наблюдение
func NewObservation(farmID uuid.UUID, kind ObservationKind, payload ObservationPayload, observedAt time.Time) (*Observation, error) {
	if !kind.IsValid() {
		return nil, NewValidationError("kind", fmt.Sprintf("unknown observation kind %q", kind))
	}
	if observedAt.IsZero() {
		return nil, NewValidationError("observed_at", "must be set")
	}
	if err := ValidatePayload(kind, payload); err != nil {
		return nil, err
	}

	// Postgres хранит микросекунды, усечение делает повторную запись идемпотентной
	return &Observation{
		ID:         uuid.New(),
		FarmID:     farmID,
		Kind:       kind,
		Payload:    payload,
		ObservedAt: observedAt.UTC().Truncate(time.Microsecond),
	}, nil
}

// ValidatePayload проверяет поля наблюдения по схеме типа
func ValidatePayload(kind ObservationKind, payload ObservationPayload) error {
	schema, ok := payloadSchemas[kind]
	if !ok {
		return NewValidationError("kind", fmt.Sprintf("unknown observation kind %q", kind))
	}
	if len(payload) == 0 {
		return NewValidationError("payload", "at least one field is required")
	}
	for field, value := range payload {
		r, ok := schema[field]
		if !ok {
			return NewValidationError("payload."+field, fmt.Sprintf("field is not allowed for %s observations", kind))
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return NewValidationError("payload."+field, "must be a finite number")
		}
		if value < r.min || value > r.max {
			return NewValidationError("payload."+field, "value is out of range")
		}
	}
	return nil
}

// FarmSnapshot последние показатели почвы и погоды по ферме
type FarmSnapshot struct {
	FarmID  uuid.UUID    `json:"farm_id"`
	Soil    *Observation `json:"soil,omitempty"`
	Weather *Observation `json:"weather,omitempty"`
}
