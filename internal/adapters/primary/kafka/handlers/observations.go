package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	kafkaPorts "github.com/admin/agro-bots/farm-insights/internal/ports/kafka"
	"github.com/google/uuid"
)

// ObservationRecorder запись наблюдения (usecases/telemetry)
type ObservationRecorder interface {
	RecordObservation(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, payload domain.ObservationPayload, observedAt time.Time) (*domain.Observation, bool, error)
}

// ObservationHandler приём телеметрии от датчиков через Kafka
type ObservationHandler struct {
	Recorder ObservationRecorder
	Log      *slog.Logger
}

func NewObservationHandler(recorder ObservationRecorder, log *slog.Logger) kafkaPorts.MessageHandler {
	return &ObservationHandler{
		Recorder: recorder,
		Log:      log,
	}
}

// ObservationMessage сообщение датчика
type ObservationMessage struct {
	FarmID     uuid.UUID                 `json:"farm_id"`
	Kind       domain.ObservationKind    `json:"kind"`
	Payload    domain.ObservationPayload `json:"payload"`
	ObservedAt time.Time                 `json:"observed_at"`
}

// HandleMessage повторная доставка того же сообщения не создаёт дубликат
func (h *ObservationHandler) HandleMessage(ctx context.Context, key string, value []byte) error {
	var msg ObservationMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		h.Log.Warn("malformed observation message", "error", err, "key", key)
		return domain.WrapBusinessError(fmt.Errorf("malformed observation message: %w", err))
	}
	if msg.FarmID == uuid.Nil {
		return domain.NewValidationError("farm_id", "must be set")
	}

	obs, created, err := h.Recorder.RecordObservation(ctx, msg.FarmID, msg.Kind, msg.Payload, msg.ObservedAt)
	if err != nil {
		return fmt.Errorf("record observation for farm %s: %w", msg.FarmID, err)
	}

	h.Log.Debug("observation ingested",
		"observation_id", obs.ID,
		"farm_id", obs.FarmID,
		"kind", obs.Kind,
		"created", created,
		"key", key,
	)
	return nil
}
