package domain

import (
	"time"

	"github.com/google/uuid"
)

// InsightStatus статус запроса к модели
type InsightStatus string

const (
	InsightStatusPending   InsightStatus = "pending"   // создан, ждёт ответа провайдера
	InsightStatusSucceeded InsightStatus = "succeeded" // ответ получен
	InsightStatusFailed    InsightStatus = "failed"    // ошибка, токены возвращены
)

func (s InsightStatus) IsTerminal() bool {
	return s == InsightStatusSucceeded || s == InsightStatusFailed
}

// InsightRequest запрос на диагностику через внешнюю модель.
// Из pending выходит ровно один раз.
type InsightRequest struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	UserID        uuid.UUID     `json:"user_id" db:"user_id"`
	FarmID        *uuid.UUID    `json:"farm_id,omitempty" db:"farm_id"`
	InputText     *string       `json:"input_text,omitempty" db:"input_text"`
	InputImageRef *string       `json:"input_image_ref,omitempty" db:"input_image_ref"`
	Status        InsightStatus `json:"status" db:"status"`
	ResponseText  *string       `json:"response_text,omitempty" db:"response_text"`
	ErrorMessage  *string       `json:"error_message,omitempty" db:"error_message"`
	CostDebited   int64         `json:"cost_debited" db:"cost_debited"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// InsightOutcome итог обращения к провайдеру
type InsightOutcome struct {
	Status       InsightStatus
	ResponseText *string
	ErrorMessage *string
	CompletedAt  time.Time
}

func SucceededOutcome(text string, at time.Time) InsightOutcome {
	return InsightOutcome{Status: InsightStatusSucceeded, ResponseText: &text, CompletedAt: at.UTC()}
}

func FailedOutcome(message string, at time.Time) InsightOutcome {
	return InsightOutcome{Status: InsightStatusFailed, ErrorMessage: &message, CompletedAt: at.UTC()}
}

// Apply переводит запрос в терминальный статус
func (o InsightOutcome) Apply(r *InsightRequest) error {
	if r.Status != InsightStatusPending {
		return ErrConflict
	}
	completedAt := o.CompletedAt
	r.Status = o.Status
	r.ResponseText = o.ResponseText
	r.ErrorMessage = o.ErrorMessage
	r.CompletedAt = &completedAt
	return nil
}

// Image изображение, загруженное пользователем
type Image struct {
	Data     []byte
	MimeType string
}

var supportedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Extension расширение файла для MIME типа, пусто если тип не поддерживается
func (i Image) Extension() string {
	return supportedImageTypes[i.MimeType]
}

// InsightEvent событие о завершении запроса для аналитики
type InsightEvent struct {
	Type        string        `json:"type"`
	RequestID   uuid.UUID     `json:"request_id"`
	UserID      uuid.UUID     `json:"user_id"`
	FarmID      *uuid.UUID    `json:"farm_id,omitempty"`
	Status      InsightStatus `json:"status"`
	CostDebited int64         `json:"cost_debited"`
	Refunded    bool          `json:"refunded"`
	WithImage   bool          `json:"with_image"`
	CompletedAt time.Time     `json:"completed_at"`
}

const InsightEventCompleted = "insight.completed"
