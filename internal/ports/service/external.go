package service

import (
	"context"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
)

// IAlerterService доставляет операционные алерты дежурным.
// Ошибка доставки не должна ломать основной сценарий.
type IAlerterService interface {
	SendAlert(ctx context.Context, message string) error
}

// InferenceRequest запрос к внешней модели
type InferenceRequest struct {
	SystemInstructions string
	UserText           string
	Image              *domain.Image
}

// IInferenceProvider внешняя vision/language модель.
// Любая ошибка, включая пустой ответ, считается неуспехом.
type IInferenceProvider interface {
	Complete(ctx context.Context, req InferenceRequest) (string, error)
}
