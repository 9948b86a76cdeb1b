package domain

import (
	"errors"
	"fmt"
)

// Категории ошибок. Адаптеры (HTTP, Kafka) различают их через errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrAuthorization       = errors.New("not authorized")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrExternalProvider не выходит за пределы координатора инсайтов
	ErrExternalProvider = errors.New("external provider failed")
)

// ValidationError описывает невалидное поле входных данных
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// BusinessError ошибка бизнес-логики, которая уже залогирована в UseCase.
// Повторная обработка такой ошибки ничего не изменит.
type BusinessError struct {
	Err error
}

func (e *BusinessError) Error() string {
	return e.Err.Error()
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func WrapBusinessError(err error) error {
	if err == nil {
		return nil
	}
	return &BusinessError{Err: err}
}

func IsBusinessError(err error) bool {
	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return true
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientBalance)
}
