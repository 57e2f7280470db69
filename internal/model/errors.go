package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration объединяет все ошибки конфигурации розыгрыша.
	ErrConfiguration = errors.New("invalid raffle configuration")
	// ErrPrizePoolExceeded возвращается, если сумма процентов первых трёх мест больше 100.
	ErrPrizePoolExceeded = errors.New("prize percentages exceed 100")
	// ErrNoRemainderForExtraWinners возвращается, если для мест начиная с четвёртого не осталось фонда.
	ErrNoRemainderForExtraWinners = errors.New("no remainder left for positions after third")
	// ErrNoParticipants возвращается при попытке начать розыгрыш без участников.
	ErrNoParticipants = errors.New("no eligible participants")
	// ErrNoActiveWeeks возвращается, если ни одна неделя не получила долю фонда.
	ErrNoActiveWeeks = errors.New("no week has a fund share")
)

// ConfigurationError описывает нарушение инвариантов конфигурации.
// Такие ошибки не повторяются и должны быть исправлены вызывающей стороной.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

// NewConfigurationError создаёт ошибку конфигурации для указанного поля.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}
