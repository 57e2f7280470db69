// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-system/internal/eligibility"
	"github.com/mmeshcher/raffle-system/internal/model"
)

const maxParticipantIDLength = 64

var hundred = decimal.NewFromInt(100)

// ValidatePercent проверяет, что процент лежит в диапазоне [0, 100].
func ValidatePercent(field string, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return model.NewConfigurationError(field, fmt.Sprintf("%s is outside 0..100", pct))
	}
	return nil
}

// ValidateMonthlyConfig проверяет параметры месячного розыгрыша до распределения по неделям.
func ValidateMonthlyConfig(cfg model.MonthlyConfig) error {
	if cfg.Year < 2000 || cfg.Year > 9999 {
		return model.NewConfigurationError("year", fmt.Sprintf("unexpected year %d", cfg.Year))
	}
	if cfg.Month < time.January || cfg.Month > time.December {
		return model.NewConfigurationError("month", fmt.Sprintf("must be in 1..12, got %d", cfg.Month))
	}
	if cfg.DrawWeekday < time.Sunday || cfg.DrawWeekday > time.Saturday {
		return model.NewConfigurationError("drawWeekday", fmt.Sprintf("must be in 0..6, got %d", cfg.DrawWeekday))
	}
	if !cfg.TotalFund.IsPositive() {
		return model.NewConfigurationError("totalFund", "must be positive")
	}
	if cfg.TotalParticipants < 0 {
		return model.NewConfigurationError("totalParticipants", "must not be negative")
	}
	if cfg.WinnersCount < 1 {
		return model.NewConfigurationError("winnersCount", fmt.Sprintf("must be at least 1, got %d", cfg.WinnersCount))
	}

	for field, pct := range map[string]decimal.Decimal{
		"firstPct":  cfg.FirstPct,
		"secondPct": cfg.SecondPct,
		"thirdPct":  cfg.ThirdPct,
	} {
		if err := ValidatePercent(field, pct); err != nil {
			return err
		}
	}

	return eligibility.ValidatePolicy(cfg.Exclusion)
}

// ValidateParticipant проверяет идентификатор и имя участника.
func ValidateParticipant(p model.Participant) error {
	if p.ID == "" {
		return model.NewConfigurationError("participant.id", "must not be empty")
	}
	if len(p.ID) > maxParticipantIDLength {
		return model.NewConfigurationError("participant.id", fmt.Sprintf("longer than %d bytes", maxParticipantIDLength))
	}
	if strings.IndexFunc(p.ID, unicode.IsSpace) >= 0 {
		return model.NewConfigurationError("participant.id", "must not contain whitespace")
	}
	if strings.TrimSpace(p.Name) == "" {
		return model.NewConfigurationError("participant.name", "must not be empty")
	}
	return nil
}

// ValidateWinnersFit проверяет, что на неделю хватит участников для всех мест.
func ValidateWinnersFit(week, winnersCount, maxParticipants int) error {
	if winnersCount > maxParticipants {
		return model.NewConfigurationError("winnersCount",
			fmt.Sprintf("week %d allows %d participants, fewer than %d winners", week, maxParticipants, winnersCount))
	}
	return nil
}
