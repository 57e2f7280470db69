// Package eligibility отбирает участников, которые могут выиграть в розыгрыше.
package eligibility

import (
	"fmt"
	"time"

	"github.com/mmeshcher/raffle-system/internal/model"
)

// Eligible возвращает участников пула, допущенных к розыгрышу в момент now.
// При выключенной политике пул возвращается без изменений.
func Eligible(pool []model.Participant, exclusionList []string, policy model.ExclusionPolicy, now time.Time) []model.Participant {
	if !policy.Enabled {
		return pool
	}

	excluded := make(map[string]struct{}, len(exclusionList))
	for _, id := range exclusionList {
		excluded[id] = struct{}{}
	}

	res := make([]model.Participant, 0, len(pool))
	for _, p := range pool {
		if _, ok := excluded[p.ID]; ok {
			continue
		}
		if IsExcluded(p.Exclusion, now) {
			continue
		}
		res = append(res, p)
	}
	return res
}

// IsExcluded сообщает, действует ли исключение в момент now.
// Участник снова допускается только когда now строго позже ExcludedUntil.
func IsExcluded(status model.ExclusionStatus, now time.Time) bool {
	if !status.IsExcluded {
		return false
	}
	if status.ExcludedUntil == nil {
		return true
	}
	return !now.After(*status.ExcludedUntil)
}

// Stricter возвращает статус, исключающий участника дольше.
// Бессрочное исключение сильнее любого ограниченного по времени.
func Stricter(a, b model.ExclusionStatus) model.ExclusionStatus {
	switch {
	case !a.IsExcluded:
		return b
	case !b.IsExcluded:
		return a
	case a.ExcludedUntil == nil:
		return a
	case b.ExcludedUntil == nil:
		return b
	case b.ExcludedUntil.After(*a.ExcludedUntil):
		return b
	default:
		return a
	}
}

// ValidatePolicy проверяет согласованность политики исключения.
func ValidatePolicy(policy model.ExclusionPolicy) error {
	if !policy.Enabled {
		return nil
	}
	switch policy.Period {
	case model.ExclusionNextWeek, model.ExclusionNextMonth:
		return nil
	case model.ExclusionCustomWeeks, model.ExclusionCustomMonths:
		if policy.CustomPeriod < 1 {
			return model.NewConfigurationError("exclusion.customPeriod", fmt.Sprintf("must be at least 1, got %d", policy.CustomPeriod))
		}
		return nil
	default:
		return model.NewConfigurationError("exclusion.period", fmt.Sprintf("unknown period %q", policy.Period))
	}
}

// ExcludedUntil вычисляет конец окна исключения для победителя розыгрыша drawDate.
// Месяцы считаются по календарю: если в целевом месяце нет такого числа,
// берётся его последний день (31 января + 1 месяц = 28 или 29 февраля).
func ExcludedUntil(policy model.ExclusionPolicy, drawDate time.Time) (time.Time, error) {
	if err := ValidatePolicy(policy); err != nil {
		return time.Time{}, err
	}

	switch policy.Period {
	case model.ExclusionNextWeek:
		return drawDate.AddDate(0, 0, 7), nil
	case model.ExclusionNextMonth:
		return AddMonths(drawDate, 1), nil
	case model.ExclusionCustomWeeks:
		return drawDate.AddDate(0, 0, 7*policy.CustomPeriod), nil
	case model.ExclusionCustomMonths:
		return AddMonths(drawDate, policy.CustomPeriod), nil
	}
	return time.Time{}, model.NewConfigurationError("exclusion.period", fmt.Sprintf("unknown period %q", policy.Period))
}

// AddMonths прибавляет n календарных месяцев, прижимая число к концу короткого месяца.
func AddMonths(t time.Time, n int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()

	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
