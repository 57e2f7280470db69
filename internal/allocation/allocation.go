// Package allocation распределяет месячный фонд и участников по неделям.
package allocation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-system/internal/model"
)

// NoActiveWeeksError возвращается, когда участников некуда распределить.
type NoActiveWeeksError struct {
	TotalParticipants int
}

func (e *NoActiveWeeksError) Error() string {
	return fmt.Sprintf("cannot distribute %d participants: %v", e.TotalParticipants, model.ErrNoActiveWeeks)
}

func (e *NoActiveWeeksError) Unwrap() error {
	return model.ErrNoActiveWeeks
}

// WeeklyAllocation содержит долю фонда и лимит участников одной недели.
type WeeklyAllocation struct {
	Week         int
	FundPct      int
	Fund         decimal.Decimal
	Participants int
}

// Active сообщает, получила ли неделя долю фонда.
func (w WeeklyAllocation) Active() bool {
	return w.FundPct > 0
}

// Allocate делит фонд и участников по неделям месяца.
// Участники достаются только неделям с ненулевой долей фонда, остаток от деления
// уходит первым активным неделям. Проценты фонда не нормализуются.
func Allocate(totalFund decimal.Decimal, totalParticipants int, weeklyFundPct map[int]int, weekCount int) (map[int]WeeklyAllocation, error) {
	if weekCount != 4 && weekCount != 5 {
		return nil, model.NewConfigurationError("weekCount", fmt.Sprintf("must be 4 or 5, got %d", weekCount))
	}
	if totalParticipants < 0 {
		return nil, model.NewConfigurationError("totalParticipants", "must not be negative")
	}

	for week, pct := range weeklyFundPct {
		if pct < 0 {
			return nil, model.NewConfigurationError("weeklyFundPct", fmt.Sprintf("week %d has negative share %d", week, pct))
		}
		if (week < 1 || week > weekCount) && pct != 0 {
			return nil, model.NewConfigurationError("weeklyFundPct", fmt.Sprintf("week %d is outside 1..%d", week, weekCount))
		}
	}

	active := make([]int, 0, weekCount)
	for week := 1; week <= weekCount; week++ {
		if weeklyFundPct[week] > 0 {
			active = append(active, week)
		}
	}

	if len(active) == 0 && totalParticipants > 0 {
		return nil, &NoActiveWeeksError{TotalParticipants: totalParticipants}
	}

	result := make(map[int]WeeklyAllocation, weekCount)
	for week := 1; week <= weekCount; week++ {
		pct := weeklyFundPct[week]
		result[week] = WeeklyAllocation{
			Week:    week,
			FundPct: pct,
			Fund:    totalFund.Mul(decimal.NewFromInt(int64(pct))).Shift(-2),
		}
	}

	if len(active) == 0 {
		return result, nil
	}

	base := totalParticipants / len(active)
	remainder := totalParticipants % len(active)
	for i, week := range active {
		w := result[week]
		w.Participants = base
		if i < remainder {
			w.Participants++
		}
		result[week] = w
	}

	return result, nil
}

// Sorted возвращает распределение в порядке номеров недель.
func Sorted(allocations map[int]WeeklyAllocation) []WeeklyAllocation {
	res := make([]WeeklyAllocation, 0, len(allocations))
	for _, w := range allocations {
		res = append(res, w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Week < res[j].Week })
	return res
}

// ValidateFundPercentages проверяет, что доли фонда в сумме дают ровно 100.
func ValidateFundPercentages(weeklyFundPct map[int]int, weekCount int) error {
	sum := 0
	for week, pct := range weeklyFundPct {
		if pct < 0 || pct > 100 {
			return model.NewConfigurationError("weeklyFundPct", fmt.Sprintf("week %d share %d is outside 0..100", week, pct))
		}
		if week < 1 || week > weekCount {
			if pct != 0 {
				return model.NewConfigurationError("weeklyFundPct", fmt.Sprintf("week %d is outside 1..%d", week, weekCount))
			}
			continue
		}
		sum += pct
	}
	if sum != 100 {
		return model.NewConfigurationError("weeklyFundPct", fmt.Sprintf("shares sum to %d, want 100", sum))
	}
	return nil
}

// EvenFundPercentages делит 100% поровну между неделями, остаток получают первые недели.
func EvenFundPercentages(weekCount int) map[int]int {
	res := make(map[int]int, weekCount)
	if weekCount <= 0 {
		return res
	}
	base := 100 / weekCount
	remainder := 100 % weekCount
	for week := 1; week <= weekCount; week++ {
		res[week] = base
		if week <= remainder {
			res[week]++
		}
	}
	return res
}

// ErrInvalidMonth возвращается для месяца вне диапазона 1..12.
var ErrInvalidMonth = errors.New("month must be in 1..12")

// DrawDates возвращает все даты месяца, выпадающие на день розыгрыша.
func DrawDates(year int, month time.Month, weekday time.Weekday) ([]time.Time, error) {
	if month < time.January || month > time.December {
		return nil, ErrInvalidMonth
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7

	var dates []time.Time
	for d := first.AddDate(0, 0, offset); d.Month() == month; d = d.AddDate(0, 0, 7) {
		dates = append(dates, d)
	}
	return dates, nil
}

// WeekCount возвращает количество дней розыгрыша в месяце (4 или 5).
func WeekCount(year int, month time.Month, weekday time.Weekday) (int, error) {
	dates, err := DrawDates(year, month, weekday)
	if err != nil {
		return 0, err
	}
	return len(dates), nil
}
