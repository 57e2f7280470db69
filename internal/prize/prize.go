// Package prize рассчитывает распределение фонда недельного розыгрыша по призовым местам.
package prize

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-system/internal/model"
)

var hundred = decimal.NewFromInt(100)

// sharePrecision задаёт число знаков после запятой в доле мест после третьего.
const sharePrecision = 16

// Table хранит процент фонда для каждого места, начиная с первого.
type Table struct {
	percents []decimal.Decimal
}

// ComputePrizeTable строит таблицу процентов для winnersCount мест.
// Первые три места получают фиксированные проценты, оставшийся процент делится
// поровну между местами с четвёртого по winnersCount.
func ComputePrizeTable(winnersCount int, firstPct, secondPct, thirdPct decimal.Decimal) (Table, error) {
	if winnersCount < 1 {
		return Table{}, model.NewConfigurationError("winnersCount", fmt.Sprintf("must be at least 1, got %d", winnersCount))
	}

	for _, p := range []struct {
		field string
		value decimal.Decimal
	}{
		{"firstPct", firstPct},
		{"secondPct", secondPct},
		{"thirdPct", thirdPct},
	} {
		if p.value.IsNegative() || p.value.GreaterThan(hundred) {
			return Table{}, model.NewConfigurationError(p.field, fmt.Sprintf("%s is outside 0..100", p.value))
		}
	}

	top := firstPct.Add(secondPct).Add(thirdPct)
	if top.GreaterThan(hundred) {
		return Table{}, &model.ConfigurationError{
			Field:  "prizePercentages",
			Reason: fmt.Sprintf("top three sum to %s", top),
			Err:    model.ErrPrizePoolExceeded,
		}
	}

	remainder := decimal.Max(decimal.Zero, hundred.Sub(top))
	if winnersCount > 3 && !remainder.IsPositive() {
		return Table{}, &model.ConfigurationError{
			Field:  "winnersCount",
			Reason: fmt.Sprintf("%d winners requested but top three take the whole fund", winnersCount),
			Err:    model.ErrNoRemainderForExtraWinners,
		}
	}

	percents := make([]decimal.Decimal, 0, winnersCount)
	for i, pct := range []decimal.Decimal{firstPct, secondPct, thirdPct} {
		if i >= winnersCount {
			break
		}
		percents = append(percents, pct)
	}

	if winnersCount > 3 {
		// Доля усекается, чтобы сумма процентов не превысила 100.
		per, _ := remainder.QuoRem(decimal.NewFromInt(int64(winnersCount-3)), sharePrecision)
		for pos := 4; pos <= winnersCount; pos++ {
			percents = append(percents, per)
		}
	}

	return Table{percents: percents}, nil
}

// Len возвращает количество призовых мест.
func (t Table) Len() int {
	return len(t.percents)
}

// Percent возвращает процент фонда для места. Для несуществующего места возвращается ноль.
func (t Table) Percent(position int) decimal.Decimal {
	if position < 1 || position > len(t.percents) {
		return decimal.Zero
	}
	return t.percents[position-1]
}

// RemainderPercent возвращает процент каждого места после третьего, либо ноль.
func (t Table) RemainderPercent() decimal.Decimal {
	return t.Percent(4)
}

// TotalPercent возвращает сумму процентов всех мест.
func (t Table) TotalPercent() decimal.Decimal {
	return decimal.Sum(decimal.Zero, t.percents...)
}

// Amount переводит процент места в сумму от фонда.
func (t Table) Amount(position int, fund decimal.Decimal) decimal.Decimal {
	return fund.Mul(t.Percent(position)).Shift(-2)
}

// Positions возвращает места с процентами и суммами от фонда.
func (t Table) Positions(fund decimal.Decimal) []model.PrizePosition {
	res := make([]model.PrizePosition, 0, len(t.percents))
	for i := range t.percents {
		pos := i + 1
		res = append(res, model.PrizePosition{
			Position: pos,
			Percent:  t.Percent(pos),
			Amount:   t.Amount(pos, fund),
		})
	}
	return res
}
