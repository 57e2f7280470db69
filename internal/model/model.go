// Package model содержит доменные сущности сервиса розыгрышей.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExclusionPeriod описывает длительность исключения победителя из будущих розыгрышей.
type ExclusionPeriod string

const (
	ExclusionNextWeek     ExclusionPeriod = "next_week"
	ExclusionNextMonth    ExclusionPeriod = "next_month"
	ExclusionCustomWeeks  ExclusionPeriod = "custom_weeks"
	ExclusionCustomMonths ExclusionPeriod = "custom_months"
)

// ExclusionPolicy задаёт правило исключения победителей для месячного розыгрыша.
type ExclusionPolicy struct {
	Enabled      bool            `json:"enabled"`
	Period       ExclusionPeriod `json:"period"`
	CustomPeriod int             `json:"customPeriod"`
}

// ExclusionStatus хранит текущее состояние исключения участника.
// Если IsExcluded выставлен, а ExcludedUntil пуст, исключение бессрочное.
type ExclusionStatus struct {
	IsExcluded    bool       `json:"isExcluded"`
	ExcludedUntil *time.Time `json:"excludedUntil,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Participant описывает участника розыгрыша.
type Participant struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Exclusion ExclusionStatus `json:"exclusionStatus"`
}

// PrizePosition связывает место с процентом фонда недельного розыгрыша.
type PrizePosition struct {
	Position int             `json:"position"`
	Percent  decimal.Decimal `json:"percent"`
	Amount   decimal.Decimal `json:"amount"`
}

// MonthlyConfig содержит входные параметры для настройки месячного розыгрыша.
type MonthlyConfig struct {
	Year              int
	Month             time.Month
	DrawWeekday       time.Weekday
	TotalFund         decimal.Decimal
	TotalParticipants int
	// WeeklyFundPct может быть пустым, тогда фонд делится поровну.
	WeeklyFundPct map[int]int
	WinnersCount  int
	FirstPct      decimal.Decimal
	SecondPct     decimal.Decimal
	ThirdPct      decimal.Decimal
	Exclusion     ExclusionPolicy
}

// MonthlyRaffle описывает настроенный месячный розыгрыш вместе с недельными.
type MonthlyRaffle struct {
	ID                int64
	Year              int
	Month             time.Month
	DrawWeekday       time.Weekday
	TotalFund         decimal.Decimal
	TotalParticipants int
	WeekCount         int
	WeeklyFundPct     map[int]int
	WinnersCount      int
	FirstPct          decimal.Decimal
	SecondPct         decimal.Decimal
	ThirdPct          decimal.Decimal
	Exclusion         ExclusionPolicy
	Weeks             []WeeklyRaffle
	CreatedAt         time.Time
}

// WeeklyRaffle описывает один недельный розыгрыш.
type WeeklyRaffle struct {
	ID              int64
	MonthlyRaffleID int64
	WeekIndex       int
	DrawDate        time.Time
	FundPct         int
	Fund            decimal.Decimal
	MaxParticipants int
	WinnersCount    int
	PrizePositions  []PrizePosition
	DrawnAt         *time.Time
}

// RaffleWinner описывает победителя на конкретном месте.
type RaffleWinner struct {
	Position        int             `json:"position"`
	ParticipantID   string          `json:"participantId"`
	ParticipantName string          `json:"participantName"`
	PrizeAmount     decimal.Decimal `json:"prizeAmount"`
	PrizePercentage decimal.Decimal `json:"prizePercentage"`
}

// ExclusionUpdate описывает новое окно исключения победителя.
type ExclusionUpdate struct {
	ParticipantID string
	ExcludedUntil time.Time
	Reason        string
}

// DrawResult содержит итог розыгрыша одного недельного розыгрыша.
type DrawResult struct {
	SessionID      uuid.UUID
	WeeklyRaffleID int64
	Winners        []RaffleWinner
	Requested      int
	Exclusions     []ExclusionUpdate
	DrawnAt        time.Time
}

// Partial сообщает, что участников оказалось меньше, чем призовых мест.
func (r *DrawResult) Partial() bool {
	return len(r.Winners) < r.Requested
}
