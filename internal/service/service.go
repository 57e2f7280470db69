// Package service реализует бизнес-логику сервиса розыгрышей.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-system/internal/allocation"
	"github.com/mmeshcher/raffle-system/internal/draw"
	"github.com/mmeshcher/raffle-system/internal/eligibility"
	"github.com/mmeshcher/raffle-system/internal/model"
	"github.com/mmeshcher/raffle-system/internal/prize"
	"github.com/mmeshcher/raffle-system/internal/repository"
	"github.com/mmeshcher/raffle-system/internal/validation"
)

// Repository описывает контракт хранилища розыгрышей, используемый сервисом.
type Repository interface {
	Close() error
	CreateMonthlyRaffle(ctx context.Context, m *model.MonthlyRaffle) (int64, error)
	GetMonthlyRaffle(ctx context.Context, id int64) (*model.MonthlyRaffle, error)
	GetWeeklyRaffle(ctx context.Context, id int64) (*model.WeeklyRaffle, error)
	ReplaceAllocation(ctx context.Context, monthlyID int64, weeks []model.WeeklyRaffle) error
	AddEntry(ctx context.Context, weeklyID int64, p model.Participant) error
	Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error)
	ExclusionList(ctx context.Context, weeklyID int64) ([]string, error)
	ExclusionStatuses(ctx context.Context, ids []string) (map[string]model.ExclusionStatus, error)
	AddExclusion(ctx context.Context, weeklyID int64, participantID string) error
	SaveDrawResult(ctx context.Context, res model.DrawResult) error
	Winners(ctx context.Context, weeklyID int64) ([]model.RaffleWinner, error)
}

// ParticipantSource отдаёт текущий пул участников недельного розыгрыша.
type ParticipantSource interface {
	Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error)
}

// PickerFactory создаёт источник случайности для розыгрыша недели.
type PickerFactory func(weeklyID int64) draw.Picker

// Service содержит бизнес-логику сервиса розыгрышей.
type Service struct {
	repo      Repository
	source    ParticipantSource
	clock     clockwork.Clock
	newPicker PickerFactory
	logger    *zap.Logger
}

// Option настраивает сервис.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithPickerFactory подменяет источник случайности для розыгрышей.
func WithPickerFactory(f PickerFactory) Option {
	return func(s *Service) {
		s.newPicker = f
	}
}

// SeededPickers возвращает фабрику воспроизводимых Picker: seed комбинируется с номером недели.
func SeededPickers(seed uint64) PickerFactory {
	return func(weeklyID int64) draw.Picker {
		return draw.NewSeededPicker(seed ^ uint64(weeklyID))
	}
}

// NewService создаёт новый сервис. Если source не задан, пул участников берётся из хранилища.
func NewService(repo Repository, source ParticipantSource, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		source: source,
		clock:  clockwork.NewRealClock(),
		newPicker: func(int64) draw.Picker {
			return draw.CryptoPicker{}
		},
		logger: logger,
	}
	if s.source == nil {
		s.source = repo
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ConfigureMonthly настраивает месячный розыгрыш: делит фонд и участников по неделям
// и рассчитывает таблицу призов для каждой недели.
func (s *Service) ConfigureMonthly(ctx context.Context, cfg model.MonthlyConfig) (*model.MonthlyRaffle, error) {
	if err := validation.ValidateMonthlyConfig(cfg); err != nil {
		return nil, err
	}

	dates, err := allocation.DrawDates(cfg.Year, cfg.Month, cfg.DrawWeekday)
	if err != nil {
		return nil, model.NewConfigurationError("month", err.Error())
	}

	pct := cfg.WeeklyFundPct
	if len(pct) == 0 {
		pct = allocation.EvenFundPercentages(len(dates))
	}
	if err := allocation.ValidateFundPercentages(pct, len(dates)); err != nil {
		return nil, err
	}

	table, err := prize.ComputePrizeTable(cfg.WinnersCount, cfg.FirstPct, cfg.SecondPct, cfg.ThirdPct)
	if err != nil {
		return nil, err
	}

	weeks, err := buildWeeks(cfg.TotalFund, cfg.TotalParticipants, pct, dates, cfg.WinnersCount, table)
	if err != nil {
		return nil, err
	}

	m := &model.MonthlyRaffle{
		Year:              cfg.Year,
		Month:             cfg.Month,
		DrawWeekday:       cfg.DrawWeekday,
		TotalFund:         cfg.TotalFund,
		TotalParticipants: cfg.TotalParticipants,
		WeekCount:         len(dates),
		WeeklyFundPct:     pct,
		WinnersCount:      cfg.WinnersCount,
		FirstPct:          cfg.FirstPct,
		SecondPct:         cfg.SecondPct,
		ThirdPct:          cfg.ThirdPct,
		Exclusion:         cfg.Exclusion,
		Weeks:             weeks,
	}

	if _, err := s.repo.CreateMonthlyRaffle(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("monthly raffle configured",
		zap.Int64("monthlyRaffleID", m.ID),
		zap.Int("year", m.Year),
		zap.Int("month", int(m.Month)),
		zap.Int("weeks", m.WeekCount),
		zap.String("fund", m.TotalFund.String()),
	)

	return m, nil
}

// GetMonthly возвращает месячный розыгрыш с таблицами призов недель.
func (s *Service) GetMonthly(ctx context.Context, id int64) (*model.MonthlyRaffle, error) {
	m, err := s.repo.GetMonthlyRaffle(ctx, id)
	if err != nil {
		return nil, err
	}

	table, err := prize.ComputePrizeTable(m.WinnersCount, m.FirstPct, m.SecondPct, m.ThirdPct)
	if err != nil {
		return nil, err
	}
	for i := range m.Weeks {
		if m.Weeks[i].WinnersCount > 0 {
			m.Weeks[i].PrizePositions = table.Positions(m.Weeks[i].Fund)
		}
	}
	return m, nil
}

// UpdateFundPercentages меняет доли фонда по неделям и полностью перераспределяет участников.
func (s *Service) UpdateFundPercentages(ctx context.Context, monthlyID int64, pct map[int]int) (*model.MonthlyRaffle, error) {
	m, err := s.repo.GetMonthlyRaffle(ctx, monthlyID)
	if err != nil {
		return nil, err
	}

	if err := allocation.ValidateFundPercentages(pct, m.WeekCount); err != nil {
		return nil, err
	}

	table, err := prize.ComputePrizeTable(m.WinnersCount, m.FirstPct, m.SecondPct, m.ThirdPct)
	if err != nil {
		return nil, err
	}

	drawDates := make([]time.Time, 0, len(m.Weeks))
	for _, w := range m.Weeks {
		drawDates = append(drawDates, w.DrawDate)
	}

	weeks, err := buildWeeks(m.TotalFund, m.TotalParticipants, pct, drawDates, m.WinnersCount, table)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceAllocation(ctx, monthlyID, weeks); err != nil {
		return nil, err
	}

	for i := range weeks {
		if i < len(m.Weeks) {
			weeks[i].ID = m.Weeks[i].ID
			weeks[i].MonthlyRaffleID = monthlyID
		}
	}
	m.WeeklyFundPct = pct
	m.Weeks = weeks

	s.logger.Info("fund percentages updated", zap.Int64("monthlyRaffleID", monthlyID), zap.Any("weeklyFundPct", pct))
	return m, nil
}

func buildWeeks(fund decimal.Decimal, participants int, pct map[int]int, dates []time.Time, winners int, table prize.Table) ([]model.WeeklyRaffle, error) {
	alloc, err := allocation.Allocate(fund, participants, pct, len(dates))
	if err != nil {
		return nil, err
	}

	weeks := make([]model.WeeklyRaffle, 0, len(dates))
	for _, a := range allocation.Sorted(alloc) {
		w := model.WeeklyRaffle{
			WeekIndex:       a.Week,
			DrawDate:        dates[a.Week-1],
			FundPct:         a.FundPct,
			Fund:            a.Fund,
			MaxParticipants: a.Participants,
		}
		if a.Active() {
			if err := validation.ValidateWinnersFit(a.Week, winners, a.Participants); err != nil {
				return nil, err
			}
			w.WinnersCount = winners
			w.PrizePositions = table.Positions(a.Fund)
		}
		weeks = append(weeks, w)
	}
	return weeks, nil
}

// Enter записывает участника в недельный розыгрыш.
func (s *Service) Enter(ctx context.Context, weeklyID int64, p model.Participant) error {
	if err := validation.ValidateParticipant(p); err != nil {
		return err
	}
	return s.repo.AddEntry(ctx, weeklyID, p)
}

// Exclude явно исключает участника из недельного розыгрыша.
func (s *Service) Exclude(ctx context.Context, weeklyID int64, participantID string) error {
	if participantID == "" {
		return model.NewConfigurationError("participantId", "must not be empty")
	}
	return s.repo.AddExclusion(ctx, weeklyID, participantID)
}

// Winners возвращает сохранённых победителей недельного розыгрыша.
func (s *Service) Winners(ctx context.Context, weeklyID int64) ([]model.RaffleWinner, error) {
	if _, err := s.repo.GetWeeklyRaffle(ctx, weeklyID); err != nil {
		return nil, err
	}
	return s.repo.Winners(ctx, weeklyID)
}

// PrizePreview рассчитывает места и суммы без сохранения.
func (s *Service) PrizePreview(winnersCount int, first, second, third, fund decimal.Decimal) ([]model.PrizePosition, error) {
	if fund.IsNegative() {
		return nil, model.NewConfigurationError("fund", "must not be negative")
	}
	table, err := prize.ComputePrizeTable(winnersCount, first, second, third)
	if err != nil {
		return nil, err
	}
	return table.Positions(fund), nil
}

// Draw проводит розыгрыш недели и сохраняет результат.
// Если сохранение не удалось, возвращается рассчитанный результат вместе с ошибкой:
// его можно сохранить повторно без перерозыгрыша.
func (s *Service) Draw(ctx context.Context, weeklyID int64) (*model.DrawResult, error) {
	w, err := s.repo.GetWeeklyRaffle(ctx, weeklyID)
	if err != nil {
		return nil, err
	}
	if w.DrawnAt != nil {
		return nil, repository.ErrAlreadyDrawn
	}
	if w.WinnersCount < 1 {
		return nil, model.NewConfigurationError("weeklyRaffle", fmt.Sprintf("week %d has no fund share", w.WeekIndex))
	}

	m, err := s.repo.GetMonthlyRaffle(ctx, w.MonthlyRaffleID)
	if err != nil {
		return nil, err
	}

	table, err := prize.ComputePrizeTable(w.WinnersCount, m.FirstPct, m.SecondPct, m.ThirdPct)
	if err != nil {
		return nil, err
	}

	pool, err := s.source.Participants(ctx, weeklyID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	pool, err = s.withStoredExclusions(ctx, pool)
	if err != nil {
		return nil, err
	}

	exclusions, err := s.repo.ExclusionList(ctx, weeklyID)
	if err != nil {
		return nil, fmt.Errorf("load exclusion list: %w", err)
	}

	now := s.clock.Now()
	eligible := eligibility.Eligible(pool, exclusions, m.Exclusion, now)

	session := draw.NewSession(s.newPicker(weeklyID), draw.WithObserver(s.positionLogger(weeklyID)))
	if err := session.Start(eligible, w.WinnersCount); err != nil {
		return nil, err
	}
	if _, err := session.DrawAll(); err != nil {
		return nil, err
	}

	res, err := session.Complete(draw.Finalization{
		WeeklyRaffleID: weeklyID,
		Prizes:         table,
		Fund:           w.Fund,
		Exclusion:      m.Exclusion,
		DrawnAt:        now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveDrawResult(ctx, res); err != nil {
		s.logger.Error("save draw result error", zap.Error(err), zap.Int64("weeklyRaffleID", weeklyID))
		return &res, fmt.Errorf("save draw result: %w", err)
	}

	if res.Partial() {
		s.logger.Warn("partial draw result",
			zap.Int64("weeklyRaffleID", weeklyID),
			zap.Int("requested", res.Requested),
			zap.Int("drawn", len(res.Winners)),
		)
	}
	s.logger.Info("draw completed",
		zap.Int64("weeklyRaffleID", weeklyID),
		zap.String("sessionID", res.SessionID.String()),
		zap.Int("pool", len(pool)),
		zap.Int("eligible", len(eligible)),
		zap.Int("winners", len(res.Winners)),
	)

	return &res, nil
}

// withStoredExclusions накладывает на пул исключения, записанные прошлыми розыгрышами.
// Внешний реестр о них не знает, поэтому из двух статусов берётся более строгий.
func (s *Service) withStoredExclusions(ctx context.Context, pool []model.Participant) ([]model.Participant, error) {
	if len(pool) == 0 {
		return pool, nil
	}

	ids := make([]string, 0, len(pool))
	for _, p := range pool {
		ids = append(ids, p.ID)
	}

	stored, err := s.repo.ExclusionStatuses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load exclusion statuses: %w", err)
	}

	res := make([]model.Participant, len(pool))
	for i, p := range pool {
		if st, ok := stored[p.ID]; ok {
			p.Exclusion = eligibility.Stricter(p.Exclusion, st)
		}
		res[i] = p
	}
	return res, nil
}
