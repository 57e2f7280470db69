// Package draw реализует последовательный розыгрыш призовых мест.
//
// Сессия проходит состояния preparation -> drawing(1) -> ... -> drawing(k) -> complete.
// На каждое место выбирается ровно один ещё не выигравший участник. Если пул
// заканчивается раньше, сессия завершается с меньшим числом победителей.
// Сессия не потокобезопасна: одну сессию ведёт один вызывающий.
package draw

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-system/internal/eligibility"
	"github.com/mmeshcher/raffle-system/internal/model"
	"github.com/mmeshcher/raffle-system/internal/prize"
)

// Status описывает состояние сессии розыгрыша.
type Status string

const (
	StatusPreparation Status = "preparation"
	StatusDrawing     Status = "drawing"
	StatusComplete    Status = "complete"
)

var (
	// ErrInvalidState возвращается при вызове операции в неподходящем состоянии.
	ErrInvalidState = errors.New("operation not allowed in current draw state")
	// ErrPositionMismatch возвращается при попытке разыграть место не по порядку.
	ErrPositionMismatch = errors.New("position is not the one being drawn")
	// ErrNotFinished возвращается при попытке подвести итоги незавершённого розыгрыша.
	ErrNotFinished = errors.New("draw is not finished")
	// ErrPickOutOfRange возвращается, если Picker вернул индекс вне пула.
	ErrPickOutOfRange = errors.New("picker returned index out of range")
)

// NoParticipantsError возвращается при старте с пустым пулом.
type NoParticipantsError struct{}

func (NoParticipantsError) Error() string {
	return "cannot start draw: " + model.ErrNoParticipants.Error()
}

func (NoParticipantsError) Unwrap() error {
	return model.ErrNoParticipants
}

// Selection фиксирует победителя конкретного места.
type Selection struct {
	Position    int
	Participant model.Participant
}

// Observer получает уведомление о каждом разыгранном месте.
type Observer interface {
	PositionSettled(sessionID uuid.UUID, sel Selection, remaining int)
}

// ObserverFunc позволяет использовать функцию как Observer.
type ObserverFunc func(sessionID uuid.UUID, sel Selection, remaining int)

// PositionSettled вызывает f.
func (f ObserverFunc) PositionSettled(sessionID uuid.UUID, sel Selection, remaining int) {
	f(sessionID, sel, remaining)
}

// Finalization содержит данные для подведения итогов розыгрыша.
type Finalization struct {
	WeeklyRaffleID int64
	Prizes         prize.Table
	Fund           decimal.Decimal
	Exclusion      model.ExclusionPolicy
	DrawnAt        time.Time
}

// Session хранит состояние одного розыгрыша.
type Session struct {
	id       uuid.UUID
	picker   Picker
	observer Observer

	status       Status
	winnersCount int
	position     int
	selected     []Selection
	remaining    []model.Participant

	result *model.DrawResult
}

// Option настраивает сессию.
type Option func(*Session)

// WithObserver подключает наблюдателя за ходом розыгрыша.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observer = o
	}
}

// NewSession создаёт сессию в состоянии preparation.
// Если picker не задан, используется CryptoPicker.
func NewSession(picker Picker, opts ...Option) *Session {
	if picker == nil {
		picker = CryptoPicker{}
	}
	s := &Session{
		id:     uuid.New(),
		picker: picker,
		status: StatusPreparation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Status возвращает текущее состояние.
func (s *Session) Status() Status {
	return s.status
}

// CurrentPosition возвращает разыгрываемое место, либо 0 вне состояния drawing.
func (s *Session) CurrentPosition() int {
	if s.status != StatusDrawing {
		return 0
	}
	return s.position
}

// Start запускает розыгрыш winnersCount мест по пулу допущенных участников.
// Повторяющиеся идентификаторы в пуле учитываются один раз.
func (s *Session) Start(pool []model.Participant, winnersCount int) error {
	if s.status != StatusPreparation {
		return fmt.Errorf("start from %s: %w", s.status, ErrInvalidState)
	}
	if winnersCount < 1 {
		return model.NewConfigurationError("winnersCount", fmt.Sprintf("must be at least 1, got %d", winnersCount))
	}

	seen := make(map[string]struct{}, len(pool))
	remaining := make([]model.Participant, 0, len(pool))
	for _, p := range pool {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		remaining = append(remaining, p)
	}

	if len(remaining) == 0 {
		return NoParticipantsError{}
	}

	s.winnersCount = winnersCount
	s.remaining = remaining
	s.selected = make([]Selection, 0, min(winnersCount, len(remaining)))
	s.position = 1
	s.status = StatusDrawing
	return nil
}

// DrawPosition выбирает победителя для места position.
// Место должно совпадать с текущим разыгрываемым.
func (s *Session) DrawPosition(position int) (Selection, error) {
	if s.status != StatusDrawing {
		return Selection{}, fmt.Errorf("draw position %d from %s: %w", position, s.status, ErrInvalidState)
	}
	if position != s.position {
		return Selection{}, fmt.Errorf("draw position %d, current %d: %w", position, s.position, ErrPositionMismatch)
	}

	idx := s.picker.Pick(len(s.remaining))
	if idx < 0 || idx >= len(s.remaining) {
		return Selection{}, fmt.Errorf("pick %d of %d: %w", idx, len(s.remaining), ErrPickOutOfRange)
	}

	winner := s.remaining[idx]
	s.remaining = append(s.remaining[:idx], s.remaining[idx+1:]...)

	sel := Selection{Position: position, Participant: winner}
	s.selected = append(s.selected, sel)

	if position < s.winnersCount && len(s.remaining) > 0 {
		s.position = position + 1
	} else {
		s.status = StatusComplete
	}

	if s.observer != nil {
		s.observer.PositionSettled(s.id, sel, len(s.remaining))
	}

	return sel, nil
}

// DrawNext разыгрывает текущее место.
func (s *Session) DrawNext() (Selection, error) {
	return s.DrawPosition(s.position)
}

// DrawAll разыгрывает все оставшиеся места.
func (s *Session) DrawAll() ([]Selection, error) {
	for s.status == StatusDrawing {
		if _, err := s.DrawNext(); err != nil {
			return nil, err
		}
	}
	return s.Selected(), nil
}

// Selected возвращает копию списка выбранных победителей.
func (s *Session) Selected() []Selection {
	res := make([]Selection, len(s.selected))
	copy(res, s.selected)
	return res
}

// Complete подводит итоги розыгрыша: суммы призов по таблице и окна исключения
// победителей, если политика включена. Повторный вызов до Reset возвращает
// тот же результат и не пересчитывает его.
func (s *Session) Complete(f Finalization) (model.DrawResult, error) {
	if s.status != StatusComplete {
		return model.DrawResult{}, fmt.Errorf("complete from %s: %w", s.status, ErrNotFinished)
	}
	if s.result != nil {
		return cloneResult(*s.result), nil
	}

	res := model.DrawResult{
		SessionID:      s.id,
		WeeklyRaffleID: f.WeeklyRaffleID,
		Requested:      s.winnersCount,
		DrawnAt:        f.DrawnAt,
		Winners:        make([]model.RaffleWinner, 0, len(s.selected)),
	}

	for _, sel := range s.selected {
		res.Winners = append(res.Winners, model.RaffleWinner{
			Position:        sel.Position,
			ParticipantID:   sel.Participant.ID,
			ParticipantName: sel.Participant.Name,
			PrizeAmount:     f.Prizes.Amount(sel.Position, f.Fund),
			PrizePercentage: f.Prizes.Percent(sel.Position),
		})
	}

	if f.Exclusion.Enabled {
		until, err := eligibility.ExcludedUntil(f.Exclusion, f.DrawnAt)
		if err != nil {
			return model.DrawResult{}, err
		}
		for _, sel := range s.selected {
			res.Exclusions = append(res.Exclusions, model.ExclusionUpdate{
				ParticipantID: sel.Participant.ID,
				ExcludedUntil: until,
				Reason:        fmt.Sprintf("won position %d", sel.Position),
			})
		}
	}

	s.result = &res
	return cloneResult(res), nil
}

// Reset возвращает сессию в состояние preparation из любого состояния.
// Уже сохранённые итоги прошлого розыгрыша не затрагиваются.
func (s *Session) Reset() {
	s.id = uuid.New()
	s.status = StatusPreparation
	s.winnersCount = 0
	s.position = 0
	s.selected = nil
	s.remaining = nil
	s.result = nil
}

func cloneResult(r model.DrawResult) model.DrawResult {
	r.Winners = append([]model.RaffleWinner(nil), r.Winners...)
	if r.Exclusions != nil {
		r.Exclusions = append([]model.ExclusionUpdate(nil), r.Exclusions...)
	}
	return r
}
