// Package handler содержит HTTP-обработчики API сервиса розыгрышей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-system/internal/model"
	"github.com/mmeshcher/raffle-system/internal/participants"
	"github.com/mmeshcher/raffle-system/internal/repository"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ConfigureMonthly(ctx context.Context, cfg model.MonthlyConfig) (*model.MonthlyRaffle, error)
	GetMonthly(ctx context.Context, id int64) (*model.MonthlyRaffle, error)
	UpdateFundPercentages(ctx context.Context, monthlyID int64, pct map[int]int) (*model.MonthlyRaffle, error)
	Enter(ctx context.Context, weeklyID int64, p model.Participant) error
	Exclude(ctx context.Context, weeklyID int64, participantID string) error
	Draw(ctx context.Context, weeklyID int64) (*model.DrawResult, error)
	Winners(ctx context.Context, weeklyID int64) ([]model.RaffleWinner, error)
	PrizePreview(winnersCount int, first, second, third, fund decimal.Decimal) ([]model.PrizePosition, error)
}

// Handler реализует HTTP-обработчики API сервиса розыгрышей.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type exclusionPolicyDTO struct {
	Enabled      bool   `json:"enabled"`
	Period       string `json:"period"`
	CustomPeriod int    `json:"customPeriod"`
}

type configureRequest struct {
	Year              int                `json:"year"`
	Month             int                `json:"month"`
	DrawWeekday       int                `json:"drawWeekday"`
	TotalFund         decimal.Decimal    `json:"totalFund"`
	TotalParticipants int                `json:"totalParticipants"`
	WeeklyFundPct     map[int]int        `json:"weeklyFundPct"`
	WinnersCount      int                `json:"winnersCount"`
	FirstPct          decimal.Decimal    `json:"firstPct"`
	SecondPct         decimal.Decimal    `json:"secondPct"`
	ThirdPct          decimal.Decimal    `json:"thirdPct"`
	ExclusionPolicy   exclusionPolicyDTO `json:"exclusionPolicy"`
}

type weeklyResponse struct {
	ID              int64                 `json:"id"`
	WeekIndex       int                   `json:"weekIndex"`
	DrawDate        string                `json:"drawDate"`
	FundPct         int                   `json:"fundPct"`
	Fund            decimal.Decimal       `json:"fund"`
	MaxParticipants int                   `json:"maxParticipants"`
	WinnersCount    int                   `json:"winnersCount"`
	PrizeTable      []model.PrizePosition `json:"prizeTable"`
	DrawnAt         *string               `json:"drawnAt,omitempty"`
}

type monthlyResponse struct {
	ID                int64              `json:"id"`
	Year              int                `json:"year"`
	Month             int                `json:"month"`
	DrawWeekday       int                `json:"drawWeekday"`
	TotalFund         decimal.Decimal    `json:"totalFund"`
	TotalParticipants int                `json:"totalParticipants"`
	WeeklyFundPct     map[int]int        `json:"weeklyFundPct"`
	WinnersCount      int                `json:"winnersCount"`
	FirstPct          decimal.Decimal    `json:"firstPct"`
	SecondPct         decimal.Decimal    `json:"secondPct"`
	ThirdPct          decimal.Decimal    `json:"thirdPct"`
	ExclusionPolicy   exclusionPolicyDTO `json:"exclusionPolicy"`
	Weeks             []weeklyResponse   `json:"weeks"`
}

func toMonthlyResponse(m *model.MonthlyRaffle) monthlyResponse {
	resp := monthlyResponse{
		ID:                m.ID,
		Year:              m.Year,
		Month:             int(m.Month),
		DrawWeekday:       int(m.DrawWeekday),
		TotalFund:         m.TotalFund,
		TotalParticipants: m.TotalParticipants,
		WeeklyFundPct:     m.WeeklyFundPct,
		WinnersCount:      m.WinnersCount,
		FirstPct:          m.FirstPct,
		SecondPct:         m.SecondPct,
		ThirdPct:          m.ThirdPct,
		ExclusionPolicy: exclusionPolicyDTO{
			Enabled:      m.Exclusion.Enabled,
			Period:       string(m.Exclusion.Period),
			CustomPeriod: m.Exclusion.CustomPeriod,
		},
		Weeks: make([]weeklyResponse, 0, len(m.Weeks)),
	}

	for _, w := range m.Weeks {
		wr := weeklyResponse{
			ID:              w.ID,
			WeekIndex:       w.WeekIndex,
			DrawDate:        w.DrawDate.Format(time.DateOnly),
			FundPct:         w.FundPct,
			Fund:            w.Fund,
			MaxParticipants: w.MaxParticipants,
			WinnersCount:    w.WinnersCount,
			PrizeTable:      w.PrizePositions,
		}
		if wr.PrizeTable == nil {
			wr.PrizeTable = []model.PrizePosition{}
		}
		if w.DrawnAt != nil {
			s := w.DrawnAt.Format(time.RFC3339)
			wr.DrawnAt = &s
		}
		resp.Weeks = append(resp.Weeks, wr)
	}

	return resp
}

// ConfigureMonthly создаёт месячный розыгрыш и распределяет его по неделям.
func (h *Handler) ConfigureMonthly(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	m, err := h.service.ConfigureMonthly(r.Context(), model.MonthlyConfig{
		Year:              req.Year,
		Month:             time.Month(req.Month),
		DrawWeekday:       time.Weekday(req.DrawWeekday),
		TotalFund:         req.TotalFund,
		TotalParticipants: req.TotalParticipants,
		WeeklyFundPct:     req.WeeklyFundPct,
		WinnersCount:      req.WinnersCount,
		FirstPct:          req.FirstPct,
		SecondPct:         req.SecondPct,
		ThirdPct:          req.ThirdPct,
		Exclusion: model.ExclusionPolicy{
			Enabled:      req.ExclusionPolicy.Enabled,
			Period:       model.ExclusionPeriod(req.ExclusionPolicy.Period),
			CustomPeriod: req.ExclusionPolicy.CustomPeriod,
		},
	})
	if err != nil {
		h.writeError(w, "configure raffle error", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toMonthlyResponse(m))
}

// GetMonthly возвращает месячный розыгрыш.
func (h *Handler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := h.service.GetMonthly(r.Context(), id)
	if err != nil {
		h.writeError(w, "get raffle error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toMonthlyResponse(m))
}

type allocationRequest struct {
	WeeklyFundPct map[int]int `json:"weeklyFundPct"`
}

// UpdateAllocation меняет доли фонда по неделям.
func (h *Handler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	m, err := h.service.UpdateFundPercentages(r.Context(), id, req.WeeklyFundPct)
	if err != nil {
		h.writeError(w, "update allocation error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, toMonthlyResponse(m))
}

type entryRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Enter записывает участника в недельный розыгрыш.
func (h *Handler) Enter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Enter(r.Context(), id, model.Participant{ID: req.ID, Name: req.Name}); err != nil {
		h.writeError(w, "enter raffle error", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type exclusionRequest struct {
	ParticipantID string `json:"participantId"`
}

// Exclude явно исключает участника из недельного розыгрыша.
func (h *Handler) Exclude(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Exclude(r.Context(), id, req.ParticipantID); err != nil {
		h.writeError(w, "exclude participant error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type drawResponse struct {
	SessionID      string               `json:"sessionId"`
	WeeklyRaffleID int64                `json:"weeklyRaffleId"`
	Requested      int                  `json:"requested"`
	Partial        bool                 `json:"partial"`
	Winners        []model.RaffleWinner `json:"winners"`
	DrawTimestamp  string               `json:"drawTimestamp"`
}

// Draw проводит розыгрыш недели.
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Draw(r.Context(), id)
	if err != nil {
		h.writeError(w, "draw error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, drawResponse{
		SessionID:      res.SessionID.String(),
		WeeklyRaffleID: res.WeeklyRaffleID,
		Requested:      res.Requested,
		Partial:        res.Partial(),
		Winners:        res.Winners,
		DrawTimestamp:  res.DrawnAt.Format(time.RFC3339),
	})
}

// GetWinners возвращает победителей недельного розыгрыша.
func (h *Handler) GetWinners(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	winners, err := h.service.Winners(r.Context(), id)
	if err != nil {
		h.writeError(w, "get winners error", err)
		return
	}

	if len(winners) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, winners)
}

// PrizeTable рассчитывает таблицу призов по параметрам запроса.
func (h *Handler) PrizeTable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	winners, err := strconv.Atoi(q.Get("winners"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	values := make([]decimal.Decimal, 4)
	for i, name := range []string{"first", "second", "third", "fund"} {
		raw := q.Get(name)
		if raw == "" {
			values[i] = decimal.Zero
			continue
		}
		values[i], err = decimal.NewFromString(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	positions, err := h.service.PrizePreview(winners, values[0], values[1], values[2], values[3])
	if err != nil {
		h.writeError(w, "prize table error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, positions)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	var retryErr *participants.RetryAfterError

	switch {
	case errors.Is(err, model.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrRaffleNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrAlreadyDrawn),
		errors.Is(err, repository.ErrAllocationLocked),
		errors.Is(err, repository.ErrRaffleFull),
		errors.Is(err, model.ErrNoParticipants),
		errors.Is(err, model.ErrNoActiveWeeks):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &retryErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(retryErr.RetryAfter.Seconds())))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
