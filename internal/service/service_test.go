package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/raffle-system/internal/draw"
	"github.com/mmeshcher/raffle-system/internal/model"
	"github.com/mmeshcher/raffle-system/internal/repository"
)

type stubRepo struct {
	created  *model.MonthlyRaffle
	monthly  *model.MonthlyRaffle
	weekly   *model.WeeklyRaffle
	getErr   error
	replaced []model.WeeklyRaffle

	replaceErr error

	entries    []model.Participant
	entryErr   error
	exclusions []string

	saved    []model.DrawResult
	saveErr  error
	statuses map[string]model.ExclusionStatus

	winners []model.RaffleWinner
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateMonthlyRaffle(ctx context.Context, m *model.MonthlyRaffle) (int64, error) {
	m.ID = 1
	for i := range m.Weeks {
		m.Weeks[i].ID = int64(10 + i)
		m.Weeks[i].MonthlyRaffleID = 1
	}
	s.created = m
	return 1, nil
}

func (s *stubRepo) GetMonthlyRaffle(ctx context.Context, id int64) (*model.MonthlyRaffle, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.monthly == nil {
		return nil, repository.ErrRaffleNotFound
	}
	m := *s.monthly
	m.Weeks = append([]model.WeeklyRaffle(nil), s.monthly.Weeks...)
	return &m, nil
}

func (s *stubRepo) GetWeeklyRaffle(ctx context.Context, id int64) (*model.WeeklyRaffle, error) {
	if s.weekly == nil {
		return nil, repository.ErrRaffleNotFound
	}
	w := *s.weekly
	return &w, nil
}

func (s *stubRepo) ReplaceAllocation(ctx context.Context, monthlyID int64, weeks []model.WeeklyRaffle) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced = weeks
	return nil
}

func (s *stubRepo) AddEntry(ctx context.Context, weeklyID int64, p model.Participant) error {
	if s.entryErr != nil {
		return s.entryErr
	}
	s.entries = append(s.entries, p)
	return nil
}

func (s *stubRepo) Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error) {
	return s.entries, nil
}

func (s *stubRepo) ExclusionList(ctx context.Context, weeklyID int64) ([]string, error) {
	return s.exclusions, nil
}

func (s *stubRepo) ExclusionStatuses(ctx context.Context, ids []string) (map[string]model.ExclusionStatus, error) {
	res := make(map[string]model.ExclusionStatus)
	for _, id := range ids {
		if st, ok := s.statuses[id]; ok {
			res[id] = st
		}
	}
	return res, nil
}

func (s *stubRepo) AddExclusion(ctx context.Context, weeklyID int64, participantID string) error {
	s.exclusions = append(s.exclusions, participantID)
	return nil
}

func (s *stubRepo) SaveDrawResult(ctx context.Context, res model.DrawResult) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, res)
	if s.statuses == nil {
		s.statuses = make(map[string]model.ExclusionStatus)
	}
	for _, u := range res.Exclusions {
		until := u.ExcludedUntil
		s.statuses[u.ParticipantID] = model.ExclusionStatus{IsExcluded: true, ExcludedUntil: &until, Reason: u.Reason}
	}
	return nil
}

func (s *stubRepo) Winners(ctx context.Context, weeklyID int64) ([]model.RaffleWinner, error) {
	return s.winners, nil
}

type stubSource struct {
	pool []model.Participant
	err  error
}

func (s *stubSource) Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error) {
	return s.pool, s.err
}

var firstPicker = func(int64) draw.Picker {
	return draw.PickerFunc(func(int) int { return 0 })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func monthlyConfig() model.MonthlyConfig {
	return model.MonthlyConfig{
		Year:              2026,
		Month:             time.October,
		DrawWeekday:       time.Friday,
		TotalFund:         dec("10000"),
		TotalParticipants: 103,
		WinnersCount:      5,
		FirstPct:          dec("30"),
		SecondPct:         dec("20"),
		ThirdPct:          dec("15"),
		Exclusion:         model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextWeek},
	}
}

func players(n int) []model.Participant {
	res := make([]model.Participant, 0, n)
	for i := 1; i <= n; i++ {
		res = append(res, model.Participant{ID: fmt.Sprintf("u%d", i), Name: fmt.Sprintf("User %d", i)})
	}
	return res
}

func drawFixture() *stubRepo {
	return &stubRepo{
		monthly: &model.MonthlyRaffle{
			ID:           1,
			WeekCount:    4,
			WinnersCount: 3,
			FirstPct:     dec("50"),
			SecondPct:    dec("30"),
			ThirdPct:     dec("20"),
			Exclusion:    model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextMonth},
		},
		weekly: &model.WeeklyRaffle{
			ID:              10,
			MonthlyRaffleID: 1,
			WeekIndex:       1,
			Fund:            dec("1000"),
			FundPct:         25,
			MaxParticipants: 10,
			WinnersCount:    3,
		},
		entries: players(5),
	}
}

func TestConfigureMonthly_EvenSplit(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	m, err := svc.ConfigureMonthly(context.Background(), monthlyConfig())
	require.NoError(t, err)
	require.NotNil(t, repo.created)

	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, 5, m.WeekCount)
	assert.Equal(t, map[int]int{1: 20, 2: 20, 3: 20, 4: 20, 5: 20}, m.WeeklyFundPct)
	require.Len(t, m.Weeks, 5)

	wantPeople := []int{21, 21, 21, 20, 20}
	total := 0
	for i, w := range m.Weeks {
		assert.Equal(t, i+1, w.WeekIndex)
		assert.Equal(t, wantPeople[i], w.MaxParticipants)
		assert.True(t, dec("2000").Equal(w.Fund))
		assert.Equal(t, time.Friday, w.DrawDate.Weekday())
		require.Len(t, w.PrizePositions, 5)
		assert.True(t, dec("350").Equal(w.PrizePositions[3].Amount), "fourth place amount %s", w.PrizePositions[3].Amount)
		total += w.MaxParticipants
	}
	assert.Equal(t, 103, total)
}

func TestConfigureMonthly_InactiveWeeks(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	cfg := monthlyConfig()
	cfg.WeeklyFundPct = map[int]int{1: 50, 2: 0, 3: 50, 4: 0, 5: 0}
	cfg.TotalParticipants = 11

	m, err := svc.ConfigureMonthly(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 6, m.Weeks[0].MaxParticipants)
	assert.Equal(t, 0, m.Weeks[1].MaxParticipants)
	assert.Equal(t, 0, m.Weeks[1].WinnersCount)
	assert.Empty(t, m.Weeks[1].PrizePositions)
	assert.Equal(t, 5, m.Weeks[2].MaxParticipants)
}

func TestConfigureMonthly_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.MonthlyConfig)
		wantErr error
	}{
		{
			name:    "fund shares do not sum to 100",
			mutate:  func(c *model.MonthlyConfig) { c.WeeklyFundPct = map[int]int{1: 50, 2: 30} },
			wantErr: model.ErrConfiguration,
		},
		{
			name: "prize pool exceeded",
			mutate: func(c *model.MonthlyConfig) {
				c.WinnersCount = 4
				c.FirstPct, c.SecondPct, c.ThirdPct = dec("60"), dec("30"), dec("20")
			},
			wantErr: model.ErrPrizePoolExceeded,
		},
		{
			name: "no remainder for extra winners",
			mutate: func(c *model.MonthlyConfig) {
				c.FirstPct, c.SecondPct, c.ThirdPct = dec("50"), dec("30"), dec("20")
			},
			wantErr: model.ErrNoRemainderForExtraWinners,
		},
		{
			name:    "more winners than participants per week",
			mutate:  func(c *model.MonthlyConfig) { c.TotalParticipants = 12 },
			wantErr: model.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{}
			svc := NewService(repo, nil, nil)

			cfg := monthlyConfig()
			tt.mutate(&cfg)

			_, err := svc.ConfigureMonthly(context.Background(), cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, repo.created)
		})
	}
}

func TestUpdateFundPercentages(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	m, err := svc.ConfigureMonthly(context.Background(), monthlyConfig())
	require.NoError(t, err)
	repo.monthly = m

	updated, err := svc.UpdateFundPercentages(context.Background(), 1, map[int]int{1: 40, 2: 0, 3: 30, 4: 30, 5: 0})
	require.NoError(t, err)
	require.Len(t, repo.replaced, 5)

	assert.Equal(t, []int{35, 0, 34, 34, 0}, []int{
		repo.replaced[0].MaxParticipants, repo.replaced[1].MaxParticipants, repo.replaced[2].MaxParticipants,
		repo.replaced[3].MaxParticipants, repo.replaced[4].MaxParticipants,
	})
	assert.True(t, dec("4000").Equal(updated.Weeks[0].Fund))
	assert.Equal(t, m.Weeks[2].ID, updated.Weeks[2].ID)
	assert.Equal(t, m.Weeks[2].DrawDate, updated.Weeks[2].DrawDate)
}

func TestUpdateFundPercentages_Locked(t *testing.T) {
	repo := &stubRepo{replaceErr: repository.ErrAllocationLocked}
	svc := NewService(repo, nil, nil)

	m, err := svc.ConfigureMonthly(context.Background(), monthlyConfig())
	require.NoError(t, err)
	repo.monthly = m

	_, err = svc.UpdateFundPercentages(context.Background(), 1, map[int]int{1: 100})
	assert.ErrorIs(t, err, repository.ErrAllocationLocked)

	_, err = svc.UpdateFundPercentages(context.Background(), 1, map[int]int{1: 90})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestDraw_Success(t *testing.T) {
	repo := drawFixture()
	repo.exclusions = []string{"u1"}

	now := time.Date(2026, time.January, 30, 19, 0, 0, 0, time.UTC)
	svc := NewService(repo, nil, nil,
		WithClock(clockwork.NewFakeClockAt(now)),
		WithPickerFactory(firstPicker),
	)

	res, err := svc.Draw(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, *res, repo.saved[0])

	assert.Equal(t, int64(10), res.WeeklyRaffleID)
	assert.True(t, now.Equal(res.DrawnAt))
	require.Len(t, res.Winners, 3)
	assert.Equal(t, "u2", res.Winners[0].ParticipantID)
	assert.Equal(t, "u3", res.Winners[1].ParticipantID)
	assert.Equal(t, "u4", res.Winners[2].ParticipantID)
	assert.True(t, dec("500").Equal(res.Winners[0].PrizeAmount))
	assert.True(t, dec("200").Equal(res.Winners[2].PrizeAmount))
	assert.False(t, res.Partial())

	require.Len(t, res.Exclusions, 3)
	wantUntil := time.Date(2026, time.February, 28, 19, 0, 0, 0, time.UTC)
	assert.True(t, wantUntil.Equal(res.Exclusions[0].ExcludedUntil), "excluded until %s", res.Exclusions[0].ExcludedUntil)
}

func TestDraw_SkipsExcludedWinners(t *testing.T) {
	repo := drawFixture()
	now := time.Date(2026, time.March, 6, 19, 0, 0, 0, time.UTC)
	until := now
	repo.entries[0].Exclusion = model.ExclusionStatus{IsExcluded: true, ExcludedUntil: &until}

	svc := NewService(repo, nil, nil, WithClock(clockwork.NewFakeClockAt(now)), WithPickerFactory(firstPicker))

	res, err := svc.Draw(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Winners[0].ParticipantID)
}

func TestDraw_PartialResult(t *testing.T) {
	repo := drawFixture()
	repo.entries = players(2)

	svc := NewService(repo, nil, nil, WithPickerFactory(firstPicker))

	res, err := svc.Draw(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Len(t, res.Winners, 2)
	assert.Len(t, repo.saved, 1)
}

func TestDraw_UsesParticipantSource(t *testing.T) {
	repo := drawFixture()
	source := &stubSource{pool: []model.Participant{{ID: "ext-1", Name: "External"}}}

	svc := NewService(repo, source, nil, WithPickerFactory(firstPicker))

	res, err := svc.Draw(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, res.Winners, 1)
	assert.Equal(t, "ext-1", res.Winners[0].ParticipantID)

	source.err = errors.New("registry down")
	repo.saved = nil
	_, err = svc.Draw(context.Background(), 10)
	assert.Error(t, err)
	assert.Empty(t, repo.saved)
}

func TestDraw_ExternalSourceHonoursStoredExclusions(t *testing.T) {
	repo := drawFixture()
	source := &stubSource{pool: players(5)}

	now := time.Date(2026, time.March, 6, 19, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	svc := NewService(repo, source, nil, WithClock(clock), WithPickerFactory(firstPicker))

	first, err := svc.Draw(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, first.Winners, 3)
	assert.Equal(t, "u1", first.Winners[0].ParticipantID)

	// Реестр по-прежнему отдаёт победителей без исключения.
	for _, p := range source.pool {
		assert.False(t, p.Exclusion.IsExcluded)
	}

	repo.weekly = &model.WeeklyRaffle{
		ID:              11,
		MonthlyRaffleID: 1,
		WeekIndex:       2,
		Fund:            dec("1000"),
		FundPct:         25,
		MaxParticipants: 10,
		WinnersCount:    3,
	}
	clock.Advance(7 * 24 * time.Hour)

	second, err := svc.Draw(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, second.Partial())
	require.Len(t, second.Winners, 2)
	assert.Equal(t, "u4", second.Winners[0].ParticipantID)
	assert.Equal(t, "u5", second.Winners[1].ParticipantID)
}

func TestWinners_UnknownRaffle(t *testing.T) {
	repo := drawFixture()
	repo.winners = []model.RaffleWinner{{Position: 1, ParticipantID: "u1"}}
	svc := NewService(repo, nil, nil)

	winners, err := svc.Winners(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, winners, 1)

	repo.weekly = nil
	_, err = svc.Winners(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrRaffleNotFound)
}

func TestDraw_NoParticipants(t *testing.T) {
	repo := drawFixture()
	repo.entries = nil

	svc := NewService(repo, nil, nil)

	_, err := svc.Draw(context.Background(), 10)
	assert.ErrorIs(t, err, model.ErrNoParticipants)
	assert.Empty(t, repo.saved)
}

func TestDraw_AlreadyDrawn(t *testing.T) {
	repo := drawFixture()
	drawn := time.Now()
	repo.weekly.DrawnAt = &drawn

	svc := NewService(repo, nil, nil)

	_, err := svc.Draw(context.Background(), 10)
	assert.ErrorIs(t, err, repository.ErrAlreadyDrawn)
}

func TestDraw_InactiveWeek(t *testing.T) {
	repo := drawFixture()
	repo.weekly.WinnersCount = 0

	svc := NewService(repo, nil, nil)

	_, err := svc.Draw(context.Background(), 10)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestDraw_SaveFailureReturnsResult(t *testing.T) {
	repo := drawFixture()
	repo.saveErr = errors.New("connection reset by peer")

	svc := NewService(repo, nil, nil, WithPickerFactory(firstPicker))

	res, err := svc.Draw(context.Background(), 10)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Winners, 3)

	repo.saveErr = nil
	require.NoError(t, repo.SaveDrawResult(context.Background(), *res))
	assert.Equal(t, res.Winners, repo.saved[0].Winners)
}

func TestDraw_SeededPickersAreReproducible(t *testing.T) {
	run := func() []model.RaffleWinner {
		repo := drawFixture()
		repo.entries = players(20)
		svc := NewService(repo, nil, nil, WithPickerFactory(SeededPickers(99)))
		res, err := svc.Draw(context.Background(), 10)
		require.NoError(t, err)
		return res.Winners
	}

	first := run()
	second := run()
	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].ParticipantID, second[i].ParticipantID)
	}
}

func TestEnter_Validation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	err := svc.Enter(context.Background(), 10, model.Participant{ID: "", Name: "x"})
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Empty(t, repo.entries)

	require.NoError(t, svc.Enter(context.Background(), 10, model.Participant{ID: "u1", Name: "User"}))
	assert.Len(t, repo.entries, 1)

	repo.entryErr = repository.ErrRaffleFull
	err = svc.Enter(context.Background(), 10, model.Participant{ID: "u2", Name: "User"})
	assert.ErrorIs(t, err, repository.ErrRaffleFull)
}

func TestPrizePreview(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	positions, err := svc.PrizePreview(5, dec("30"), dec("20"), dec("15"), dec("1000"))
	require.NoError(t, err)
	require.Len(t, positions, 5)
	assert.True(t, dec("175").Equal(positions[4].Amount))

	_, err = svc.PrizePreview(4, dec("60"), dec("30"), dec("20"), dec("1000"))
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
