package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/raffle-system/internal/model"
)

var enabled = model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextWeek}

func ids(pool []model.Participant) []string {
	res := make([]string, 0, len(pool))
	for _, p := range pool {
		res = append(res, p.ID)
	}
	return res
}

func excludedUntil(t time.Time) model.ExclusionStatus {
	return model.ExclusionStatus{IsExcluded: true, ExcludedUntil: &t, Reason: "winner"}
}

func TestEligible_PolicyDisabled(t *testing.T) {
	drawDate := time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)
	pool := []model.Participant{
		{ID: "a"},
		{ID: "b", Exclusion: excludedUntil(drawDate.AddDate(0, 0, 30))},
	}

	got := Eligible(pool, []string{"a"}, model.ExclusionPolicy{}, drawDate)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestEligible_ExplicitList(t *testing.T) {
	pool := []model.Participant{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	got := Eligible(pool, []string{"b"}, enabled, time.Now())
	assert.Equal(t, []string{"a", "c"}, ids(got))
}

func TestEligible_ExclusionWindow(t *testing.T) {
	drawDate := time.Date(2026, time.March, 6, 12, 0, 0, 0, time.UTC)
	until := drawDate.AddDate(0, 0, 30)
	pool := []model.Participant{{ID: "w", Exclusion: excludedUntil(until)}}

	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"inside window", drawDate.AddDate(0, 0, 29), []string{}},
		{"exactly at the end", until, []string{}},
		{"just after the end", until.Add(time.Nanosecond), []string{"w"}},
		{"after window", drawDate.AddDate(0, 0, 31), []string{"w"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Eligible(pool, nil, enabled, tt.now)))
		})
	}
}

func TestEligible_PermanentExclusion(t *testing.T) {
	pool := []model.Participant{{ID: "banned", Exclusion: model.ExclusionStatus{IsExcluded: true}}, {ID: "ok"}}
	got := Eligible(pool, nil, enabled, time.Now().AddDate(10, 0, 0))
	assert.Equal(t, []string{"ok"}, ids(got))
}

func TestStricter(t *testing.T) {
	early := time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)
	late := early.AddDate(0, 1, 0)

	free := model.ExclusionStatus{}
	untilEarly := model.ExclusionStatus{IsExcluded: true, ExcludedUntil: &early, Reason: "registry"}
	untilLate := model.ExclusionStatus{IsExcluded: true, ExcludedUntil: &late, Reason: "won"}
	forever := model.ExclusionStatus{IsExcluded: true}

	tests := []struct {
		name string
		a, b model.ExclusionStatus
		want model.ExclusionStatus
	}{
		{name: "both free", a: free, b: free, want: free},
		{name: "local exclusion wins over free", a: free, b: untilLate, want: untilLate},
		{name: "remote exclusion kept", a: untilEarly, b: free, want: untilEarly},
		{name: "later window wins", a: untilEarly, b: untilLate, want: untilLate},
		{name: "later window wins reversed", a: untilLate, b: untilEarly, want: untilLate},
		{name: "permanent wins", a: untilLate, b: forever, want: forever},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stricter(tt.a, tt.b))
		})
	}
}

func TestExcludedUntil(t *testing.T) {
	drawDate := time.Date(2026, time.January, 31, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		policy model.ExclusionPolicy
		date   time.Time
		want   time.Time
	}{
		{
			name:   "next week",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextWeek},
			date:   drawDate,
			want:   time.Date(2026, time.February, 7, 18, 0, 0, 0, time.UTC),
		},
		{
			name:   "next month clamps to end of february",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextMonth},
			date:   drawDate,
			want:   time.Date(2026, time.February, 28, 18, 0, 0, 0, time.UTC),
		},
		{
			name:   "next month keeps day",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionNextMonth},
			date:   time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
			want:   time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "custom weeks",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionCustomWeeks, CustomPeriod: 3},
			date:   drawDate,
			want:   time.Date(2026, time.February, 21, 18, 0, 0, 0, time.UTC),
		},
		{
			name:   "custom months across year end",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionCustomMonths, CustomPeriod: 13},
			date:   drawDate,
			want:   time.Date(2027, time.February, 28, 18, 0, 0, 0, time.UTC),
		},
		{
			name:   "leap year february",
			policy: model.ExclusionPolicy{Enabled: true, Period: model.ExclusionCustomMonths, CustomPeriod: 1},
			date:   time.Date(2028, time.January, 30, 0, 0, 0, 0, time.UTC),
			want:   time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExcludedUntil(tt.policy, tt.date)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestExcludedUntil_InvalidPolicy(t *testing.T) {
	_, err := ExcludedUntil(model.ExclusionPolicy{Enabled: true, Period: model.ExclusionCustomWeeks}, time.Now())
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = ExcludedUntil(model.ExclusionPolicy{Enabled: true, Period: "forever"}, time.Now())
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
