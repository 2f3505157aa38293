package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	l, err := time.LoadLocation(name)
	require.NoError(t, err)
	return l
}

func TestFieldForms(t *testing.T) {
	assert.True(t, Any().IsAny())
	assert.True(t, Field{}.Matches(42))
	assert.True(t, Only(5).Matches(5))
	assert.False(t, Only(5).Matches(6))

	f := OneOf(30, 0, 30)
	assert.Equal(t, []int{0, 30}, f.Values())
	assert.True(t, f.Matches(0))
	assert.True(t, f.Matches(30))
	assert.False(t, f.Matches(15))
	assert.Equal(t, "0,30", f.String())
	assert.True(t, OneOf().IsAny())
}

func TestMatchesAllWildcard(t *testing.T) {
	utc := time.UTC
	for _, ts := range []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, utc),
		time.Date(2024, 2, 29, 23, 59, 0, 0, utc),
		time.Date(2031, 7, 15, 12, 34, 56, 0, utc),
	} {
		assert.True(t, Matches(ts, Spec{}, utc), ts.String())
	}
}

func TestMatchesExplicitFields(t *testing.T) {
	// 2024-03-10 03:00 UTC 는 일요일
	ts := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec Spec
		want bool
	}{
		{"minute hit", Spec{Minute: Only(0)}, true},
		{"minute miss", Spec{Minute: Only(1)}, false},
		{"hour set hit", Spec{Hour: OneOf(1, 3, 5)}, true},
		{"day of month", Spec{DayOfMonth: Only(10)}, true},
		{"month", Spec{Month: Only(3)}, true},
		{"month miss", Spec{Month: Only(4)}, false},
		{"sunday is 0", Spec{Weekday: Only(int(time.Sunday))}, true},
		{"monday miss", Spec{Weekday: Only(int(time.Monday))}, false},
		{"all explicit hit", Spec{Minute: Only(0), Hour: Only(3), DayOfMonth: Only(10), Month: Only(3), Weekday: Only(0)}, true},
		{"one explicit miss fails all", Spec{Minute: Only(0), Hour: Only(3), DayOfMonth: Only(11)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(ts, tt.spec, time.UTC))
		})
	}
}

func TestMatchesUsesResolvedTimezone(t *testing.T) {
	// 2024-03-10 18:00 UTC == 2024-03-11 03:00 KST (월요일)
	ts := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	spec := Spec{Hour: Only(3), Weekday: Only(int(time.Monday))}

	assert.False(t, Matches(ts, spec, time.UTC))
	assert.True(t, Matches(ts, spec, mustLoc(t, "Asia/Seoul")))

	// entry override 가 전역보다 우선한다.
	spec.Timezone = "Asia/Seoul"
	assert.True(t, Matches(ts, spec, time.UTC))

	spec.Timezone = "Not/AZone"
	assert.False(t, Matches(ts, spec, time.UTC))

	assert.False(t, Matches(ts, Spec{}, nil))
}

func TestParseCron(t *testing.T) {
	s, err := ParseCron("0 3 * * 1-5")
	require.NoError(t, err)
	assert.Equal(t, Only(0), s.Minute)
	assert.Equal(t, Only(3), s.Hour)
	assert.True(t, s.DayOfMonth.IsAny())
	assert.True(t, s.Month.IsAny())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.Weekday.Values())
	assert.Empty(t, s.Timezone)

	s, err = ParseCron("*/15 * * * *")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30, 45}, s.Minute.Values())

	s, err = ParseCron("CRON_TZ=Asia/Seoul 30 9 1 * *")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", s.Timezone)
	assert.Equal(t, Only(1), s.DayOfMonth)

	s, err = ParseCron("@daily")
	require.NoError(t, err)
	assert.Equal(t, Only(0), s.Minute)
	assert.Equal(t, Only(0), s.Hour)
	assert.True(t, s.Weekday.IsAny())

	s, err = ParseCron("0-59 * * * *")
	require.NoError(t, err)
	assert.True(t, s.Minute.IsAny())

	_, err = ParseCron("@every 5m")
	assert.Error(t, err)

	_, err = ParseCron("not a cron")
	assert.Error(t, err)
}

func TestParseCronUsesAndSemantics(t *testing.T) {
	// 일반 cron 은 일/요일이 둘 다 명시되면 OR 이지만 여기서는 AND 다.
	s, err := ParseCron("0 0 13 * 5")
	require.NoError(t, err)

	friday13 := time.Date(2024, 9, 13, 0, 0, 0, 0, time.UTC)
	otherFriday := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	assert.True(t, Matches(friday13, s, time.UTC))
	assert.False(t, Matches(otherFriday, s, time.UTC))
}
