package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOffset int
		wantErr    bool
	}{
		{"empty is utc", "", 0, false},
		{"utc", "UTC", 0, false},
		{"positive offset", "UTC+05:00", 5 * 3600, false},
		{"negative offset", "UTC-03:30", -(3*3600 + 30*60), false},
		{"bare offset", "+0530", 5*3600 + 30*60, false},
		{"hours only", "-03", -3 * 3600, false},
		{"out of range", "UTC+15:00", 0, true},
		{"unknown zone", "Mars/Olympus", 0, true},
	}

	ref := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocation(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, offset := ref.In(loc).Zone()
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestReference_StartOfDay(t *testing.T) {
	loc, err := ParseLocation("UTC+05:00")
	require.NoError(t, err)
	r := NewReference(nil, loc)

	// 20:30 UTC on the 15th is already 01:30 on the 16th at +05:00.
	at := time.Date(2024, 1, 15, 20, 30, 0, 0, time.UTC)
	day := r.StartOfDay(at)

	assert.Equal(t, 16, day.Day())
	assert.Equal(t, 0, day.Hour())
	assert.Equal(t, "2024-01-16", r.FormatDate(at))
}

func TestReference_StartOfWeek(t *testing.T) {
	r := NewReference(nil, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"monday", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2024, 1, 17, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"next monday", time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(r.StartOfWeek(tt.at)))
		})
	}
}

func TestReference_DaysBetween(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	r := NewReference(nil, loc)

	// Spans the spring DST change; still exactly one calendar day.
	a := time.Date(2024, 3, 30, 23, 0, 0, 0, loc)
	b := time.Date(2024, 3, 31, 23, 0, 0, 0, loc)
	assert.Equal(t, 1, r.DaysBetween(a, b))
	assert.Equal(t, -1, r.DaysBetween(b, a))
	assert.True(t, r.IsSameDay(a, a.Add(30*time.Minute)))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)
	r := NewReference(clock, time.UTC)

	assert.Equal(t, 15, r.Today().Day())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 16, r.Today().Day())
	assert.Equal(t, 1, r.DaysBetween(start, r.Now()))
}
