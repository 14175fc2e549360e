package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCadence_Invalid(t *testing.T) {
	_, err := NewCadence("monthly", "friday", "15:30", "UTC")
	assert.Error(t, err)
	_, err = NewCadence("weekly", "funday", "15:30", "UTC")
	assert.Error(t, err)
	_, err = NewCadence("weekly", "fri", "25:99", "UTC")
	assert.Error(t, err)
	_, err = NewCadence("weekly", "fri", "15:30", "Mars/Olympus")
	assert.Error(t, err)
}

func TestCadence_NextWeekly(t *testing.T) {
	c, err := NewCadence("weekly", "friday", "15:30", "UTC")
	require.NoError(t, err)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"wednesday", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 5, 3, 15, 30, 0, 0, time.UTC)},
		{"friday before", time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC), time.Date(2024, 5, 3, 15, 30, 0, 0, time.UTC)},
		{"friday exact", time.Date(2024, 5, 3, 15, 30, 0, 0, time.UTC), time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)},
		{"saturday", time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC), time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(c.Next(tt.from)), "got %s", c.Next(tt.from))
		})
	}
}

func TestCadence_DailySkipsWeekend(t *testing.T) {
	c, err := NewCadence("daily", "", "16:00", "UTC")
	require.NoError(t, err)
	next := c.Next(time.Date(2024, 5, 3, 17, 0, 0, 0, time.UTC)) // Friday after close
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestCadence_BetweenAndDue(t *testing.T) {
	c, err := NewCadence("weekly", "fri", "15:30", "America/New_York")
	require.NoError(t, err)
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	got := c.Between(from, to)
	require.Len(t, got, 4)
	for _, d := range got {
		assert.Equal(t, time.Friday, d.Weekday())
	}
	assert.True(t, c.Due(from, to))
	assert.False(t, c.Due(got[3], to))
}
