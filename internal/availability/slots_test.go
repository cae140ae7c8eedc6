package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlots(t *testing.T) {
	tests := []struct {
		name          string
		opens, closes string
		want          int
	}{
		{"full day", "07:00", "19:00", 24},
		{"truncated remainder", "08:00", "12:45", 9},
		{"shorter than a step", "08:00", "08:20", 0},
		{"half hour offset", "08:30", "10:00", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hours := BusinessHours{Weekday: time.Monday, OpensAt: clock(tt.opens), ClosesAt: clock(tt.closes), IsOpen: true}
			starts := GenerateSlots(nextMonday, hours)
			require.Len(t, starts, tt.want)

			for i, s := range starts {
				assert.Equal(t, at(nextMonday, tt.opens).Add(time.Duration(i)*SlotStep), s)
			}
		})
	}
}

func TestGenerateSlots_ClosedOrInvalid(t *testing.T) {
	assert.Empty(t, GenerateSlots(nextMonday, BusinessHours{OpensAt: clock("07:00"), ClosesAt: clock("19:00")}))
	assert.Empty(t, GenerateSlots(nextMonday, BusinessHours{OpensAt: clock("19:00"), ClosesAt: clock("07:00"), IsOpen: true}))
}

func TestOnGrid(t *testing.T) {
	hours := BusinessHours{Weekday: time.Monday, OpensAt: clock("08:30"), ClosesAt: clock("12:00"), IsOpen: true}

	assert.True(t, onGrid(at(nextMonday, "08:30"), hours))
	assert.True(t, onGrid(at(nextMonday, "11:30"), hours))
	assert.False(t, onGrid(at(nextMonday, "08:00"), hours))
	assert.False(t, onGrid(at(nextMonday, "09:15"), hours))
	assert.False(t, onGrid(at(nextMonday, "12:00"), hours))
	assert.False(t, onGrid(at(nextMonday, "09:00").Add(time.Second), hours))
}
