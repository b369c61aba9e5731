package predict

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestDefaultHolidayCalendar(t *testing.T) {
	calendar := DefaultHolidayCalendar()
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "independence day", at: time.Date(2022, 7, 4, 12, 0, 0, 0, pacific), want: true},
		{name: "day after", at: time.Date(2022, 7, 5, 12, 0, 0, 0, pacific), want: false},
		{name: "observed christmas", at: time.Date(2022, 12, 26, 12, 0, 0, 0, pacific), want: true},
		{name: "thanksgiving", at: time.Date(2022, 11, 24, 12, 0, 0, 0, pacific), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(tt.want, calendar.IsHoliday(tt.at))
		})
	}
}

func TestParseHolidayCalendar(t *testing.T) {
	is := is.New(t)
	calendar, err := ParseHolidayCalendar([]byte(`
holidays:
  - christmas_day
custom:
  - name: Rose Festival
    month: 6
    day: 10
`))
	is.NoErr(err)
	is.True(calendar.IsHoliday(time.Date(2023, 12, 25, 12, 0, 0, 0, pacific)))
	is.True(calendar.IsHoliday(time.Date(2022, 6, 10, 12, 0, 0, 0, pacific)))
	is.True(!calendar.IsHoliday(time.Date(2022, 7, 4, 12, 0, 0, 0, pacific)))
}

func TestParseHolidayCalendar_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown holiday", yaml: "holidays:\n  - festivus\n"},
		{name: "bad month", yaml: "custom:\n  - name: Smarch\n    month: 13\n    day: 1\n"},
		{name: "missing name", yaml: "custom:\n  - month: 6\n    day: 1\n"},
		{name: "not yaml", yaml: "holidays: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := ParseHolidayCalendar([]byte(tt.yaml))
			is.True(err != nil)
		})
	}
}

func TestLoadHolidayCalendar_EmptyPathUsesDefault(t *testing.T) {
	is := is.New(t)
	calendar, err := LoadHolidayCalendar("")
	is.NoErr(err)
	is.True(calendar.IsHoliday(time.Date(2022, 7, 4, 12, 0, 0, 0, pacific)))
}
