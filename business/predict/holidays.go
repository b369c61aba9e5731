package predict

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
	"gopkg.in/yaml.v3"
)

// HolidayCalendar holds the holidays observed by a transit agency, days excluded from historical samples
type HolidayCalendar struct {
	calendar *cal.BusinessCalendar
}

// knownHolidays are the holidays an agency holiday file may name
var knownHolidays = map[string]*cal.Holiday{
	"new_year":               us.NewYear,
	"mlk_day":                us.MlkDay,
	"presidents_day":         us.PresidentsDay,
	"memorial_day":           us.MemorialDay,
	"juneteenth":             us.Juneteenth,
	"independence_day":       us.IndependenceDay,
	"labor_day":              us.LaborDay,
	"columbus_day":           us.ColumbusDay,
	"veterans_day":           us.VeteransDay,
	"thanksgiving_day":       us.ThanksgivingDay,
	"day_after_thanksgiving": us.DayAfterThanksgivingDay,
	"christmas_day":          us.ChristmasDay,
}

// HolidayConfig is the agency holiday file
type HolidayConfig struct {
	Holidays []string        `yaml:"holidays" validate:"dive,required"`
	Custom   []CustomHoliday `yaml:"custom" validate:"dive"`
}

// CustomHoliday is an agency holiday on a fixed date each year
type CustomHoliday struct {
	Name  string `yaml:"name" validate:"required"`
	Month int    `yaml:"month" validate:"min=1,max=12"`
	Day   int    `yaml:"day" validate:"min=1,max=31"`
}

// DefaultHolidayCalendar builds a HolidayCalendar with the US holidays most agencies run reduced service on
func DefaultHolidayCalendar() *HolidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &HolidayCalendar{calendar: calendar}
}

// LoadHolidayCalendar reads the agency holiday file at path, an empty path provides DefaultHolidayCalendar
func LoadHolidayCalendar(path string) (*HolidayCalendar, error) {
	if len(path) == 0 {
		return DefaultHolidayCalendar(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read holiday file %s: %w", path, err)
	}
	return ParseHolidayCalendar(data)
}

// ParseHolidayCalendar builds a HolidayCalendar from the yaml contents of an agency holiday file
func ParseHolidayCalendar(data []byte) (*HolidayCalendar, error) {
	var holidayConfig HolidayConfig
	if err := yaml.Unmarshal(data, &holidayConfig); err != nil {
		return nil, fmt.Errorf("unable to parse holiday file: %w", err)
	}
	if err := validator.New().Struct(holidayConfig); err != nil {
		return nil, fmt.Errorf("invalid holiday file: %w", err)
	}
	calendar := cal.NewBusinessCalendar()
	for _, name := range holidayConfig.Holidays {
		holiday, present := knownHolidays[name]
		if !present {
			return nil, fmt.Errorf("unknown holiday %q in holiday file", name)
		}
		calendar.AddHoliday(holiday)
	}
	for _, custom := range holidayConfig.Custom {
		calendar.AddHoliday(&cal.Holiday{
			Name:  custom.Name,
			Type:  cal.ObservancePublic,
			Month: time.Month(custom.Month),
			Day:   custom.Day,
			Func:  cal.CalcDayOfMonth,
		})
	}
	return &HolidayCalendar{calendar: calendar}, nil
}

// IsHoliday returns true if at is on a holiday observed by the transit agency
func (h *HolidayCalendar) IsHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}
