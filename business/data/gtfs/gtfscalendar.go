package gtfs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
)

// Calendar contains data from a record in a gtfs calendar.txt file
type Calendar struct {
	DataSetId int64  `db:"data_set_id"`
	ServiceId string `db:"service_id"`
	Monday    int
	Tuesday   int
	Wednesday int
	Thursday  int
	Friday    int
	Saturday  int
	Sunday    int
	StartDate *time.Time `db:"start_date"`
	EndDate   *time.Time `db:"end_date"`
}

// CalendarDate contains data from a record in a gtfs calendar_dates.txt file
type CalendarDate struct {
	DataSetId     int64  `db:"data_set_id"`
	ServiceId     string `db:"service_id"`
	Date          time.Time
	ExceptionType int `db:"exception_type"`
}

const (
	serviceAdded   = 1
	serviceRemoved = 2
)

// runsOn returns true if the calendar's week day column for weekday is set
func (c *Calendar) runsOn(weekday time.Weekday) bool {
	switch weekday {
	case time.Monday:
		return c.Monday == 1
	case time.Tuesday:
		return c.Tuesday == 1
	case time.Wednesday:
		return c.Wednesday == 1
	case time.Thursday:
		return c.Thursday == 1
	case time.Friday:
		return c.Friday == 1
	case time.Saturday:
		return c.Saturday == 1
	case time.Sunday:
		return c.Sunday == 1
	}
	return false
}

// inRange returns true if serviceDate is between the calendars start and end dates, inclusive
func (c *Calendar) inRange(serviceDate time.Time) bool {
	date := dateKey(serviceDate)
	if c.StartDate != nil && date < dateKey(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && date > dateKey(*c.EndDate) {
		return false
	}
	return true
}

// dateKey formats the calendar date of t so dates from different locations compare by their printed date
func dateKey(t time.Time) string {
	return t.Format("20060102")
}

// serviceCalendar answers which service ids run on a date without going back to the database
type serviceCalendar struct {
	calendars     []Calendar
	calendarDates map[string][]CalendarDate
}

func makeServiceCalendar(calendars []Calendar, calendarDates []CalendarDate) serviceCalendar {
	byDate := make(map[string][]CalendarDate)
	for _, calendarDate := range calendarDates {
		key := dateKey(calendarDate.Date)
		byDate[key] = append(byDate[key], calendarDate)
	}
	return serviceCalendar{
		calendars:     calendars,
		calendarDates: byDate,
	}
}

// serviceIdsForDay returns the active serviceIds on the calendar date of serviceDate.
// both calendar and calendar_date are used
func (s serviceCalendar) serviceIdsForDay(serviceDate time.Time) []string {
	serviceIdMap := make(map[string]bool)
	weekday := serviceDate.Weekday()
	for i := range s.calendars {
		calendar := &s.calendars[i]
		if calendar.inRange(serviceDate) && calendar.runsOn(weekday) {
			serviceIdMap[calendar.ServiceId] = true
		}
	}
	for _, calendarDate := range s.calendarDates[dateKey(serviceDate)] {
		if calendarDate.ExceptionType == serviceAdded {
			serviceIdMap[calendarDate.ServiceId] = true
		} else if calendarDate.ExceptionType == serviceRemoved {
			delete(serviceIdMap, calendarDate.ServiceId)
		}
	}
	return trueStringsFromMap(serviceIdMap)
}

// trueStringsFromMap returns sorted keys of m that have true values
func trueStringsFromMap(m map[string]bool) []string {
	results := make([]string, 0, len(m))
	for key, value := range m {
		if value {
			results = append(results, key)
		}
	}
	sort.Strings(results)
	return results
}

// GetCalendars retrieves all calendar records in the dataSet
func GetCalendars(ctx context.Context, db *sqlx.DB, dataSetId int64) ([]Calendar, error) {
	var calendars []Calendar
	query := "select * from calendar where data_set_id = $1"
	err := db.SelectContext(ctx, &calendars, query, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendar records. query:%s error: %w", query, err)
	}
	return calendars, nil
}

// GetCalendarDates retrieves all calendar_date records in the dataSet
func GetCalendarDates(ctx context.Context, db *sqlx.DB, dataSetId int64) ([]CalendarDate, error) {
	var calendarDates []CalendarDate
	query := "select * from calendar_date where data_set_id = $1"
	err := db.SelectContext(ctx, &calendarDates, query, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("unable to query calendar_date table. query:%s error: %w", query, err)
	}
	return calendarDates, nil
}
