package gtfs

import (
	"testing"
	"time"
)

func hms(hours, minutes, seconds int) int {
	return hours*3600 + minutes*60 + seconds
}

func makeTestTrip(tripId, blockId, serviceId string, start, end int) *Trip {
	trip := &Trip{
		TripId:    tripId,
		RouteId:   "route-" + blockId,
		ServiceId: serviceId,
		BlockId:   blockId,
		StartTime: start,
		EndTime:   end,
	}
	trip.setStopPaths([]*StopPath{
		{TripId: tripId, StopSequence: 1, StopId: "a", ArrivalTime: start, DepartureTime: start},
		{TripId: tripId, StopSequence: 2, StopId: "b", ArrivalTime: (start + end) / 2, DepartureTime: (start+end)/2 + 30},
		{TripId: tripId, StopSequence: 3, StopId: "c", ArrivalTime: end, DepartureTime: end},
	})
	return trip
}

func dateOnly(t *testing.T, str string) *time.Time {
	result, err := time.Parse("20060102", str)
	if err != nil {
		t.Fatalf("bad test date %s", str)
	}
	return &result
}

//makeTestSchedule builds a schedule with weekday and weekday-late service running block B1,
//and saturday service running block B2. Weekday-late is removed on 2022-07-04
func makeTestSchedule(t *testing.T) *Schedule {
	calendars := []Calendar{
		{ServiceId: "weekday", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
			StartDate: dateOnly(t, "20220101"), EndDate: dateOnly(t, "20221231")},
		{ServiceId: "weekday-late", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
			StartDate: dateOnly(t, "20220101"), EndDate: dateOnly(t, "20221231")},
		{ServiceId: "saturday", Saturday: 1,
			StartDate: dateOnly(t, "20220101"), EndDate: dateOnly(t, "20221231")},
	}
	calendarDates := []CalendarDate{
		{ServiceId: "weekday-late", Date: *dateOnly(t, "20220704"), ExceptionType: 2},
		{ServiceId: "saturday", Date: *dateOnly(t, "20220704"), ExceptionType: 1},
	}
	shortName := "1001"
	morning := makeTestTrip("t1", "B1", "weekday", hms(6, 0, 0), hms(7, 0, 0))
	morning.TripShortName = &shortName
	trips := []*Trip{
		makeTestTrip("t2", "B1", "weekday", hms(7, 10, 0), hms(9, 0, 0)),
		morning,
		makeTestTrip("t3", "B1", "weekday-late", hms(23, 0, 0), hms(25, 30, 0)),
		makeTestTrip("t4", "B2", "saturday", hms(10, 0, 0), hms(11, 0, 0)),
		makeTestTrip("t5", "", "weekday", hms(12, 0, 0), hms(13, 0, 0)),
	}
	location, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("unable to load time zone: %v", err)
	}
	return NewSchedule(ScheduleConfig{Location: location, PreviousServiceIdMinutes: 240}, 1,
		calendars, calendarDates, trips)
}
