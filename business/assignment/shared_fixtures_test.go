package assignment

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

var pacific = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return location
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func hms(hours, minutes, seconds int) int {
	return hours*3600 + minutes*60 + seconds
}

//july6 returns the time on Wednesday 2022-07-06 in the agency time zone
func july6(hours, minutes, seconds int) time.Time {
	return time.Date(2022, 7, 6, hours, minutes, seconds, 0, pacific)
}

func dateOnly(t *testing.T, str string) *time.Time {
	result, err := time.Parse("20060102", str)
	if err != nil {
		t.Fatalf("bad test date %s", str)
	}
	return &result
}

//makeStraightTrip builds a trip heading north along lon with a stop every hundredth of a degree (about 1113 meters),
//leaving the first stop at start and taking five minutes between stops
func makeStraightTrip(tripId string, blockId string, serviceId string, lon float64, start int, stopCount int) *gtfs.Trip {
	trip := &gtfs.Trip{
		TripId:    tripId,
		RouteId:   "100",
		ServiceId: serviceId,
		BlockId:   blockId,
		StartTime: start,
		EndTime:   start + (stopCount-1)*300,
	}
	for i := 0; i < stopCount; i++ {
		trip.StopPaths = append(trip.StopPaths, &gtfs.StopPath{
			TripId:        tripId,
			StopSequence:  uint32(i + 1),
			StopPathIndex: i,
			StopId:        string(rune('A' + i)),
			Lat:           45.50 + float64(i)*0.01,
			Lon:           lon,
			ArrivalTime:   start + i*300,
			DepartureTime: start + i*300,
			IsLayoverStop: i == 0,
		})
	}
	return trip
}

//makeTestSchedule builds a schedule of trips with weekday and weekday-late service running every weekday of 2022
func makeTestSchedule(t *testing.T, trips ...*gtfs.Trip) *gtfs.Schedule {
	calendars := []gtfs.Calendar{
		{ServiceId: "weekday", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
			StartDate: dateOnly(t, "20220101"), EndDate: dateOnly(t, "20221231")},
		{ServiceId: "weekday-late", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
			StartDate: dateOnly(t, "20220101"), EndDate: dateOnly(t, "20221231")},
	}
	return gtfs.NewSchedule(gtfs.ScheduleConfig{Location: pacific, PreviousServiceIdMinutes: 240}, 1,
		calendars, nil, trips)
}

//makeBlockSchedule builds the schedule most tests use. Block B1 runs trips t1 from 7:00 and t2 from 7:30 until 8:10
//on weekdays, and t3 from 23:30 until 00:20 under weekday-late. Block B2 runs t4 at 7:00 one street over
func makeBlockSchedule(t *testing.T) *gtfs.Schedule {
	shortName := "1001"
	t1 := makeStraightTrip("t1", "B1", "weekday", -122.6, hms(7, 0, 0), 5)
	t1.TripShortName = &shortName
	return makeTestSchedule(t,
		t1,
		makeStraightTrip("t2", "B1", "weekday", -122.6, hms(7, 30, 0), 9),
		makeStraightTrip("t3", "B1", "weekday-late", -122.6, hms(23, 30, 0), 11),
		makeStraightTrip("t4", "B2", "weekday", -122.7, hms(7, 0, 0), 5),
	)
}

func makeReport(vehicleId string, lat float64, at time.Time) *gtfs.AvlReport {
	return &gtfs.AvlReport{
		VehicleId: vehicleId,
		Timestamp: at.UnixMilli(),
		Lat:       lat,
		Lon:       -122.6,
	}
}

func makeAssignedReport(vehicleId string, at time.Time, assignmentType gtfs.AssignmentType,
	assignmentId string) *gtfs.AvlReport {
	report := makeReport(vehicleId, 45.5, at)
	report.AssignmentType = assignmentType
	report.AssignmentId = assignmentId
	return report
}

type outcomeCounter map[string]int

func (o outcomeCounter) AssignmentResult(method string, outcome string) {
	o[method+"/"+outcome]++
}
