package predict

import (
	"io"
	"log"
	"math"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

func closeTo(a, b float64, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func mustLoadLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return location
}

var pacific = mustLoadLocation("America/Los_Angeles")

func arrival(vehicleId string, tripId string, stopId string, stopPathIndex int, at time.Time) *gtfs.ArrivalDeparture {
	return &gtfs.ArrivalDeparture{
		VehicleId:     vehicleId,
		TripId:        tripId,
		RouteId:       "100",
		StopId:        stopId,
		StopPathIndex: stopPathIndex,
		IsArrival:     true,
		Time:          at,
	}
}

func departure(vehicleId string, tripId string, stopId string, stopPathIndex int, at time.Time) *gtfs.ArrivalDeparture {
	event := arrival(vehicleId, tripId, stopId, stopPathIndex, at)
	event.IsArrival = false
	return event
}

//makeTestTrip builds a trip of three stops, A -> B -> C, scheduled 5 minutes apart with a 30 second
//scheduled dwell at B
func makeTestTrip(tripId string) *gtfs.Trip {
	start := 8 * 3600
	return &gtfs.Trip{
		TripId:    tripId,
		RouteId:   "100",
		ServiceId: "weekday",
		BlockId:   "B1",
		StartTime: start,
		EndTime:   start + 630,
		StopPaths: []*gtfs.StopPath{
			{TripId: tripId, StopSequence: 1, StopPathIndex: 0, StopId: "A", ArrivalTime: start,
				DepartureTime: start, IsLayoverStop: true},
			{TripId: tripId, StopSequence: 2, StopPathIndex: 1, StopId: "B", ArrivalTime: start + 300,
				DepartureTime: start + 330},
			{TripId: tripId, StopSequence: 3, StopPathIndex: 2, StopId: "C", ArrivalTime: start + 630,
				DepartureTime: start + 630},
		},
	}
}

// staticSchedule is a ScheduleSource that never refreshes
type staticSchedule struct {
	schedule *gtfs.Schedule
}

func (s staticSchedule) Read() (*gtfs.Schedule, bool) {
	return s.schedule, s.schedule != nil
}

func makeStaticSchedule(trips ...*gtfs.Trip) staticSchedule {
	return staticSchedule{schedule: gtfs.NewSchedule(gtfs.ScheduleConfig{Location: pacific}, 1, nil, nil, trips)}
}
