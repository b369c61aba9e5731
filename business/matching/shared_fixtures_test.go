package matching

import (
	"math"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

func hms(hours, minutes, seconds int) int {
	return hours*3600 + minutes*60 + seconds
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

//makeStraightTrip builds a trip heading north along one longitude with a stop every hundredth of a degree
//(about 1113 meters), leaving the first stop at start and taking five minutes between stops
func makeStraightTrip(tripId string, blockId string, start int, stopCount int) *gtfs.Trip {
	trip := &gtfs.Trip{
		TripId:    tripId,
		RouteId:   "100",
		ServiceId: "weekday",
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
			Lon:           -122.6,
			ArrivalTime:   start + i*300,
			DepartureTime: start + i*300,
			IsLayoverStop: i == 0,
		})
	}
	return trip
}

func makeTestBlock(t *testing.T, trips ...*gtfs.Trip) *gtfs.Block {
	schedule := gtfs.NewSchedule(gtfs.ScheduleConfig{Location: time.UTC}, 1, nil, nil, trips)
	block := schedule.Block(trips[0].ServiceId, trips[0].BlockId)
	if block == nil {
		t.Fatalf("test block %s not built", trips[0].BlockId)
	}
	return block
}

func makeReport(lat float64, at time.Time) *gtfs.AvlReport {
	return &gtfs.AvlReport{
		VehicleId: "v1",
		Timestamp: at.UnixMilli(),
		Lat:       lat,
		Lon:       -122.6,
	}
}
