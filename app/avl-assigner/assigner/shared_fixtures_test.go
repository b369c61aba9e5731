package assigner

import (
	"context"
	"errors"
	"io"
	logger "log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/business/predict"
	"github.com/OpenTransitTools/transitassign/foundation/metrics"
)

var pacific = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return location
}

func testLogger() *logger.Logger {
	return logger.New(io.Discard, "", 0)
}

//july6 returns the time on Wednesday 2022-07-06 in the agency time zone
func july6(hours, minutes, seconds int) time.Time {
	return time.Date(2022, 7, 6, hours, minutes, seconds, 0, pacific)
}

//makeTestTrip builds trip t1 on block B1 heading north from 45.50 with a stop every hundredth of a degree,
//leaving at 7:00 and taking five minutes between stops
func makeTestTrip() *gtfs.Trip {
	start := 7 * 3600
	trip := &gtfs.Trip{
		TripId:    "t1",
		RouteId:   "100",
		ServiceId: "weekday",
		BlockId:   "B1",
		StartTime: start,
		EndTime:   start + 4*300,
	}
	for i := 0; i < 5; i++ {
		trip.StopPaths = append(trip.StopPaths, &gtfs.StopPath{
			TripId:        "t1",
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

func makeTestSchedule() *gtfs.Schedule {
	startDate := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)
	calendars := []gtfs.Calendar{
		{ServiceId: "weekday", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
			StartDate: &startDate, EndDate: &endDate},
	}
	return gtfs.NewSchedule(gtfs.ScheduleConfig{Location: pacific, PreviousServiceIdMinutes: 240}, 7,
		calendars, nil, []*gtfs.Trip{makeTestTrip()})
}

//testSources serves a fixed schedule and events, failing the schedule when scheduleErr is set
type testSources struct {
	mu          sync.Mutex
	scheduleErr error
	events      []*gtfs.ArrivalDeparture
	eventsErr   error
}

func (t *testSources) sources() dataSources {
	return dataSources{
		schedule: func(_ context.Context) (*gtfs.Schedule, error) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.scheduleErr != nil {
				return nil, t.scheduleErr
			}
			return makeTestSchedule(), nil
		},
		events: func(_ context.Context, start time.Time, end time.Time) ([]*gtfs.ArrivalDeparture, error) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.eventsErr != nil {
				return nil, t.eventsErr
			}
			var results []*gtfs.ArrivalDeparture
			for _, event := range t.events {
				if !event.Time.Before(start) && event.Time.Before(end) {
					results = append(results, event)
				}
			}
			return results, nil
		},
	}
}

var errUnavailable = errors.New("database unavailable")

func testConf() Conf {
	return Conf{
		Location:                 pacific,
		PreviousServiceIdMinutes: 240,
		ScheduleCacheTTL:         time.Hour,
		CacheTimeout:             time.Second,
		StartupTimeout:           time.Second,
		Resolver:                 assignment.DefaultResolverConfig(),
		AutoAssigner:             assignment.DefaultAutoAssignerConfig(),
		MaxReportsPerVehicle:     20,
		IdleVehicleTimeout:       time.Hour,
		MaxStopDistance:          200,
		BucketWidth:              3 * time.Hour,
		ServiceDayStartHour:      2,
		HistoryPolicy:            histavg.DefaultPolicy(),
		EvictAfter:               7 * 24 * time.Hour,
		HistoryCacheTTL:          time.Hour,
		Predict: predict.Config{
			MinDays:          3,
			BoardingSeconds:  2.5,
			MaxLiveTravelAge: 30 * time.Minute,
		},
		DayHistory: predict.DayHistoryConfig{
			MaxDays:         5,
			MaxDaysToSearch: 21,
			Now:             func() time.Time { return july6(9, 0, 0) },
		},
		DwellAdmission:           predict.DefaultDwellAdmission(),
		InitialDwellFilterError:  50,
		InitialTravelFilterError: 100,
		DwellModel:               predict.RLSModel,
		DwellModelLambda:         0.99,
		Workers:                  2,
	}
}

//makeTestService builds a warmed up serviceContext over sources
func makeTestService(t *testing.T, sources *testSources) *serviceContext {
	service, err := makeServiceContext(testLogger(), testConf(), sources.sources(), metrics.NewCollector(),
		http.DefaultClient)
	if err != nil {
		t.Fatalf("unable to build service: %v", err)
	}
	if err = service.warmUp(context.Background(), july6(9, 0, 0)); err != nil {
		t.Fatalf("unable to warm up service: %v", err)
	}
	return service
}

//tripEvents returns the arrival and departure at each stop of t1 by vehicle on the day of start,
//arriving travelSeconds after the previous departure and dwelling dwellSeconds
func tripEvents(vehicleId string, start time.Time, travelSeconds int, dwellSeconds int) []*gtfs.ArrivalDeparture {
	var events []*gtfs.ArrivalDeparture
	at := start
	for i, stopPath := range makeTestTrip().StopPaths {
		if i > 0 {
			at = at.Add(time.Duration(travelSeconds) * time.Second)
		}
		scheduled := gtfs.Get12AmTime(start).Add(time.Duration(stopPath.ArrivalTime) * time.Second)
		events = append(events, &gtfs.ArrivalDeparture{
			VehicleId:     vehicleId,
			TripId:        "t1",
			RouteId:       "100",
			BlockId:       "B1",
			StopId:        stopPath.StopId,
			StopPathIndex: i,
			IsArrival:     true,
			Time:          at,
			ScheduledTime: scheduled,
		})
		at = at.Add(time.Duration(dwellSeconds) * time.Second)
		events = append(events, &gtfs.ArrivalDeparture{
			VehicleId:     vehicleId,
			TripId:        "t1",
			RouteId:       "100",
			BlockId:       "B1",
			StopId:        stopPath.StopId,
			StopPathIndex: i,
			Time:          at,
			ScheduledTime: scheduled,
		})
	}
	return events
}

func makeReport(vehicleId string, lat float64, at time.Time) *gtfs.AvlReport {
	return &gtfs.AvlReport{
		VehicleId: vehicleId,
		Timestamp: at.UnixMilli(),
		Lat:       lat,
		Lon:       -122.6,
	}
}

//recordingDestination keeps every published assignment
type recordingDestination struct {
	mu      sync.Mutex
	results []assignment.VehicleAssignment
	err     error
}

func (r *recordingDestination) Publish(result assignment.VehicleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

func (r *recordingDestination) published() []assignment.VehicleAssignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]assignment.VehicleAssignment(nil), r.results...)
}

//reportCounter counts accepted and invalid reports
type reportCounter struct {
	mu       sync.Mutex
	accepted int
	invalid  int
}

func (r *reportCounter) AvlReport(accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if accepted {
		r.accepted++
		return
	}
	r.invalid++
}
