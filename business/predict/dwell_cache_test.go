package predict

import (
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/matryer/is"
)

var eightAm = time.Date(2022, 7, 6, 8, 0, 0, 0, pacific)

func TestHeadwayTracker_Headway(t *testing.T) {
	tracker := MakeHeadwayTracker(time.Hour)
	tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
	tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
	tracker.RecordArrival(departure("v9", "t9", "B", 1, eightAm.Add(-time.Minute)))

	tests := []struct {
		name      string
		vehicleId string
		tripId    string
		at        time.Time
		want      float64
		found     bool
	}{
		{name: "previous vehicle", vehicleId: "v1", tripId: "t1", at: eightAm, want: 600, found: true},
		{name: "next vehicle", vehicleId: "v2", tripId: "t2", at: eightAm.Add(5 * time.Minute), want: 300, found: true},
		{name: "own arrival skipped", vehicleId: "v1", tripId: "t1", at: eightAm.Add(5 * time.Minute), want: 900, found: true},
		{name: "same trip skipped", vehicleId: "v2", tripId: "t1", at: eightAm.Add(5 * time.Minute), want: 900, found: true},
		{name: "too long ago", vehicleId: "v2", tripId: "t2", at: eightAm.Add(2 * time.Hour), found: false},
		{name: "nothing earlier", vehicleId: "v0", tripId: "t0", at: eightAm.Add(-10 * time.Minute), found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			headway, found := tracker.Headway("B", tt.vehicleId, tt.tripId, tt.at)
			is.Equal(tt.found, found)
			if tt.found {
				is.True(closeTo(tt.want, headway, 1e-9))
			}
		})
	}
}

func TestHeadwayTracker_ForgetBefore(t *testing.T) {
	is := is.New(t)
	tracker := MakeHeadwayTracker(time.Hour)
	tracker.RecordArrival(arrival("v0", "t0", "A", 1, eightAm.Add(-time.Hour)))
	tracker.RecordArrival(arrival("v0", "t0", "B", 2, eightAm.Add(-time.Hour)))
	tracker.RecordArrival(arrival("v1", "t1", "B", 2, eightAm))
	is.Equal(1, tracker.ForgetBefore(eightAm.Add(-time.Minute)))
	is.Equal(1, tracker.StopCount())
}

func TestDwellModelCache_AddEvent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tracker *HeadwayTracker)
		event *gtfs.ArrivalDeparture
		want  bool
	}{
		{
			name: "admitted",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
				tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
			},
			event: departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second)),
			want:  true,
		},
		{
			name: "arrivals are not samples",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
			},
			event: arrival("v1", "t1", "B", 1, eightAm),
			want:  false,
		},
		{
			name: "layover stop",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
				tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
			},
			event: func() *gtfs.ArrivalDeparture {
				event := departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second))
				event.IsLayoverStop = true
				return event
			}(),
			want: false,
		},
		{
			name: "dwell too long",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
				tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
			},
			event: departure("v1", "t1", "B", 1, eightAm.Add(200*time.Second)),
			want:  false,
		},
		{
			name: "no arrival",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
			},
			event: departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second)),
			want:  false,
		},
		{
			name: "no other vehicle",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v1", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
				tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
			},
			event: departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second)),
			want:  false,
		},
		{
			name: "far behind schedule",
			setup: func(tracker *HeadwayTracker) {
				tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
				tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
			},
			event: func() *gtfs.ArrivalDeparture {
				event := departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second))
				event.ScheduledTime = event.Time.Add(-15 * time.Minute)
				return event
			}(),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			tracker := MakeHeadwayTracker(time.Hour)
			tt.setup(tracker)
			cache := MakeDwellModelCache(testLogger(), false, DefaultDwellAdmission(), RunningAverage{}, tracker)
			is.Equal(tt.want, cache.AddEvent(tt.event))
			model, found := cache.Model("t1", 1)
			is.Equal(tt.want, found)
			if tt.want {
				is.Equal(RunningAverage{Count: 1, Average: 30}, model)
				prediction, ok := cache.Predict("t1", 1, 600)
				is.True(ok)
				is.True(closeTo(30, prediction, 1e-9))
			}
		})
	}
}

func TestDwellModelCache_Stats(t *testing.T) {
	is := is.New(t)
	tracker := MakeHeadwayTracker(time.Hour)
	cache := MakeDwellModelCache(testLogger(), false, DefaultDwellAdmission(), RunningAverage{}, tracker)
	tracker.RecordArrival(arrival("v0", "t0", "B", 1, eightAm.Add(-10*time.Minute)))
	tracker.RecordArrival(arrival("v1", "t1", "B", 1, eightAm))
	is.True(cache.AddEvent(departure("v1", "t1", "B", 1, eightAm.Add(30*time.Second))))
	is.True(!cache.AddEvent(departure("v2", "t2", "B", 1, eightAm.Add(30*time.Second))))
	models, rejected := cache.Stats()
	is.Equal(1, models)
	is.Equal(map[string]int64{"no_arrival": 1}, rejected)
}
