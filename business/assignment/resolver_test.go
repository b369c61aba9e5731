package assignment

import (
	"errors"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/matryer/is"
)

func TestResolver_Resolve(t *testing.T) {
	schedule := makeBlockSchedule(t)
	suffixed := makeTestSchedule(t,
		makeStraightTrip("t9-weekday", "B9", "weekday", -122.6, hms(10, 0, 0), 5))

	tests := []struct {
		name           string
		schedule       *gtfs.Schedule
		cfg            ResolverConfig
		at             time.Time
		assignmentType gtfs.AssignmentType
		assignmentId   string
		wantBlock      string
		wantService    string
		wantTrip       string
		wantRoute      string
		unresolved     bool
	}{
		{
			name:           "block in the morning",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			wantBlock:      "B1",
			wantService:    "weekday",
			wantTrip:       "t2",
			wantRoute:      "100",
		},
		{
			name:           "block late in the evening",
			at:             july6(23, 55, 0),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			wantBlock:      "B1",
			wantService:    "weekday-late",
			wantTrip:       "t3",
			wantRoute:      "100",
		},
		{
			name:           "block after midnight",
			at:             time.Date(2022, 7, 7, 0, 10, 0, 0, pacific),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			wantBlock:      "B1",
			wantService:    "weekday-late",
			wantTrip:       "t3",
			wantRoute:      "100",
		},
		{
			name:           "block after midnight without service the night before",
			at:             time.Date(2022, 7, 11, 0, 10, 0, 0, pacific),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			unresolved:     true,
		},
		{
			name:           "block before its start within tolerance",
			at:             july6(5, 45, 0),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			wantBlock:      "B1",
			wantService:    "weekday",
			wantTrip:       "t1",
			wantRoute:      "100",
		},
		{
			name:           "block outside any window",
			at:             july6(14, 0, 0),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			unresolved:     true,
		},
		{
			name:           "block on a day without service",
			at:             time.Date(2022, 7, 9, 8, 0, 0, 0, pacific),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B1",
			unresolved:     true,
		},
		{
			name:           "unknown block",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.BlockAssignment,
			assignmentId:   "B7",
			unresolved:     true,
		},
		{
			name:           "schedule based placeholder",
			at:             july6(7, 10, 0),
			assignmentType: gtfs.ScheduleBasedAssignment,
			assignmentId:   "B2",
			wantBlock:      "B2",
			wantService:    "weekday",
			wantTrip:       "t4",
			wantRoute:      "100",
		},
		{
			name:           "trip",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.TripAssignment,
			assignmentId:   "t1",
			wantBlock:      "B1",
			wantService:    "weekday",
			wantTrip:       "t1",
			wantRoute:      "100",
		},
		{
			name:           "unknown trip",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.TripAssignment,
			assignmentId:   "t9",
			unresolved:     true,
		},
		{
			name:           "trip with service id suffix",
			schedule:       suffixed,
			cfg:            ResolverConfig{AddServiceIdSuffix: true, TripActiveToleranceSeconds: 7200},
			at:             july6(8, 30, 0),
			assignmentType: gtfs.TripAssignment,
			assignmentId:   "t9",
			wantBlock:      "B9",
			wantService:    "weekday",
			wantTrip:       "t9-weekday",
			wantRoute:      "100",
		},
		{
			name:           "trip with service id suffix too early",
			schedule:       suffixed,
			cfg:            ResolverConfig{AddServiceIdSuffix: true, TripActiveToleranceSeconds: 7200},
			at:             july6(7, 30, 0),
			assignmentType: gtfs.TripAssignment,
			assignmentId:   "t9",
			unresolved:     true,
		},
		{
			name:           "trip without service id suffix mode",
			schedule:       suffixed,
			at:             july6(8, 30, 0),
			assignmentType: gtfs.TripAssignment,
			assignmentId:   "t9",
			unresolved:     true,
		},
		{
			name:           "trip short name",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.TripShortNameAssignment,
			assignmentId:   "1001",
			wantBlock:      "B1",
			wantService:    "weekday",
			wantTrip:       "t1",
			wantRoute:      "100",
		},
		{
			name:           "trip short name without service",
			at:             time.Date(2022, 7, 9, 8, 0, 0, 0, pacific),
			assignmentType: gtfs.TripShortNameAssignment,
			assignmentId:   "1001",
			unresolved:     true,
		},
		{
			name:           "route",
			at:             july6(8, 0, 0),
			assignmentType: gtfs.RouteAssignment,
			assignmentId:   "100",
			wantRoute:      "100",
		},
		{
			name:       "no assignment",
			at:         july6(8, 0, 0),
			unresolved: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			testSchedule := tt.schedule
			if testSchedule == nil {
				testSchedule = schedule
			}
			cfg := tt.cfg
			if cfg == (ResolverConfig{}) {
				cfg = DefaultResolverConfig()
			}
			resolver := MakeResolver(testLogger(), cfg)
			resolution, err := resolver.Resolve(testSchedule,
				makeAssignedReport("v1", tt.at, tt.assignmentType, tt.assignmentId))
			if tt.unresolved {
				is.True(errors.Is(err, ErrUnresolved))
				is.Equal(nil, resolution.Block)
				return
			}
			is.NoErr(err)
			is.Equal(tt.wantBlock, resolution.BlockId())
			is.Equal(tt.wantRoute, resolution.RouteId)
			if len(tt.wantBlock) > 0 {
				is.Equal(tt.wantService, resolution.Block.ServiceId)
				is.Equal(tt.wantTrip, resolution.Trip.TripId)
			}
		})
	}
}
