package assigner

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/foundation/metrics"
	"github.com/matryer/is"
)

//historicalEvents returns t1 run by v1 at 7:00 on four of the six days before July 6, travelling 240 seconds
//and dwelling 20
func historicalEvents() []*gtfs.ArrivalDeparture {
	var events []*gtfs.ArrivalDeparture
	for _, day := range []int{-6, -5, -3, -1} {
		events = append(events, tripEvents("v1", july6(7, 0, 0).AddDate(0, 0, day), 240, 20)...)
	}
	return events
}

func TestServiceContext_WarmUp(t *testing.T) {
	is := is.New(t)
	service := makeTestService(t, &testSources{events: historicalEvents()})

	schedule, ok := service.schedule.Read()
	is.True(ok)
	is.Equal(int64(7), schedule.DataSetId)
	is.Equal(1, schedule.TripCount())

	samples, ok := service.history.Snapshot()
	is.True(ok)
	is.True(samples.Keys() > 0)

	travel, found := service.store.Get(histavg.Key{EntityId: "t1", StopPathIndex: 2, Kind: histavg.TravelTime},
		july6(7, 20, 0))
	is.True(found)
	is.Equal(4, travel.Count)
	is.Equal(240.0, travel.Average)
	dwell, found := service.store.Get(histavg.Key{EntityId: "t1", StopPathIndex: 2, Kind: histavg.DwellTime},
		july6(7, 20, 0))
	is.True(found)
	is.Equal(20.0, dwell.Average)
}

func TestServiceContext_WarmUpRequiresSchedule(t *testing.T) {
	is := is.New(t)
	sources := &testSources{scheduleErr: errUnavailable}
	service, err := makeServiceContext(testLogger(), testConf(), sources.sources(), metrics.NewCollector(),
		http.DefaultClient)
	is.NoErr(err)
	err = service.warmUp(context.Background(), july6(9, 0, 0))
	is.True(errors.Is(err, errUnavailable))
	_, ok := service.schedule.Read()
	is.True(!ok)
}

func TestServiceContext_WarmUpWithoutHistory(t *testing.T) {
	is := is.New(t)
	service := makeTestService(t, &testSources{eventsErr: errUnavailable})
	_, ok := service.schedule.Read()
	is.True(ok)
	_, ok = service.history.Snapshot()
	is.True(!ok)
	is.Equal(0, service.store.Len())
	// a reload started by the reads still finds no history
	service.waitForRefreshes()
	_, ok = service.history.Snapshot()
	is.True(!ok)
}

func TestMakeServiceContext_InvalidConf(t *testing.T) {
	tests := []struct {
		name   string
		modify func(conf *Conf)
	}{
		{name: "unknown dwell model", modify: func(conf *Conf) { conf.DwellModel = "knn" }},
		{name: "missing holiday file", modify: func(conf *Conf) { conf.HolidayFile = "testdata/missing.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			conf := testConf()
			tt.modify(&conf)
			sources := &testSources{}
			_, err := makeServiceContext(testLogger(), conf, sources.sources(), metrics.NewCollector(),
				http.DefaultClient)
			is.True(err != nil)
		})
	}
}

func TestServiceContext_RunMaintenance(t *testing.T) {
	is := is.New(t)
	service := makeTestService(t, &testSources{events: historicalEvents()})
	keys := service.store.Len()
	is.True(keys > 0)

	processor := makeAvlProcessor(testLogger(), service.schedule, service.assigner,
		makeAssignmentPublisher(testLogger(), &recordingDestination{}), &reportCounter{})
	for _, vehicleId := range []string{"v1", "v2"} {
		report := makeReport(vehicleId, 45.52, july6(7, 10, 0))
		report.AssignmentType = gtfs.BlockAssignment
		report.AssignmentId = "B1"
		processor.processReport(report)
	}
	processor.processReport(makeReport("v3", 45.52, july6(7, 15, 0)))

	result := service.runMaintenance(july6(7, 30, 0))
	is.Equal(0, result.evictedAverages)
	is.Equal(keys, result.historicalKeys)
	is.Equal(0, result.idleVehicles)
	is.Equal(3, result.trackedVehicles)

	// a week later the vehicles are idle and the averages too old
	result = service.runMaintenance(july6(7, 30, 0).Add(8 * 24 * time.Hour))
	is.Equal(keys, result.evictedAverages)
	is.Equal(0, result.historicalKeys)
	is.Equal(3, result.idleVehicles)
	is.Equal(0, result.trackedVehicles)
	is.Equal(0, service.states.Len())
}
