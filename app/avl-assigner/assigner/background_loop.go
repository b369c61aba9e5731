package assigner

import (
	"fmt"
	logger "log"
	"sync"
	"time"
)

//maintenanceResult counts what a maintenance pass removed and what remains
type maintenanceResult struct {
	evictedAverages   int
	historicalKeys    int
	forgottenVehicles int
	forgottenStops    int
	idleVehicles      int
	trackedVehicles   int
	dwellModels       int
	rejectedDwells    map[string]int64
}

func (m maintenanceResult) String() string {
	return fmt.Sprintf("historical keys %d (evicted %d), vehicles %d (idle removed %d), "+
		"recorder vehicles forgotten %d, headway stops forgotten %d, dwell models %d rejected %v",
		m.historicalKeys, m.evictedAverages, m.trackedVehicles, m.idleVehicles, m.forgottenVehicles,
		m.forgottenStops, m.dwellModels, m.rejectedDwells)
}

//runMaintenance drops historical averages, vehicles and events that are too old to be used as of now
func (s *serviceContext) runMaintenance(now time.Time) maintenanceResult {
	result := maintenanceResult{}
	result.evictedAverages = s.store.EvictOlderThan(now.Add(-s.conf.EvictAfter))
	result.historicalKeys = s.store.Len()
	result.forgottenVehicles = s.recorder.ForgetBefore(now.Add(-s.conf.IdleVehicleTimeout))
	maxHeadway := time.Duration(s.conf.DwellAdmission.MaxHeadwaySeconds) * time.Second
	result.forgottenStops = s.headways.ForgetBefore(now.Add(-maxHeadway))
	result.idleVehicles = s.states.RemoveIdle(now.Add(-s.conf.IdleVehicleTimeout))
	result.trackedVehicles = s.states.Len()
	result.dwellModels, result.rejectedDwells = s.dwellModels.Stats()

	s.metrics.HistoricalKeys.Set(float64(result.historicalKeys))
	s.metrics.TrackedVehicles.Set(float64(result.trackedVehicles))
	return result
}

//runBackgroundLoop frequently runs maintenance on the service until shutdownSignal
func runBackgroundLoop(log *logger.Logger,
	wg *sync.WaitGroup,
	service *serviceContext,
	loopDuration time.Duration,
	shutdownSignal chan bool) {
	defer wg.Done()

	sleepChan := make(chan bool, 1)
	sleep := loopDuration

	for {

		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("Exiting background loop on shutdown signal")
			return
		case <-sleepChan:
		}

		// mark the time we start working
		start := time.Now()

		result := service.runMaintenance(start)
		log.Printf("maintenance: %s\n", result)

		workTook := time.Since(start)

		// if the work took longer than loopDuration don't sleep at all on the next loop
		if workTook >= loopDuration {
			sleep = time.Duration(0)
		} else {
			sleep = loopDuration - workTook
		}
	}
}
