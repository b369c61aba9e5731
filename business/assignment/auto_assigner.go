package assignment

import (
	"log"
	"math"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/matching"
)

// AutoAssignerConfig contains the configurable parameters of AutoAssigner
type AutoAssignerConfig struct {
	Enabled bool
	// MinDistanceFromCurrentReport in meters an earlier report must be from the current one to be used
	MinDistanceFromCurrentReport float64
	AllowableEarlySeconds        int
	AllowableLateSeconds         int
	// ExclusiveBlockAssignments only considers blocks no other vehicle is assigned to
	ExclusiveBlockAssignments   bool
	MinTimeBetweenAutoAssigning time.Duration
	DebugLogging                bool
}

// DefaultAutoAssignerConfig provides the default parameters, with auto assignment disabled
func DefaultAutoAssignerConfig() AutoAssignerConfig {
	return AutoAssignerConfig{
		MinDistanceFromCurrentReport: 100,
		AllowableEarlySeconds:        180,
		AllowableLateSeconds:         300,
		ExclusiveBlockAssignments:    true,
		MinTimeBetweenAutoAssigning:  30 * time.Second,
	}
}

// BlockAvailability tells whether a block is free to be assigned to a vehicle
type BlockAvailability interface {
	IsBlockUnassigned(blockId string, vehicleId string) bool
}

// AutoAssignObserver receives the time taken by each evaluation, used for metrics
type AutoAssignObserver interface {
	ObserveAutoAssign(d time.Duration)
}

// AutoAssigner finds the one active block that explains a vehicle's current and earlier reports
type AutoAssigner struct {
	cfg          AutoAssignerConfig
	log          *log.Logger
	spatial      matching.SpatialMatcher
	temporal     matching.TemporalMatcher
	travelTimes  matching.TravelTimes
	availability BlockAvailability
	observer     AutoAssignObserver
}

// MakeAutoAssigner builds an AutoAssigner. observer may be nil
func MakeAutoAssigner(log *log.Logger,
	cfg AutoAssignerConfig,
	spatial matching.SpatialMatcher,
	temporal matching.TemporalMatcher,
	travelTimes matching.TravelTimes,
	availability BlockAvailability,
	observer AutoAssignObserver) *AutoAssigner {
	return &AutoAssigner{
		cfg:          cfg,
		log:          log,
		spatial:      spatial,
		temporal:     temporal,
		travelTimes:  travelTimes,
		availability: availability,
		observer:     observer,
	}
}

// Enabled returns true if auto assignment is configured on
func (a *AutoAssigner) Enabled() bool {
	return a.cfg.Enabled
}

func (a *AutoAssigner) debugf(format string, v ...interface{}) {
	if a.cfg.DebugLogging {
		a.log.Printf(format, v...)
	}
}

// AutoAssign matches the locked state's current report to the active blocks of schedule. A match is only
// returned when exactly one block matches, no match is returned when several do
func (a *AutoAssigner) AutoAssign(schedule *gtfs.Schedule, state *VehicleState) (matching.TemporalMatch, bool) {
	if !a.cfg.Enabled {
		return matching.TemporalMatch{}, false
	}
	report := state.Report()
	if report == nil {
		return matching.TemporalMatch{}, false
	}
	if !state.AutoAssignAllowed(report.Time(), a.cfg.MinTimeBetweenAutoAssigning) {
		a.debugf("vehicle %s auto assigned less than %v ago, skipping", state.VehicleId,
			a.cfg.MinTimeBetweenAutoAssigning)
		return matching.TemporalMatch{}, false
	}
	previous := state.PreviousReport(a.cfg.MinDistanceFromCurrentReport)
	if previous == nil {
		a.debugf("vehicle %s has no earlier report further than %.0fm from %v, not auto assigning",
			state.VehicleId, a.cfg.MinDistanceFromCurrentReport, report)
		return matching.TemporalMatch{}, false
	}

	start := time.Now()
	defer func() {
		if a.observer != nil {
			a.observer.ObserveAutoAssign(time.Since(start))
		}
	}()

	candidates := a.candidateBlocks(schedule, report)
	e := a.makeEvaluation(schedule, report, previous)
	matches := make([]matching.TemporalMatch, 0)
	for _, block := range candidates {
		var match matching.TemporalMatch
		var found bool
		if block.NoSchedule() {
			match, found = e.bestNoScheduleMatch(block)
		} else {
			match, found = e.bestScheduleMatch(block)
		}
		if found {
			a.debugf("vehicle %s matches block %s service %s %v", state.VehicleId, block.BlockId,
				block.ServiceId, match)
			matches = append(matches, match)
		}
	}

	if len(matches) != 1 {
		a.debugf("vehicle %s matched %d of %d candidate blocks, not auto assigning", state.VehicleId,
			len(matches), len(candidates))
		return matching.TemporalMatch{}, false
	}
	return matches[0], true
}

//candidateBlocks returns the active blocks, leaving out those held by other vehicles when assignments are exclusive
func (a *AutoAssigner) candidateBlocks(schedule *gtfs.Schedule, report *gtfs.AvlReport) []*gtfs.Block {
	active := schedule.ActiveBlocks(report.Time(), a.cfg.AllowableEarlySeconds)
	if !a.cfg.ExclusiveBlockAssignments || a.availability == nil {
		return active
	}
	results := make([]*gtfs.Block, 0, len(active))
	for _, block := range active {
		if a.availability.IsBlockUnassigned(block.BlockId, report.VehicleId) {
			results = append(results, block)
		}
	}
	return results
}

// evaluation holds the reports of one AutoAssign call, along with the spatial matches of the current report
// to each trip pattern already examined
type evaluation struct {
	a        *AutoAssigner
	report   *gtfs.AvlReport
	previous *gtfs.AvlReport
	schedule *gtfs.Schedule
	// keyed by trip pattern, an empty entry records no match
	patternMatches map[string][]matching.SpatialMatch
}

func (a *AutoAssigner) makeEvaluation(schedule *gtfs.Schedule, report *gtfs.AvlReport,
	previous *gtfs.AvlReport) *evaluation {
	return &evaluation{
		a:              a,
		report:         report,
		previous:       previous,
		schedule:       schedule,
		patternMatches: make(map[string][]matching.SpatialMatch),
	}
}

//tripPattern identifies trips that share a route and sequence of stops, they match a report at the same positions
func tripPattern(trip *gtfs.Trip) string {
	var sb strings.Builder
	sb.WriteString(trip.RouteId)
	for _, stopPath := range trip.StopPaths {
		sb.WriteByte('|')
		sb.WriteString(stopPath.StopId)
	}
	return sb.String()
}

//currentMatches returns spatial matches of the current report to the trips of block active at the time of the
//report. Matches found for a trip pattern on an earlier block are reused
func (e *evaluation) currentMatches(block *gtfs.Block) []matching.SpatialMatch {
	results := make([]matching.SpatialMatch, 0)
	trips := e.schedule.ActiveTrips(block, e.report.Time(), e.a.cfg.AllowableEarlySeconds,
		e.a.cfg.AllowableLateSeconds)
	for _, trip := range trips {
		pattern := tripPattern(trip)
		found, present := e.patternMatches[pattern]
		if !present {
			found = e.a.spatial.SpatialMatches(e.report, block, []*gtfs.Trip{trip})
			e.patternMatches[pattern] = found
		}
		tripIndex := block.TripIndex(trip.TripId)
		for _, match := range found {
			match.Block = block
			match.TripIndex = tripIndex
			results = append(results, match)
		}
	}
	return results
}

//previousMatches returns spatial matches of the previous report to the trips of block active at its time
func (e *evaluation) previousMatches(block *gtfs.Block) []matching.SpatialMatch {
	trips := e.schedule.ActiveTrips(block, e.previous.Time(), e.a.cfg.AllowableEarlySeconds,
		e.a.cfg.AllowableLateSeconds)
	return e.a.spatial.SpatialMatches(e.previous, block, trips)
}

//bestScheduleMatch returns the match of the current report to block closest to the schedule, provided it is within
//the allowable bounds and the previous report also matches within bounds at or before it
func (e *evaluation) bestScheduleMatch(block *gtfs.Block) (matching.TemporalMatch, bool) {
	cfg := e.a.cfg
	best, found := e.a.temporal.BestScheduleMatch(e.report, e.currentMatches(block))
	if !found || !best.Difference.IsWithinBounds(cfg.AllowableEarlySeconds, cfg.AllowableLateSeconds) {
		return matching.TemporalMatch{}, false
	}
	previousBest, found := e.a.temporal.BestScheduleMatch(e.previous, e.previousMatches(block))
	if !found || !previousBest.Difference.IsWithinBounds(cfg.AllowableEarlySeconds, cfg.AllowableLateSeconds) {
		e.a.debugf("vehicle %s previous report %v does not match block %s", e.report.VehicleId, e.previous,
			block.BlockId)
		return matching.TemporalMatch{}, false
	}
	if !previousBest.LessThanOrEqualTo(best.SpatialMatch) {
		e.a.debugf("vehicle %s previous match %v is after current match %v on block %s", e.report.VehicleId,
			previousBest, best, block.BlockId)
		return matching.TemporalMatch{}, false
	}
	return best, true
}

//bestNoScheduleMatch compares the time between the previous and current report with the expected travel time
//between every pair of their matches to block, returning the current match of the pair closest to expected
func (e *evaluation) bestNoScheduleMatch(block *gtfs.Block) (matching.TemporalMatch, bool) {
	cfg := e.a.cfg
	current := e.currentMatches(block)
	if len(current) == 0 {
		return matching.TemporalMatch{}, false
	}
	previous := e.previousMatches(block)
	elapsedSeconds := e.report.Time().Sub(e.previous.Time()).Seconds()

	var best matching.TemporalMatch
	found := false
	for _, from := range previous {
		for _, to := range current {
			expected, ok := e.a.travelTimes.ExpectedTravelSeconds(e.report.VehicleId, from, to, e.previous.Time())
			if !ok {
				continue
			}
			difference := matching.TemporalDifference(math.Round((expected - elapsedSeconds) * 1000))
			if !difference.IsWithinBounds(cfg.AllowableEarlySeconds, cfg.AllowableLateSeconds) {
				continue
			}
			if !found || difference.BetterThan(best.Difference) {
				best = matching.TemporalMatch{SpatialMatch: to, Difference: difference}
				found = true
			}
		}
	}
	return best, found
}
