package assignment

import (
	"fmt"
	"log"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// Config contains the configurable parameters of Assigner
type Config struct {
	// IgnoreAvlAssignments disregards assignments carried by reports, for testing the auto assigner
	IgnoreAvlAssignments bool
	DebugLogging         bool
}

// ResultObserver receives the outcome of each assignment attempt, used for metrics
type ResultObserver interface {
	AssignmentResult(method string, outcome string)
}

const (
	OutcomeAssigned   = "assigned"
	OutcomeKept       = "kept"
	OutcomeUnresolved = "unresolved"
	OutcomeUnmatched  = "unmatched"
)

// VehicleAssignment is the assignment of a vehicle after processing one of its reports
type VehicleAssignment struct {
	VehicleId     string `json:"vehicle_id"`
	BlockId       string `json:"block_id,omitempty"`
	ServiceId     string `json:"service_id,omitempty"`
	TripId        string `json:"trip_id,omitempty"`
	RouteId       string `json:"route_id,omitempty"`
	Method        Method `json:"method"`
	Predictable   bool   `json:"predictable"`
	ScheduleBased bool   `json:"schedule_based"`
	// Changed is true if the block or method differs from the previous report
	Changed   bool  `json:"changed"`
	Timestamp int64 `json:"timestamp"`
	// ScheduleDeviationMs of an auto assignment, positive when early
	ScheduleDeviationMs *int64 `json:"schedule_deviation_ms,omitempty"`
}

func (v VehicleAssignment) String() string {
	return fmt.Sprintf("vehicle:%s block:%s service:%s trip:%s route:%s method:%s predictable:%t",
		v.VehicleId, v.BlockId, v.ServiceId, v.TripId, v.RouteId, v.Method, v.Predictable)
}

// Assigner determines the block of each report's vehicle, trying the external feed, then the report's own
// assignment, then the auto assigner
type Assigner struct {
	cfg      Config
	log      *log.Logger
	states   *VehicleStateManager
	resolver *Resolver
	auto     *AutoAssigner
	external *ExternalAssigner
	observer ResultObserver
}

// MakeAssigner builds an Assigner. external and observer may be nil
func MakeAssigner(log *log.Logger,
	cfg Config,
	states *VehicleStateManager,
	resolver *Resolver,
	auto *AutoAssigner,
	external *ExternalAssigner,
	observer ResultObserver) *Assigner {
	return &Assigner{
		cfg:      cfg,
		log:      log,
		states:   states,
		resolver: resolver,
		auto:     auto,
		external: external,
		observer: observer,
	}
}

func (a *Assigner) result(method Method, outcome string) {
	if a.observer != nil {
		a.observer.AssignmentResult(string(method), outcome)
	}
}

// ProcessReport records report in its vehicle's state and updates the vehicle's assignment. Reports older than
// the vehicle's latest report are ignored, returning false
func (a *Assigner) ProcessReport(schedule *gtfs.Schedule, report *gtfs.AvlReport) (VehicleAssignment, bool) {
	state, unlock := a.states.Lock(report.VehicleId)
	defer unlock()

	if latest := state.Report(); latest != nil && report.Timestamp < latest.Timestamp {
		a.log.Printf("ignoring out of order report %v, latest is at %s", report,
			latest.Time().Format(time.RFC3339))
		return VehicleAssignment{}, false
	}
	state.AddReport(report)
	previousBlockId := state.Resolution().BlockId()
	previousMethod := state.Method()

	if a.states.TakeDisplaced(state) {
		a.log.Printf("vehicle %s displaced from block %s by another vehicle", state.VehicleId, previousBlockId)
		a.states.ClearAssignment(state)
	}

	deviation := a.assign(schedule, state, report)

	resolution := state.Resolution()
	result := VehicleAssignment{
		VehicleId:           state.VehicleId,
		BlockId:             resolution.BlockId(),
		RouteId:             resolution.RouteId,
		Method:              state.Method(),
		Predictable:         state.IsPredictable(),
		ScheduleBased:       state.IsScheduleBased(),
		Changed:             previousBlockId != resolution.BlockId() || previousMethod != state.Method(),
		Timestamp:           report.Timestamp,
		ScheduleDeviationMs: deviation,
	}
	if resolution.Block != nil {
		result.ServiceId = resolution.Block.ServiceId
	}
	if resolution.Trip != nil {
		result.TripId = resolution.Trip.TripId
	}
	if result.Changed {
		a.log.Printf("assignment changed %v", result)
	}
	return result, true
}

//assign runs the assignment methods in order against the locked state, returning the schedule deviation of an
//auto assignment
func (a *Assigner) assign(schedule *gtfs.Schedule, state *VehicleState, report *gtfs.AvlReport) *int64 {
	at := report.Time()

	if a.external != nil && a.external.Enabled() {
		if block, found := a.external.ActiveBlock(schedule, report.VehicleId, at); found {
			resolution := resolutionForBlock(schedule, block, at, a.external.cfg.AllowableEarlySeconds)
			a.states.SetAssignment(state, resolution, MethodExternal, false, at)
			a.result(MethodExternal, OutcomeAssigned)
			return nil
		}
	}

	routeHint := ""
	if report.HasAssignment() && !a.cfg.IgnoreAvlAssignments {
		resolution, err := a.resolver.Resolve(schedule, report)
		switch {
		case err != nil:
			a.result(MethodAvl, OutcomeUnresolved)
			if state.Method() == MethodAvl {
				a.states.ClearAssignment(state)
			}
		case resolution.Block == nil:
			routeHint = resolution.RouteId
		default:
			a.states.SetAssignment(state, resolution, MethodAvl, report.IsScheduleBased(), at)
			a.result(MethodAvl, OutcomeAssigned)
			return nil
		}
	}

	// a vehicle stays on its block until the block ends
	if current := state.Resolution(); current.Block != nil {
		if schedule.IsBlockActive(current.Block, at, 0) {
			a.states.SetAssignment(state, resolutionForBlock(schedule, current.Block, at, 0), state.Method(),
				state.IsScheduleBased(), at)
			a.result(state.Method(), OutcomeKept)
			if a.cfg.DebugLogging {
				a.log.Printf("vehicle %s kept on block %s", state.VehicleId, current.BlockId())
			}
			return nil
		}
		a.log.Printf("vehicle %s block %s is no longer active", state.VehicleId, current.BlockId())
		a.states.ClearAssignment(state)
	}

	if a.auto != nil && a.auto.Enabled() {
		if match, found := a.auto.AutoAssign(schedule, state); found {
			trip := match.Trip()
			a.states.SetAssignment(state, Resolution{Block: match.Block, Trip: trip, RouteId: trip.RouteId},
				MethodAuto, false, at)
			difference := int64(match.Difference)
			a.result(MethodAuto, OutcomeAssigned)
			return &difference
		}
		a.result(MethodAuto, OutcomeUnmatched)
	}

	if len(routeHint) > 0 {
		a.states.SetAssignment(state, Resolution{RouteId: routeHint}, MethodAvl, false, at)
		return nil
	}
	if state.Method() != MethodNone {
		a.states.ClearAssignment(state)
	}
	return nil
}

// States returns the vehicle states the Assigner updates
func (a *Assigner) States() *VehicleStateManager {
	return a.states
}
