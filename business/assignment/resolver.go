// Package assignment determines which block and trip of the schedule each vehicle is serving
package assignment

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// ErrUnresolved is returned when an assignment can't be matched to an active block
var ErrUnresolved = errors.New("assignment unresolved")

// ResolverConfig contains the configurable parameters of Resolver
type ResolverConfig struct {
	// BlockActiveToleranceSeconds is how long before its start a block can be assigned
	BlockActiveToleranceSeconds int
	// TripActiveToleranceSeconds is how long before its start the block of a trip found with a service id suffix
	// can be assigned
	TripActiveToleranceSeconds int
	// AddServiceIdSuffix retries unknown trip ids with "-" and each active service id appended
	AddServiceIdSuffix bool
}

// DefaultResolverConfig provides the default tolerances
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		BlockActiveToleranceSeconds: 90 * 60,
		TripActiveToleranceSeconds:  120 * 60,
	}
}

// Resolution is the schedule entity an assignment refers to. Route assignments resolve to a RouteId only
type Resolution struct {
	Block   *gtfs.Block
	Trip    *gtfs.Trip
	RouteId string
}

// BlockId returns the id of the resolved block, empty if there is none
func (r Resolution) BlockId() string {
	if r.Block == nil {
		return ""
	}
	return r.Block.BlockId
}

func (r Resolution) String() string {
	tripId := ""
	if r.Trip != nil {
		tripId = r.Trip.TripId
	}
	serviceId := ""
	if r.Block != nil {
		serviceId = r.Block.ServiceId
	}
	return fmt.Sprintf("block:%s service:%s trip:%s route:%s", r.BlockId(), serviceId, tripId, r.RouteId)
}

// Resolver finds the block an explicitly assigned AvlReport refers to
type Resolver struct {
	cfg ResolverConfig
	log *log.Logger
}

// MakeResolver builds a Resolver
func MakeResolver(log *log.Logger, cfg ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg, log: log}
}

// Resolve returns the Resolution of report's assignment, or an error wrapping ErrUnresolved
func (r *Resolver) Resolve(schedule *gtfs.Schedule, report *gtfs.AvlReport) (Resolution, error) {
	var resolution Resolution
	var err error
	switch report.AssignmentType {
	case gtfs.BlockAssignment, gtfs.ScheduleBasedAssignment:
		resolution, err = r.resolveBlock(schedule, report)
	case gtfs.TripAssignment:
		resolution, err = r.resolveTrip(schedule, report)
	case gtfs.TripShortNameAssignment:
		resolution, err = r.resolveTripShortName(schedule, report)
	case gtfs.RouteAssignment:
		return Resolution{RouteId: report.AssignmentId}, nil
	default:
		err = fmt.Errorf("vehicle %s has no assignment: %w", report.VehicleId, ErrUnresolved)
	}
	if err != nil {
		r.log.Printf("error: %v", err)
	}
	return resolution, err
}

//resolveBlock looks up the block under all active service ids, accepting the first that is active
func (r *Resolver) resolveBlock(schedule *gtfs.Schedule, report *gtfs.AvlReport) (Resolution, error) {
	at := report.Time()
	serviceIds := schedule.ActiveServiceIds(at)
	for _, serviceId := range serviceIds {
		block := schedule.Block(serviceId, report.AssignmentId)
		if block != nil && schedule.IsBlockActive(block, at, r.cfg.BlockActiveToleranceSeconds) {
			return resolutionForBlock(schedule, block, at, r.cfg.BlockActiveToleranceSeconds), nil
		}
	}
	return Resolution{}, fmt.Errorf("no active block %s for service ids %v at %s for vehicle %s: %w",
		report.AssignmentId, serviceIds, at.In(schedule.Location()).Format("15:04:05"), report.VehicleId, ErrUnresolved)
}

//resolveTrip looks up the trip, retrying with service id suffixes when configured
func (r *Resolver) resolveTrip(schedule *gtfs.Schedule, report *gtfs.AvlReport) (Resolution, error) {
	if trip := schedule.Trip(report.AssignmentId); trip != nil && trip.Block() != nil {
		return Resolution{Block: trip.Block(), Trip: trip, RouteId: trip.RouteId}, nil
	}
	if r.cfg.AddServiceIdSuffix {
		at := report.Time()
		for _, serviceId := range schedule.ActiveServiceIds(at) {
			trip := schedule.Trip(report.AssignmentId + "-" + serviceId)
			if trip == nil || trip.Block() == nil {
				continue
			}
			if schedule.IsBlockActive(trip.Block(), at, r.cfg.TripActiveToleranceSeconds) {
				return Resolution{Block: trip.Block(), Trip: trip, RouteId: trip.RouteId}, nil
			}
		}
	}
	return Resolution{}, fmt.Errorf("no trip %s for vehicle %s: %w", report.AssignmentId, report.VehicleId,
		ErrUnresolved)
}

func (r *Resolver) resolveTripShortName(schedule *gtfs.Schedule, report *gtfs.AvlReport) (Resolution, error) {
	trip := schedule.TripByShortName(report.AssignmentId, schedule.ActiveServiceIds(report.Time()))
	if trip == nil || trip.Block() == nil {
		return Resolution{}, fmt.Errorf("no trip with short name %s for vehicle %s: %w", report.AssignmentId,
			report.VehicleId, ErrUnresolved)
	}
	return Resolution{Block: trip.Block(), Trip: trip, RouteId: trip.RouteId}, nil
}

//resolutionForBlock picks the trip of block in progress at the time of at, otherwise the next one to start,
//otherwise the first trip of the block. allowableBeforeSeconds is the tolerance block was found active with
func resolutionForBlock(schedule *gtfs.Schedule,
	block *gtfs.Block,
	at time.Time,
	allowableBeforeSeconds int) Resolution {
	secondsIntoDay, active := schedule.ActiveBlockSeconds(block, at, allowableBeforeSeconds)
	if !active {
		secondsIntoDay = schedule.SecondsIntoDay(at)
	}
	resolution := Resolution{Block: block}
	if active := block.ActiveTrips(secondsIntoDay, 0, 0); len(active) > 0 {
		resolution.Trip = active[0]
	} else {
		for _, trip := range block.Trips {
			if trip.StartTime > secondsIntoDay {
				resolution.Trip = trip
				break
			}
		}
		if resolution.Trip == nil && len(block.Trips) > 0 {
			resolution.Trip = block.Trips[0]
		}
	}
	if resolution.Trip != nil {
		resolution.RouteId = resolution.Trip.RouteId
	}
	return resolution
}
