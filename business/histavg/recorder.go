package histavg

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// Observation is a duration derived from a pair of consecutive arrival and departure events of a vehicle
type Observation struct {
	Key        Key
	VehicleId  string
	RouteId    string
	FromStopId string
	StopId     string
	// At is the time used to select the bucket, the trip start for frequency based trips otherwise the start
	// of the duration
	At            time.Time
	End           time.Time
	Seconds       float64
	IsLayoverStop bool
	IsWaitStop    bool
}

// Policy decides which observations are sane enough to be averaged
type Policy struct {
	MinTravelSeconds float64
	MaxTravelSeconds float64
	MinDwellSeconds  float64
	MaxDwellSeconds  float64
}

// DefaultPolicy provides the default admission bounds
func DefaultPolicy() Policy {
	return Policy{
		MinTravelSeconds: 0,
		MaxTravelSeconds: 60 * 60,
		MinDwellSeconds:  1,
		MaxDwellSeconds:  2 * 60,
	}
}

// Admit returns true if observation should be added to a Store
func (p Policy) Admit(observation Observation) bool {
	switch observation.Key.Kind {
	case TravelTime:
		return observation.Seconds >= p.MinTravelSeconds && observation.Seconds <= p.MaxTravelSeconds
	case DwellTime:
		// dwell at layover and wait stops is dominated by schedule slack
		if observation.IsLayoverStop || observation.IsWaitStop {
			return false
		}
		return observation.Seconds >= p.MinDwellSeconds && observation.Seconds <= p.MaxDwellSeconds
	}
	return false
}

// pairEvents derives the duration between previous and current events of the same vehicle.
// travel time runs from the departure of one stop path to the arrival at the next,
// dwell time from the arrival to the departure at the same stop path
func pairEvents(previous *gtfs.ArrivalDeparture, current *gtfs.ArrivalDeparture) (Observation, bool) {
	if previous == nil || !previous.SameTripInstance(current) {
		return Observation{}, false
	}
	observation := Observation{
		VehicleId:     current.VehicleId,
		RouteId:       current.RouteId,
		FromStopId:    previous.StopId,
		StopId:        current.StopId,
		At:            previous.Time,
		End:           current.Time,
		Seconds:       current.Time.Sub(previous.Time).Seconds(),
		IsLayoverStop: current.IsLayoverStop,
		IsWaitStop:    current.IsWaitStop,
	}
	if current.FreqStartTime != nil {
		observation.At = *current.FreqStartTime
	}
	switch {
	case current.IsArrival && !previous.IsArrival && current.StopPathIndex == previous.StopPathIndex+1:
		observation.Key = Key{EntityId: current.TripId, StopPathIndex: current.StopPathIndex, Kind: TravelTime}
	case !current.IsArrival && previous.IsArrival && current.StopPathIndex == previous.StopPathIndex:
		observation.Key = Key{EntityId: current.TripId, StopPathIndex: current.StopPathIndex, Kind: DwellTime}
	default:
		return Observation{}, false
	}
	return observation, true
}

// DeriveDurations pairs up events, in any order, into observations. No admission policy is applied
func DeriveDurations(events []*gtfs.ArrivalDeparture) []Observation {
	sorted := make([]*gtfs.ArrivalDeparture, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.VehicleId != b.VehicleId {
			return a.VehicleId < b.VehicleId
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		// an arrival precedes a departure recorded at the same instant
		return a.IsArrival && !b.IsArrival
	})
	results := make([]Observation, 0)
	var previous *gtfs.ArrivalDeparture
	for _, event := range sorted {
		if previous != nil && previous.VehicleId != event.VehicleId {
			previous = nil
		}
		if observation, ok := pairEvents(previous, event); ok {
			results = append(results, observation)
		}
		previous = event
	}
	return results
}

// stopTransitionName returns the name of stop transition between two stops on a route
func stopTransitionName(routeId string, from string, to string) string {
	return fmt.Sprintf("%s_%s_%s", routeId, from, to)
}

// Recorder derives observations from a live stream of arrival and departure events and adds the admitted
// ones to a Store. The most recent travel time between each pair of stops is kept as a live signal
type Recorder struct {
	store  *Store
	policy Policy

	mu             sync.Mutex
	lastEvents     map[string]*gtfs.ArrivalDeparture
	lastTransition map[string]Observation
}

// MakeRecorder builds a Recorder feeding store
func MakeRecorder(store *Store, policy Policy) *Recorder {
	return &Recorder{
		store:          store,
		policy:         policy,
		lastEvents:     make(map[string]*gtfs.ArrivalDeparture),
		lastTransition: make(map[string]Observation),
	}
}

// Store returns the Store fed by the Recorder
func (r *Recorder) Store() *Store {
	return r.store
}

// Record processes the next event of a vehicle, returning the observation added to the store if any.
// events older than the last event recorded for the vehicle are ignored
func (r *Recorder) Record(event *gtfs.ArrivalDeparture) (Observation, bool) {
	r.mu.Lock()
	previous := r.lastEvents[event.VehicleId]
	if previous != nil && event.Time.Before(previous.Time) {
		r.mu.Unlock()
		return Observation{}, false
	}
	r.lastEvents[event.VehicleId] = event
	observation, ok := pairEvents(previous, event)
	admitted := ok && r.policy.Admit(observation)
	if admitted && observation.Key.Kind == TravelTime {
		r.lastTransition[stopTransitionName(observation.RouteId, observation.FromStopId, observation.StopId)] = observation
	}
	r.mu.Unlock()

	if !admitted {
		return Observation{}, false
	}
	r.store.Put(observation.Key, observation.At, observation.Seconds)
	return observation, true
}

// Load adds all admitted observations derived from events to the store, used to warm up from history.
// returns the number of observations added
func (r *Recorder) Load(events []*gtfs.ArrivalDeparture) int {
	added := 0
	for _, observation := range DeriveDurations(events) {
		if r.policy.Admit(observation) {
			r.store.Put(observation.Key, observation.At, observation.Seconds)
			added++
		}
	}
	return added
}

// LatestTravel returns the most recent travel time between two stops on a route if it ended no earlier
// than maxAge before at
func (r *Recorder) LatestTravel(routeId string, fromStopId string, toStopId string,
	at time.Time, maxAge time.Duration) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	observation, present := r.lastTransition[stopTransitionName(routeId, fromStopId, toStopId)]
	if !present || at.Sub(observation.End) > maxAge {
		return 0, false
	}
	return observation.Seconds, true
}

// ForgetBefore drops vehicle and transition state last seen before cutoff, returns the number of vehicles removed
func (r *Recorder) ForgetBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for vehicleId, event := range r.lastEvents {
		if event.Time.Before(cutoff) {
			delete(r.lastEvents, vehicleId)
			removed++
		}
	}
	for key, observation := range r.lastTransition {
		if observation.End.Before(cutoff) {
			delete(r.lastTransition, key)
		}
	}
	return removed
}
