package predict

import (
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// stopArrival is an arrival of a vehicle at a stop remembered to compute headways
type stopArrival struct {
	vehicleId         string
	tripId            string
	at                time.Time
	scheduleAdherence int
	scheduled         bool
}

// HeadwayTracker keeps the recent arrivals at each stop. The headway of an arrival is the time since the
// previous arrival at the same stop of a different vehicle on a different trip
type HeadwayTracker struct {
	maxHeadway time.Duration
	mu         sync.Mutex
	arrivals   map[string][]stopArrival
}

// maxArrivalsPerStop bounds the arrivals remembered at each stop
const maxArrivalsPerStop = 32

// MakeHeadwayTracker builds a HeadwayTracker ignoring arrivals more than maxHeadway apart
func MakeHeadwayTracker(maxHeadway time.Duration) *HeadwayTracker {
	return &HeadwayTracker{
		maxHeadway: maxHeadway,
		arrivals:   make(map[string][]stopArrival),
	}
}

// RecordArrival remembers an arrival event, departures are ignored
func (h *HeadwayTracker) RecordArrival(event *gtfs.ArrivalDeparture) {
	if !event.IsArrival {
		return
	}
	arrival := stopArrival{
		vehicleId:         event.VehicleId,
		tripId:            event.TripId,
		at:                event.Time,
		scheduleAdherence: event.ScheduleAdherenceSeconds(),
		scheduled:         !event.ScheduledTime.IsZero(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	arrivals := append(h.arrivals[event.StopId], arrival)
	sort.SliceStable(arrivals, func(i, j int) bool {
		return arrivals[i].at.Before(arrivals[j].at)
	})
	if len(arrivals) > maxArrivalsPerStop {
		arrivals = arrivals[len(arrivals)-maxArrivalsPerStop:]
	}
	h.arrivals[event.StopId] = arrivals
}

// findArrival returns the arrival of vehicleId on tripId at stopId
func (h *HeadwayTracker) findArrival(stopId string, vehicleId string, tripId string) (stopArrival, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	arrivals := h.arrivals[stopId]
	for i := len(arrivals) - 1; i >= 0; i-- {
		if arrivals[i].vehicleId == vehicleId && arrivals[i].tripId == tripId {
			return arrivals[i], true
		}
	}
	return stopArrival{}, false
}

// previousArrival returns the latest arrival at stopId before at of another vehicle on another trip,
// no more than maxHeadway earlier
func (h *HeadwayTracker) previousArrival(stopId string, vehicleId string, tripId string,
	at time.Time) (stopArrival, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	arrivals := h.arrivals[stopId]
	for i := len(arrivals) - 1; i >= 0; i-- {
		arrival := arrivals[i]
		if !arrival.at.Before(at) || arrival.vehicleId == vehicleId || arrival.tripId == tripId {
			continue
		}
		if at.Sub(arrival.at) > h.maxHeadway {
			return stopArrival{}, false
		}
		return arrival, true
	}
	return stopArrival{}, false
}

// Headway returns the seconds between at and the previous arrival at stopId of another vehicle on another trip
func (h *HeadwayTracker) Headway(stopId string, vehicleId string, tripId string, at time.Time) (float64, bool) {
	previous, found := h.previousArrival(stopId, vehicleId, tripId, at)
	if !found {
		return 0, false
	}
	return at.Sub(previous.at).Seconds(), true
}

// ForgetBefore drops arrivals before cutoff, returns the number of stops that no longer have arrivals
func (h *HeadwayTracker) ForgetBefore(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for stopId, arrivals := range h.arrivals {
		keep := arrivals[:0]
		for _, arrival := range arrivals {
			if !arrival.at.Before(cutoff) {
				keep = append(keep, arrival)
			}
		}
		if len(keep) == 0 {
			delete(h.arrivals, stopId)
			removed++
			continue
		}
		h.arrivals[stopId] = keep
	}
	return removed
}

// StopCount returns the number of stops with remembered arrivals
func (h *HeadwayTracker) StopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.arrivals)
}
