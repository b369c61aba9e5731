package matching

import (
	"time"

	"github.com/OpenTransitTools/transitassign/business/histavg"
)

// HistoricalTravelTimes estimates travel times along a trip from the historical averages of its stop paths
type HistoricalTravelTimes struct {
	store *histavg.Store
}

// MakeHistoricalTravelTimes builds HistoricalTravelTimes backed by store
func MakeHistoricalTravelTimes(store *histavg.Store) *HistoricalTravelTimes {
	return &HistoricalTravelTimes{store: store}
}

// ExpectedTravelSeconds sums the average travel and dwell times of the stop paths between from and to.
// Both matches must be on the same trip and every stop path crossed must have a travel time average,
// missing dwell averages count as no dwell. Averages are shared by all vehicles, vehicleId is not used
func (h *HistoricalTravelTimes) ExpectedTravelSeconds(_ string, from SpatialMatch, to SpatialMatch,
	at time.Time) (float64, bool) {
	if from.Block != to.Block || from.TripIndex != to.TripIndex || !from.LessThanOrEqualTo(to) {
		return 0, false
	}
	trip := from.Trip()
	if trip == nil {
		return 0, false
	}
	// averages of frequency based trips are bucketed by the start time of the trip
	lookupAt := at
	if trip.NoSchedule {
		if scheduledSeconds, ok := ScheduledSeconds(from); ok {
			lookupAt = at.Add(-time.Duration(scheduledSeconds-trip.StartTime) * time.Second)
		}
	}

	travel := func(stopPathIndex int) (float64, bool) {
		average, found := h.store.Get(histavg.Key{
			EntityId:      trip.TripId,
			StopPathIndex: stopPathIndex,
			Kind:          histavg.TravelTime,
		}, lookupAt)
		return average.Average, found
	}
	dwell := func(stopPathIndex int) float64 {
		average, _ := h.store.Get(histavg.Key{
			EntityId:      trip.TripId,
			StopPathIndex: stopPathIndex,
			Kind:          histavg.DwellTime,
		}, lookupAt)
		return average.Average
	}

	first, found := travel(from.StopPathIndex)
	if !found {
		return 0, false
	}
	if from.StopPathIndex == to.StopPathIndex {
		return first * (to.Fraction - from.Fraction), true
	}
	total := first*(1-from.Fraction) + dwell(from.StopPathIndex)
	for i := from.StopPathIndex + 1; i < to.StopPathIndex; i++ {
		seconds, found := travel(i)
		if !found {
			return 0, false
		}
		total += seconds + dwell(i)
	}
	last, found := travel(to.StopPathIndex)
	if !found {
		return 0, false
	}
	return total + last*to.Fraction, true
}
