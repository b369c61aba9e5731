package matching

import (
	"math"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// StopMatcher matches reports to the straight line stop paths between consecutive stops of a trip, and
// compares them with times interpolated from the stop schedule
type StopMatcher struct {
	// MaxDistance in meters a report may be from a stop path to match it
	MaxDistance float64
	// Location is the agency time zone schedule seconds are relative to
	Location *time.Location
}

// MakeStopMatcher builds a StopMatcher
func MakeStopMatcher(maxDistance float64, location *time.Location) *StopMatcher {
	if location == nil {
		location = time.UTC
	}
	return &StopMatcher{MaxDistance: maxDistance, Location: location}
}

type stopPathDistance struct {
	distance float64
	fraction float64
	length   float64
}

// SpatialMatches returns, for each trip, the stop paths within MaxDistance of report that are closer than
// their neighbors. The layover at the first stop of a trip never matches
func (m *StopMatcher) SpatialMatches(report *gtfs.AvlReport, block *gtfs.Block, trips []*gtfs.Trip) []SpatialMatch {
	results := make([]SpatialMatch, 0)
	for _, trip := range trips {
		tripIndex := block.TripIndex(trip.TripId)
		if tripIndex < 0 || len(trip.StopPaths) < 2 {
			continue
		}
		distances := make([]stopPathDistance, len(trip.StopPaths))
		distances[0] = stopPathDistance{distance: math.MaxFloat64}
		for i := 1; i < len(trip.StopPaths); i++ {
			from := trip.StopPaths[i-1]
			to := trip.StopPaths[i]
			lat, lon, fraction := gtfs.NearestLatLngToLine(from.Lat, from.Lon, to.Lat, to.Lon, report.Lat, report.Lon)
			distances[i] = stopPathDistance{
				distance: gtfs.LatLngDistance(lat, lon, report.Lat, report.Lon),
				fraction: fraction,
				length:   gtfs.LatLngDistance(from.Lat, from.Lon, to.Lat, to.Lon),
			}
		}
		for i := 1; i < len(distances); i++ {
			d := distances[i]
			if d.distance > m.MaxDistance {
				continue
			}
			// sitting at the first stop is a layover
			if i == 1 && trip.StopPaths[0].IsLayoverStop && d.fraction == 0 {
				continue
			}
			if d.distance > distances[i-1].distance {
				continue
			}
			if i+1 < len(distances) && distances[i+1].distance < d.distance {
				continue
			}
			results = append(results, SpatialMatch{
				VehicleId:             report.VehicleId,
				Block:                 block,
				TripIndex:             tripIndex,
				StopPathIndex:         i,
				Fraction:              d.fraction,
				DistanceAlongStopPath: d.fraction * d.length,
				DistanceToStopPath:    d.distance,
				At:                    report.Time(),
			})
		}
	}
	return results
}

// ScheduledSeconds returns the seconds into the service day the schedule expects a vehicle at match,
// interpolated between the departure from the previous stop and the arrival at the stop
func ScheduledSeconds(match SpatialMatch) (int, bool) {
	trip := match.Trip()
	if trip == nil || match.StopPathIndex < 1 || match.StopPathIndex >= len(trip.StopPaths) {
		return 0, false
	}
	from := trip.StopPaths[match.StopPathIndex-1]
	to := trip.StopPaths[match.StopPathIndex]
	return from.DepartureTime + int(math.Round(float64(to.ArrivalTime-from.DepartureTime)*match.Fraction)), true
}

// scheduledTime converts scheduled seconds into the time on the service day nearest to at
func (m *StopMatcher) scheduledTime(scheduledSeconds int, at time.Time) time.Time {
	midnight := gtfs.Get12AmTime(at.In(m.Location))
	best := gtfs.MakeScheduleTime(midnight, scheduledSeconds)
	for _, days := range []int{-1, 1} {
		candidate := gtfs.MakeScheduleTime(midnight.AddDate(0, 0, days), scheduledSeconds)
		if absDuration(candidate.Sub(at)) < absDuration(best.Sub(at)) {
			best = candidate
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// BestScheduleMatch returns the match whose scheduled time is closest to the report time
func (m *StopMatcher) BestScheduleMatch(report *gtfs.AvlReport, matches []SpatialMatch) (TemporalMatch, bool) {
	var best TemporalMatch
	found := false
	for _, match := range matches {
		scheduledSeconds, ok := ScheduledSeconds(match)
		if !ok {
			continue
		}
		difference := MakeTemporalDifference(m.scheduledTime(scheduledSeconds, report.Time()), report.Time())
		if !found || difference.BetterThan(best.Difference) {
			best = TemporalMatch{SpatialMatch: match, Difference: difference}
			found = true
		}
	}
	return best, found
}
