// Package matching places AVL reports along the trips of a block and compares them with expected times
package matching

import (
	"fmt"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// TemporalDifference is the expected time minus the actual time in milliseconds.
// Positive values mean the vehicle is early or travelling faster than expected, negative values late or slower
type TemporalDifference int64

// MakeTemporalDifference returns the difference between expected and actual
func MakeTemporalDifference(expected time.Time, actual time.Time) TemporalDifference {
	return TemporalDifference(expected.Sub(actual).Milliseconds())
}

// IsWithinBounds returns true if the difference is less than allowableEarlySeconds early and less than
// allowableLateSeconds late
func (d TemporalDifference) IsWithinBounds(allowableEarlySeconds int, allowableLateSeconds int) bool {
	return int64(d) < int64(allowableEarlySeconds)*1000 && -int64(d) < int64(allowableLateSeconds)*1000
}

// BetterThan returns true if d is closer to expected than other
func (d TemporalDifference) BetterThan(other TemporalDifference) bool {
	return d.abs() < other.abs()
}

func (d TemporalDifference) abs() int64 {
	if d < 0 {
		return -int64(d)
	}
	return int64(d)
}

func (d TemporalDifference) String() string {
	status := "ontime"
	if d > 0 {
		status = "early"
	} else if d < 0 {
		status = "late"
	}
	return fmt.Sprintf("%.1fs (%s)", float64(d)/1000, status)
}

// SpatialMatch is a position along a trip of a block that an AvlReport matches
type SpatialMatch struct {
	VehicleId string      `json:"vehicle_id"`
	Block     *gtfs.Block `json:"-"`
	TripIndex int         `json:"trip_index"`
	// StopPathIndex is the stop path being travelled, the report is between the previous stop and this stop
	StopPathIndex int `json:"stop_path_index"`
	// Fraction of the stop path travelled, 0 at the previous stop and 1 at the stop
	Fraction float64 `json:"fraction"`
	// DistanceAlongStopPath in meters from the previous stop
	DistanceAlongStopPath float64 `json:"distance_along_stop_path"`
	// DistanceToStopPath in meters between the report and the stop path
	DistanceToStopPath float64   `json:"distance_to_stop_path"`
	At                 time.Time `json:"at"`
}

// Trip returns the trip of the match
func (m SpatialMatch) Trip() *gtfs.Trip {
	if m.Block == nil || m.TripIndex < 0 || m.TripIndex >= len(m.Block.Trips) {
		return nil
	}
	return m.Block.Trips[m.TripIndex]
}

// StopPath returns the stop path of the match
func (m SpatialMatch) StopPath() *gtfs.StopPath {
	trip := m.Trip()
	if trip == nil {
		return nil
	}
	return trip.StopPath(m.StopPathIndex)
}

// LessThanOrEqualTo returns true if m is at or before other along the block
func (m SpatialMatch) LessThanOrEqualTo(other SpatialMatch) bool {
	if m.TripIndex != other.TripIndex {
		return m.TripIndex < other.TripIndex
	}
	if m.StopPathIndex != other.StopPathIndex {
		return m.StopPathIndex < other.StopPathIndex
	}
	return m.DistanceAlongStopPath <= other.DistanceAlongStopPath
}

func (m SpatialMatch) String() string {
	tripId := ""
	if trip := m.Trip(); trip != nil {
		tripId = trip.TripId
	}
	return fmt.Sprintf("trip:%s stopPathIndex:%d fraction:%.2f distance:%.1fm", tripId, m.StopPathIndex,
		m.Fraction, m.DistanceToStopPath)
}

// TemporalMatch is a SpatialMatch along with how far it is from the expected time
type TemporalMatch struct {
	SpatialMatch
	Difference TemporalDifference `json:"difference"`
}

// SpatialMatcher finds positions along trips of a block that match a report
type SpatialMatcher interface {
	// SpatialMatches returns matches of report to trips of block. Positions at layovers are excluded
	SpatialMatches(report *gtfs.AvlReport, block *gtfs.Block, trips []*gtfs.Trip) []SpatialMatch
}

// TemporalMatcher compares spatial matches with the schedule
type TemporalMatcher interface {
	// BestScheduleMatch returns the match closest to its scheduled time
	BestScheduleMatch(report *gtfs.AvlReport, matches []SpatialMatch) (TemporalMatch, bool)
}

// TravelTimes provides expected travel times between positions along a block
type TravelTimes interface {
	// ExpectedTravelSeconds returns the expected travel time from one match to a later one, false if unknown
	ExpectedTravelSeconds(vehicleId string, from SpatialMatch, to SpatialMatch, at time.Time) (float64, bool)
}
