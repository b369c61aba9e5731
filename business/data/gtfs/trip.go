package gtfs

import (
	"context"
	"fmt"
	"sort"

	"github.com/OpenTransitTools/transitassign/foundation/database"
	"github.com/jmoiron/sqlx"
)

// Trip contains data from a gtfs trip definition in a trips.txt file
type Trip struct {
	DataSetId     int64   `db:"data_set_id" json:"data_set_id"`
	TripId        string  `db:"trip_id" json:"trip_id"`
	RouteId       string  `db:"route_id" json:"route_id"`
	ServiceId     string  `db:"service_id" json:"service_id"`
	TripHeadsign  *string `db:"trip_headsign" json:"trip_headsign"`
	TripShortName *string `db:"trip_short_name" json:"trip_short_name"`
	BlockId       string  `db:"block_id" json:"block_id"`
	ShapeId       string  `db:"shape_id" json:"shape_id"`
	StartTime     int     `db:"start_time" json:"start_time"`
	EndTime       int     `db:"end_time" json:"end_time"`
	TripDistance  float64 `db:"trip_distance" json:"trip_distance"`
	// NoSchedule is true for frequency based trips without exact times
	NoSchedule bool        `db:"no_schedule" json:"no_schedule"`
	StopPaths  []*StopPath `db:"-" json:"stop_paths"`

	block *Block
}

// Block returns the Block the trip belongs to, nil until the Trip is added to a Schedule
func (t *Trip) Block() *Block {
	return t.block
}

// ShortName returns the trip short name or empty string if there is none
func (t *Trip) ShortName() string {
	if t.TripShortName == nil {
		return ""
	}
	return *t.TripShortName
}

// StopPath is the path travelled to reach a stop on a Trip, taken from a stop_times.txt record and its stop location
type StopPath struct {
	TripId        string  `db:"trip_id" json:"trip_id"`
	StopSequence  uint32  `db:"stop_sequence" json:"stop_sequence"`
	StopPathIndex int     `db:"-" json:"stop_path_index"`
	StopId        string  `db:"stop_id" json:"stop_id"`
	Lat           float64 `db:"stop_lat" json:"lat"`
	Lon           float64 `db:"stop_lon" json:"lon"`
	ArrivalTime   int     `db:"arrival_time" json:"arrival_time"`
	DepartureTime int     `db:"departure_time" json:"departure_time"`
	// IsLayoverStop marks the start of a trip where the vehicle lays over before departing
	IsLayoverStop bool `db:"-" json:"is_layover_stop"`
	// IsWaitStop marks a stop where the vehicle waits for a scheduled departure
	IsWaitStop bool `db:"-" json:"is_wait_stop"`
}

// ScheduledDwellSeconds is the time the schedule allows between arrival and departure
func (s *StopPath) ScheduledDwellSeconds() int {
	return s.DepartureTime - s.ArrivalTime
}

// setStopPaths orders stopPaths by stop sequence and assigns their indexes and stop flags
func (t *Trip) setStopPaths(stopPaths []*StopPath) {
	sort.Slice(stopPaths, func(i, j int) bool {
		return stopPaths[i].StopSequence < stopPaths[j].StopSequence
	})
	for i, stopPath := range stopPaths {
		stopPath.StopPathIndex = i
		stopPath.IsLayoverStop = i == 0
		stopPath.IsWaitStop = i > 0 && stopPath.DepartureTime > stopPath.ArrivalTime
	}
	t.StopPaths = stopPaths
}

// StopPath returns the StopPath at stopPathIndex or nil if out of range
func (t *Trip) StopPath(stopPathIndex int) *StopPath {
	if stopPathIndex < 0 || stopPathIndex >= len(t.StopPaths) {
		return nil
	}
	return t.StopPaths[stopPathIndex]
}

// GetTrips retrieves all trips in the dataSet along with their stop paths
func GetTrips(ctx context.Context, db *sqlx.DB, dataSetId int64) ([]*Trip, error) {
	statementString := "select t.data_set_id, t.trip_id, t.route_id, t.service_id, t.trip_headsign, " +
		"t.trip_short_name, t.block_id, t.shape_id, t.start_time, t.end_time, t.trip_distance, " +
		"exists (select 1 from frequency f where f.data_set_id = t.data_set_id " +
		"and f.trip_id = t.trip_id and f.exact_times = 0) as no_schedule " +
		"from trip t where t.data_set_id = :data_set_id"
	rows, err := database.PrepareNamedQueryRowsFromMap(ctx, statementString, db,
		map[string]interface{}{"data_set_id": dataSetId})
	if err != nil {
		return nil, fmt.Errorf("unable to query trips: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	trips := make([]*Trip, 0)
	for rows.Next() {
		trip := Trip{}
		if err = rows.StructScan(&trip); err != nil {
			return nil, fmt.Errorf("unable to scan trip row: %w", err)
		}
		trips = append(trips, &trip)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	stopPaths, err := getStopPaths(ctx, db, dataSetId)
	if err != nil {
		return nil, err
	}
	for _, trip := range trips {
		trip.setStopPaths(stopPaths[trip.TripId])
	}
	return trips, nil
}

// getStopPaths loads stop_time records joined to their stop locations, grouped by trip_id
func getStopPaths(ctx context.Context, db *sqlx.DB, dataSetId int64) (map[string][]*StopPath, error) {
	statementString := "select st.trip_id, st.stop_sequence, st.stop_id, s.stop_lat, s.stop_lon, " +
		"st.arrival_time, st.departure_time " +
		"from stop_time st join stop s on s.data_set_id = st.data_set_id and s.stop_id = st.stop_id " +
		"where st.data_set_id = :data_set_id"
	rows, err := database.PrepareNamedQueryRowsFromMap(ctx, statementString, db,
		map[string]interface{}{"data_set_id": dataSetId})
	if err != nil {
		return nil, fmt.Errorf("unable to query stop paths: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	result := make(map[string][]*StopPath)
	for rows.Next() {
		stopPath := StopPath{}
		if err = rows.StructScan(&stopPath); err != nil {
			return nil, fmt.Errorf("unable to scan stop path row: %w", err)
		}
		result[stopPath.TripId] = append(result[stopPath.TripId], &stopPath)
	}
	return result, rows.Err()
}
