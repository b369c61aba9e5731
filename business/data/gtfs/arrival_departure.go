package gtfs

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTransitTools/transitassign/foundation/database"
	"github.com/jmoiron/sqlx"
)

// ArrivalDeparture is a vehicle arriving at or departing from a stop on a trip, as determined by a
// downstream arrival and departure generator
type ArrivalDeparture struct {
	VehicleId     string    `db:"vehicle_id" json:"vehicle_id"`
	TripId        string    `db:"trip_id" json:"trip_id"`
	RouteId       string    `db:"route_id" json:"route_id"`
	BlockId       string    `db:"block_id" json:"block_id"`
	StopId        string    `db:"stop_id" json:"stop_id"`
	StopPathIndex int       `db:"stop_path_index" json:"stop_path_index"`
	IsArrival     bool      `db:"is_arrival" json:"is_arrival"`
	Time          time.Time `db:"event_time" json:"time"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	// FreqStartTime is the start of the trip instance for frequency based trips, nil for scheduled trips
	FreqStartTime *time.Time `db:"freq_start_time" json:"freq_start_time,omitempty"`
	IsLayoverStop bool       `db:"is_layover_stop" json:"is_layover_stop"`
	IsWaitStop    bool       `db:"is_wait_stop" json:"is_wait_stop"`
}

// ScheduleAdherenceSeconds returns seconds the event occurred before its scheduled time, negative when late.
// returns 0 when no scheduled time is available
func (a *ArrivalDeparture) ScheduleAdherenceSeconds() int {
	if a.ScheduledTime.IsZero() {
		return 0
	}
	return int(a.ScheduledTime.Sub(a.Time) / time.Second)
}

// SameTripInstance returns true if other was produced by the same vehicle running the same trip instance
func (a *ArrivalDeparture) SameTripInstance(other *ArrivalDeparture) bool {
	if a.VehicleId != other.VehicleId || a.TripId != other.TripId {
		return false
	}
	if a.FreqStartTime == nil || other.FreqStartTime == nil {
		return a.FreqStartTime == nil && other.FreqStartTime == nil
	}
	return a.FreqStartTime.Equal(*other.FreqStartTime)
}

func (a *ArrivalDeparture) String() string {
	kind := "departure"
	if a.IsArrival {
		kind = "arrival"
	}
	return fmt.Sprintf("%s vehicle:%s trip:%s stop:%s index:%d at:%s", kind, a.VehicleId, a.TripId,
		a.StopId, a.StopPathIndex, a.Time.Format(time.RFC3339))
}

// GetArrivalDepartures retrieves arrival and departure events that occurred between start and end,
// ordered by vehicle and time
func GetArrivalDepartures(ctx context.Context, db *sqlx.DB, start time.Time, end time.Time) ([]*ArrivalDeparture, error) {
	statementString := "select vehicle_id, trip_id, route_id, block_id, stop_id, stop_path_index, is_arrival, " +
		"event_time, scheduled_time, freq_start_time, is_layover_stop, is_wait_stop " +
		"from arrival_departure where event_time >= :start and event_time < :end " +
		"order by vehicle_id, event_time, is_arrival desc"
	rows, err := database.PrepareNamedQueryRowsFromMap(ctx, statementString, db,
		map[string]interface{}{"start": start, "end": end})
	if err != nil {
		return nil, fmt.Errorf("unable to query arrival_departure: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	results := make([]*ArrivalDeparture, 0)
	for rows.Next() {
		event := ArrivalDeparture{}
		if err = rows.StructScan(&event); err != nil {
			return nil, fmt.Errorf("unable to scan arrival_departure row: %w", err)
		}
		results = append(results, &event)
	}
	return results, rows.Err()
}
