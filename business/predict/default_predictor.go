package predict

import (
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
)

// DefaultPredictor provides the non adaptive prediction used whenever the adaptive prediction can't be made
type DefaultPredictor interface {
	DefaultSeconds(key histavg.Key, trip *gtfs.Trip, at time.Time) (float64, string)
}

const (
	SourceKalman     = "kalman"
	SourceHistorical = "historical_average"
	SourceSchedule   = "schedule"
)

// HistoricalDefault predicts the historical average of the time of day bucket, or the scheduled duration
// when there is no average
type HistoricalDefault struct {
	store *histavg.Store
}

// MakeHistoricalDefault builds HistoricalDefault
func MakeHistoricalDefault(store *histavg.Store) *HistoricalDefault {
	return &HistoricalDefault{store: store}
}

// DefaultSeconds returns the predicted seconds for key and the source of the prediction
func (h *HistoricalDefault) DefaultSeconds(key histavg.Key, trip *gtfs.Trip, at time.Time) (float64, string) {
	if average, found := h.store.Get(key, at); found {
		return average.Average, SourceHistorical
	}
	return scheduledSeconds(key, trip), SourceSchedule
}

// scheduledSeconds returns the duration the schedule allows for key, 0 when unknown
func scheduledSeconds(key histavg.Key, trip *gtfs.Trip) float64 {
	if trip == nil {
		return 0
	}
	stopPath := trip.StopPath(key.StopPathIndex)
	if stopPath == nil {
		return 0
	}
	if key.Kind == histavg.DwellTime {
		return float64(stopPath.ScheduledDwellSeconds())
	}
	previous := trip.StopPath(key.StopPathIndex - 1)
	if previous == nil {
		return 0
	}
	return float64(stopPath.ArrivalTime - previous.DepartureTime)
}
