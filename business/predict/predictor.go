package predict

import (
	"fmt"
	"log"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
)

// Config contains the configurable parameters of Predictor
type Config struct {
	// MinDays of historical samples required before predictions are adaptive
	MinDays int
	// BoardingSeconds each waiting passenger adds to the dwell time
	BoardingSeconds float64
	// MaxLiveTravelAge is how old the last observed travel time may be to be used as the live estimate
	MaxLiveTravelAge time.Duration
	DebugLogging     bool
}

// ScheduleSource provides the current schedule
type ScheduleSource interface {
	Read() (*gtfs.Schedule, bool)
}

// History provides samples of a key observed on previous days
type History interface {
	Samples(key histavg.Key, at time.Time) []float64
}

// LiveTravel provides the most recently observed travel time between two stops
type LiveTravel interface {
	LatestTravel(routeId string, fromStopId string, toStopId string, at time.Time, maxAge time.Duration) (float64, bool)
}

// Observer is notified of the source of every prediction made
type Observer interface {
	PredictionSource(kind string, source string)
}

// Request identifies the stop path of a trip a prediction is made for
type Request struct {
	VehicleId     string    `json:"vehicle_id"`
	TripId        string    `json:"trip_id"`
	StopPathIndex int       `json:"stop_path_index"`
	At            time.Time `json:"at"`
	// PassengerArrivalRate is passengers per second arriving at the stop, nil when not measured
	PassengerArrivalRate *float64 `json:"passenger_arrival_rate,omitempty"`
}

func (r Request) String() string {
	return fmt.Sprintf("vehicle:%s trip:%s stopPathIndex:%d at:%s", r.VehicleId, r.TripId, r.StopPathIndex,
		r.At.Format(time.RFC3339))
}

// Prediction is a predicted duration with the signals callers may use to decide whether to trust it
type Prediction struct {
	Kind        histavg.Kind `json:"kind"`
	Value       float64      `json:"value"`
	Source      string       `json:"source"`
	FilterError float64      `json:"filter_error"`
	SampleCount int          `json:"sample_count"`
}

// Predictor blends live estimates with samples from previous days, silently falling back to its
// DefaultPredictor when any input is missing
type Predictor struct {
	cfg         Config
	log         *log.Logger
	schedule    ScheduleSource
	history     History
	errors      *ErrorStore
	headways    *HeadwayTracker
	dwellModels *DwellModelCache
	live        LiveTravel
	defaults    DefaultPredictor
	observer    Observer
}

// MakePredictor builds a Predictor. observer may be nil
func MakePredictor(log *log.Logger,
	cfg Config,
	schedule ScheduleSource,
	history History,
	errors *ErrorStore,
	headways *HeadwayTracker,
	dwellModels *DwellModelCache,
	live LiveTravel,
	defaults DefaultPredictor,
	observer Observer) *Predictor {
	return &Predictor{
		cfg:         cfg,
		log:         log,
		schedule:    schedule,
		history:     history,
		errors:      errors,
		headways:    headways,
		dwellModels: dwellModels,
		live:        live,
		defaults:    defaults,
		observer:    observer,
	}
}

// RecordEvent feeds an arrival or departure into the headway tracker and dwell models
func (p *Predictor) RecordEvent(event *gtfs.ArrivalDeparture) {
	p.headways.RecordArrival(event)
	p.dwellModels.AddEvent(event)
}

func (p *Predictor) trip(tripId string) *gtfs.Trip {
	schedule, ok := p.schedule.Read()
	if !ok {
		return nil
	}
	return schedule.Trip(tripId)
}

// PredictDwell predicts the seconds a vehicle will dwell at the stop of the requested stop path.
// the live estimate is the passenger arrival rate times the current headway times the boarding time per
// passenger, or the dwell model's prediction for the headway when no arrival rate is available
func (p *Predictor) PredictDwell(req Request) Prediction {
	key := histavg.Key{EntityId: req.TripId, StopPathIndex: req.StopPathIndex, Kind: histavg.DwellTime}
	trip := p.trip(req.TripId)
	if trip == nil {
		return p.fallback(key, trip, req, "unknown trip")
	}
	stopPath := trip.StopPath(req.StopPathIndex)
	if stopPath == nil {
		return p.fallback(key, trip, req, "unknown stop path")
	}
	headway, found := p.headways.Headway(stopPath.StopId, req.VehicleId, req.TripId, req.At)
	if !found {
		return p.fallback(key, trip, req, "no headway")
	}
	var live float64
	if req.PassengerArrivalRate != nil {
		live = *req.PassengerArrivalRate * headway * p.cfg.BoardingSeconds
	} else if live, found = p.dwellModels.Predict(req.TripId, req.StopPathIndex, headway); !found {
		return p.fallback(key, trip, req, "no dwell model")
	}
	return p.blend(key, trip, req, live)
}

// PredictTravel predicts the seconds a vehicle will take to travel the requested stop path.
// the live estimate is the travel time of the last vehicle seen travelling between the same stops
func (p *Predictor) PredictTravel(req Request) Prediction {
	key := histavg.Key{EntityId: req.TripId, StopPathIndex: req.StopPathIndex, Kind: histavg.TravelTime}
	trip := p.trip(req.TripId)
	if trip == nil {
		return p.fallback(key, trip, req, "unknown trip")
	}
	stopPath := trip.StopPath(req.StopPathIndex)
	previous := trip.StopPath(req.StopPathIndex - 1)
	if stopPath == nil || previous == nil {
		return p.fallback(key, trip, req, "unknown stop path")
	}
	live, found := p.live.LatestTravel(trip.RouteId, previous.StopId, stopPath.StopId, req.At, p.cfg.MaxLiveTravelAge)
	if !found {
		return p.fallback(key, trip, req, "no live travel time")
	}
	return p.blend(key, trip, req, live)
}

func (p *Predictor) blend(key histavg.Key, trip *gtfs.Trip, req Request, live float64) Prediction {
	samples := p.history.Samples(key, req.At)
	if len(samples) < p.cfg.MinDays {
		return p.fallback(key, trip, req, fmt.Sprintf("%d days of history", len(samples)))
	}
	result, err := Blend(live, samples, p.errors.Get(key))
	if err != nil {
		return p.fallback(key, trip, req, err.Error())
	}
	p.errors.Put(key, result.FilterError)
	if p.cfg.DebugLogging {
		p.log.Printf("%s prediction for %s, live:%.1f %s", key.Kind, req, live, result)
	}
	p.observe(key.Kind, SourceKalman)
	return Prediction{
		Kind:        key.Kind,
		Value:       result.Prediction,
		Source:      SourceKalman,
		FilterError: result.FilterError,
		SampleCount: len(samples),
	}
}

func (p *Predictor) fallback(key histavg.Key, trip *gtfs.Trip, req Request, reason string) Prediction {
	value, source := p.defaults.DefaultSeconds(key, trip, req.At)
	if p.cfg.DebugLogging {
		p.log.Printf("%s prediction for %s using %s, %s", key.Kind, req, source, reason)
	}
	p.observe(key.Kind, source)
	return Prediction{Kind: key.Kind, Value: value, Source: source}
}

func (p *Predictor) observe(kind histavg.Kind, source string) {
	if p.observer != nil {
		p.observer.PredictionSource(string(kind), source)
	}
}
