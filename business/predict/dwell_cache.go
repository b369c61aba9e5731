package predict

import (
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
)

// DwellAdmission contains the bounds samples must fall within to be added to a dwell model
type DwellAdmission struct {
	MinDwellSeconds             float64
	MaxDwellSeconds             float64
	MinHeadwaySeconds           float64
	MaxHeadwaySeconds           float64
	MaxScheduleAdherenceSeconds int
}

// DefaultDwellAdmission provides the default admission bounds
func DefaultDwellAdmission() DwellAdmission {
	return DwellAdmission{
		MinDwellSeconds:             1,
		MaxDwellSeconds:             2 * 60,
		MinHeadwaySeconds:           1,
		MaxHeadwaySeconds:           60 * 60,
		MaxScheduleAdherenceSeconds: 10 * 60,
	}
}

func (d DwellAdmission) adherenceWithinBounds(adherenceSeconds int) bool {
	return int(math.Abs(float64(adherenceSeconds))) <= d.MaxScheduleAdherenceSeconds
}

// DwellModelCache keeps a DwellModel per trip stop path, trained from departures paired with the vehicle's
// arrival at the same stop and the headway of that arrival
type DwellModelCache struct {
	log        *log.Logger
	debug      bool
	admission  DwellAdmission
	empty      DwellModel
	headways   *HeadwayTracker
	models     sync.Map
	rejections sync.Map
}

// MakeDwellModelCache builds a DwellModelCache starting every key from empty
func MakeDwellModelCache(log *log.Logger, debug bool, admission DwellAdmission, empty DwellModel,
	headways *HeadwayTracker) *DwellModelCache {
	return &DwellModelCache{
		log:       log,
		debug:     debug,
		admission: admission,
		empty:     empty,
		headways:  headways,
	}
}

func dwellKey(tripId string, stopPathIndex int) histavg.Key {
	return histavg.Key{EntityId: tripId, StopPathIndex: stopPathIndex, Kind: histavg.DwellTime}
}

// AddEvent trains the model of the event's stop path when event is an admitted departure.
// arrivals must already have been recorded in the HeadwayTracker. returns true if a sample was added
func (d *DwellModelCache) AddEvent(event *gtfs.ArrivalDeparture) bool {
	if event.IsArrival {
		return false
	}
	if event.IsLayoverStop || event.IsWaitStop {
		return d.reject("layover")
	}
	arrival, found := d.headways.findArrival(event.StopId, event.VehicleId, event.TripId)
	if !found {
		return d.reject("no_arrival")
	}
	previous, found := d.headways.previousArrival(event.StopId, event.VehicleId, event.TripId, arrival.at)
	if !found {
		return d.reject("no_headway")
	}
	if !event.ScheduledTime.IsZero() && !d.admission.adherenceWithinBounds(event.ScheduleAdherenceSeconds()) {
		return d.reject("adherence")
	}
	// arrival schedule adherence often isn't available, only reject when it is known
	if previous.scheduled && !d.admission.adherenceWithinBounds(previous.scheduleAdherence) {
		return d.reject("adherence")
	}
	dwell := event.Time.Sub(arrival.at).Seconds()
	if dwell < d.admission.MinDwellSeconds || dwell > d.admission.MaxDwellSeconds {
		if d.debug {
			d.log.Printf("dwell time %.0fs outside allowable range for %s", dwell, event)
		}
		return d.reject("dwell")
	}
	headway := arrival.at.Sub(previous.at).Seconds()
	if headway < d.admission.MinHeadwaySeconds || headway > d.admission.MaxHeadwaySeconds {
		return d.reject("headway")
	}
	d.observe(dwellKey(event.TripId, event.StopPathIndex), dwell, headway)
	return true
}

//observe replaces the model of key with one including the sample, retrying if another sample won the race
func (d *DwellModelCache) observe(key histavg.Key, dwell float64, headway float64) {
	for {
		current, loaded := d.models.LoadOrStore(key, d.empty.Observe(dwell, headway))
		if !loaded {
			return
		}
		model := current.(DwellModel)
		if d.models.CompareAndSwap(key, current, model.Observe(dwell, headway)) {
			return
		}
	}
}

func (d *DwellModelCache) reject(reason string) bool {
	count, _ := d.rejections.LoadOrStore(reason, new(atomic.Int64))
	count.(*atomic.Int64).Add(1)
	return false
}

// Predict returns predicted dwell seconds at the stop path of tripId for a vehicle arriving headwaySeconds
// after the previous one
func (d *DwellModelCache) Predict(tripId string, stopPathIndex int, headwaySeconds float64) (float64, bool) {
	model, found := d.Model(tripId, stopPathIndex)
	if !found {
		return 0, false
	}
	return model.Predict(headwaySeconds)
}

// Model returns the current model for the stop path of tripId
func (d *DwellModelCache) Model(tripId string, stopPathIndex int) (DwellModel, bool) {
	value, present := d.models.Load(dwellKey(tripId, stopPathIndex))
	if !present {
		return nil, false
	}
	return value.(DwellModel), true
}

// Stats returns the number of trained models and samples rejected by reason
func (d *DwellModelCache) Stats() (models int, rejected map[string]int64) {
	d.models.Range(func(_, _ any) bool {
		models++
		return true
	})
	rejected = make(map[string]int64)
	d.rejections.Range(func(key, value any) bool {
		rejected[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return models, rejected
}
