package predict

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/foundation/refresh"
)

// EventSource retrieves arrival and departure events that occurred between start and end
type EventSource func(ctx context.Context, start time.Time, end time.Time) ([]*gtfs.ArrivalDeparture, error)

// DayHistoryConfig contains the configurable parameters of DayHistory
type DayHistoryConfig struct {
	// MaxDays is the most days of samples returned
	MaxDays int
	// MaxDaysToSearch is how many days back samples are loaded
	MaxDaysToSearch     int
	ServiceDayStartHour int
	Location            *time.Location
	Policy              histavg.Policy
	Now                 func() time.Time
}

// daySample is the duration observed for a key on one service day
type daySample struct {
	serviceDate time.Time
	seconds     float64
}

// DaySamples is a snapshot of durations per key and service day, newest day first
type DaySamples struct {
	loadedAt time.Time
	samples  map[histavg.Key][]daySample
}

// LoadedAt returns the time the snapshot was loaded
func (d *DaySamples) LoadedAt() time.Time {
	return d.loadedAt
}

// Keys returns the number of keys with samples
func (d *DaySamples) Keys() int {
	return len(d.samples)
}

// DayHistory provides durations observed on previous service days for the same trip stop path
type DayHistory struct {
	cfg      DayHistoryConfig
	holidays *HolidayCalendar
	cache    *refresh.Cache[*DaySamples]
}

// NewDayHistory builds a DayHistory reloading events from source whenever cacheConfig.TTL expires
func NewDayHistory(log *log.Logger,
	cfg DayHistoryConfig,
	cacheConfig refresh.Config,
	source EventSource,
	holidays *HolidayCalendar,
	options ...refresh.Option[*DaySamples]) *DayHistory {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if holidays == nil {
		holidays = DefaultHolidayCalendar()
	}
	d := &DayHistory{cfg: cfg, holidays: holidays}
	fetch := func(ctx context.Context) (*DaySamples, error) {
		end := cfg.Now()
		start := end.AddDate(0, 0, -cfg.MaxDaysToSearch)
		events, err := source(ctx, start, end)
		if err != nil {
			return nil, err
		}
		return d.buildSamples(end, events), nil
	}
	d.cache = refresh.NewCache(log, cacheConfig, fetch, options...)
	return d
}

// serviceDate returns the service day at falls on
func (d *DayHistory) serviceDate(at time.Time) time.Time {
	return gtfs.ServiceDate(at.In(d.cfg.Location), d.cfg.ServiceDayStartHour)
}

// buildSamples averages the admitted durations of each key per service day
func (d *DayHistory) buildSamples(loadedAt time.Time, events []*gtfs.ArrivalDeparture) *DaySamples {
	type dayKey struct {
		key         histavg.Key
		serviceDate time.Time
	}
	averages := make(map[dayKey]histavg.HistoricalAverage)
	for _, observation := range histavg.DeriveDurations(events) {
		if !d.cfg.Policy.Admit(observation) {
			continue
		}
		k := dayKey{key: observation.Key, serviceDate: d.serviceDate(observation.At)}
		averages[k] = averages[k].Add(observation.Seconds)
	}
	samples := make(map[histavg.Key][]daySample)
	for k, average := range averages {
		samples[k.key] = append(samples[k.key], daySample{serviceDate: k.serviceDate, seconds: average.Average})
	}
	for _, days := range samples {
		sort.Slice(days, func(i, j int) bool {
			return days[i].serviceDate.After(days[j].serviceDate)
		})
	}
	return &DaySamples{loadedAt: loadedAt, samples: samples}
}

// Samples returns durations of key on up to MaxDays service days before the service day of at, newest first.
// days that were holidays and days more than MaxDaysToSearch ago are skipped
func (d *DayHistory) Samples(key histavg.Key, at time.Time) []float64 {
	results := make([]float64, 0, d.cfg.MaxDays)
	snapshot, ok := d.cache.Read()
	if !ok {
		return results
	}
	today := d.serviceDate(at)
	oldest := today.AddDate(0, 0, -d.cfg.MaxDaysToSearch)
	for _, sample := range snapshot.samples[key] {
		if len(results) >= d.cfg.MaxDays {
			break
		}
		if !sample.serviceDate.Before(today) {
			continue
		}
		if sample.serviceDate.Before(oldest) {
			break
		}
		// noon avoids daylight saving transitions moving the date
		if d.holidays.IsHoliday(sample.serviceDate.Add(12 * time.Hour)) {
			continue
		}
		results = append(results, sample.seconds)
	}
	return results
}

// ForceRefresh loads the history synchronously, used at startup
func (d *DayHistory) ForceRefresh(ctx context.Context) error {
	return d.cache.ForceRefresh(ctx)
}

//Wait blocks until any background reload has finished
func (d *DayHistory) Wait() {
	d.cache.Wait()
}

// Snapshot returns the currently loaded samples
func (d *DayHistory) Snapshot() (*DaySamples, bool) {
	return d.cache.Read()
}
