// Package histavg accumulates running averages of observed durations partitioned into time of day buckets
package histavg

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Kind discriminates the duration being averaged
type Kind string

const (
	TravelTime Kind = "travel"
	DwellTime  Kind = "dwell"
)

// Key identifies a series of averages. EntityId is a trip id, StopPathIndex the stop path on the trip
type Key struct {
	EntityId      string
	StopPathIndex int
	Kind          Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%d_%s", k.EntityId, k.StopPathIndex, k.Kind)
}

// HistoricalAverage is a running mean over Count samples. Values are never modified, Add returns a new value
type HistoricalAverage struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Add returns the HistoricalAverage including sample
func (h HistoricalAverage) Add(sample float64) HistoricalAverage {
	return HistoricalAverage{
		Count:   h.Count + 1,
		Average: h.Average + (sample-h.Average)/float64(h.Count+1),
	}
}

// BucketAverage is the average held in a single time of day bucket
type BucketAverage struct {
	// StartSeconds is the start of the bucket in seconds since the service day start
	StartSeconds int               `json:"start_seconds"`
	Average      HistoricalAverage `json:"average"`
	Updated      time.Time         `json:"updated"`
}

// series holds the buckets for one Key ordered by StartSeconds.
// readers load the slice without locking, writers replace it while holding mu
type series struct {
	mu      sync.Mutex
	buckets atomic.Pointer[[]BucketAverage]
	// evicted is set once the series is removed from the Store, writers holding a stale reference retry
	evicted bool
}

func (s *series) load() []BucketAverage {
	p := s.buckets.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Store holds HistoricalAverages for many keys. Different keys are updated concurrently,
// updates to the same key are serialized
type Store struct {
	bucketer Bucketer
	series   sync.Map
}

// NewStore builds an empty Store using bucketer to assign observation times to buckets
func NewStore(bucketer Bucketer) *Store {
	return &Store{bucketer: bucketer}
}

// Bucketer returns the Bucketer used by the Store
func (s *Store) Bucketer() Bucketer {
	return s.bucketer
}

// Put adds sample observed at "at" to the bucket for key and returns the resulting average
func (s *Store) Put(key Key, at time.Time, sample float64) HistoricalAverage {
	start := s.bucketer.Bucket(at)
	for {
		value, _ := s.series.LoadOrStore(key, &series{})
		ser := value.(*series)
		result, ok := s.putInSeries(ser, start, at, sample)
		if ok {
			return result
		}
	}
}

// putInSeries replaces the bucket at start with its updated average. Returns false if ser was evicted
func (s *Store) putInSeries(ser *series, start int, at time.Time, sample float64) (HistoricalAverage, bool) {
	ser.mu.Lock()
	defer ser.mu.Unlock()
	if ser.evicted {
		return HistoricalAverage{}, false
	}
	current := ser.load()
	i := sort.Search(len(current), func(i int) bool {
		return current[i].StartSeconds >= start
	})
	next := make([]BucketAverage, len(current), len(current)+1)
	copy(next, current)
	if i < len(next) && next[i].StartSeconds == start {
		next[i] = BucketAverage{
			StartSeconds: start,
			Average:      next[i].Average.Add(sample),
			Updated:      at,
		}
	} else {
		next = append(next, BucketAverage{})
		copy(next[i+1:], next[i:])
		next[i] = BucketAverage{
			StartSeconds: start,
			Average:      HistoricalAverage{}.Add(sample),
			Updated:      at,
		}
	}
	ser.buckets.Store(&next)
	return next[i].Average, true
}

// Get returns the average for key in the bucket containing at.
// Only when exactly one bucket starts within [bucket start, bucket start + width) is a value returned
func (s *Store) Get(key Key, at time.Time) (HistoricalAverage, bool) {
	value, present := s.series.Load(key)
	if !present {
		return HistoricalAverage{}, false
	}
	buckets := value.(*series).load()
	start := s.bucketer.Bucket(at)
	end := start + s.bucketer.WidthSeconds()
	i := sort.Search(len(buckets), func(i int) bool {
		return buckets[i].StartSeconds >= start
	})
	found := 0
	var result HistoricalAverage
	for ; i < len(buckets) && buckets[i].StartSeconds < end; i++ {
		found++
		result = buckets[i].Average
	}
	if found != 1 {
		return HistoricalAverage{}, false
	}
	return result, true
}

// Buckets returns all buckets held for key
func (s *Store) Buckets(key Key) []BucketAverage {
	value, present := s.series.Load(key)
	if !present {
		return nil
	}
	buckets := value.(*series).load()
	results := make([]BucketAverage, len(buckets))
	copy(results, buckets)
	return results
}

// EvictOlderThan removes buckets last updated before cutoff, and keys left without buckets.
// Returns the number of buckets removed
func (s *Store) EvictOlderThan(cutoff time.Time) int {
	removed := 0
	s.series.Range(func(k, value interface{}) bool {
		ser := value.(*series)
		ser.mu.Lock()
		defer ser.mu.Unlock()
		current := ser.load()
		kept := make([]BucketAverage, 0, len(current))
		for _, bucket := range current {
			if bucket.Updated.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, bucket)
			}
		}
		if len(kept) == len(current) {
			return true
		}
		if len(kept) == 0 {
			ser.evicted = true
			s.series.Delete(k)
			return true
		}
		ser.buckets.Store(&kept)
		return true
	})
	return removed
}

// Len returns the number of keys held
func (s *Store) Len() int {
	count := 0
	s.series.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
