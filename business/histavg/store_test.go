package histavg

import (
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testStore() *Store {
	return NewStore(MakeBucketer(3*time.Hour, 0, time.UTC))
}

func TestHistoricalAverage_Add(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
	}{
		{name: "single", samples: []float64{20}},
		{name: "three", samples: []float64{20, 22, 18}},
		{name: "reversed", samples: []float64{18, 22, 20}},
		{name: "wide range", samples: []float64{1, 1000, 3, 57.5, 0.25, 88}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			sum := 0.0
			average := HistoricalAverage{}
			for _, sample := range tt.samples {
				sum += sample
				average = average.Add(sample)
			}
			is.Equal(len(tt.samples), average.Count)
			is.True(closeTo(sum/float64(len(tt.samples)), average.Average))
		})
	}
}

func TestStore_RunningMeanIsOrderIndependent(t *testing.T) {
	is := is.New(t)
	samples := []float64{31, 17, 44, 12, 29, 8, 51}
	key := Key{EntityId: "trip1", StopPathIndex: 3, Kind: TravelTime}
	at := time.Date(2022, 7, 6, 7, 15, 0, 0, time.UTC)

	forward := testStore()
	backward := testStore()
	for i := range samples {
		forward.Put(key, at, samples[i])
		backward.Put(key, at, samples[len(samples)-1-i])
	}
	f, ok := forward.Get(key, at)
	is.True(ok)
	b, ok := backward.Get(key, at)
	is.True(ok)
	is.Equal(f.Count, b.Count)
	is.True(closeTo(f.Average, b.Average))
	is.True(closeTo(192.0/7.0, f.Average))
}

func TestStore_BucketBoundary(t *testing.T) {
	is := is.New(t)
	store := testStore()
	key := Key{EntityId: "trip1", StopPathIndex: 1, Kind: DwellTime}
	beforeBoundary := time.Date(2022, 7, 6, 5, 59, 59, 0, time.UTC)
	atBoundary := time.Date(2022, 7, 6, 6, 0, 0, 0, time.UTC)

	store.Put(key, beforeBoundary, 10)
	store.Put(key, atBoundary, 30)

	tests := []struct {
		name  string
		at    time.Time
		want  float64
		found bool
	}{
		{name: "earlier bucket", at: beforeBoundary, want: 10, found: true},
		{name: "start of earlier bucket", at: time.Date(2022, 7, 6, 3, 0, 0, 0, time.UTC), want: 10, found: true},
		{name: "exactly at boundary", at: atBoundary, want: 30, found: true},
		{name: "end of later bucket", at: time.Date(2022, 7, 6, 8, 59, 59, 0, time.UTC), want: 30, found: true},
		{name: "empty bucket", at: time.Date(2022, 7, 6, 9, 0, 0, 0, time.UTC), found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			average, found := store.Get(key, tt.at)
			is.Equal(tt.found, found)
			if tt.found {
				is.Equal(1, average.Count) // never averaged across the boundary
				is.Equal(tt.want, average.Average)
			}
		})
	}
	is.Equal(2, len(store.Buckets(key)))
	_, found := store.Get(Key{EntityId: "unknown", Kind: DwellTime}, atBoundary)
	is.True(!found)
}

func TestStore_AmbiguousRangeReturnsNothing(t *testing.T) {
	is := is.New(t)
	store := testStore()
	key := Key{EntityId: "trip1", StopPathIndex: 1, Kind: TravelTime}
	// buckets written with a narrower width than the store queries with
	ser := &series{}
	buckets := []BucketAverage{
		{StartSeconds: 0, Average: HistoricalAverage{Count: 1, Average: 5}},
		{StartSeconds: 3600, Average: HistoricalAverage{Count: 1, Average: 7}},
	}
	ser.buckets.Store(&buckets)
	store.series.Store(key, ser)

	_, found := store.Get(key, time.Date(2022, 7, 6, 0, 30, 0, 0, time.UTC))
	is.True(!found)
}

func TestBucketer(t *testing.T) {
	location, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Errorf("Unable to load time zone: %v", err)
		return
	}
	bucketer := MakeBucketer(0, 2, location)
	tests := []struct {
		name        string
		at          time.Time
		wantSeconds int
		wantBucket  int
	}{
		{name: "service day start", at: time.Date(2022, 7, 6, 2, 0, 0, 0, location), wantSeconds: 0, wantBucket: 0},
		{name: "morning", at: time.Date(2022, 7, 6, 8, 30, 0, 0, location), wantSeconds: 6*3600 + 1800, wantBucket: 6 * 3600},
		{name: "after midnight", at: time.Date(2022, 7, 6, 1, 0, 0, 0, location), wantSeconds: 23 * 3600, wantBucket: 21 * 3600},
		{name: "converted from utc", at: time.Date(2022, 7, 6, 15, 30, 0, 0, time.UTC), wantSeconds: 6*3600 + 1800, wantBucket: 6 * 3600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(tt.wantSeconds, bucketer.SecondsIntoServiceDay(tt.at))
			is.Equal(tt.wantBucket, bucketer.Bucket(tt.at))
		})
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	is := is.New(t)
	store := testStore()
	at := time.Date(2022, 7, 6, 7, 15, 0, 0, time.UTC)
	shared := Key{EntityId: "shared", Kind: TravelTime}
	wg := sync.WaitGroup{}
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			own := Key{EntityId: "own" + strconv.Itoa(g), Kind: TravelTime}
			for i := 0; i < 100; i++ {
				store.Put(shared, at, 10)
				store.Put(own, at, float64(i))
			}
		}(g)
	}
	wg.Wait()
	average, found := store.Get(shared, at)
	is.True(found)
	is.Equal(2000, average.Count) // no lost updates
	is.True(closeTo(10, average.Average))
	is.Equal(21, store.Len())
	own, _ := store.Get(Key{EntityId: "own3", Kind: TravelTime}, at)
	is.Equal(100, own.Count)
	is.True(closeTo(49.5, own.Average))
}

func TestStore_EvictOlderThan(t *testing.T) {
	is := is.New(t)
	store := testStore()
	old := time.Date(2022, 7, 1, 7, 0, 0, 0, time.UTC)
	recent := time.Date(2022, 7, 6, 13, 0, 0, 0, time.UTC)
	mixed := Key{EntityId: "mixed", Kind: TravelTime}
	stale := Key{EntityId: "stale", Kind: TravelTime}
	store.Put(mixed, old, 1)
	store.Put(mixed, recent, 2)
	store.Put(stale, old, 3)

	removed := store.EvictOlderThan(time.Date(2022, 7, 3, 0, 0, 0, 0, time.UTC))
	is.Equal(2, removed)
	is.Equal(1, store.Len())
	is.Equal(1, len(store.Buckets(mixed)))
	_, found := store.Get(stale, old)
	is.True(!found)

	// evicted keys accept new observations
	store.Put(stale, recent, 4)
	average, found := store.Get(stale, recent)
	is.True(found)
	is.Equal(4.0, average.Average)
}
