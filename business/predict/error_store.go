package predict

import (
	"sync"

	"github.com/OpenTransitTools/transitassign/business/histavg"
)

// ErrorStore remembers the last filter error of each prediction key.
// values are plain floats replaced whole, readers never see a partial update
type ErrorStore struct {
	initialDwellError  float64
	initialTravelError float64
	errors             sync.Map
}

// MakeErrorStore builds an ErrorStore returning initial errors per kind for keys never predicted
func MakeErrorStore(initialDwellError float64, initialTravelError float64) *ErrorStore {
	return &ErrorStore{
		initialDwellError:  initialDwellError,
		initialTravelError: initialTravelError,
	}
}

// Get returns the last filter error stored for key, or the initial error for the kind of key
func (e *ErrorStore) Get(key histavg.Key) float64 {
	if value, present := e.errors.Load(key); present {
		return value.(float64)
	}
	if key.Kind == histavg.DwellTime {
		return e.initialDwellError
	}
	return e.initialTravelError
}

// Put replaces the filter error of key
func (e *ErrorStore) Put(key histavg.Key, filterError float64) {
	e.errors.Store(key, filterError)
}

// Len returns the number of keys with a stored error
func (e *ErrorStore) Len() int {
	count := 0
	e.errors.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
