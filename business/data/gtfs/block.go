package gtfs

import (
	"sort"
)

const secondsInDay = 24 * 60 * 60

// Block is the sequence of trips a single vehicle is scheduled to run on a service day
type Block struct {
	BlockId   string `json:"block_id"`
	ServiceId string `json:"service_id"`
	// StartTime and EndTime are seconds from midnight of the service day, and may exceed 24 hours
	StartTime int     `json:"start_time"`
	EndTime   int     `json:"end_time"`
	Trips     []*Trip `json:"-"`
}

// makeBlock builds a Block from trips sharing service and block ids
func makeBlock(serviceId string, blockId string, trips []*Trip) *Block {
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].StartTime < trips[j].StartTime
	})
	block := &Block{
		BlockId:   blockId,
		ServiceId: serviceId,
		Trips:     trips,
	}
	for i, trip := range trips {
		if i == 0 || trip.StartTime < block.StartTime {
			block.StartTime = trip.StartTime
		}
		if trip.EndTime > block.EndTime {
			block.EndTime = trip.EndTime
		}
		trip.block = block
	}
	return block
}

// NoSchedule returns true if the block is run on frequencies rather than exact scheduled times
func (b *Block) NoSchedule() bool {
	return len(b.Trips) > 0 && b.Trips[0].NoSchedule
}

// IsActive returns true if serviceSeconds, seconds into the block's service day, falls within the block's time
// window widened by allowableBeforeSeconds before the start. Schedule.IsBlockActive handles times on the days
// around the service day
func (b *Block) IsActive(serviceSeconds int, allowableBeforeSeconds int) bool {
	return serviceSeconds > b.StartTime-allowableBeforeSeconds && serviceSeconds < b.EndTime
}

// ActiveTrips returns trips in the block whose schedule window, widened by allowableEarlySeconds before the start
// and allowableLateSeconds after the end, contains serviceSeconds
func (b *Block) ActiveTrips(serviceSeconds int, allowableEarlySeconds int, allowableLateSeconds int) []*Trip {
	results := make([]*Trip, 0)
	for _, trip := range b.Trips {
		if serviceSeconds > trip.StartTime-allowableEarlySeconds && serviceSeconds < trip.EndTime+allowableLateSeconds {
			results = append(results, trip)
		}
	}
	return results
}

// TripIndex returns the index of tripId in the block, or -1 if the trip is not part of the block
func (b *Block) TripIndex(tripId string) int {
	for i, trip := range b.Trips {
		if trip.TripId == tripId {
			return i
		}
	}
	return -1
}

// RouteIds returns the distinct route ids served by the block, in trip order
func (b *Block) RouteIds() []string {
	seen := make(map[string]bool)
	results := make([]string, 0)
	for _, trip := range b.Trips {
		if !seen[trip.RouteId] {
			seen[trip.RouteId] = true
			results = append(results, trip.RouteId)
		}
	}
	return results
}
