package gtfs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
)

// ScheduleConfig contains the parameters used to interpret a loaded schedule
type ScheduleConfig struct {
	// Location is the agency time zone schedule times are relative to
	Location *time.Location
	// PreviousServiceIdMinutes are the minutes after midnight that service ids of the previous day remain active,
	// so blocks that started the previous day are still found
	PreviousServiceIdMinutes int
}

// Schedule is an immutable snapshot of the trips, blocks and service calendars of a DataSet.
// Once built it is only read and is safe for concurrent use
type Schedule struct {
	DataSetId int64
	LoadedAt  time.Time

	location                 *time.Location
	previousServiceIdSeconds int
	calendar                 serviceCalendar
	// keyed by service id, then by block id
	blocks           map[string]map[string]*Block
	trips            map[string]*Trip
	tripsByShortName map[string][]*Trip
}

// NewSchedule builds a Schedule, grouping trips into blocks by service and block id.
// Trips without a block id form a block of their own named after the trip
func NewSchedule(cfg ScheduleConfig,
	dataSetId int64,
	calendars []Calendar,
	calendarDates []CalendarDate,
	trips []*Trip) *Schedule {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	s := &Schedule{
		DataSetId:                dataSetId,
		LoadedAt:                 time.Now(),
		location:                 location,
		previousServiceIdSeconds: cfg.PreviousServiceIdMinutes * 60,
		calendar:                 makeServiceCalendar(calendars, calendarDates),
		blocks:                   make(map[string]map[string]*Block),
		trips:                    make(map[string]*Trip),
		tripsByShortName:         make(map[string][]*Trip),
	}

	grouped := make(map[string]map[string][]*Trip)
	for _, trip := range trips {
		s.trips[trip.TripId] = trip
		if shortName := trip.ShortName(); len(shortName) > 0 {
			s.tripsByShortName[shortName] = append(s.tripsByShortName[shortName], trip)
		}
		blockId := trip.BlockId
		if len(blockId) == 0 {
			blockId = trip.TripId
		}
		byBlock, present := grouped[trip.ServiceId]
		if !present {
			byBlock = make(map[string][]*Trip)
			grouped[trip.ServiceId] = byBlock
		}
		byBlock[blockId] = append(byBlock[blockId], trip)
	}
	for serviceId, byBlock := range grouped {
		s.blocks[serviceId] = make(map[string]*Block)
		for blockId, blockTrips := range byBlock {
			s.blocks[serviceId][blockId] = makeBlock(serviceId, blockId, blockTrips)
		}
	}
	return s
}

// Location returns the agency time zone
func (s *Schedule) Location() *time.Location {
	return s.location
}

// SecondsIntoDay returns the wall clock seconds since midnight of at in the agency time zone
func (s *Schedule) SecondsIntoDay(at time.Time) int {
	local := at.In(s.location)
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

// ServiceIdsForDay returns the service ids running on the agency calendar date of at
func (s *Schedule) ServiceIdsForDay(at time.Time) []string {
	return s.calendar.serviceIdsForDay(at.In(s.location))
}

// ActiveServiceIds returns the service ids running at the time of at. Early in the morning the service ids
// of the previous day are included
func (s *Schedule) ActiveServiceIds(at time.Time) []string {
	today := s.ServiceIdsForDay(at)
	if s.SecondsIntoDay(at) > s.previousServiceIdSeconds {
		return today
	}
	local := at.In(s.location)
	yesterday := s.calendar.serviceIdsForDay(local.AddDate(0, 0, -1))
	serviceIdMap := make(map[string]bool)
	for _, serviceId := range today {
		serviceIdMap[serviceId] = true
	}
	for _, serviceId := range yesterday {
		serviceIdMap[serviceId] = true
	}
	return trueStringsFromMap(serviceIdMap)
}

// Block returns the block for serviceId and blockId, nil if not present
func (s *Schedule) Block(serviceId string, blockId string) *Block {
	byBlock, present := s.blocks[serviceId]
	if !present {
		return nil
	}
	return byBlock[blockId]
}

// BlocksForAllServiceIds returns all blocks with blockId regardless of service id, ordered by service id
func (s *Schedule) BlocksForAllServiceIds(blockId string) []*Block {
	results := make([]*Block, 0)
	for _, byBlock := range s.blocks {
		if block, present := byBlock[blockId]; present {
			results = append(results, block)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ServiceId < results[j].ServiceId
	})
	return results
}

// Trip returns the trip with tripId, nil if not present
func (s *Schedule) Trip(tripId string) *Trip {
	return s.trips[tripId]
}

// TripByShortName returns the trip with shortName running under one of serviceIds, nil if there is none
func (s *Schedule) TripByShortName(shortName string, serviceIds []string) *Trip {
	for _, trip := range s.tripsByShortName[shortName] {
		for _, serviceId := range serviceIds {
			if trip.ServiceId == serviceId {
				return trip
			}
		}
	}
	return nil
}

// serviceDays holds the service ids running on the agency dates before, of and after a time
type serviceDays struct {
	secondsIntoDay int
	yesterday      map[string]bool
	today          map[string]bool
	tomorrow       map[string]bool
}

func idSet(serviceIds []string) map[string]bool {
	results := make(map[string]bool, len(serviceIds))
	for _, serviceId := range serviceIds {
		results[serviceId] = true
	}
	return results
}

func (s *Schedule) makeServiceDays(at time.Time) serviceDays {
	local := at.In(s.location)
	return serviceDays{
		secondsIntoDay: s.SecondsIntoDay(at),
		yesterday:      idSet(s.calendar.serviceIdsForDay(local.AddDate(0, 0, -1))),
		today:          idSet(s.calendar.serviceIdsForDay(local)),
		tomorrow:       idSet(s.calendar.serviceIdsForDay(local.AddDate(0, 0, 1))),
	}
}

// serviceSeconds returns the time as seconds into each service day of serviceId it may belong to.
// a day is added when the service ran the day before, and subtracted when it runs the day after
func (d serviceDays) serviceSeconds(serviceId string) []int {
	results := make([]int, 0, 3)
	if d.today[serviceId] {
		results = append(results, d.secondsIntoDay)
	}
	if d.yesterday[serviceId] {
		results = append(results, d.secondsIntoDay+secondsInDay)
	}
	if d.tomorrow[serviceId] {
		results = append(results, d.secondsIntoDay-secondsInDay)
	}
	return results
}

func activeBlockSeconds(days serviceDays, block *Block, allowableBeforeSeconds int) (int, bool) {
	for _, seconds := range days.serviceSeconds(block.ServiceId) {
		if block.IsActive(seconds, allowableBeforeSeconds) {
			return seconds, true
		}
	}
	return 0, false
}

// ActiveBlockSeconds returns at as seconds into the service day on which block is active, opening
// allowableBeforeSeconds before its start. Only days the block's service runs on are considered
func (s *Schedule) ActiveBlockSeconds(block *Block, at time.Time, allowableBeforeSeconds int) (int, bool) {
	return activeBlockSeconds(s.makeServiceDays(at), block, allowableBeforeSeconds)
}

// IsBlockActive returns true if block is active at the time of at on a day its service runs
func (s *Schedule) IsBlockActive(block *Block, at time.Time, allowableBeforeSeconds int) bool {
	_, active := s.ActiveBlockSeconds(block, at, allowableBeforeSeconds)
	return active
}

// ActiveTrips returns the trips of block active at the time of at on a day the block's service runs,
// in block order
func (s *Schedule) ActiveTrips(block *Block, at time.Time, allowableEarlySeconds int, allowableLateSeconds int) []*Trip {
	active := make(map[*Trip]bool)
	for _, seconds := range s.makeServiceDays(at).serviceSeconds(block.ServiceId) {
		for _, trip := range block.ActiveTrips(seconds, allowableEarlySeconds, allowableLateSeconds) {
			active[trip] = true
		}
	}
	results := make([]*Trip, 0, len(active))
	for _, trip := range block.Trips {
		if active[trip] {
			results = append(results, trip)
		}
	}
	return results
}

// ActiveBlocks returns blocks of currently active service ids whose time window contains at,
// opening allowableBeforeSeconds early. Results are ordered by block id
func (s *Schedule) ActiveBlocks(at time.Time, allowableBeforeSeconds int) []*Block {
	days := s.makeServiceDays(at)
	results := make([]*Block, 0)
	for _, serviceId := range s.ActiveServiceIds(at) {
		for _, block := range s.blocks[serviceId] {
			if _, active := activeBlockSeconds(days, block, allowableBeforeSeconds); active {
				results = append(results, block)
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].BlockId == results[j].BlockId {
			return results[i].ServiceId < results[j].ServiceId
		}
		return results[i].BlockId < results[j].BlockId
	})
	return results
}

// TripCount returns the number of trips in the schedule
func (s *Schedule) TripCount() int {
	return len(s.trips)
}

// LoadSchedule builds a Schedule from the latest saved DataSet in the database
func LoadSchedule(ctx context.Context, db *sqlx.DB, cfg ScheduleConfig) (*Schedule, error) {
	dataSet, err := GetLatestSavedDataSet(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("unable to find latest data set: %w", err)
	}
	calendars, err := GetCalendars(ctx, db, dataSet.Id)
	if err != nil {
		return nil, err
	}
	calendarDates, err := GetCalendarDates(ctx, db, dataSet.Id)
	if err != nil {
		return nil, err
	}
	trips, err := GetTrips(ctx, db, dataSet.Id)
	if err != nil {
		return nil, err
	}
	return NewSchedule(cfg, dataSet.Id, calendars, calendarDates, trips), nil
}
