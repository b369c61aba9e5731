package assignment

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
)

// Method identifies how a vehicle's assignment was determined
type Method string

const (
	MethodNone     Method = "none"
	MethodExternal Method = "external"
	MethodAvl      Method = "avl"
	MethodAuto     Method = "auto"
)

const defaultMaxReports = 20

// VehicleSnapshot is an immutable copy of a vehicle's assignment state, safe to hand to other goroutines
type VehicleSnapshot struct {
	VehicleId     string          `json:"vehicle_id"`
	BlockId       string          `json:"block_id,omitempty"`
	ServiceId     string          `json:"service_id,omitempty"`
	TripId        string          `json:"trip_id,omitempty"`
	RouteId       string          `json:"route_id,omitempty"`
	Method        Method          `json:"method"`
	Predictable   bool            `json:"predictable"`
	ScheduleBased bool            `json:"schedule_based"`
	AssignedAt    *time.Time      `json:"assigned_at,omitempty"`
	LastReport    *gtfs.AvlReport `json:"last_report,omitempty"`
	LastReportAt  time.Time       `json:"last_report_at"`
}

// VehicleState is the mutable assignment state of one vehicle.
// Only the holder of the lock returned by VehicleStateManager.Lock may call its methods
type VehicleState struct {
	VehicleId string

	mu         sync.Mutex
	removed    bool
	maxReports int
	// oldest first
	reports               []*gtfs.AvlReport
	resolution            Resolution
	method                Method
	predictable           bool
	scheduleBased         bool
	assignedAt            time.Time
	lastAutoAssignAttempt time.Time

	snapshot atomic.Pointer[VehicleSnapshot]
}

func makeVehicleState(vehicleId string, maxReports int) *VehicleState {
	state := &VehicleState{
		VehicleId:  vehicleId,
		maxReports: maxReports,
		method:     MethodNone,
	}
	state.publish()
	return state
}

// AddReport appends report to the vehicle's history, dropping the oldest reports beyond the history size
func (v *VehicleState) AddReport(report *gtfs.AvlReport) {
	v.reports = append(v.reports, report)
	if len(v.reports) > v.maxReports {
		v.reports = v.reports[len(v.reports)-v.maxReports:]
	}
	v.publish()
}

// Report returns the most recent report, nil if there is none
func (v *VehicleState) Report() *gtfs.AvlReport {
	if len(v.reports) == 0 {
		return nil
	}
	return v.reports[len(v.reports)-1]
}

// PreviousReport returns the most recent earlier report at least minDistance meters from the current report,
// nil if there is none
func (v *VehicleState) PreviousReport(minDistance float64) *gtfs.AvlReport {
	current := v.Report()
	if current == nil {
		return nil
	}
	for i := len(v.reports) - 2; i >= 0; i-- {
		if v.reports[i].DistanceTo(current) >= minDistance {
			return v.reports[i]
		}
	}
	return nil
}

// Resolution returns the schedule entity the vehicle is assigned to
func (v *VehicleState) Resolution() Resolution {
	return v.resolution
}

// Method returns how the current assignment was determined
func (v *VehicleState) Method() Method {
	return v.method
}

// IsPredictable returns true if the vehicle is assigned to a block predictions can be made for
func (v *VehicleState) IsPredictable() bool {
	return v.predictable
}

// IsScheduleBased returns true if the vehicle is a placeholder following the schedule
func (v *VehicleState) IsScheduleBased() bool {
	return v.scheduleBased
}

// AutoAssignAllowed returns true and remembers at if no auto assignment was attempted within minTimeBetween of at
func (v *VehicleState) AutoAssignAllowed(at time.Time, minTimeBetween time.Duration) bool {
	if !v.lastAutoAssignAttempt.IsZero() && at.Sub(v.lastAutoAssignAttempt) < minTimeBetween {
		return false
	}
	v.lastAutoAssignAttempt = at
	return true
}

//publish replaces the vehicle's snapshot with its current state
func (v *VehicleState) publish() {
	snapshot := &VehicleSnapshot{
		VehicleId:     v.VehicleId,
		BlockId:       v.resolution.BlockId(),
		RouteId:       v.resolution.RouteId,
		Method:        v.method,
		Predictable:   v.predictable,
		ScheduleBased: v.scheduleBased,
	}
	if v.resolution.Block != nil {
		snapshot.ServiceId = v.resolution.Block.ServiceId
	}
	if v.resolution.Trip != nil {
		snapshot.TripId = v.resolution.Trip.TripId
	}
	if !v.assignedAt.IsZero() {
		assignedAt := v.assignedAt
		snapshot.AssignedAt = &assignedAt
	}
	if report := v.Report(); report != nil {
		reportCopy := *report
		snapshot.LastReport = &reportCopy
		snapshot.LastReportAt = report.Time()
	}
	v.snapshot.Store(snapshot)
}

// VehicleStateManager holds the VehicleState of every vehicle and which vehicles are assigned to each block.
// A VehicleState lock is always taken before the manager's own lock
type VehicleStateManager struct {
	maxReports int
	exclusive  bool

	mu       sync.Mutex
	vehicles map[string]*VehicleState
	// block id to vehicle id to schedule based flag
	blocks map[string]map[string]bool
	// vehicle ids removed from their block by another vehicle, to block id
	displaced map[string]string
}

// NewVehicleStateManager builds a VehicleStateManager keeping maxReports reports per vehicle.
// When exclusive, assigning a vehicle to a block displaces other vehicles from it unless one of them is schedule based
func NewVehicleStateManager(maxReports int, exclusive bool) *VehicleStateManager {
	if maxReports < 2 {
		maxReports = defaultMaxReports
	}
	return &VehicleStateManager{
		maxReports: maxReports,
		exclusive:  exclusive,
		vehicles:   make(map[string]*VehicleState),
		blocks:     make(map[string]map[string]bool),
		displaced:  make(map[string]string),
	}
}

// Lock returns the locked VehicleState of vehicleId, creating it if necessary, along with the function that
// releases it
func (m *VehicleStateManager) Lock(vehicleId string) (*VehicleState, func()) {
	for {
		m.mu.Lock()
		state, present := m.vehicles[vehicleId]
		if !present {
			state = makeVehicleState(vehicleId, m.maxReports)
			m.vehicles[vehicleId] = state
		}
		m.mu.Unlock()

		state.mu.Lock()
		if !state.removed {
			return state, state.mu.Unlock
		}
		// removed as idle while waiting for the lock
		state.mu.Unlock()
	}
}

// SetAssignment assigns the locked state to resolution. With exclusive assignments other vehicles holding the block
// are displaced, a schedule based vehicle never displaces another
func (m *VehicleStateManager) SetAssignment(state *VehicleState, resolution Resolution, method Method,
	scheduleBased bool, at time.Time) {
	previousBlockId := state.resolution.BlockId()
	changed := previousBlockId != resolution.BlockId() || state.method != method

	state.resolution = resolution
	state.method = method
	state.scheduleBased = scheduleBased
	state.predictable = resolution.Block != nil
	if changed || state.assignedAt.IsZero() {
		state.assignedAt = at
	}

	m.mu.Lock()
	delete(m.displaced, state.VehicleId)
	m.removeFromBlock(previousBlockId, state.VehicleId)
	if blockId := resolution.BlockId(); len(blockId) > 0 {
		if m.exclusive && !scheduleBased {
			for otherId, otherScheduleBased := range m.blocks[blockId] {
				if !otherScheduleBased {
					delete(m.blocks[blockId], otherId)
					m.displaced[otherId] = blockId
				}
			}
		}
		m.addToBlock(blockId, state.VehicleId, scheduleBased)
	}
	m.mu.Unlock()
	state.publish()
}

// TakeDisplaced returns true once after another vehicle took the locked state's block
func (m *VehicleStateManager) TakeDisplaced(state *VehicleState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	blockId, present := m.displaced[state.VehicleId]
	if !present {
		return false
	}
	delete(m.displaced, state.VehicleId)
	return blockId == state.resolution.BlockId()
}

// ClearAssignment makes the locked state unassigned
func (m *VehicleStateManager) ClearAssignment(state *VehicleState) {
	previousBlockId := state.resolution.BlockId()
	state.resolution = Resolution{}
	state.method = MethodNone
	state.scheduleBased = false
	state.predictable = false
	state.assignedAt = time.Time{}

	m.mu.Lock()
	delete(m.displaced, state.VehicleId)
	m.removeFromBlock(previousBlockId, state.VehicleId)
	m.mu.Unlock()
	state.publish()
}

func (m *VehicleStateManager) addToBlock(blockId string, vehicleId string, scheduleBased bool) {
	vehicles, present := m.blocks[blockId]
	if !present {
		vehicles = make(map[string]bool)
		m.blocks[blockId] = vehicles
	}
	vehicles[vehicleId] = scheduleBased
}

func (m *VehicleStateManager) removeFromBlock(blockId string, vehicleId string) {
	if len(blockId) == 0 {
		return
	}
	vehicles, present := m.blocks[blockId]
	if !present {
		return
	}
	delete(vehicles, vehicleId)
	if len(vehicles) == 0 {
		delete(m.blocks, blockId)
	}
}

// VehiclesOnBlock returns the ids of vehicles assigned to blockId, sorted
func (m *VehicleStateManager) VehiclesOnBlock(blockId string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]string, 0, len(m.blocks[blockId]))
	for vehicleId := range m.blocks[blockId] {
		results = append(results, vehicleId)
	}
	sort.Strings(results)
	return results
}

// IsBlockUnassigned returns true if no vehicle other than vehicleId holds blockId, ignoring schedule based
// placeholder vehicles
func (m *VehicleStateManager) IsBlockUnassigned(blockId string, vehicleId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherId, scheduleBased := range m.blocks[blockId] {
		if otherId != vehicleId && !scheduleBased {
			return false
		}
	}
	return true
}

//currentSnapshot returns the snapshot of state, unassigned when another vehicle has taken its block since it
//was published. must be called holding m.mu
func (m *VehicleStateManager) currentSnapshot(state *VehicleState) *VehicleSnapshot {
	snapshot := state.snapshot.Load()
	blockId, displaced := m.displaced[state.VehicleId]
	if !displaced || blockId != snapshot.BlockId {
		return snapshot
	}
	return &VehicleSnapshot{
		VehicleId:    snapshot.VehicleId,
		Method:       MethodNone,
		LastReport:   snapshot.LastReport,
		LastReportAt: snapshot.LastReportAt,
	}
}

// Snapshot returns the latest snapshot of vehicleId
func (m *VehicleStateManager) Snapshot(vehicleId string) (*VehicleSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, present := m.vehicles[vehicleId]
	if !present {
		return nil, false
	}
	return m.currentSnapshot(state), true
}

// Snapshots returns the latest snapshot of every vehicle ordered by vehicle id
func (m *VehicleStateManager) Snapshots() []*VehicleSnapshot {
	m.mu.Lock()
	results := make([]*VehicleSnapshot, 0, len(m.vehicles))
	for _, state := range m.vehicles {
		results = append(results, m.currentSnapshot(state))
	}
	m.mu.Unlock()
	sort.Slice(results, func(i, j int) bool {
		return results[i].VehicleId < results[j].VehicleId
	})
	return results
}

// RemoveIdle forgets vehicles whose last report is before cutoff and returns how many were removed
func (m *VehicleStateManager) RemoveIdle(cutoff time.Time) int {
	idle := make([]*VehicleState, 0)
	m.mu.Lock()
	for _, state := range m.vehicles {
		if state.snapshot.Load().LastReportAt.Before(cutoff) {
			idle = append(idle, state)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, state := range idle {
		state.mu.Lock()
		report := state.Report()
		if report == nil || report.Time().Before(cutoff) {
			m.mu.Lock()
			m.removeFromBlock(state.resolution.BlockId(), state.VehicleId)
			delete(m.displaced, state.VehicleId)
			if m.vehicles[state.VehicleId] == state {
				delete(m.vehicles, state.VehicleId)
			}
			m.mu.Unlock()
			state.removed = true
			removed++
		}
		state.mu.Unlock()
	}
	return removed
}

// Len returns the number of vehicles
func (m *VehicleStateManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vehicles)
}
