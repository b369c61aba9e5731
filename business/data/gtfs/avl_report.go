package gtfs

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AssignmentType identifies what kind of schedule entity an AvlReport's AssignmentId refers to
type AssignmentType string

const (
	UnsetAssignment         AssignmentType = ""
	BlockAssignment         AssignmentType = "BLOCK_ID"
	TripAssignment          AssignmentType = "TRIP_ID"
	TripShortNameAssignment AssignmentType = "TRIP_SHORT_NAME"
	RouteAssignment         AssignmentType = "ROUTE_ID"
	// ScheduleBasedAssignment is a block assignment of a placeholder vehicle generating schedule based predictions
	ScheduleBasedAssignment AssignmentType = "BLOCK_FOR_SCHED_BASED_PREDS"
)

var avlValidator = validator.New()

// AvlReport is a single GPS observation of a vehicle, optionally carrying the assignment reported by the vehicle
type AvlReport struct {
	VehicleId string `json:"vehicle_id" validate:"required"`
	// Timestamp is unix epoch milliseconds
	Timestamp      int64          `json:"timestamp" validate:"gt=0"`
	Lat            float64        `json:"lat" validate:"latitude"`
	Lon            float64        `json:"lon" validate:"longitude"`
	Speed          *float64       `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading        *float64       `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	AssignmentId   string         `json:"assignment_id,omitempty" validate:"required_with=AssignmentType"`
	AssignmentType AssignmentType `json:"assignment_type,omitempty" validate:"omitempty,oneof=BLOCK_ID TRIP_ID TRIP_SHORT_NAME ROUTE_ID BLOCK_FOR_SCHED_BASED_PREDS"`
}

// Validate checks that the report is usable before it is processed
func (a *AvlReport) Validate() error {
	if err := avlValidator.Struct(a); err != nil {
		return fmt.Errorf("invalid avl report for vehicle %q: %w", a.VehicleId, err)
	}
	return nil
}

// Time of the report
func (a *AvlReport) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// HasAssignment returns true if the report carries an assignment id with a type
func (a *AvlReport) HasAssignment() bool {
	return a.AssignmentType != UnsetAssignment && len(a.AssignmentId) > 0
}

// IsScheduleBased returns true if the report was created for a placeholder vehicle following the schedule
func (a *AvlReport) IsScheduleBased() bool {
	return a.AssignmentType == ScheduleBasedAssignment
}

// DistanceTo returns the approximate distance in meters between two reports
func (a *AvlReport) DistanceTo(other *AvlReport) float64 {
	return LatLngDistance(a.Lat, a.Lon, other.Lat, other.Lon)
}

func (a *AvlReport) String() string {
	return fmt.Sprintf("vehicle:%s at:%s lat:%f lon:%f assignment:%s %s", a.VehicleId,
		a.Time().Format(time.RFC3339), a.Lat, a.Lon, a.AssignmentType, a.AssignmentId)
}
