package assigner

import (
	"encoding/json"
	"fmt"
	logger "log"

	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/nats-io/nats.go"
)

// assignmentPublicationDestination is where assignments are sent after each report
type assignmentPublicationDestination interface {
	Publish(result assignment.VehicleAssignment) error
}

// natsAssignmentDestination sends assignments over nats
type natsAssignmentDestination struct {
	natsConn *nats.Conn
	subject  string
}

func (n *natsAssignmentDestination) Publish(result assignment.VehicleAssignment) error {
	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error marshaling assignment to json: %w", err)
	}
	return n.natsConn.Publish(n.subject, jsonData)
}

// assignmentPublisher publishes the assignment of each processed report
type assignmentPublisher struct {
	log         *logger.Logger
	destination assignmentPublicationDestination
}

// makeAssignmentPublisher builds assignmentPublisher
func makeAssignmentPublisher(log *logger.Logger, destination assignmentPublicationDestination) *assignmentPublisher {
	return &assignmentPublisher{
		log:         log,
		destination: destination,
	}
}

func (p *assignmentPublisher) publish(result assignment.VehicleAssignment) {
	if result.Changed {
		p.log.Printf("vehicle %s assignment changed: %s", result.VehicleId, result)
	}
	if err := p.destination.Publish(result); err != nil {
		p.log.Printf("Error publishing assignment for vehicle %s: error:%v\n", result.VehicleId, err)
	}
}
