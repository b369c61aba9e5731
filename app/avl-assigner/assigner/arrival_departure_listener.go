package assigner

import (
	"encoding/json"
	logger "log"
	"os"
	"sync"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/business/predict"
	"github.com/nats-io/nats.go"
)

//arrivalDepartureHandler files gtfs.ArrivalDeparture events into the historical averages and the predictor
type arrivalDepartureHandler struct {
	recorder  *histavg.Recorder
	predictor *predict.Predictor
}

func makeArrivalDepartureHandler(recorder *histavg.Recorder, predictor *predict.Predictor) *arrivalDepartureHandler {
	return &arrivalDepartureHandler{recorder: recorder, predictor: predictor}
}

//handle unmarshal gtfs.ArrivalDeparture from data and record it, returns false when data is not an event
func (a *arrivalDepartureHandler) handle(log *logger.Logger, data []byte) bool {
	var event gtfs.ArrivalDeparture
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("Error parsing ArrivalDeparture: %v, payload:%s", err, string(data))
		return false
	}
	if len(event.VehicleId) == 0 || len(event.TripId) == 0 || event.Time.IsZero() {
		log.Printf("Ignoring incomplete ArrivalDeparture: %s", string(data))
		return false
	}
	a.recorder.Record(&event)
	a.predictor.RecordEvent(&event)
	return true
}

//startArrivalDepartureListener listens on NATS on subject, expecting gtfs.ArrivalDeparture.
//no queue is used so every process keeps complete historical averages
func startArrivalDepartureListener(
	log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	subject string,
	handler *arrivalDepartureHandler,
	shutdownSignal chan bool) {
	defer wg.Done()

	ch := make(chan *nats.Msg, 64)
	log.Printf("Subscribing to %s in ArrivalDepartureListener on nats server: %v\n", subject, natsConn.Servers())
	sub, err := natsConn.ChanSubscribe(subject, ch)
	if err != nil {
		log.Printf("Unable to establish subscription to nats server: %v\n", err)
		os.Exit(1)
	}
	defer unsubscribe(log, sub, subject)

	for {
		select {
		case msg := <-ch:
			handler.handle(log, msg.Data)
		case <-shutdownSignal:
			log.Printf("exiting ArrivalDepartureListener on shutdown signal\n")
			return
		}
	}
}
