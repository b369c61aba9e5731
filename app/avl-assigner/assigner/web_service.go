package assigner

import (
	"context"
	"encoding/json"
	"fmt"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/OpenTransitTools/transitassign/business/predict"
	"github.com/gorilla/mux"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//statusResponse describes the data the service is running with
type statusResponse struct {
	ScheduleDataSetId  int64     `json:"schedule_data_set_id"`
	ScheduleLoadedAt   time.Time `json:"schedule_loaded_at"`
	ScheduleTrips      int       `json:"schedule_trips"`
	TrackedVehicles    int       `json:"tracked_vehicles"`
	HistoricalKeys     int       `json:"historical_keys"`
	DayHistoryKeys     int       `json:"day_history_keys"`
	DayHistoryLoadedAt time.Time `json:"day_history_loaded_at"`
}

//predictionResponse is a prediction with the request it was made for
type predictionResponse struct {
	Request    predict.Request    `json:"request"`
	Prediction predict.Prediction `json:"prediction"`
}

//webHandlers responds to queries about vehicle assignments and predictions
type webHandlers struct {
	log     *logger.Logger
	service *serviceContext
	now     func() time.Time
}

func makeWebHandlers(log *logger.Logger, service *serviceContext) *webHandlers {
	return &webHandlers{log: log, service: service, now: time.Now}
}

//writeJSON marshals value as the json response
func (h *webHandlers) writeJSON(w http.ResponseWriter, value interface{}) {
	jsonData, err := json.Marshal(value)
	if err != nil {
		h.log.Printf("Error marshaling response to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(jsonData); err != nil {
		h.log.Printf("Error writing json response: %s", err)
	}
}

func (h *webHandlers) status(w http.ResponseWriter, _ *http.Request) {
	status := statusResponse{
		TrackedVehicles: h.service.states.Len(),
		HistoricalKeys:  h.service.store.Len(),
	}
	if schedule, ok := h.service.schedule.Read(); ok {
		status.ScheduleDataSetId = schedule.DataSetId
		status.ScheduleLoadedAt = schedule.LoadedAt
		status.ScheduleTrips = schedule.TripCount()
	}
	if samples, ok := h.service.history.Snapshot(); ok {
		status.DayHistoryKeys = samples.Keys()
		status.DayHistoryLoadedAt = samples.LoadedAt()
	}
	h.writeJSON(w, status)
}

func (h *webHandlers) vehicles(w http.ResponseWriter, _ *http.Request) {
	snapshots := h.service.states.Snapshots()
	if snapshots == nil {
		snapshots = make([]*assignment.VehicleSnapshot, 0)
	}
	h.writeJSON(w, snapshots)
}

func (h *webHandlers) vehicle(w http.ResponseWriter, r *http.Request) {
	vehicleId := mux.Vars(r)["vehicleId"]
	snapshot, found := h.service.states.Snapshot(vehicleId)
	if !found {
		http.Error(w, fmt.Sprintf("unknown vehicle %s", vehicleId), http.StatusNotFound)
		return
	}
	h.writeJSON(w, snapshot)
}

//predictionRequest reads predict.Request from the query parameters trip_id, stop_path_index, vehicle_id,
//at (RFC3339, defaults to now) and passenger_arrival_rate
func (h *webHandlers) predictionRequest(r *http.Request) (predict.Request, error) {
	req := predict.Request{
		VehicleId: r.FormValue("vehicle_id"),
		TripId:    r.FormValue("trip_id"),
		At:        h.now(),
	}
	if len(req.TripId) == 0 {
		return req, fmt.Errorf("trip_id is required")
	}
	stopPathIndex, err := strconv.Atoi(r.FormValue("stop_path_index"))
	if err != nil {
		return req, fmt.Errorf("invalid stop_path_index: %w", err)
	}
	req.StopPathIndex = stopPathIndex
	if at := r.FormValue("at"); len(at) > 0 {
		if req.At, err = time.Parse(time.RFC3339, at); err != nil {
			return req, fmt.Errorf("invalid at: %w", err)
		}
	}
	if rate := r.FormValue("passenger_arrival_rate"); len(rate) > 0 {
		value, err := strconv.ParseFloat(rate, 64)
		if err != nil || value < 0 {
			return req, fmt.Errorf("invalid passenger_arrival_rate %q", rate)
		}
		req.PassengerArrivalRate = &value
	}
	return req, nil
}

//predictionHandler serves predictions made by predictFunc
func (h *webHandlers) predictionHandler(predictFunc func(req predict.Request) predict.Prediction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.predictionRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeJSON(w, predictionResponse{Request: req, Prediction: predictFunc(req)})
	}
}

//makeRouter routes all requests served by the assignment service
func makeRouter(log *logger.Logger, service *serviceContext) *mux.Router {
	handlers := makeWebHandlers(log, service)
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.HandleFunc("/status", handlers.status).Methods(http.MethodGet)
	r.HandleFunc("/vehicles", handlers.vehicles).Methods(http.MethodGet)
	r.HandleFunc("/vehicles/{vehicleId}", handlers.vehicle).Methods(http.MethodGet)
	r.Handle("/predictions/dwell", handlers.predictionHandler(service.predictor.PredictDwell)).
		Methods(http.MethodGet)
	r.Handle("/predictions/travel", handlers.predictionHandler(service.predictor.PredictTravel)).
		Methods(http.MethodGet)
	r.Handle("/metrics", service.metrics.Handler())
	return r
}

//createServer creates configured http.Server for the assignment service
func createServer(log *logger.Logger, service *serviceContext, httpPort int) *http.Server {
	return &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      makeRouter(log, service),
	}
}

//runWebService starts up the web service, and terminates on shutdown signal
func runWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	service *serviceContext,
	httpPort int,
	shutdownSignal chan bool) {
	defer wg.Done()
	srv := createServer(log, service, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
