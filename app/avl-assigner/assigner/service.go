package assigner

import (
	"context"
	"fmt"
	logger "log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/business/matching"
	"github.com/OpenTransitTools/transitassign/business/predict"
	"github.com/OpenTransitTools/transitassign/foundation/metrics"
	"github.com/OpenTransitTools/transitassign/foundation/refresh"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
)

//Conf contains all configurable parameters of the assignment service
type Conf struct {
	Location                 *time.Location
	PreviousServiceIdMinutes int
	ScheduleCacheTTL         time.Duration
	CacheTimeout             time.Duration
	StartupTimeout           time.Duration

	Resolver     assignment.ResolverConfig
	Assign       assignment.Config
	AutoAssigner assignment.AutoAssignerConfig
	External     assignment.ExternalConfig
	// MaxReportsPerVehicle is the length of each vehicle's report history
	MaxReportsPerVehicle int
	// IdleVehicleTimeout is how long a vehicle without reports keeps its state
	IdleVehicleTimeout time.Duration
	MaxStopDistance    float64

	BucketWidth         time.Duration
	ServiceDayStartHour int
	HistoryPolicy       histavg.Policy
	// EvictAfter is the age of historical averages no longer updated before they are dropped
	EvictAfter      time.Duration
	HistoryCacheTTL time.Duration

	Predict                  predict.Config
	DayHistory               predict.DayHistoryConfig
	DwellAdmission           predict.DwellAdmission
	InitialDwellFilterError  float64
	InitialTravelFilterError float64
	DwellModel               string
	DwellModelLambda         float64
	HolidayFile              string

	AvlSubject              string
	AvlQueueGroup           string
	ArrivalDepartureSubject string
	AssignmentSubject       string
	Workers                 int
	HttpPort                int
	LoopEvery               time.Duration
}

//dataSources loads the schedule and the arrival and departure history the service is built from
type dataSources struct {
	schedule refresh.Fetcher[*gtfs.Schedule]
	events   predict.EventSource
}

//makeDatabaseSources builds dataSources reading from db
func makeDatabaseSources(db *sqlx.DB, scheduleConfig gtfs.ScheduleConfig) dataSources {
	return dataSources{
		schedule: func(ctx context.Context) (*gtfs.Schedule, error) {
			return gtfs.LoadSchedule(ctx, db, scheduleConfig)
		},
		events: func(ctx context.Context, start time.Time, end time.Time) ([]*gtfs.ArrivalDeparture, error) {
			return gtfs.GetArrivalDepartures(ctx, db, start, end)
		},
	}
}

//serviceContext holds the one instance of each component shared by the listeners, background loop and
//web service
type serviceContext struct {
	log     *logger.Logger
	conf    Conf
	metrics *metrics.Collector
	events  predict.EventSource

	schedule    *refresh.Cache[*gtfs.Schedule]
	store       *histavg.Store
	recorder    *histavg.Recorder
	headways    *predict.HeadwayTracker
	dwellModels *predict.DwellModelCache
	history     *predict.DayHistory
	predictor   *predict.Predictor
	states      *assignment.VehicleStateManager
	external    *assignment.ExternalAssigner
	assigner    *assignment.Assigner
}

//makeServiceContext builds all components of the service from conf
func makeServiceContext(log *logger.Logger,
	conf Conf,
	sources dataSources,
	collector *metrics.Collector,
	httpClient *http.Client) (*serviceContext, error) {

	emptyDwellModel, err := predict.NewDwellModel(conf.DwellModel, conf.DwellModelLambda)
	if err != nil {
		return nil, err
	}
	holidays, err := predict.LoadHolidayCalendar(conf.HolidayFile)
	if err != nil {
		return nil, err
	}

	log.Println("Creating schedule cache")
	schedule := refresh.NewCache[*gtfs.Schedule](log,
		refresh.Config{Name: "schedule", TTL: conf.ScheduleCacheTTL, Timeout: conf.CacheTimeout},
		sources.schedule,
		refresh.WithObserver[*gtfs.Schedule](collector))

	log.Println("Creating historical average store")
	store := histavg.NewStore(histavg.MakeBucketer(conf.BucketWidth, conf.ServiceDayStartHour, conf.Location))
	recorder := histavg.MakeRecorder(store, conf.HistoryPolicy)

	log.Println("Creating predictor")
	headways := predict.MakeHeadwayTracker(time.Duration(conf.DwellAdmission.MaxHeadwaySeconds) * time.Second)
	dwellModels := predict.MakeDwellModelCache(log, conf.Predict.DebugLogging, conf.DwellAdmission,
		emptyDwellModel, headways)
	dayHistoryConfig := conf.DayHistory
	dayHistoryConfig.Location = conf.Location
	dayHistoryConfig.ServiceDayStartHour = conf.ServiceDayStartHour
	dayHistoryConfig.Policy = conf.HistoryPolicy
	history := predict.NewDayHistory(log, dayHistoryConfig,
		refresh.Config{Name: "day_history", TTL: conf.HistoryCacheTTL, Timeout: conf.CacheTimeout},
		sources.events,
		holidays,
		refresh.WithObserver[*predict.DaySamples](collector))
	predictor := predict.MakePredictor(log, conf.Predict, schedule, history,
		predict.MakeErrorStore(conf.InitialDwellFilterError, conf.InitialTravelFilterError),
		headways, dwellModels, recorder,
		predict.MakeHistoricalDefault(store),
		collector)

	log.Println("Creating assigner")
	states := assignment.NewVehicleStateManager(conf.MaxReportsPerVehicle, conf.AutoAssigner.ExclusiveBlockAssignments)
	stopMatcher := matching.MakeStopMatcher(conf.MaxStopDistance, conf.Location)
	auto := assignment.MakeAutoAssigner(log, conf.AutoAssigner, stopMatcher, stopMatcher,
		matching.MakeHistoricalTravelTimes(store), states, collector)
	external := assignment.NewExternalAssigner(log, conf.External, httpClient,
		refresh.WithObserver[*assignment.ExternalAssignments](collector))
	assigner := assignment.MakeAssigner(log, conf.Assign, states,
		assignment.MakeResolver(log, conf.Resolver), auto, external, collector)

	return &serviceContext{
		log:         log,
		conf:        conf,
		metrics:     collector,
		events:      sources.events,
		schedule:    schedule,
		store:       store,
		recorder:    recorder,
		headways:    headways,
		dwellModels: dwellModels,
		history:     history,
		predictor:   predictor,
		states:      states,
		external:    external,
		assigner:    assigner,
	}, nil
}

//warmUp loads the schedule, which is required, then the external assignments, day history and recent
//arrivals and departures, which are not
func (s *serviceContext) warmUp(ctx context.Context, now time.Time) error {
	s.log.Println("Loading schedule")
	if err := s.schedule.ForceRefresh(ctx); err != nil {
		return fmt.Errorf("unable to load schedule: %w", err)
	}
	if schedule, ok := s.schedule.Read(); ok {
		s.log.Printf("Loaded schedule from data set %d with %d trips", schedule.DataSetId, schedule.TripCount())
	}

	if s.external.Enabled() {
		if err := s.external.ForceRefresh(ctx); err != nil {
			s.log.Printf("error loading external assignments, continuing without them: %v", err)
		}
	}

	if err := s.history.ForceRefresh(ctx); err != nil {
		s.log.Printf("error loading day history, predictions will use defaults until it loads: %v", err)
	} else if samples, ok := s.history.Snapshot(); ok {
		s.log.Printf("Loaded day history with %d keys", samples.Keys())
	}

	events, err := s.events(ctx, now.Add(-s.conf.EvictAfter), now)
	if err != nil {
		s.log.Printf("error loading recent arrivals and departures: %v", err)
		return nil
	}
	added := s.recorder.Load(events)
	for _, event := range events {
		s.predictor.RecordEvent(event)
	}
	s.log.Printf("Loaded %d historical averages from %d arrivals and departures", added, len(events))
	return nil
}

//waitForRefreshes blocks until background cache refreshes complete
func (s *serviceContext) waitForRefreshes() {
	s.schedule.Wait()
	s.external.Wait()
	s.history.Wait()
}

//StartAssignmentService builds the service context and starts all routines that assign vehicles and serve
//predictions, shuts down all routines after receiving on shutdownSignal
func StartAssignmentService(log *logger.Logger,
	db *sqlx.DB,
	shutdownSignal chan os.Signal,
	natsConn *nats.Conn,
	conf Conf) error {

	log.Println("Creating shared assignment structures")
	sources := makeDatabaseSources(db, gtfs.ScheduleConfig{
		Location:                 conf.Location,
		PreviousServiceIdMinutes: conf.PreviousServiceIdMinutes,
	})
	httpClient := &http.Client{Timeout: conf.CacheTimeout}
	service, err := makeServiceContext(log, conf, sources, metrics.NewCollector(), httpClient)
	if err != nil {
		return err
	}
	warmUpCtx, cancel := context.WithTimeout(context.Background(), conf.StartupTimeout)
	err = service.warmUp(warmUpCtx, time.Now())
	cancel()
	if err != nil {
		return err
	}
	log.Println("Done creating shared assignment structures")

	publisher := makeAssignmentPublisher(log, &natsAssignmentDestination{
		natsConn: natsConn,
		subject:  conf.AssignmentSubject,
	})
	processor := makeAvlProcessor(log, service.schedule, service.assigner, publisher, service.metrics)

	wg := sync.WaitGroup{}
	backgroundLoopShutdown := make(chan bool, 1)
	avlListenerShutdown := make(chan bool, 1)
	arrivalListenerShutdown := make(chan bool, 1)
	webServiceShutdown := make(chan bool, 1)

	wg.Add(4)
	log.Println("Starting background loop")
	go runBackgroundLoop(log, &wg, service, conf.LoopEvery, backgroundLoopShutdown)
	log.Println("Starting AvlListener")
	go startAvlListener(log, &wg, natsConn, conf.AvlSubject, conf.AvlQueueGroup, conf.Workers, processor,
		avlListenerShutdown)
	log.Println("Starting ArrivalDepartureListener")
	go startArrivalDepartureListener(log, &wg, natsConn, conf.ArrivalDepartureSubject,
		makeArrivalDepartureHandler(service.recorder, service.predictor), arrivalListenerShutdown)
	log.Println("Starting web service")
	go runWebService(log, &wg, service, conf.HttpPort, webServiceShutdown)

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	backgroundLoopShutdown <- true
	avlListenerShutdown <- true
	arrivalListenerShutdown <- true
	webServiceShutdown <- true
	wg.Wait()
	service.waitForRefreshes()
	log.Printf("Subroutines shut down, exiting assignment service")
	return nil
}
