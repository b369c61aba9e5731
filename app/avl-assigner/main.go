package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/transitassign/app/avl-assigner/assigner"
	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/OpenTransitTools/transitassign/business/histavg"
	"github.com/OpenTransitTools/transitassign/business/predict"
	"github.com/OpenTransitTools/transitassign/foundation/database"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "AVL_ASSIGNER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	_ = godotenv.Load()

	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			MaxOpenConns int    `conf:"default:4"`
		}
		NATS struct {
			Url                     string `conf:"default:nats://localhost:4222"`
			AvlSubject              string `conf:"default:avl-reports"`
			AvlQueueGroup           string
			ArrivalDepartureSubject string `conf:"default:arrival-departures"`
			AssignmentSubject       string `conf:"default:vehicle-assignments"`
		}
		Web struct {
			HttpPort int `conf:"default:8080"`
		}
		Agency struct {
			TimeZone string `conf:"default:America/Los_Angeles"`
		}
		Assign struct {
			AutoAssignerEnabled             bool    `conf:"default:false"`
			IgnoreAvlAssignments            bool    `conf:"default:false"`
			MinDistanceFromCurrentReport    float64 `conf:"default:100"`
			AllowableEarlySeconds           int     `conf:"default:180"`
			AllowableLateSeconds            int     `conf:"default:300"`
			ExclusiveBlockAssignments       bool    `conf:"default:true"`
			MinTimeBetweenAutoAssigningSecs int     `conf:"default:30"`
			BlockActiveToleranceSeconds     int     `conf:"default:5400"`
			TripActiveToleranceSeconds      int     `conf:"default:7200"`
			AddServiceIdSuffix              bool    `conf:"default:false"`
			PreviousServiceIdMinutes        int     `conf:"default:240"`
			MaxStopDistance                 float64 `conf:"default:200"`
			MaxReportsPerVehicle            int     `conf:"default:20"`
			IdleVehicleSeconds              int     `conf:"default:3600"`
			Workers                         int     `conf:"default:4"`
			DebugLogging                    bool    `conf:"default:false"`
		}
		External struct {
			Url             string
			CacheTTLSeconds int    `conf:"default:60"`
			TimeoutSeconds  int    `conf:"default:10"`
			BlockHeader     string `conf:"default:block"`
			VehicleHeader   string `conf:"default:vehicle"`
		}
		Schedule struct {
			CacheTTLSeconds int `conf:"default:300"`
			TimeoutSeconds  int `conf:"default:120"`
		}
		History struct {
			BucketWidthSeconds          int     `conf:"default:10800"`
			ServiceDayStartHour         int     `conf:"default:2"`
			MinTravelSeconds            float64 `conf:"default:0"`
			MaxTravelSeconds            float64 `conf:"default:3600"`
			MinDwellSeconds             float64 `conf:"default:1"`
			MaxDwellSeconds             float64 `conf:"default:120"`
			MinHeadwaySeconds           float64 `conf:"default:1"`
			MaxHeadwaySeconds           float64 `conf:"default:3600"`
			MaxScheduleAdherenceSeconds int     `conf:"default:600"`
			EvictAfterDays              int     `conf:"default:7"`
			CacheTTLSeconds             int     `conf:"default:600"`
		}
		Predict struct {
			MinDays                  int     `conf:"default:3"`
			MaxDays                  int     `conf:"default:5"`
			MaxDaysToSearch          int     `conf:"default:21"`
			InitialDwellFilterError  float64 `conf:"default:50"`
			InitialTravelFilterError float64 `conf:"default:100"`
			BoardingSeconds          float64 `conf:"default:2.5"`
			MaxLiveTravelAgeSeconds  int     `conf:"default:1800"`
			DwellModel               string  `conf:"default:rls"`
			DwellModelLambda         float64 `conf:"default:0.99"`
			HolidayFile              string
			DebugLogging             bool    `conf:"default:false"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Assign vehicles to blocks and predict dwell and travel times"
	const prefix = "AVL_ASSIGNER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	location, err := time.LoadLocation(cfg.Agency.TimeZone)
	if err != nil {
		return fmt.Errorf("loading agency time zone: %w", err)
	}

	seconds := func(s int) time.Duration {
		return time.Duration(s) * time.Second
	}
	assignerConf := assigner.Conf{
		Location:                 location,
		PreviousServiceIdMinutes: cfg.Assign.PreviousServiceIdMinutes,
		ScheduleCacheTTL:         seconds(cfg.Schedule.CacheTTLSeconds),
		CacheTimeout:             seconds(cfg.Schedule.TimeoutSeconds),
		StartupTimeout:           5 * seconds(cfg.Schedule.TimeoutSeconds),
		Resolver: assignment.ResolverConfig{
			BlockActiveToleranceSeconds: cfg.Assign.BlockActiveToleranceSeconds,
			TripActiveToleranceSeconds:  cfg.Assign.TripActiveToleranceSeconds,
			AddServiceIdSuffix:          cfg.Assign.AddServiceIdSuffix,
		},
		Assign: assignment.Config{
			IgnoreAvlAssignments: cfg.Assign.IgnoreAvlAssignments,
			DebugLogging:         cfg.Assign.DebugLogging,
		},
		AutoAssigner: assignment.AutoAssignerConfig{
			Enabled:                      cfg.Assign.AutoAssignerEnabled,
			MinDistanceFromCurrentReport: cfg.Assign.MinDistanceFromCurrentReport,
			AllowableEarlySeconds:        cfg.Assign.AllowableEarlySeconds,
			AllowableLateSeconds:         cfg.Assign.AllowableLateSeconds,
			ExclusiveBlockAssignments:    cfg.Assign.ExclusiveBlockAssignments,
			MinTimeBetweenAutoAssigning:  seconds(cfg.Assign.MinTimeBetweenAutoAssigningSecs),
			DebugLogging:                 cfg.Assign.DebugLogging,
		},
		External: assignment.ExternalConfig{
			Url:                   cfg.External.Url,
			CacheTTL:              seconds(cfg.External.CacheTTLSeconds),
			Timeout:               seconds(cfg.External.TimeoutSeconds),
			BlockHeader:           cfg.External.BlockHeader,
			VehicleHeader:         cfg.External.VehicleHeader,
			AllowableEarlySeconds: cfg.Assign.AllowableEarlySeconds,
		},
		MaxReportsPerVehicle: cfg.Assign.MaxReportsPerVehicle,
		IdleVehicleTimeout:   seconds(cfg.Assign.IdleVehicleSeconds),
		MaxStopDistance:      cfg.Assign.MaxStopDistance,
		BucketWidth:          seconds(cfg.History.BucketWidthSeconds),
		ServiceDayStartHour:  cfg.History.ServiceDayStartHour,
		HistoryPolicy: histavg.Policy{
			MinTravelSeconds: cfg.History.MinTravelSeconds,
			MaxTravelSeconds: cfg.History.MaxTravelSeconds,
			MinDwellSeconds:  cfg.History.MinDwellSeconds,
			MaxDwellSeconds:  cfg.History.MaxDwellSeconds,
		},
		EvictAfter:      time.Duration(cfg.History.EvictAfterDays) * 24 * time.Hour,
		HistoryCacheTTL: seconds(cfg.History.CacheTTLSeconds),
		Predict: predict.Config{
			MinDays:          cfg.Predict.MinDays,
			BoardingSeconds:  cfg.Predict.BoardingSeconds,
			MaxLiveTravelAge: seconds(cfg.Predict.MaxLiveTravelAgeSeconds),
			DebugLogging:     cfg.Predict.DebugLogging,
		},
		DayHistory: predict.DayHistoryConfig{
			MaxDays:         cfg.Predict.MaxDays,
			MaxDaysToSearch: cfg.Predict.MaxDaysToSearch,
		},
		DwellAdmission: predict.DwellAdmission{
			MinDwellSeconds:             cfg.History.MinDwellSeconds,
			MaxDwellSeconds:             cfg.History.MaxDwellSeconds,
			MinHeadwaySeconds:           cfg.History.MinHeadwaySeconds,
			MaxHeadwaySeconds:           cfg.History.MaxHeadwaySeconds,
			MaxScheduleAdherenceSeconds: cfg.History.MaxScheduleAdherenceSeconds,
		},
		InitialDwellFilterError:  cfg.Predict.InitialDwellFilterError,
		InitialTravelFilterError: cfg.Predict.InitialTravelFilterError,
		DwellModel:               cfg.Predict.DwellModel,
		DwellModelLambda:         cfg.Predict.DwellModelLambda,
		HolidayFile:              cfg.Predict.HolidayFile,
		AvlSubject:               cfg.NATS.AvlSubject,
		AvlQueueGroup:            cfg.NATS.AvlQueueGroup,
		ArrivalDepartureSubject:  cfg.NATS.ArrivalDepartureSubject,
		AssignmentSubject:        cfg.NATS.AssignmentSubject,
		Workers:                  cfg.Assign.Workers,
		HttpPort:                 cfg.Web.HttpPort,
		LoopEvery:                30 * time.Second,
	}

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.Open(database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		DisableTLS:   cfg.DB.DisableTLS,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err = database.StatusCheck(pingCtx, db); err != nil {
		return fmt.Errorf("checking db status: %w", err)
	}

	// =========================================================================
	// Start NATS

	log.Printf("main: Connecting to nats at %s", cfg.NATS.Url)
	natsConn, err := nats.Connect(cfg.NATS.Url,
		nats.Name("avl-assigner"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer func() {
		log.Printf("main: Draining nats connection")
		if err := natsConn.Drain(); err != nil {
			log.Printf("main: error draining nats connection: %v", err)
		}
	}()

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return assigner.StartAssignmentService(log, db, shutdown, natsConn, assignerConf)
}
