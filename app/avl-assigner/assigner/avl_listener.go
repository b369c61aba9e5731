package assigner

import (
	"encoding/json"
	"hash/fnv"
	logger "log"
	"os"
	"sync"

	"github.com/OpenTransitTools/transitassign/business/assignment"
	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/nats-io/nats.go"
)

//scheduleSource provides the current schedule
type scheduleSource interface {
	Read() (*gtfs.Schedule, bool)
}

//reportObserver counts accepted and invalid reports
type reportObserver interface {
	AvlReport(accepted bool)
}

//avlProcessor assigns vehicles from their gtfs.AvlReport and publishes the results
type avlProcessor struct {
	log       *logger.Logger
	schedule  scheduleSource
	assigner  *assignment.Assigner
	publisher *assignmentPublisher
	observer  reportObserver
}

//makeAvlProcessor builds avlProcessor
func makeAvlProcessor(log *logger.Logger,
	schedule scheduleSource,
	assigner *assignment.Assigner,
	publisher *assignmentPublisher,
	observer reportObserver) *avlProcessor {
	return &avlProcessor{
		log:       log,
		schedule:  schedule,
		assigner:  assigner,
		publisher: publisher,
		observer:  observer,
	}
}

//parseReport unmarshal and validate gtfs.AvlReport from data, returns nil if the report can't be used
func (p *avlProcessor) parseReport(data []byte) *gtfs.AvlReport {
	var report gtfs.AvlReport
	if err := json.Unmarshal(data, &report); err != nil {
		p.log.Printf("error parsing AvlReport: %v, payload:%s", err, string(data))
		p.observer.AvlReport(false)
		return nil
	}
	if err := report.Validate(); err != nil {
		p.log.Printf("error: %v", err)
		p.observer.AvlReport(false)
		return nil
	}
	p.observer.AvlReport(true)
	return &report
}

//processReport assigns the vehicle of report and publishes the resulting assignment.
//reports received before a schedule has loaded are dropped
func (p *avlProcessor) processReport(report *gtfs.AvlReport) {
	schedule, ok := p.schedule.Read()
	if !ok {
		p.log.Printf("no schedule loaded, dropping report for vehicle %s", report.VehicleId)
		return
	}
	result, processed := p.assigner.ProcessReport(schedule, report)
	if !processed {
		return
	}
	p.publisher.publish(result)
}

//reportWorkers processes reports on a fixed number of goroutines. each vehicle is always handled by the same
//worker so its reports are processed in the order received
type reportWorkers struct {
	channels []chan *gtfs.AvlReport
	wg       sync.WaitGroup
}

//startReportWorkers starts count workers handing reports to processor
func startReportWorkers(count int, processor *avlProcessor) *reportWorkers {
	if count < 1 {
		count = 1
	}
	workers := &reportWorkers{channels: make([]chan *gtfs.AvlReport, count)}
	for i := range workers.channels {
		ch := make(chan *gtfs.AvlReport, 64)
		workers.channels[i] = ch
		workers.wg.Add(1)
		go func() {
			defer workers.wg.Done()
			for report := range ch {
				processor.processReport(report)
			}
		}()
	}
	return workers
}

//dispatch queues report on its vehicle's worker
func (r *reportWorkers) dispatch(report *gtfs.AvlReport) {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(report.VehicleId))
	r.channels[hash.Sum32()%uint32(len(r.channels))] <- report
}

//stop closes all workers and waits for queued reports to be processed
func (r *reportWorkers) stop() {
	for _, ch := range r.channels {
		close(ch)
	}
	r.wg.Wait()
}

//startAvlListener listens on NATS for gtfs.AvlReport on subject and dispatches them to workers.
//when queueGroup is set each report is delivered to only one process of the group
func startAvlListener(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	subject string,
	queueGroup string,
	workerCount int,
	processor *avlProcessor,
	shutdownSignal chan bool) {
	defer wg.Done()

	ch := make(chan *nats.Msg, 64)
	log.Printf("Subscribing to %s in queue group %q on nats: %v\n", subject, queueGroup, natsConn.Servers())
	var sub *nats.Subscription
	var err error
	if len(queueGroup) > 0 {
		sub, err = natsConn.ChanQueueSubscribe(subject, queueGroup, ch)
	} else {
		sub, err = natsConn.ChanSubscribe(subject, ch)
	}
	if err != nil {
		log.Printf("Unable to establish subscription to nats server: %v\n", err)
		os.Exit(1)
	}

	workers := startReportWorkers(workerCount, processor)
	for {
		select {
		case msg := <-ch:
			if report := processor.parseReport(msg.Data); report != nil {
				workers.dispatch(report)
			}
		case <-shutdownSignal:
			log.Printf("ending AvlListener on shutdown signal\n")
			unsubscribe(log, sub, subject)
			log.Printf("waiting for report workers to complete\n")
			workers.stop()
			log.Printf("exiting AvlListener on shutdown signal\n")
			return
		}
	}
}

//unsubscribe convenience function for unsubscribing from a NATS subscription, and logging the results.
func unsubscribe(log *logger.Logger, sub *nats.Subscription, subName string) {
	if !sub.IsValid() {
		return
	}
	log.Printf("Unsubscribing to %s\n", subName)
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("error when attempting to unsubscribe to %s: %v\n", subName, err)
	}
}
