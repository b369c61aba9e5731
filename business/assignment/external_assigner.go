package assignment

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OpenTransitTools/transitassign/business/data/gtfs"
	"github.com/OpenTransitTools/transitassign/foundation/httpclient"
	"github.com/OpenTransitTools/transitassign/foundation/refresh"
)

// ExternalConfig contains the configurable parameters of ExternalAssigner
type ExternalConfig struct {
	// Url of a csv feed of block assignments, empty disables external assignment
	Url           string
	CacheTTL      time.Duration
	Timeout       time.Duration
	BlockHeader   string
	VehicleHeader string
	// AllowableEarlySeconds before its start a block named by the feed can be assigned
	AllowableEarlySeconds int
}

// ExternalAssignments are the block ids assigned to each vehicle by an external feed, in feed order
type ExternalAssignments struct {
	Info      httpclient.RemoteFileInfo
	ByVehicle map[string][]string
}

// ExternalAssigner assigns vehicles to the blocks listed for them in a periodically reloaded csv feed
type ExternalAssigner struct {
	cfg    ExternalConfig
	log    *log.Logger
	client *http.Client
	cache  *refresh.Cache[*ExternalAssignments]
	// last successfully parsed feed, returned again when the feed is unchanged
	last atomic.Pointer[ExternalAssignments]
}

// NewExternalAssigner builds an ExternalAssigner. The feed is loaded on demand through a refresh.Cache
func NewExternalAssigner(log *log.Logger, cfg ExternalConfig, client *http.Client,
	options ...refresh.Option[*ExternalAssignments]) *ExternalAssigner {
	if len(cfg.BlockHeader) == 0 {
		cfg.BlockHeader = "block"
	}
	if len(cfg.VehicleHeader) == 0 {
		cfg.VehicleHeader = "vehicle"
	}
	e := &ExternalAssigner{cfg: cfg, log: log, client: client}
	e.cache = refresh.NewCache[*ExternalAssignments](log,
		refresh.Config{Name: "external_assignments", TTL: cfg.CacheTTL, Timeout: cfg.Timeout},
		e.fetch,
		options...)
	return e
}

// Enabled returns true if a feed url is configured
func (e *ExternalAssigner) Enabled() bool {
	return len(e.cfg.Url) > 0
}

// ForceRefresh loads the feed on the calling goroutine, it does nothing when disabled
func (e *ExternalAssigner) ForceRefresh(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	return e.cache.ForceRefresh(ctx)
}

//Wait blocks until any background feed reload has finished
func (e *ExternalAssigner) Wait() {
	e.cache.Wait()
}

func (e *ExternalAssigner) fetch(ctx context.Context) (*ExternalAssignments, error) {
	previous := e.last.Load()
	var previousInfo *httpclient.RemoteFileInfo
	if previous != nil {
		previousInfo = &previous.Info
	}
	content, err := httpclient.FetchRemote(ctx, e.client, e.cfg.Url, previousInfo)
	if errors.Is(err, httpclient.ErrNotModified) && previous != nil {
		return previous, nil
	}
	if err != nil {
		return nil, err
	}
	byVehicle, err := parseExternalAssignments(bytes.NewReader(content.Body), e.cfg.BlockHeader,
		e.cfg.VehicleHeader)
	if err != nil {
		return nil, fmt.Errorf("unable to parse assignments from %s: %w", e.cfg.Url, err)
	}
	assignments := &ExternalAssignments{Info: content.RemoteFileInfo, ByVehicle: byVehicle}
	e.last.Store(assignments)
	e.log.Printf("loaded external assignments for %d vehicles from %s", len(byVehicle), e.cfg.Url)
	return assignments, nil
}

//parseExternalAssignments reads block ids by vehicle id from csv with a header row naming the columns
func parseExternalAssignments(r io.Reader, blockHeader string, vehicleHeader string) (map[string][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header row: %w", err)
	}
	blockColumn, vehicleColumn := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case blockHeader:
			blockColumn = i
		case vehicleHeader:
			vehicleColumn = i
		}
	}
	if blockColumn < 0 || vehicleColumn < 0 {
		return nil, fmt.Errorf("header %v must contain %q and %q", header, blockHeader, vehicleHeader)
	}

	results := make(map[string][]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if blockColumn >= len(record) || vehicleColumn >= len(record) {
			continue
		}
		blockId := strings.TrimSpace(record[blockColumn])
		vehicleId := strings.TrimSpace(record[vehicleColumn])
		if len(blockId) == 0 || len(vehicleId) == 0 {
			continue
		}
		results[vehicleId] = append(results[vehicleId], blockId)
	}
	return results, nil
}

// Assignments returns the block ids listed for vehicleId, empty when disabled or not loaded
func (e *ExternalAssigner) Assignments(vehicleId string) []string {
	if !e.Enabled() {
		return nil
	}
	assignments, ok := e.cache.Read()
	if !ok || assignments == nil {
		return nil
	}
	return assignments.ByVehicle[vehicleId]
}

//stripAgency removes an agency prefix ending with the last underscore
func stripAgency(assignmentId string) string {
	if i := strings.LastIndex(assignmentId, "_"); i >= 0 {
		return assignmentId[i+1:]
	}
	return assignmentId
}

// ActiveBlock returns the first block the feed lists for vehicleId that is active at, under any service id
func (e *ExternalAssigner) ActiveBlock(schedule *gtfs.Schedule, vehicleId string, at time.Time) (*gtfs.Block, bool) {
	assignments := e.Assignments(vehicleId)
	if len(assignments) == 0 {
		return nil, false
	}
	for _, assignmentId := range assignments {
		blockId := stripAgency(assignmentId)
		for _, block := range schedule.BlocksForAllServiceIds(blockId) {
			if schedule.IsBlockActive(block, at, e.cfg.AllowableEarlySeconds) {
				return block, true
			}
		}
		e.log.Printf("external block %s for vehicle %s is not active", blockId, vehicleId)
	}
	return nil, false
}
