// Package gtfs provides the gtfs schedule and vehicle observation types used to assign vehicles
// and the queries to load them
package gtfs

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DataSet encompasses a gtfs schedule available from a source at a point in time.
//The same source will be loaded over time.
// Each record from a gtfs file shares the DataSet.Id value as part of the primary key.
type DataSet struct {
	Id  int64
	URL string
	// ETag is the ETag header if available from the source web site for the gtfs file. Is empty if not available
	ETag string `db:"e_tag"`
	// LastModifiedTimestamp is the unix epoch seconds the source web site provided for the last time the gtfs file was modified
	// is 0 if not available
	LastModifiedTimestamp int64      `db:"last_modified_timestamp"`
	DownloadedAt          time.Time  `db:"downloaded_at"`
	SavedAt               *time.Time `db:"saved_at"`
}

func (d DataSet) String() string {
	return fmt.Sprintf("DataSet Id:%d, url:%s, ETag:%s downloaded:%s savedAt:%s",
		d.Id, d.URL, d.ETag, formatTime(&d.DownloadedAt), formatTime(d.SavedAt))
}

func formatTime(time *time.Time) string {
	if time == nil {
		return ""
	}
	return time.Format("2006-01-02T15:04:05")
}

// GetLatestSavedDataSet retrieves the latest DataSet with a saved_at date
func GetLatestSavedDataSet(ctx context.Context, db *sqlx.DB) (*DataSet, error) {
	query := "select * from data_set where saved_at is not null order by saved_at desc, downloaded_at desc limit 1"
	ds := DataSet{}
	err := db.GetContext(ctx, &ds, query)
	return &ds, err
}
