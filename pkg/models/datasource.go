package models

import (
	"errors"
	"fmt"
	"time"
)

// DataSourceType names the backend dialect of a data source.
type DataSourceType string

const (
	DataSourceTypePostgres  DataSourceType = "postgres"
	DataSourceTypeRedshift  DataSourceType = "redshift"
	DataSourceTypeCockroach DataSourceType = "cockroachdb"
	DataSourceTypeMySQL     DataSourceType = "mysql"
	DataSourceTypeSQLite    DataSourceType = "sqlite"
)

// DataSourceTypes lists every supported backend type.
var DataSourceTypes = []DataSourceType{
	DataSourceTypePostgres,
	DataSourceTypeRedshift,
	DataSourceTypeCockroach,
	DataSourceTypeMySQL,
	DataSourceTypeSQLite,
}

// ErrUnknownDataSourceType is returned for backend types outside DataSourceTypes.
var ErrUnknownDataSourceType = errors.New("unknown data source type")

// ParseDataSourceType returns the DataSourceType named by s. The alias
// "postgresql" is accepted for postgres.
func ParseDataSourceType(s string) (DataSourceType, error) {
	if s == "postgresql" {
		return DataSourceTypePostgres, nil
	}

	for _, t := range DataSourceTypes {
		if string(t) == s {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownDataSourceType, s)
}

// DataSource is an external database or warehouse a saved query reads from.
// Owned by the data source CRUD layer.
type DataSource struct {
	ID               string         `json:"id"       db:"id"`
	Name             string         `json:"name"     db:"name"`
	Type             DataSourceType `json:"type"     db:"type"`
	ConnectionString string         `json:"-"        db:"connection_string"`
	OwnerID          string         `json:"ownerId"  db:"owner_id"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" db:"updated_at"`
}

// Dashboard is the part of a dashboard the refresh engine reads and touches.
type Dashboard struct {
	ID          string     `json:"id"                    db:"id"`
	Name        string     `json:"name"                  db:"name"`
	OwnerID     string     `json:"ownerId"               db:"owner_id"`
	RefreshedAt *time.Time `json:"refreshedAt,omitempty" db:"refreshed_at"`
}

// SavedQuery is a stored statement run against one data source.
type SavedQuery struct {
	ID           string     `json:"id"                     db:"id"`
	Name         string     `json:"name"                   db:"name"`
	OwnerID      string     `json:"ownerId"                db:"owner_id"`
	DataSourceID string     `json:"dataSourceId"           db:"data_source_id"`
	Statement    string     `json:"statement"              db:"statement"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"    db:"last_run_at"`
	LastRowCount *int64     `json:"lastRowCount,omitempty" db:"last_row_count"`
}
