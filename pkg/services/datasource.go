package services

import (
	"context"
	"fmt"

	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/refresh"
)

// ConnectionTest is the outcome of probing a data source.
type ConnectionTest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DataSource checks data source connectivity through the connection pool.
type DataSource struct {
	targets persistence.TargetRepository
	pool    refresh.ConnectionPool
}

func NewDataSource(targets persistence.TargetRepository, pool refresh.ConnectionPool) *DataSource {
	return &DataSource{targets: targets, pool: pool}
}

// Test probes one of the owner's data sources. An unreachable backend is a
// failed test, not an error.
func (d *DataSource) Test(ctx context.Context, ownerID, id string) (*ConnectionTest, error) {
	dataSource, err := d.targets.DataSourceByID(ctx, id)
	if err != nil {
		if persistence.IsTargetNotFound(err) {
			return nil, refresh.NewError("Test", refresh.ErrNotFound, fmt.Sprintf("data source %s not found", id), err)
		}

		return nil, internal("Test", err)
	}

	if dataSource.OwnerID != ownerID {
		return nil, refresh.NewError("Test", refresh.ErrNotFound, fmt.Sprintf("data source %s not found", id), nil)
	}

	conn, err := d.pool.GetConnection(ctx, dataSource.ID, dataSource.Type, dataSource.ConnectionString)
	if err != nil {
		return &ConnectionTest{Error: err.Error()}, nil
	}

	if err := conn.Probe(ctx); err != nil {
		return &ConnectionTest{Error: err.Error()}, nil
	}

	return &ConnectionTest{Success: true}, nil
}
