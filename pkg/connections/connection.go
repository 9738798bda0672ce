package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/jmoiron/sqlx"
)

// Connection is a handle on one pooled data source. Evicting its pool entry
// closes the database, after which the handle fails every call. Fetch it from
// the Manager for each use rather than keeping it.
type Connection struct {
	dataSourceID string
	dialect      Dialect
	db           *sqlx.DB
	probeTimeout time.Duration
	maxRows      int
}

func (c *Connection) DataSourceID() string {
	return c.dataSourceID
}

func (c *Connection) Type() models.DataSourceType {
	return c.dialect.Type
}

// Probe pings the backend and runs the dialect probe under the probe timeout.
func (c *Connection) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return unreachable(err)
	}

	var result any

	if err := c.db.QueryRowxContext(ctx, c.dialect.ProbeQuery).Scan(&result); err != nil {
		return unreachable(err)
	}

	return nil
}

// TestConnection reports whether the backend answers the probe. It never errors.
func (c *Connection) TestConnection(ctx context.Context) bool {
	return c.Probe(ctx) == nil
}

// Query runs a read-only statement and returns at most the configured number of rows.
func (c *Connection) Query(ctx context.Context, statement string) (*QueryResult, error) {
	if !IsReadOnly(statement) {
		return nil, ErrReadOnly
	}

	rows, err := c.db.QueryxContext(ctx, statement)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, statementFailed(err)
	}

	result := &QueryResult{Columns: columns, Rows: make([]Row, 0)}

	for rows.Next() {
		if c.maxRows > 0 && len(result.Rows) >= c.maxRows {
			result.Truncated = true

			break
		}

		values, err := rows.SliceScan()
		if err != nil {
			return nil, statementFailed(fmt.Errorf("failed to scan row: %w", err))
		}

		for i := range values {
			values[i] = normalizeValue(values[i])
		}

		result.Rows = append(result.Rows, Row{Columns: columns, Values: values})
	}

	if err := rows.Err(); err != nil {
		return nil, c.classify(ctx, err)
	}

	result.RowCount = int64(len(result.Rows))

	return result, nil
}

// Tables lists the data source's user tables.
func (c *Connection) Tables(ctx context.Context) ([]Table, error) {
	tables := make([]Table, 0)

	if err := c.db.SelectContext(ctx, &tables, c.dialect.TablesQuery); err != nil {
		return nil, c.classify(ctx, err)
	}

	return tables, nil
}

// classify decides whether a failed statement means the backend is gone.
func (c *Connection) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return statementFailed(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if pingErr := c.db.PingContext(pingCtx); pingErr != nil {
		return unreachable(err)
	}

	return statementFailed(err)
}
