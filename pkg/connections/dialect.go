// Package connections pools database handles for user data sources and runs
// read-only statements against them.
package connections

import (
	"fmt"
	"strings"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/go-sql-driver/mysql"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const genericProbe = "SELECT 1"

const informationSchemaTables = `
	SELECT table_schema, table_name
	FROM information_schema.tables
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema', 'crdb_internal', 'pg_extension')
	ORDER BY table_schema, table_name`

// Dialect describes how to reach and inspect one backend type.
type Dialect struct {
	Type       models.DataSourceType
	DriverName string
	// ProbeQuery is run by TestConnection after a successful ping.
	ProbeQuery string
	// TablesQuery lists user tables as (table_schema, table_name).
	TablesQuery string
	// MaxOpenConns caps the pool, 0 means unlimited.
	MaxOpenConns int

	normalize func(connectionString string) (string, error)
}

var dialects = map[models.DataSourceType]Dialect{
	models.DataSourceTypePostgres: {
		Type:        models.DataSourceTypePostgres,
		DriverName:  "postgres",
		ProbeQuery:  genericProbe,
		TablesQuery: informationSchemaTables,
	},
	models.DataSourceTypeRedshift: {
		Type:       models.DataSourceTypeRedshift,
		DriverName: "postgres",
		ProbeQuery: genericProbe,
		TablesQuery: `
			SELECT schemaname AS table_schema, tablename AS table_name
			FROM pg_tables
			WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
			ORDER BY schemaname, tablename`,
		normalize: redshiftDSN,
	},
	models.DataSourceTypeCockroach: {
		Type:        models.DataSourceTypeCockroach,
		DriverName:  "postgres",
		ProbeQuery:  genericProbe,
		TablesQuery: informationSchemaTables,
	},
	models.DataSourceTypeMySQL: {
		Type:       models.DataSourceTypeMySQL,
		DriverName: "mysql",
		ProbeQuery: genericProbe,
		TablesQuery: `
			SELECT table_schema AS table_schema, table_name AS table_name
			FROM information_schema.tables
			WHERE table_schema = DATABASE()
			ORDER BY table_name`,
		normalize: mysqlDSN,
	},
	models.DataSourceTypeSQLite: {
		Type:       models.DataSourceTypeSQLite,
		DriverName: "sqlite",
		ProbeQuery: genericProbe,
		TablesQuery: `
			SELECT 'main' AS table_schema, name AS table_name
			FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`,
		MaxOpenConns: 1,
		normalize:    sqliteDSN,
	},
}

// DialectFor returns the dialect of a backend type. Unknown types are an
// error rather than a guess at a generic driver, since there is no driver to
// open them with.
func DialectFor(dataSourceType models.DataSourceType) (Dialect, error) {
	dialect, ok := dialects[dataSourceType]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %q", models.ErrUnknownDataSourceType, dataSourceType)
	}

	return dialect, nil
}

// DSN converts a user supplied connection string into the driver's form.
func (d Dialect) DSN(connectionString string) (string, error) {
	if strings.TrimSpace(connectionString) == "" {
		return "", ErrEmptyConnectionString
	}

	if d.normalize == nil {
		return connectionString, nil
	}

	return d.normalize(connectionString)
}

// redshiftDSN accepts the redshift:// scheme some clients emit.
func redshiftDSN(connectionString string) (string, error) {
	if rest, ok := strings.CutPrefix(connectionString, "redshift://"); ok {
		return "postgres://" + rest, nil
	}

	return connectionString, nil
}

// mysqlDSN accepts both the driver DSN and a mysql:// prefixed form and
// always enables time parsing.
func mysqlDSN(connectionString string) (string, error) {
	dsn := strings.TrimPrefix(connectionString, "mysql://")

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string: %w", err)
	}

	cfg.ParseTime = true

	return cfg.FormatDSN(), nil
}

func sqliteDSN(connectionString string) (string, error) {
	return strings.TrimPrefix(connectionString, "sqlite://"), nil
}
