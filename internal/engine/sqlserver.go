package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/models"
)

// OpenFunc opens a database handle. Tests swap it for sqlmock.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type SQLServerOptions struct {
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
	Open            OpenFunc
}

// SQLServerAdapter runs query text verbatim against SQL Server. One pooled
// handle is kept per DSN and reused across calls; calls are expected to be
// sequential. It never retries.
type SQLServerAdapter struct {
	opts   SQLServerOptions
	logger zerolog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewSQLServerAdapter(opts SQLServerOptions, logger zerolog.Logger) *SQLServerAdapter {
	if opts.Open == nil {
		opts.Open = sql.Open
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 2
	}
	return &SQLServerAdapter{
		opts:   opts,
		logger: logger.With().Str("component", "sqlserver_adapter").Logger(),
		pools:  make(map[string]*sql.DB),
	}
}

func (a *SQLServerAdapter) Execute(ctx context.Context, profile models.ConnectionProfile, query string) ([]Row, error) {
	db, err := a.pool(ctx, profile)
	if err != nil {
		return nil, err
	}

	if a.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.QueryTimeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, a.classify(profile, err)
	}
	out, err := scanRows(rows)
	// Close before classify: dropping a broken pool waits for open rows.
	rows.Close()
	if err != nil {
		return nil, a.classify(profile, err)
	}
	return out, nil
}

// Ping checks that the profile can complete a handshake.
func (a *SQLServerAdapter) Ping(ctx context.Context, profile models.ConnectionProfile) error {
	_, err := a.pool(ctx, profile)
	return err
}

// Close releases every pooled handle.
func (a *SQLServerAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var result *multierror.Error
	for dsn, db := range a.pools {
		if err := db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(a.pools, dsn)
	}
	return result.ErrorOrNil()
}

func (a *SQLServerAdapter) pool(ctx context.Context, profile models.ConnectionProfile) (*sql.DB, error) {
	dsn, err := profile.DSN()
	if err != nil {
		return nil, &ConfigurationError{System: models.SourceSQLServer, Reason: err.Error()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.pools[dsn]; ok {
		return db, nil
	}

	db, err := a.opts.Open("sqlserver", dsn)
	if err != nil {
		return nil, &ConnectionError{System: models.SourceSQLServer, Err: err}
	}
	db.SetMaxOpenConns(a.opts.MaxOpenConns)
	db.SetMaxIdleConns(a.opts.MaxOpenConns)
	if a.opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(a.opts.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		a.logger.Warn().Err(err).Str("host", profile.Host).Msg("sqlserver handshake failed")
		return nil, &ConnectionError{System: models.SourceSQLServer, Err: err}
	}
	a.logger.Info().Str("host", profile.Host).Str("database", profile.Database).Msg("opened sqlserver pool")
	a.pools[dsn] = db
	return db, nil
}

func (a *SQLServerAdapter) classify(profile models.ConnectionProfile, err error) error {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return &QueryError{System: models.SourceSQLServer, Message: msErr.Message, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		a.drop(profile)
		return &ConnectionError{System: models.SourceSQLServer, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &QueryError{System: models.SourceSQLServer, Message: err.Error(), Err: err}
}

// drop discards a pool whose connection broke so the next call handshakes again.
func (a *SQLServerAdapter) drop(profile models.ConnectionProfile) {
	dsn, err := profile.DSN()
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.pools[dsn]; ok {
		db.Close()
		delete(a.pools, dsn)
	}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, NewRow(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
