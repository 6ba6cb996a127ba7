// Package postgres implements the pipeline's database driver contract on top
// of PostgreSQL via pgx.  A driver owns one connection pool sized to the
// executor's worker count plus one; enrichment queries use named :param placeholders
// that are rewritten to positional binds at execution time.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/database"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Database is the pgx-backed driver.  The pool pointer is guarded because the
// orchestrator reconnects on one goroutine while workers execute queries on
// others.
type Database struct {
	cfg    config.DatabaseConfig
	logger logging.Logger

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewDriver constructs a disconnected driver; the connection orchestrator
// drives Connect.
func NewDriver(cfg config.DatabaseConfig, logger logging.Logger) (database.Driver, error) {
	return &Database{
		cfg:    cfg,
		logger: logger.Named("db").Named(cfg.Type + "-" + cfg.Name),
	}, nil
}

// Connect establishes the pool against the primary endpoint, falling back to
// the replica when one is configured and the primary is unreachable.
func (d *Database) Connect() error {
	pool, err := d.connectEndpoint(d.cfg.Primary)
	if err != nil && d.cfg.Replica != nil {
		d.logger.Warn("primary unreachable, trying replica", logging.Err(err))
		pool, err = d.connectEndpoint(*d.cfg.Replica)
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.pool != nil {
		d.pool.Close()
	}
	d.pool = pool
	d.mu.Unlock()
	return nil
}

func (d *Database) connectEndpoint(ep config.EndpointConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(d.connString(ep))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseConnection, "invalid connection string")
	}
	// One spare connection beyond the worker pool keeps health probes from
	// starving query workers.
	poolCfg.MaxConns = int32(d.cfg.MaxWorkers + 1)
	poolCfg.MinConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseConnection, "pool creation failed").WithDetail(ep.Host)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), pingTimeout)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseConnection, "ping failed").WithDetail(ep.Host)
	}

	d.logger.Info("connected",
		logging.String("host", ep.Host),
		logging.Int("port", ep.Port),
		logging.String("database", ep.ServiceName),
	)
	return pool, nil
}

// connString builds a postgres:// URL for one endpoint.
func (d *Database) connString(ep config.EndpointConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.cfg.Username, d.cfg.Password, ep.Host, ep.Port, ep.ServiceName, d.cfg.SSLMode)
}

// IsConnected probes liveness with a short ping.
func (d *Database) IsConnected() bool {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()
	if pool == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return pool.Ping(ctx) == nil
}

// Close releases the pool.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

// Query executes one enrichment query and returns its rows with lowercased
// column names, the shape the agent compares and publishes.
func (d *Database) Query(ctx context.Context, q common.Query) ([]common.Row, error) {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()
	if pool == nil {
		return nil, errors.New(errors.CodeDatabaseConnection, "not connected").WithDetail(d.cfg.Name)
	}

	sql, args, err := bindNamed(q.Template, q.Params)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseQuery, "query execution failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = strings.ToLower(fd.Name)
	}

	var result []common.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseQuery, "row scan failed")
		}
		row := make(common.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseQuery, "row iteration failed")
	}
	return result, nil
}

// bindNamed rewrites :name placeholders to positional $N binds and collects
// the matching argument values.  "::" is left untouched so PostgreSQL type
// casts survive the rewrite.  A placeholder with no matching parameter is an
// error; unused parameters are ignored.
func bindNamed(template string, params map[string]any) (string, []any, error) {
	var (
		sb       strings.Builder
		args     []any
		position = make(map[string]int)
	)

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != ':' {
			sb.WriteByte(c)
			continue
		}
		// "::" is a cast, not a placeholder.
		if i+1 < len(template) && template[i+1] == ':' {
			sb.WriteString("::")
			i++
			continue
		}
		start := i + 1
		end := start
		for end < len(template) && isIdentChar(template[end]) {
			end++
		}
		if end == start {
			sb.WriteByte(c)
			continue
		}
		name := template[start:end]
		idx, seen := position[name]
		if !seen {
			value, ok := params[name]
			if !ok {
				return "", nil, errors.Newf(errors.CodeInvalidParam, "query parameter %q is not bound", name)
			}
			args = append(args, value)
			idx = len(args)
			position[name] = idx
		}
		fmt.Fprintf(&sb, "$%d", idx)
		i = end - 1
	}
	return sb.String(), args, nil
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
