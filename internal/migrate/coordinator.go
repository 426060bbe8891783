package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/leporid/migration-tools/internal/shared"
)

// EndpointSpec names one participating database and its connection URL.
type EndpointSpec struct {
	Name string
	URL  string
}

// Endpoint is an open connection to one participating database, plus the
// single long-lived transaction every section runs inside.
type Endpoint struct {
	Name   string
	Driver string
	DB     *sql.DB
	Tx     *sql.Tx
}

// Rebind rewrites ? placeholders into the $N form the pgx driver expects.
// The other supported drivers accept ? as-is.
func (e *Endpoint) Rebind(query string) string {
	if e.Driver != "pgx" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exec runs a write statement on the endpoint's transaction.
func (e *Endpoint) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := e.Tx.ExecContext(ctx, e.Rebind(query), args...); err != nil {
		return fmt.Errorf("%s: %w", e.Name, err)
	}
	return nil
}

// Query runs a read statement on the endpoint's transaction.
func (e *Endpoint) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.Tx.QueryContext(ctx, e.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	return rows, nil
}

// Coordinator holds the open endpoints of one migration run and exposes
// commit/rollback as atomic operations over all of them. There is no partial
// commit: CommitAll and RollbackAll always visit every endpoint.
type Coordinator struct {
	logger    *log.Logger
	endpoints []*Endpoint
	byName    map[string]*Endpoint
	finished  bool
}

// OpenCoordinator opens and pings one connection per spec. On any failure
// the connections opened so far are closed before returning.
func OpenCoordinator(logger *log.Logger, specs ...EndpointSpec) (*Coordinator, error) {
	c := &Coordinator{logger: logger, byName: make(map[string]*Endpoint, len(specs))}
	for _, spec := range specs {
		driver, _, err := shared.DriverFor(spec.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("endpoint %s: %w", spec.Name, err)
		}
		db, err := shared.NewDatabase(spec.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("endpoint %s: %w", spec.Name, err)
		}
		ep := &Endpoint{Name: spec.Name, Driver: driver, DB: db}
		c.endpoints = append(c.endpoints, ep)
		c.byName[spec.Name] = ep
		logger.Debug("opened database endpoint", "name", spec.Name, "driver", driver)
	}
	return c, nil
}

// Endpoint returns the endpoint registered under name, or nil.
func (c *Coordinator) Endpoint(name string) *Endpoint {
	return c.byName[name]
}

// BeginAll starts one transaction per endpoint, in registration order.
func (c *Coordinator) BeginAll(ctx context.Context) error {
	for _, ep := range c.endpoints {
		tx, err := ep.DB.BeginTx(ctx, nil)
		if err != nil {
			// Transactions already begun are released by RollbackAll.
			c.RollbackAll()
			return fmt.Errorf("failed to begin transaction on %s: %w", ep.Name, err)
		}
		ep.Tx = tx
	}
	return nil
}

// CommitAll commits every open transaction in deterministic (registration)
// order, aggregating any errors rather than stopping at the first.
func (c *Coordinator) CommitAll() error {
	var errs []error
	for _, ep := range c.endpoints {
		if ep.Tx == nil {
			continue
		}
		if err := ep.Tx.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", ep.Name, err))
		}
		ep.Tx = nil
	}
	c.finished = true
	return errors.Join(errs...)
}

// RollbackAll rolls back every open transaction, aggregating any errors.
func (c *Coordinator) RollbackAll() error {
	var errs []error
	for _, ep := range c.endpoints {
		if ep.Tx == nil {
			continue
		}
		if err := ep.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback %s: %w", ep.Name, err))
		}
		ep.Tx = nil
	}
	c.finished = true
	return errors.Join(errs...)
}

// Close releases every connection. Open transactions are rolled back first,
// so an early return can never leave a target partially committed.
func (c *Coordinator) Close() error {
	if !c.finished {
		c.RollbackAll()
	}
	var errs []error
	for _, ep := range c.endpoints {
		if ep.DB == nil {
			continue
		}
		if err := ep.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ep.Name, err))
		}
		ep.DB = nil
	}
	return errors.Join(errs...)
}

// Run executes fn inside one transaction per endpoint. On error every
// transaction is rolled back and the original error is returned unchanged.
// On success a dry run rolls everything back; otherwise everything commits.
func (c *Coordinator) Run(ctx context.Context, dryRun bool, fn func(context.Context) error) error {
	if err := c.BeginAll(ctx); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		c.logger.Error("migration failed, rolling back all databases", "err", err)
		if rbErr := c.RollbackAll(); rbErr != nil {
			c.logger.Error("rollback reported errors", "err", rbErr)
		}
		return err
	}

	if dryRun {
		c.logger.Info("dry-run enabled, all changes rolled back")
		return c.RollbackAll()
	}

	if err := c.CommitAll(); err != nil {
		return err
	}
	c.logger.Info("migration committed on all databases")
	return nil
}

// placeholders builds the VALUES clause for a multi-row insert:
// placeholders(2, 3) -> "(?, ?, ?), (?, ?, ?)".
func placeholders(rows, cols int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	var b strings.Builder
	for i := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(one)
	}
	return b.String()
}
