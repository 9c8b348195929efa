// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DeriveFunc maps a (phone, email) pair to a stable user identifier
type DeriveFunc func(phone, email string) string

// EngineConfig holds configuration for the persistence engine
type EngineConfig struct {
	MaxListRows   int           // Cap on rows returned by list queries (0 = DefaultMaxListRows)
	MaxConcurrent int64         // Handlers allowed to run at once (0 = DefaultMaxConcurrent)
	SlotWait      time.Duration // How long a handler may wait for a slot (0 = until ctx is done)
	PingRetries   int           // Liveness probe attempts before a transaction starts
	PingBackoff   time.Duration // Base delay between liveness probe attempts

	Derive DeriveFunc // Identifier derivation (nil = DeriveUserID)

	// Optional stage timing hooks
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

const (
	DefaultMaxListRows   = 20
	DefaultMaxConcurrent = 16
	DefaultPingRetries   = 3
	DefaultPingBackoff   = 50 * time.Millisecond
)

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxListRows:   DefaultMaxListRows,
		MaxConcurrent: DefaultMaxConcurrent,
		PingRetries:   DefaultPingRetries,
		PingBackoff:   DefaultPingBackoff,
		Derive:        DeriveUserID,
	}
}

// Engine executes API handlers against the relational store. Every mutating handler
// runs its statements in a single transaction borrowed from the pool.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger
	config *EngineConfig
	slots  *semaphore.Weighted
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewEngine creates an engine over an existing pool. The pool stays owned by the caller.
func NewEngine(db *sql.DB, config *EngineConfig, logger *slog.Logger) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if config == nil {
		config = DefaultEngineConfig()
	}
	cfg := *config
	if cfg.MaxListRows <= 0 {
		cfg.MaxListRows = DefaultMaxListRows
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PingRetries <= 0 {
		cfg.PingRetries = 1
	}
	if cfg.Derive == nil {
		cfg.Derive = DeriveUserID
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		db:     db,
		logger: logger,
		config: &cfg,
		slots:  semaphore.NewWeighted(cfg.MaxConcurrent),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close stops the engine from accepting new handlers
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Info("Persistence engine closed")
	return nil
}

// DB returns the underlying pool
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Config returns a copy of the effective engine configuration
func (e *Engine) Config() EngineConfig {
	return *e.config
}

func (e *Engine) checkClosed() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// acquire borrows one handler slot. Failing to obtain a slot is reported as no-memory.
func (e *Engine) acquire(ctx context.Context, op string) (func(), error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	waitCtx := ctx
	if e.config.SlotWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.config.SlotWait)
		defer cancel()
	}
	start := e.stageStart()
	if err := e.slots.Acquire(waitCtx, 1); err != nil {
		e.observeStage(ctx, op, MetricsStageSlotWait, start, 0, true)
		return nil, fmt.Errorf("%w: no handler slot for %s: %v", ErrNoMemory, op, err)
	}
	e.observeStage(ctx, op, MetricsStageSlotWait, start, 1, false)
	return func() { e.slots.Release(1) }, nil
}

// statement is one parameterized mutation of a handler transaction.
// When mustAffect is set, a statement touching zero rows fails the transaction with no-record.
type statement struct {
	query      string
	args       []any
	mustAffect bool
}

func stmt(query string, args ...any) statement {
	return statement{query: query, args: args}
}

// ping probes pool liveness before a transaction starts, backing off between attempts
func (e *Engine) ping(ctx context.Context, op string) error {
	start := e.stageStart()
	var err error
	for attempt := 1; attempt <= e.config.PingRetries; attempt++ {
		if err = e.db.PingContext(ctx); err == nil {
			e.observeStage(ctx, op, MetricsStagePing, start, attempt, false)
			return nil
		}
		e.logger.Warn("Database liveness probe failed", "op", op, "attempt", attempt, "error", err)
		if attempt == e.config.PingRetries {
			break
		}
		if sleepErr := sleepWithContext(ctx, e.config.PingBackoff*time.Duration(attempt)); sleepErr != nil {
			err = sleepErr
			break
		}
	}
	e.observeStage(ctx, op, MetricsStagePing, start, e.config.PingRetries, true)
	return fmt.Errorf("database unavailable: %w", err)
}

// runTx executes stmts in order inside one transaction. The first failing statement
// rolls the whole transaction back; statements are never retried.
func (e *Engine) runTx(ctx context.Context, op string, stmts []statement) error {
	if len(stmts) == 0 {
		return nil
	}
	if err := e.ping(ctx, op); err != nil {
		return err
	}

	start := e.stageStart()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.logger.Error("Failed to begin transaction", "op", op, "error", err)
		e.observeStage(ctx, op, MetricsStageTx, start, 0, true)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, st := range stmts {
		res, err := tx.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			e.observeStage(ctx, op, MetricsStageTx, start, i, true)
			if isUniqueViolation(err) {
				e.logger.Debug("Uniqueness violation", "op", op, "statement", i, "error", err)
				return fmt.Errorf("%w: %v", ErrDuplicate, err)
			}
			e.logger.Error("Statement failed, rolling back", "op", op, "statement", i, "error", err)
			return fmt.Errorf("statement %d of %s failed: %w", i, op, err)
		}
		if st.mustAffect {
			n, err := res.RowsAffected()
			if err != nil {
				e.observeStage(ctx, op, MetricsStageTx, start, i, true)
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			if n == 0 {
				e.observeStage(ctx, op, MetricsStageTx, start, i, true)
				return fmt.Errorf("%w: statement %d of %s touched no rows", ErrNoRecord, i, op)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		e.logger.Error("Failed to commit transaction", "op", op, "error", err)
		e.observeStage(ctx, op, MetricsStageTx, start, len(stmts), true)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	e.observeStage(ctx, op, MetricsStageTx, start, len(stmts), false)
	return nil
}

// queryErr converts a lookup failure into the outcome taxonomy
func (e *Engine) queryErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNoRecord, op)
	}
	e.logger.Error("Lookup failed", "op", op, "error", err)
	return fmt.Errorf("%s lookup failed: %w", op, err)
}

// userExists reports whether uid is a registered user
func (e *Engine) userExists(ctx context.Context, uid string) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, `SELECT 1 FROM user_reg_info WHERE uid = $1`, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// requireUser fails with no-record unless uid is registered
func (e *Engine) requireUser(ctx context.Context, op, uid string) error {
	ok, err := e.userExists(ctx, uid)
	if err != nil {
		return e.queryErr(op, err)
	}
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNoRecord, uid)
	}
	return nil
}

// UserExists reports whether uid is a registered user
func (e *Engine) UserExists(ctx context.Context, uid string) (bool, error) {
	if err := e.checkClosed(); err != nil {
		return false, err
	}
	return e.userExists(ctx, uid)
}

// peerInfo is the display data attached to every list row
type peerInfo struct {
	fname, lname, url sql.NullString
}

func (e *Engine) lookupPeer(ctx context.Context, uid string) (peerInfo, error) {
	var p peerInfo
	err := e.db.QueryRowContext(ctx,
		`SELECT first_name, last_name, avatar_url FROM user_reg_info WHERE uid = $1`, uid,
	).Scan(&p.fname, &p.lname, &p.url)
	return p, err
}

func (e *Engine) timestamp() string {
	return e.now().Format(utcDateTimeLayout)
}

func setNull(rec Record, i int, v sql.NullString) {
	if v.Valid {
		rec.Set(i, v.String)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
