// Package partition keeps monthly range partitions of the statistics table
// created ahead of the data that lands in them.
package partition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/db"
)

// ErrConflict marks a month whose partition cannot be created in the table's
// current state: it overlaps another partition, or the base table is missing
// or not partitioned.
var ErrConflict = errors.New("partition conflict")

// Status is the result of ensuring one month's partition.
type Status string

const (
	StatusCreated  Status = "created"
	StatusExists   Status = "exists"
	StatusConflict Status = "conflict"
	StatusFailed   Status = "failed"
)

// Executor runs DDL. *pgxpool.Pool satisfies it.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder receives per-month outcomes, e.g. for Prometheus.
type Recorder interface {
	ObservePartition(table, status string)
}

// Descriptor is one month-aligned partition [RangeStart, RangeEnd) in UTC.
type Descriptor struct {
	Table      string
	Name       string
	RangeStart time.Time
	RangeEnd   time.Time
}

// MonthResult reports what happened to one month.
type MonthResult struct {
	Partition Descriptor
	Status    Status
	Err       error
}

// Result reports a whole EnsureFuturePartitions run.
type Result struct {
	Months []MonthResult
}

// Count returns how many months ended in status.
func (r Result) Count(status Status) int {
	n := 0
	for _, m := range r.Months {
		if m.Status == status {
			n++
		}
	}
	return n
}

type Manager struct {
	exec     Executor
	table    string
	recorder Recorder
	now      func() time.Time
	log      *zap.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager manages partitions of table, which may be schema-qualified.
func NewManager(exec Executor, table string, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		exec:  exec,
		table: table,
		now:   time.Now,
		log:   log.Named("partition"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Months returns the partitions covering the month containing from plus the
// next lookahead months. Ranges are contiguous and do not overlap.
func Months(table string, from time.Time, lookahead int) []Descriptor {
	from = from.UTC()
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := make([]Descriptor, 0, lookahead+1)
	for i := 0; i <= lookahead; i++ {
		rangeStart := start.AddDate(0, i, 0)
		out = append(out, Descriptor{
			Table:      table,
			Name:       partitionName(table, rangeStart),
			RangeStart: rangeStart,
			RangeEnd:   rangeStart.AddDate(0, 1, 0),
		})
	}
	return out
}

func partitionName(table string, month time.Time) string {
	return fmt.Sprintf("%s_p%s", table, month.Format("200601"))
}

func identifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// CreateStatement is the DDL that attaches d to its table.
func (d Descriptor) CreateStatement() string {
	return fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		identifier(d.Name),
		identifier(d.Table),
		d.RangeStart.Format(time.RFC3339),
		d.RangeEnd.Format(time.RFC3339))
}

// EnsureFuturePartitions creates any missing partition for the current month
// and the next lookahead months. Each month is independent: a failure is
// logged and the loop moves on. The error is non-nil only when every month
// failed outright.
func (m *Manager) EnsureFuturePartitions(ctx context.Context, lookahead int) (Result, error) {
	if lookahead < 0 {
		return Result{}, fmt.Errorf("lookahead must not be negative, got %d", lookahead)
	}

	var res Result
	var lastErr error
	for _, d := range Months(m.table, m.now(), lookahead) {
		mr := m.ensure(ctx, d)
		res.Months = append(res.Months, mr)
		if m.recorder != nil {
			m.recorder.ObservePartition(m.table, string(mr.Status))
		}
		if mr.Status == StatusFailed {
			lastErr = mr.Err
		}
	}

	if failed := res.Count(StatusFailed); failed == len(res.Months) {
		return res, fmt.Errorf("ensure partitions of %s: all %d months failed: %w", m.table, failed, lastErr)
	}

	m.log.Info("partitions ensured",
		zap.String("table", m.table),
		zap.Int("created", res.Count(StatusCreated)),
		zap.Int("exists", res.Count(StatusExists)),
		zap.Int("conflict", res.Count(StatusConflict)),
		zap.Int("failed", res.Count(StatusFailed)))
	return res, nil
}

func (m *Manager) ensure(ctx context.Context, d Descriptor) MonthResult {
	log := m.log.With(zap.String("partition", d.Name))

	_, err := m.exec.Exec(ctx, d.CreateStatement())
	err = db.WrapError(err, "create partition "+d.Name)
	switch {
	case err == nil:
		log.Info("partition created",
			zap.Time("from", d.RangeStart),
			zap.Time("to", d.RangeEnd))
		return MonthResult{Partition: d, Status: StatusCreated}
	case errors.Is(err, db.ErrDuplicateTable):
		log.Debug("partition already exists")
		return MonthResult{Partition: d, Status: StatusExists}
	case db.IsPartitionConflict(err):
		log.Warn("partition not created", zap.Error(err))
		return MonthResult{Partition: d, Status: StatusConflict, Err: fmt.Errorf("%w: %w", ErrConflict, err)}
	default:
		log.Warn("partition create failed", zap.Error(err))
		return MonthResult{Partition: d, Status: StatusFailed, Err: err}
	}
}
