// Package viewmodel holds the state behind the Dashboard, Income Statement and
// Audit views. Each view model owns a date range and one result feed per
// remote endpoint, and refetches every feed whenever the range changes.
package viewmodel

import (
	"context"
	"sync/atomic"
	"time"

	"accusim/internal/core"
	"accusim/internal/log"
	"accusim/internal/remote"
)

const (
	ViewDashboard       = "dashboard"
	ViewIncomeStatement = "income-statement"
	ViewAudit           = "audit"
)

// Source is the remote API as seen by the view models.
type Source interface {
	Transactions(ctx context.Context, rng core.DateRange) ([]core.Transaction, error)
	Advice(ctx context.Context, rng core.DateRange) ([]core.AdvisoryTip, error)
	IncomeStatement(ctx context.Context, rng core.DateRange) (core.IncomeStatement, error)
	Audit(ctx context.Context, rng core.DateRange) ([]core.AuditIssue, error)
	CreateTransaction(ctx context.Context, d core.Draft) (core.Transaction, error)
}

// Publisher is told about every transaction the remote API accepted.
type Publisher interface {
	PublishTransactionRecorded(ctx context.Context, tx core.Transaction) error
}

type Deps struct {
	Source    Source
	Reporter  remote.FailureReporter
	Publisher Publisher
	Logger    *log.Logger
	// Location is the calendar used to bucket transactions by day.
	Location *time.Location
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = log.Discard()
	}
	if d.Reporter == nil {
		d.Reporter = remote.NewLogReporter(d.Logger)
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// RangeControl is the date range surface shared by every view.
type RangeControl interface {
	Name() string
	Range() core.DateRange
	SetStart(ctx context.Context, t *time.Time) error
	SetEnd(ctx context.Context, t *time.Time) error
	Refresh(ctx context.Context) error
	Wait(ctx context.Context) error
}

// base carries the loop, the range and the in-flight bookkeeping shared by
// the concrete view models. Fields below the loop are owned by it.
type base struct {
	loop
	view     string
	source   Source
	reporter remote.FailureReporter
	logger   *log.Logger

	ctx      context.Context
	rng      core.DateRange
	inFlight int
	waiters  []chan struct{}

	fetchAll func()
	publish  func()

	current atomic.Pointer[core.DateRange]
}

func newBase(view string, deps Deps) base {
	return base{
		loop:     newLoop(),
		view:     view,
		source:   deps.Source,
		reporter: deps.Reporter,
		logger:   deps.Logger.WithComponent(log.ComponentViewModel).With(log.FieldView, view),
		ctx:      context.Background(),
	}
}

func (b *base) Name() string {
	return b.view
}

// Range returns the range most recently set on the loop.
func (b *base) Range() core.DateRange {
	if r := b.current.Load(); r != nil {
		return *r
	}
	return core.DateRange{}
}

// Run processes events until ctx is cancelled. The first fetch of every
// feed is issued as soon as the loop starts.
func (b *base) Run(ctx context.Context) error {
	return b.serve(ctx, func() {
		b.ctx = ctx
		b.logger.Debug("View model started")
		b.fetchAll()
		b.publish()
	})
}

func (b *base) SetStart(ctx context.Context, t *time.Time) error {
	return b.do(ctx, func() {
		b.rng = b.rng.SetStart(t)
		b.rangeChanged()
	})
}

func (b *base) SetEnd(ctx context.Context, t *time.Time) error {
	return b.do(ctx, func() {
		b.rng = b.rng.SetEnd(t)
		b.rangeChanged()
	})
}

// Refresh refetches every feed for the current range.
func (b *base) Refresh(ctx context.Context) error {
	return b.do(ctx, func() {
		b.fetchAll()
		b.publish()
	})
}

// Wait blocks until no fetch is in flight.
func (b *base) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	err := b.do(ctx, func() {
		if b.inFlight == 0 {
			close(idle)
			return
		}
		b.waiters = append(b.waiters, idle)
	})
	if err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopped:
		return ErrStopped
	}
}

func (b *base) rangeChanged() {
	rng := b.rng
	b.current.Store(&rng)
	b.logger.Debug("Date range changed", log.FieldRange, b.rng.Key())
	b.fetchAll()
	b.publish()
}

func (b *base) settle() {
	b.inFlight--
	if b.inFlight > 0 {
		return
	}
	for _, w := range b.waiters {
		close(w)
	}
	b.waiters = nil
}

// fetch issues a request for feed on the current range. The call runs on its
// own goroutine; the result is applied on the loop, where the feed drops it if
// a newer request was issued in the meantime.
func fetch[T any](b *base, feed *remote.Feed[T], call func(context.Context, core.DateRange) (T, error)) {
	ticket := feed.Issue(b.rng)
	b.inFlight++
	ctx := b.ctx

	go func() {
		value, err := call(ctx, ticket.Range)
		if err != nil && ctx.Err() == nil {
			b.reporter.ReportFailure(ctx, remote.NewFailure(b.view, feed.Endpoint(), ticket.Range, err))
		}
		b.post(func() {
			outcome := feed.Resolve(ticket, value, err)
			b.logger.Debug("Fetch resolved",
				log.FieldEndpoint, feed.Endpoint().String(),
				log.FieldGeneration, ticket.Generation,
				"latest_generation", feed.Generation(),
				log.FieldRange, ticket.Range.Key(),
				"outcome", outcome.String())
			b.settle()
			b.publish()
		})
	}()
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
