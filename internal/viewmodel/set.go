package viewmodel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Set groups the three view models of the application.
type Set struct {
	Dashboard       *Dashboard
	IncomeStatement *IncomeStatement
	Audit           *Audit
}

func NewSet(deps Deps) *Set {
	return &Set{
		Dashboard:       NewDashboard(deps),
		IncomeStatement: NewIncomeStatement(deps),
		Audit:           NewAudit(deps),
	}
}

func (s *Set) controls() []RangeControl {
	return []RangeControl{s.Dashboard, s.IncomeStatement, s.Audit}
}

// Run runs every view model loop until ctx is cancelled.
func (s *Set) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Dashboard.Run(ctx) })
	g.Go(func() error { return s.IncomeStatement.Run(ctx) })
	g.Go(func() error { return s.Audit.Run(ctx) })
	return g.Wait()
}

// View returns the range control of the named view.
func (s *Set) View(name string) (RangeControl, bool) {
	for _, c := range s.controls() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Wait blocks until no view model has a fetch in flight.
func (s *Set) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.controls() {
		c := c
		g.Go(func() error { return c.Wait(ctx) })
	}
	return g.Wait()
}

// Refresh refetches every view.
func (s *Set) Refresh(ctx context.Context) error {
	for _, c := range s.controls() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}
