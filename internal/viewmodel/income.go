package viewmodel

import (
	"sync/atomic"

	"accusim/internal/core"
	"accusim/internal/remote"
)

type IncomeStatementView struct {
	Range     core.DateRange
	Statement core.IncomeStatement
	Loaded    bool
	Loading   bool
	LastError error
}

// NetPositive reports whether net income is zero or more.
func (v IncomeStatementView) NetPositive() bool {
	return !v.Statement.NetIncome.IsNegative()
}

// IncomeStatement shows the remote API's totals for the selected range. It
// starts from a zero statement until the first response arrives.
type IncomeStatement struct {
	base
	statement *remote.Feed[core.IncomeStatement]
	state     atomic.Pointer[IncomeStatementView]
}

func NewIncomeStatement(deps Deps) *IncomeStatement {
	deps = deps.withDefaults()
	m := &IncomeStatement{
		base:      newBase(ViewIncomeStatement, deps),
		statement: remote.NewFeed(remote.EndpointIncomeStatement, core.IncomeStatement{}),
	}
	m.fetchAll = func() {
		fetch(&m.base, m.statement, m.source.IncomeStatement)
	}
	m.publish = m.publishState
	m.publishState()
	return m
}

func (m *IncomeStatement) publishState() {
	st, loaded := m.statement.Latest()
	m.state.Store(&IncomeStatementView{
		Range:     m.rng,
		Statement: st,
		Loaded:    loaded,
		Loading:   m.inFlight > 0,
		LastError: m.statement.LastError(),
	})
}

func (m *IncomeStatement) Snapshot() IncomeStatementView {
	return *m.state.Load()
}
