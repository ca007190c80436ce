package viewmodel

import (
	"sync/atomic"

	"accusim/internal/core"
	"accusim/internal/remote"
)

type AuditView struct {
	Range     core.DateRange
	Issues    []core.AuditIssue
	Loaded    bool
	Loading   bool
	LastError error
}

// Audit lists the transactions the remote auditor flags within the range.
type Audit struct {
	base
	issues *remote.Feed[[]core.AuditIssue]
	state  atomic.Pointer[AuditView]
}

func NewAudit(deps Deps) *Audit {
	deps = deps.withDefaults()
	m := &Audit{
		base:   newBase(ViewAudit, deps),
		issues: remote.NewFeed(remote.EndpointAudit, []core.AuditIssue{}),
	}
	m.fetchAll = func() {
		fetch(&m.base, m.issues, m.source.Audit)
	}
	m.publish = m.publishState
	m.publishState()
	return m
}

func (m *Audit) publishState() {
	issues, loaded := m.issues.Latest()
	m.state.Store(&AuditView{
		Range:     m.rng,
		Issues:    issues,
		Loaded:    loaded,
		Loading:   m.inFlight > 0,
		LastError: m.issues.LastError(),
	})
}

func (m *Audit) Snapshot() AuditView {
	return *m.state.Load()
}
