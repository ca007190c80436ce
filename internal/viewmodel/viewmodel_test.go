package viewmodel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accusim/internal/core"
	"accusim/internal/remote"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[remote.Endpoint][]core.DateRange

	transactions func(context.Context, core.DateRange) ([]core.Transaction, error)
	advice       func(context.Context, core.DateRange) ([]core.AdvisoryTip, error)
	statement    func(context.Context, core.DateRange) (core.IncomeStatement, error)
	audit        func(context.Context, core.DateRange) ([]core.AuditIssue, error)
	create       func(context.Context, core.Draft) (core.Transaction, error)
}

func (f *fakeSource) record(ep remote.Endpoint, rng core.DateRange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[remote.Endpoint][]core.DateRange{}
	}
	f.calls[ep] = append(f.calls[ep], rng)
}

func (f *fakeSource) callsTo(ep remote.Endpoint) []core.DateRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.DateRange(nil), f.calls[ep]...)
}

func (f *fakeSource) Transactions(ctx context.Context, rng core.DateRange) ([]core.Transaction, error) {
	f.record(remote.EndpointTransactions, rng)
	if f.transactions == nil {
		return []core.Transaction{}, nil
	}
	return f.transactions(ctx, rng)
}

func (f *fakeSource) Advice(ctx context.Context, rng core.DateRange) ([]core.AdvisoryTip, error) {
	f.record(remote.EndpointAdvisor, rng)
	if f.advice == nil {
		return []core.AdvisoryTip{}, nil
	}
	return f.advice(ctx, rng)
}

func (f *fakeSource) IncomeStatement(ctx context.Context, rng core.DateRange) (core.IncomeStatement, error) {
	f.record(remote.EndpointIncomeStatement, rng)
	if f.statement == nil {
		return core.IncomeStatement{}, nil
	}
	return f.statement(ctx, rng)
}

func (f *fakeSource) Audit(ctx context.Context, rng core.DateRange) ([]core.AuditIssue, error) {
	f.record(remote.EndpointAudit, rng)
	if f.audit == nil {
		return []core.AuditIssue{}, nil
	}
	return f.audit(ctx, rng)
}

func (f *fakeSource) CreateTransaction(ctx context.Context, d core.Draft) (core.Transaction, error) {
	f.record(remote.EndpointTransactions, core.DateRange{})
	if f.create == nil {
		return core.Transaction{}, errors.New("create not configured")
	}
	return f.create(ctx, d)
}

type fakeReporter struct {
	mu  sync.Mutex
	got []remote.Failure
}

func (r *fakeReporter) ReportFailure(_ context.Context, f remote.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, f)
}

func (r *fakeReporter) failures() []remote.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remote.Failure(nil), r.got...)
}

type fakePublisher struct {
	mu  sync.Mutex
	got []core.Transaction
	err error
}

func (p *fakePublisher) PublishTransactionRecorded(_ context.Context, tx core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, tx)
	return p.err
}

type runner interface {
	Run(ctx context.Context) error
}

func start(t *testing.T, r runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
}

func waitIdle(t *testing.T, c RangeControl) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func at(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func tx(id string, typ core.TransactionType, amount string, when time.Time) core.Transaction {
	return core.Transaction{ID: core.ID(id), Type: typ, Amount: decimal.RequireFromString(amount), Description: id, Date: when}
}

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newDeps(src Source) (Deps, *fakeReporter) {
	rep := &fakeReporter{}
	return Deps{Source: src, Reporter: rep, Now: func() time.Time { return fixedNow }}, rep
}

func TestDashboard_InitialLoadDerivesSeries(t *testing.T) {
	src := &fakeSource{
		transactions: func(context.Context, core.DateRange) ([]core.Transaction, error) {
			return []core.Transaction{
				tx("1", core.Revenue, "100", at(1, 10)),
				tx("2", core.Expense, "40", at(1, 15)),
				tx("3", core.Revenue, "10", at(2, 9)),
			}, nil
		},
		advice: func(context.Context, core.DateRange) ([]core.AdvisoryTip, error) {
			return []core.AdvisoryTip{{Message: "m", Severity: "loud"}}, nil
		},
	}
	deps, _ := newDeps(src)
	d := NewDashboard(deps)

	before := d.Snapshot()
	if before.Loaded || len(before.Transactions) != 0 || len(before.Days) != 0 {
		t.Fatalf("snapshot before load = %+v", before)
	}
	if before.Form.Type != core.Revenue || !before.Form.Date.Equal(fixedNow) {
		t.Fatalf("default form = %+v", before.Form)
	}

	start(t, d)
	waitIdle(t, d)

	v := d.Snapshot()
	if !v.Loaded || v.Loading || v.LastError != nil {
		t.Fatalf("flags: loaded=%v loading=%v err=%v", v.Loaded, v.Loading, v.LastError)
	}
	if len(v.Days) != 2 || v.Days[0].Day != "2024-01-01" || v.Days[1].Day != "2024-01-02" {
		t.Fatalf("days = %+v", v.Days)
	}
	if !v.Days[0].Revenue.Equal(decimal.NewFromInt(100)) || !v.Days[0].Expenses.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("D1 = %+v", v.Days[0])
	}
	if !v.Summary.Profit.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("profit = %s, want 70", v.Summary.Profit)
	}
	if len(v.Advice) != 1 || v.Advice[0].Severity.Tone() != "info" {
		t.Fatalf("advice = %+v", v.Advice)
	}

	chart := d.Chart()
	if chart.Title != "Daily Revenue vs. Expenses" || len(chart.Labels) != 2 {
		t.Fatalf("chart = %+v", chart)
	}
	if chart.Datasets[0].Label != "Revenue" || chart.Datasets[0].Data[0] != "100.00" {
		t.Fatalf("revenue series = %+v", chart.Datasets[0])
	}
	if chart.Datasets[1].Label != "Expenses" || chart.Datasets[1].Data[1] != "0.00" {
		t.Fatalf("expense series = %+v", chart.Datasets[1])
	}
}

func TestDashboard_RangeChangeRefetchesEveryFeed(t *testing.T) {
	src := &fakeSource{}
	deps, _ := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	ctx := context.Background()
	s, e := at(1, 0), at(31, 0)
	if err := d.SetStart(ctx, &s); err != nil {
		t.Fatal(err)
	}
	if err := d.SetEnd(ctx, &e); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	for _, ep := range []remote.Endpoint{remote.EndpointTransactions, remote.EndpointAdvisor} {
		calls := src.callsTo(ep)
		if len(calls) != 3 {
			t.Fatalf("%s calls = %d, want 3", ep, len(calls))
		}
		if calls[0].Bounded() || calls[1].Bounded() || !calls[2].Bounded() {
			t.Fatalf("%s ranges = %v", ep, calls)
		}
	}
	if r := d.Range(); !r.Bounded() || !r.Start.Equal(s) {
		t.Fatalf("Range() = %v", r)
	}
	if !d.Snapshot().Range.Bounded() {
		t.Fatal("snapshot range not updated")
	}

	// Clearing a bound refetches unfiltered.
	if err := d.SetEnd(ctx, nil); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)
	calls := src.callsTo(remote.EndpointTransactions)
	if last := calls[len(calls)-1]; last.Bounded() || last.End != nil || last.Start == nil {
		t.Fatalf("after clearing end: %v", last)
	}
}

func TestDashboard_FailureKeepsPreviousData(t *testing.T) {
	var mu sync.Mutex
	fail := false
	src := &fakeSource{
		transactions: func(context.Context, core.DateRange) ([]core.Transaction, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, &remote.FetchError{Endpoint: remote.EndpointTransactions, Method: http.MethodGet, Kind: remote.KindStatus, Status: 500, Err: errors.New("boom")}
			}
			return []core.Transaction{tx("1", core.Revenue, "5", at(3, 1))}, nil
		},
	}
	deps, rep := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	mu.Lock()
	fail = true
	mu.Unlock()
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	v := d.Snapshot()
	if len(v.Transactions) != 1 || !v.Loaded {
		t.Fatalf("transactions after failure = %+v", v.Transactions)
	}
	if v.LastError == nil || v.Loading {
		t.Fatalf("LastError = %v, Loading = %v", v.LastError, v.Loading)
	}
	fs := rep.failures()
	if len(fs) != 1 || fs[0].View != ViewDashboard || fs[0].Endpoint != remote.EndpointTransactions || fs[0].Status != 500 {
		t.Fatalf("reported = %+v", fs)
	}
}

func TestDashboard_RangeChangeFailureKeepsAggregates(t *testing.T) {
	src := &fakeSource{
		transactions: func(_ context.Context, rng core.DateRange) ([]core.Transaction, error) {
			if rng.Bounded() {
				return nil, &remote.FetchError{Endpoint: remote.EndpointTransactions, Method: http.MethodGet, Kind: remote.KindStatus, Status: 500, Err: errors.New("boom")}
			}
			return []core.Transaction{
				tx("1", core.Revenue, "100", at(1, 10)),
				tx("2", core.Expense, "40", at(1, 12)),
				tx("3", core.Revenue, "7.5", at(2, 9)),
			}, nil
		},
	}
	deps, rep := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	before := d.Snapshot()
	if len(before.Days) != 2 || !before.Summary.TotalRevenue.Equal(decimal.RequireFromString("107.5")) {
		t.Fatalf("initial snapshot: days=%+v summary=%+v", before.Days, before.Summary)
	}

	ctx := context.Background()
	s, e := at(1, 0), at(2, 0)
	if err := d.SetStart(ctx, &s); err != nil {
		t.Fatal(err)
	}
	if err := d.SetEnd(ctx, &e); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	after := d.Snapshot()
	if after.LastError == nil || !after.Range.Bounded() {
		t.Fatalf("LastError = %v, Range = %v", after.LastError, after.Range)
	}
	if !after.Summary.TotalRevenue.Equal(before.Summary.TotalRevenue) ||
		!after.Summary.TotalExpenses.Equal(before.Summary.TotalExpenses) ||
		!after.Summary.Profit.Equal(before.Summary.Profit) {
		t.Fatalf("summary changed: before %+v, after %+v", before.Summary, after.Summary)
	}
	if len(after.Days) != len(before.Days) {
		t.Fatalf("days changed: before %+v, after %+v", before.Days, after.Days)
	}
	for i, p := range after.Days {
		b := before.Days[i]
		if p.Day != b.Day || !p.Revenue.Equal(b.Revenue) || !p.Expenses.Equal(b.Expenses) {
			t.Fatalf("day %d: before %+v, after %+v", i, b, p)
		}
	}
	if len(rep.failures()) == 0 {
		t.Fatal("range failure was not reported")
	}
}

func TestDashboard_StaleResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{
		transactions: func(ctx context.Context, rng core.DateRange) ([]core.Transaction, error) {
			if rng.Start == nil {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return []core.Transaction{tx("old", core.Revenue, "1", at(1, 0))}, nil
			}
			return []core.Transaction{tx("new", core.Expense, "2", at(2, 0))}, nil
		},
	}
	deps, _ := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)

	s := at(2, 0)
	if err := d.SetStart(context.Background(), &s); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return d.Snapshot().Loaded })
	close(release)
	waitIdle(t, d)

	v := d.Snapshot()
	if len(v.Transactions) != 1 || v.Transactions[0].ID != "new" {
		t.Fatalf("transactions = %+v, want only the newer response", v.Transactions)
	}
}

func TestDashboard_SubmitAppendsAndResetsForm(t *testing.T) {
	var got core.Draft
	src := &fakeSource{
		transactions: func(context.Context, core.DateRange) ([]core.Transaction, error) {
			return []core.Transaction{tx("1", core.Revenue, "100", at(1, 10))}, nil
		},
		create: func(_ context.Context, d core.Draft) (core.Transaction, error) {
			got = d
			return core.Transaction{ID: "srv-9", Type: d.Type, Amount: decimal.RequireFromString("12.5"), Description: d.Description, Date: d.Date}, nil
		},
	}
	deps, _ := newDeps(src)
	pub := &fakePublisher{err: errors.New("broker down")}
	deps.Publisher = pub
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	draft := core.Draft{Type: core.Expense, Amount: "12.50", Description: " paper ", Date: at(1, 18)}
	created, err := d.Submit(context.Background(), draft)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.ID != "srv-9" || got.Description != "paper" {
		t.Fatalf("created = %+v, sent = %+v", created, got)
	}

	v := d.Snapshot()
	if len(v.Transactions) != 2 || v.Transactions[1].ID != "srv-9" {
		t.Fatalf("transactions = %+v", v.Transactions)
	}
	if want := core.NewDraft(fixedNow); v.Form != want {
		t.Fatalf("form = %+v, want reset %+v", v.Form, want)
	}
	if v.FormError != "" || v.Submitting {
		t.Fatalf("form state: err=%q submitting=%v", v.FormError, v.Submitting)
	}
	if !v.Summary.TotalExpenses.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("summary not rederived: %+v", v.Summary)
	}
	if len(pub.got) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.got))
	}
}

func TestDashboard_SubmitFailureRetainsDraft(t *testing.T) {
	src := &fakeSource{
		create: func(context.Context, core.Draft) (core.Transaction, error) {
			return core.Transaction{}, &remote.FetchError{Endpoint: remote.EndpointTransactions, Method: http.MethodPost, Kind: remote.KindStatus, Status: 422, Err: errors.New("duplicate")}
		},
	}
	deps, rep := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	draft := core.Draft{Type: core.Revenue, Amount: "3,20", Description: "fee", Date: at(4, 0)}
	if _, err := d.Submit(context.Background(), draft); remote.KindOf(err) != remote.KindStatus {
		t.Fatalf("Submit error = %v", err)
	}

	v := d.Snapshot()
	if v.Form != draft {
		t.Fatalf("form = %+v, want retained %+v", v.Form, draft)
	}
	if !strings.Contains(v.FormError, "duplicate") {
		t.Fatalf("FormError = %q", v.FormError)
	}
	if len(v.Transactions) != 0 {
		t.Fatalf("no optimistic entry expected, got %+v", v.Transactions)
	}
	if fs := rep.failures(); len(fs) != 1 || fs[0].Method != http.MethodPost {
		t.Fatalf("reported = %+v", fs)
	}
}

func TestDashboard_SubmitValidation(t *testing.T) {
	src := &fakeSource{}
	deps, _ := newDeps(src)
	d := NewDashboard(deps)
	start(t, d)
	waitIdle(t, d)

	draft := core.Draft{Amount: "abc", Description: "x", Date: at(1, 0)}
	if _, err := d.Submit(context.Background(), draft); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("Submit error = %v, want ErrInvalidAmount", err)
	}
	v := d.Snapshot()
	if v.Form.Amount != "abc" || v.Form.Type != core.Revenue || v.FormError == "" {
		t.Fatalf("form = %+v err=%q", v.Form, v.FormError)
	}
	if n := len(src.callsTo(remote.EndpointTransactions)); n != 1 {
		t.Fatalf("transactions endpoint calls = %d, want only the initial fetch", n)
	}
}

func TestIncomeStatement_DefaultsAndLoad(t *testing.T) {
	src := &fakeSource{
		statement: func(context.Context, core.DateRange) (core.IncomeStatement, error) {
			return core.IncomeStatement{
				TotalRevenue:  decimal.NewFromInt(10),
				TotalExpenses: decimal.NewFromInt(25),
				NetIncome:     decimal.NewFromInt(-15),
			}, nil
		},
	}
	deps, _ := newDeps(src)
	m := NewIncomeStatement(deps)

	v := m.Snapshot()
	if v.Loaded || !v.Statement.NetIncome.IsZero() || !v.NetPositive() {
		t.Fatalf("default snapshot = %+v", v)
	}

	start(t, m)
	waitIdle(t, m)
	v = m.Snapshot()
	if !v.Loaded || v.NetPositive() || !v.Statement.NetIncome.Equal(decimal.NewFromInt(-15)) {
		t.Fatalf("loaded snapshot = %+v", v)
	}
}

func TestAudit_FailureLeavesEmptyList(t *testing.T) {
	src := &fakeSource{
		audit: func(context.Context, core.DateRange) ([]core.AuditIssue, error) {
			return nil, &remote.FetchError{Endpoint: remote.EndpointAudit, Kind: remote.KindDecode, Err: errors.New("bad json")}
		},
	}
	deps, rep := newDeps(src)
	m := NewAudit(deps)
	start(t, m)
	waitIdle(t, m)

	v := m.Snapshot()
	if v.Issues == nil || len(v.Issues) != 0 || v.Loaded {
		t.Fatalf("issues = %#v loaded=%v", v.Issues, v.Loaded)
	}
	if v.LastError == nil || len(rep.failures()) != 1 {
		t.Fatalf("LastError = %v, reported = %d", v.LastError, len(rep.failures()))
	}
}

func TestSet_RunAndLookup(t *testing.T) {
	src := &fakeSource{}
	deps, _ := newDeps(src)
	set := NewSet(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- set.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := set.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := set.Refresh(waitCtx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, name := range []string{ViewDashboard, ViewIncomeStatement, ViewAudit} {
		c, ok := set.View(name)
		if !ok || c.Name() != name {
			t.Fatalf("View(%q) = %v, %v", name, c, ok)
		}
	}
	if _, ok := set.View("ledger"); ok {
		t.Fatal("unknown view should not resolve")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if err := set.Audit.SetStart(context.Background(), nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("SetStart after stop = %v, want ErrStopped", err)
	}
	if err := set.Audit.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}
}
