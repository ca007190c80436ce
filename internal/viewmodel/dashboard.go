package viewmodel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"accusim/internal/core"
	"accusim/internal/log"
	"accusim/internal/remote"
)

// ChartTitle is the heading of the daily revenue and expenses chart.
const ChartTitle = "Daily Revenue vs. Expenses"

// DayPoint is one day of the daily series, in first-seen order.
type DayPoint struct {
	Day      string
	Revenue  decimal.Decimal
	Expenses decimal.Decimal
}

// DashboardView is an immutable snapshot of the dashboard.
type DashboardView struct {
	Range        core.DateRange
	Transactions []core.Transaction
	Advice       []core.AdvisoryTip
	Days         []DayPoint
	Summary      core.Summary
	Form         core.Draft
	FormError    string
	Submitting   bool
	Loaded       bool
	Loading      bool
	LastError    error
}

type ChartDataset struct {
	Label string        `json:"label"`
	Data  []json.Number `json:"data"`
}

// ChartData is the payload of the daily chart, shaped for Chart.js.
type ChartData struct {
	Title    string         `json:"title"`
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

type dashboardState struct {
	rng        core.DateRange
	txs        []core.Transaction
	advice     []core.AdvisoryTip
	form       core.Draft
	formErr    string
	submitting bool
	loaded     bool
	loading    bool
	lastErr    error
}

type Dashboard struct {
	base
	txs       *remote.Feed[[]core.Transaction]
	advice    *remote.Feed[[]core.AdvisoryTip]
	form      core.Draft
	formErr   string
	submits   int
	publisher Publisher
	loc       *time.Location
	now       func() time.Time

	state atomic.Pointer[dashboardState]
}

func NewDashboard(deps Deps) *Dashboard {
	deps = deps.withDefaults()
	d := &Dashboard{
		base:      newBase(ViewDashboard, deps),
		txs:       remote.NewFeed(remote.EndpointTransactions, []core.Transaction{}),
		advice:    remote.NewFeed(remote.EndpointAdvisor, []core.AdvisoryTip{}),
		form:      core.NewDraft(deps.Now()),
		publisher: deps.Publisher,
		loc:       deps.Location,
		now:       deps.Now,
	}
	d.fetchAll = func() {
		fetch(&d.base, d.txs, d.source.Transactions)
		fetch(&d.base, d.advice, d.source.Advice)
	}
	d.publish = d.publishState
	d.publishState()
	return d
}

func (d *Dashboard) publishState() {
	txs, loaded := d.txs.Latest()
	advice, _ := d.advice.Latest()
	d.state.Store(&dashboardState{
		rng:        d.rng,
		txs:        txs,
		advice:     advice,
		form:       d.form,
		formErr:    d.formErr,
		submitting: d.submits > 0,
		loaded:     loaded,
		loading:    d.inFlight > 0,
		lastErr:    firstError(d.txs.LastError(), d.advice.LastError()),
	})
}

// Snapshot returns the current dashboard. The daily series and summary are
// derived from the transaction list on every call.
func (d *Dashboard) Snapshot() DashboardView {
	st := d.state.Load()
	daily, summary := core.AggregateIn(st.txs, d.loc)
	days := make([]DayPoint, 0, daily.Len())
	for _, key := range daily.Keys() {
		totals, _ := daily.Get(key)
		days = append(days, DayPoint{Day: key, Revenue: totals.Revenue, Expenses: totals.Expenses})
	}
	return DashboardView{
		Range:        st.rng,
		Transactions: st.txs,
		Advice:       st.advice,
		Days:         days,
		Summary:      summary,
		Form:         st.form,
		FormError:    st.formErr,
		Submitting:   st.submitting,
		Loaded:       st.loaded,
		Loading:      st.loading,
		LastError:    st.lastErr,
	}
}

// Chart returns the daily series of the current snapshot.
func (d *Dashboard) Chart() ChartData {
	v := d.Snapshot()
	chart := ChartData{
		Title:  ChartTitle,
		Labels: make([]string, 0, len(v.Days)),
		Datasets: []ChartDataset{
			{Label: "Revenue", Data: make([]json.Number, 0, len(v.Days))},
			{Label: "Expenses", Data: make([]json.Number, 0, len(v.Days))},
		},
	}
	for _, p := range v.Days {
		chart.Labels = append(chart.Labels, p.Day)
		chart.Datasets[0].Data = append(chart.Datasets[0].Data, json.Number(core.FormatPlain(p.Revenue)))
		chart.Datasets[1].Data = append(chart.Datasets[1].Data, json.Number(core.FormatPlain(p.Expenses)))
	}
	return chart
}

// Submit sends draft to the remote API. The draft becomes the form state
// first, so a rejected submission is shown back as typed. On success the
// confirmed transaction is appended to the list and the form is reset.
func (d *Dashboard) Submit(ctx context.Context, draft core.Draft) (core.Transaction, error) {
	draft.Description = strings.TrimSpace(draft.Description)
	if draft.Type == "" {
		draft.Type = core.Revenue
	}

	validationErr := draft.Validate()
	err := d.do(ctx, func() {
		d.form = draft
		d.formErr = ""
		if validationErr != nil {
			d.formErr = validationErr.Error()
		} else {
			d.submits++
		}
		d.publishState()
	})
	if err != nil {
		return core.Transaction{}, err
	}
	if validationErr != nil {
		return core.Transaction{}, validationErr
	}

	tx, createErr := d.source.CreateTransaction(ctx, draft)
	if createErr != nil {
		d.reporter.ReportFailure(ctx, remote.NewFailure(d.view, remote.EndpointTransactions, d.Range(), createErr))
	}

	err = d.do(context.WithoutCancel(ctx), func() {
		d.submits--
		if createErr != nil {
			d.formErr = submitErrorMessage(createErr)
			d.publishState()
			return
		}
		d.txs.Update(func(txs []core.Transaction) []core.Transaction {
			out := make([]core.Transaction, 0, len(txs)+1)
			return append(append(out, txs...), tx)
		})
		d.form = core.NewDraft(d.now())
		d.formErr = ""
		d.publishState()
	})
	if createErr != nil {
		return core.Transaction{}, createErr
	}
	if err != nil {
		return tx, err
	}

	d.logger.InfoContext(ctx, "Transaction recorded",
		log.NewFields().
			WithTransaction(tx.ID.String(), string(tx.Type), core.FormatPlain(tx.Amount), tx.Description).
			ToSlice()...)

	if d.publisher != nil {
		if err := d.publisher.PublishTransactionRecorded(ctx, tx); err != nil {
			d.logger.WarnContext(ctx, "Failed to publish transaction recorded event",
				log.FieldTxID, tx.ID.String(),
				log.FieldError, err,
				log.FieldOperation, log.OpPublish)
		}
	}
	return tx, nil
}

func submitErrorMessage(err error) string {
	var fe *remote.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case remote.KindStatus:
			return "The server rejected the transaction: " + fe.Err.Error()
		case remote.KindDecode:
			return "The server response could not be read."
		default:
			return "The server could not be reached. Please try again."
		}
	}
	return err.Error()
}
