package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"accusim/internal/core"
	"accusim/internal/log"
	"accusim/internal/remote"
	"accusim/internal/storage"
	"accusim/internal/viewmodel"
)

const (
	maxFormBytes  = 64 << 10
	statusEntries = 20
)

var viewTitles = map[string]string{
	viewmodel.ViewDashboard:       "Dashboard",
	viewmodel.ViewIncomeStatement: "Income Statement",
	viewmodel.ViewAudit:           "Audit",
}

// viewData is handed to the "view" template: the range form plus the
// snapshot of one view model.
type viewData struct {
	View  string
	Title string
	Start string
	End   string
	Model any
}

type viewStatus struct {
	View    string
	Title   string
	Loading bool
	Error   string
}

type statusData struct {
	Enabled  bool
	Failures []storage.Entry
	Error    string
	Views    []viewStatus
	Security SecurityCounters
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money": core.FormatAmount,
		"tone":  func(sev core.Severity) string { return sev.Tone() },
		"sign":  func(t core.TransactionType) string { return t.Sign() },
		"day": func(t time.Time) string {
			return core.DayKey(t, s.loc)
		},
		"dateInput": func(t time.Time) string {
			return t.In(s.loc).Format(DateInputLayout)
		},
		"stamp": func(t time.Time) string {
			return t.In(s.loc).Format("2006-01-02 15:04:05")
		},
		"ago":      humanize.Time,
		"negative": func(d decimal.Decimal) bool { return d.IsNegative() },
		"errText": func(err error) string {
			if err == nil {
				return ""
			}
			return err.Error()
		},
	}
}

// snapshot builds the template data of the named view.
func (s *Server) snapshot(view string) (viewData, bool) {
	data := viewData{View: view, Title: viewTitles[view]}
	var rng core.DateRange
	switch view {
	case viewmodel.ViewDashboard:
		v := s.views.Dashboard.Snapshot()
		rng, data.Model = v.Range, v
	case viewmodel.ViewIncomeStatement:
		v := s.views.IncomeStatement.Snapshot()
		rng, data.Model = v.Range, v
	case viewmodel.ViewAudit:
		v := s.views.Audit.Snapshot()
		rng, data.Model = v.Range, v
	default:
		return viewData{}, false
	}
	data.Start = formatDateInput(rng.Start, s.loc)
	data.End = formatDateInput(rng.End, s.loc)
	return data, true
}

func (s *Server) render(ctx context.Context, name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Template execution failed",
			"template", name,
			log.FieldError, err,
			log.FieldOperation, log.OpRender)
		return nil, err
	}
	return buf.Bytes(), nil
}

// handlePage renders the full page of view.
func (s *Server) handlePage(view string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := s.snapshot(view)
		body, err := s.render(r.Context(), "layout", data)
		if err != nil {
			http.Error(w, "Template error", http.StatusInternalServerError)
			return
		}
		NewHTMXResponse().BodyHTML(body).Write(w)
	}
}

// handlePartial renders the body of one view for an htmx swap.
func (s *Server) handlePartial(w http.ResponseWriter, r *http.Request) {
	data, ok := s.snapshot(chi.URLParam(r, "view"))
	if !ok {
		NotFoundError("Unknown view").Write(w)
		return
	}
	body, err := s.render(r.Context(), "view", data)
	if err != nil {
		InternalServerError("Could not render view").Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

// handleRange applies one bound of the date range, waits a bounded time for
// the refetch to settle and renders the view.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	view := chi.URLParam(r, "view")

	ctl, ok := s.views.View(view)
	if !ok {
		NotFoundError("Unknown view").Write(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid form data").Write(w)
		return
	}
	update, err := ParseRangeUpdate(r.PostForm, s.loc)
	if err != nil {
		logger.WarnContext(ctx, "Invalid range update",
			log.FieldView, view,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation)
		BadRequestError(err.Error()).Write(w)
		return
	}

	if update.Field == "start" {
		err = ctl.SetStart(ctx, update.Value)
	} else {
		err = ctl.SetEnd(ctx, update.Value)
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update range", log.FieldView, view, log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "The view is not available").Write(w)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.settle)
	defer cancel()
	if err := ctl.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.WarnContext(ctx, "Waiting for view refresh failed", log.FieldView, view, log.FieldError, err)
	}

	data, _ := s.snapshot(view)
	body, err := s.render(ctx, "view", data)
	if err != nil {
		InternalServerError("Could not render view").Write(w)
		return
	}
	NewHTMXResponse().
		TriggerRangeChanged(view, data.Start, data.End).
		BodyHTML(body).
		Write(w)
}

// handleCreateTransaction submits the dashboard form and re-renders the
// dashboard with either the reset form or the rejected draft.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid form data").Write(w)
		return
	}
	draft, err := ParseDraftForm(r.PostForm, s.loc, time.Now())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	tx, err := s.views.Dashboard.Submit(ctx, draft)

	resp := NewHTMXResponse()
	switch {
	case err == nil:
		resp.TriggerTransactionCreated(tx.ID.String(), string(tx.Type)).
			TriggerFormReset().
			TriggerSuccessNotification("Transaction recorded")
	case errors.Is(err, viewmodel.ErrStopped):
		ErrorResponse(http.StatusServiceUnavailable, "The dashboard is not available").Write(w)
		return
	case remote.KindOf(err) != "":
		logger.WarnContext(ctx, "Transaction rejected by remote API",
			log.FieldError, err,
			log.FieldOperation, log.OpCreate)
		resp.Status(http.StatusBadGateway).TriggerErrorNotification("Transaction could not be recorded")
	default:
		logger.InfoContext(ctx, "Invalid transaction draft",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation)
		resp.Status(http.StatusUnprocessableEntity)
	}

	data, _ := s.snapshot(viewmodel.ViewDashboard)
	body, renderErr := s.render(ctx, "view", data)
	if renderErr != nil {
		InternalServerError("Could not render view").Write(w)
		return
	}
	resp.BodyHTML(body).Write(w)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(s.views.Dashboard.Chart())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode chart", log.FieldError, err)
		http.Error(w, "chart unavailable", http.StatusInternalServerError)
		return
	}
	NewHTMXResponse().
		Header("Content-Type", "application/json").
		Header("Cache-Control", "no-store").
		Body(payload).
		Write(w)
}

// handleStatus lists the latest journaled failures and the error state of
// every view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := statusData{
		Enabled: s.journal != nil,
		Views: []viewStatus{
			s.viewStatus(viewmodel.ViewDashboard),
			s.viewStatus(viewmodel.ViewIncomeStatement),
			s.viewStatus(viewmodel.ViewAudit),
		},
		Security: s.metrics.snapshot(),
	}
	if s.journal != nil {
		entries, err := s.journal.Recent(ctx, statusEntries)
		if err != nil {
			log.FromContext(ctx).ErrorContext(ctx, "Failed to read failure journal", log.FieldError, err)
			data.Error = "The failure journal could not be read."
		}
		data.Failures = entries
	}

	body, err := s.render(ctx, "status", data)
	if err != nil {
		InternalServerError("Could not render status").Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

func (s *Server) viewStatus(view string) viewStatus {
	st := viewStatus{View: view, Title: viewTitles[view]}
	var lastErr error
	switch view {
	case viewmodel.ViewDashboard:
		v := s.views.Dashboard.Snapshot()
		st.Loading, lastErr = v.Loading, v.LastError
	case viewmodel.ViewIncomeStatement:
		v := s.views.IncomeStatement.Snapshot()
		st.Loading, lastErr = v.Loading, v.LastError
	case viewmodel.ViewAudit:
		v := s.views.Audit.Snapshot()
		st.Loading, lastErr = v.Loading, v.LastError
	}
	if lastErr != nil {
		st.Error = lastErr.Error()
	}
	return st
}
