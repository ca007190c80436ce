package remote

import (
	"context"
	"errors"
	"time"

	"accusim/internal/core"
	"accusim/internal/log"
)

// Failure is what gets reported when a remote call fails.
type Failure struct {
	At       time.Time
	View     string
	Endpoint Endpoint
	Method   string
	URL      string
	Kind     ErrorKind
	Status   int
	Range    string
	Message  string
}

// NewFailure describes err as seen by view while rng was active.
func NewFailure(view string, endpoint Endpoint, rng core.DateRange, err error) Failure {
	f := Failure{
		At:       time.Now().UTC(),
		View:     view,
		Endpoint: endpoint,
		Range:    rng.Key(),
	}
	if err != nil {
		f.Message = err.Error()
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		f.Endpoint = fe.Endpoint
		f.Method = fe.Method
		f.URL = fe.URL
		f.Kind = fe.Kind
		f.Status = fe.Status
	}
	return f
}

// FailureReporter receives failures of remote calls. Implementations must not block for long.
type FailureReporter interface {
	ReportFailure(ctx context.Context, f Failure)
}

// LogReporter writes failures to the structured log.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogReporter{logger: logger.WithComponent(log.ComponentRemote)}
}

func (r *LogReporter) ReportFailure(ctx context.Context, f Failure) {
	errorType := log.ErrorTypeNetwork
	switch f.Kind {
	case KindStatus:
		errorType = log.ErrorTypeStatus
	case KindDecode:
		errorType = log.ErrorTypeDecode
	}
	fields := log.NewFields().WithFetch(string(f.Endpoint), f.URL, f.Range)
	fields[log.FieldView] = f.View
	fields[log.FieldMethod] = f.Method
	fields[log.FieldStatusCode] = f.Status
	fields[log.FieldErrorType] = errorType
	fields[log.FieldError] = f.Message
	r.logger.WarnContext(ctx, "Remote call failed", fields.ToSlice()...)
}

// MultiReporter fans a failure out to every reporter in order.
type MultiReporter []FailureReporter

func (m MultiReporter) ReportFailure(ctx context.Context, f Failure) {
	for _, r := range m {
		if r != nil {
			r.ReportFailure(ctx, f)
		}
	}
}
