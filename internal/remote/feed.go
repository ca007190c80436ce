package remote

import "accusim/internal/core"

// Outcome is the effect a resolved response had on its Feed.
type Outcome int

const (
	// OutcomeApplied means the value replaced the latest result.
	OutcomeApplied Outcome = iota
	// OutcomeStale means a newer request was issued first; the value was dropped.
	OutcomeStale
	// OutcomeFailed means the request failed; the latest result is unchanged.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ticket identifies one issued request.
type Ticket struct {
	Generation uint64
	Range      core.DateRange
}

// Feed holds the latest result for one endpoint. Only the response to the most
// recently issued request may replace it, so an older response arriving late
// cannot overwrite a newer one. A Feed is not safe for concurrent use; it is
// owned by a single view model loop.
type Feed[T any] struct {
	endpoint    Endpoint
	issued      uint64
	inFlight    int
	latest      T
	latestRange core.DateRange
	loaded      bool
	lastErr     error
}

func NewFeed[T any](endpoint Endpoint, initial T) *Feed[T] {
	return &Feed[T]{endpoint: endpoint, latest: initial}
}

func (f *Feed[T]) Endpoint() Endpoint {
	return f.endpoint
}

// Issue records a new request for rng and returns its ticket.
func (f *Feed[T]) Issue(rng core.DateRange) Ticket {
	f.issued++
	f.inFlight++
	return Ticket{Generation: f.issued, Range: rng}
}

// Resolve applies the response for t.
func (f *Feed[T]) Resolve(t Ticket, value T, err error) Outcome {
	if f.inFlight > 0 {
		f.inFlight--
	}
	if t.Generation != f.issued {
		return OutcomeStale
	}
	if err != nil {
		f.lastErr = err
		return OutcomeFailed
	}
	f.latest = value
	f.latestRange = t.Range
	f.loaded = true
	f.lastErr = nil
	return OutcomeApplied
}

// Latest returns the current value and whether any response has been applied.
// Before the first applied response it returns the initial value.
func (f *Feed[T]) Latest() (T, bool) {
	return f.latest, f.loaded
}

// Update replaces the latest value in place without issuing a request.
func (f *Feed[T]) Update(fn func(T) T) {
	f.latest = fn(f.latest)
}

// LatestRange is the range the applied value was fetched for.
func (f *Feed[T]) LatestRange() core.DateRange {
	return f.latestRange
}

// LastError is the error of the newest request if it failed, nil otherwise.
func (f *Feed[T]) LastError() error {
	return f.lastErr
}

// InFlight reports how many issued requests have not been resolved.
func (f *Feed[T]) InFlight() int {
	return f.inFlight
}

func (f *Feed[T]) Generation() uint64 {
	return f.issued
}
