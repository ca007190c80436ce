package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayKeyLayout is the calendar-day key used to bucket transactions.
const DayKeyLayout = "2006-01-02"

// DayTotals holds the revenue and expenses recorded on one calendar day.
type DayTotals struct {
	Revenue  decimal.Decimal
	Expenses decimal.Decimal
}

// DailyAggregate maps calendar-day keys to totals. Keys keep the order in
// which each day was first seen, which is also the chart axis order.
type DailyAggregate struct {
	keys []string
	days map[string]DayTotals
}

// Keys returns the day keys in first-seen order.
func (a DailyAggregate) Keys() []string {
	return append([]string(nil), a.keys...)
}

func (a DailyAggregate) Get(key string) (DayTotals, bool) {
	d, ok := a.days[key]
	return d, ok
}

func (a DailyAggregate) Len() int {
	return len(a.keys)
}

func (a *DailyAggregate) add(key string, t TransactionType, amount decimal.Decimal) {
	if a.days == nil {
		a.days = make(map[string]DayTotals)
	}
	d, ok := a.days[key]
	if !ok {
		a.keys = append(a.keys, key)
	}
	if t == Revenue {
		d.Revenue = d.Revenue.Add(amount)
	} else {
		d.Expenses = d.Expenses.Add(amount)
	}
	a.days[key] = d
}

// Summary holds scalar totals over a transaction set.
type Summary struct {
	TotalRevenue  decimal.Decimal
	TotalExpenses decimal.Decimal
	Profit        decimal.Decimal
}

// DayKey returns the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayKeyLayout)
}

// Aggregate buckets transactions by UTC calendar day.
func Aggregate(txs []Transaction) (DailyAggregate, Summary) {
	return AggregateIn(txs, time.UTC)
}

// AggregateIn derives the daily series and totals for txs, bucketing by the
// calendar day in loc. Transactions with an unknown type are skipped. The
// input slice is not modified.
func AggregateIn(txs []Transaction, loc *time.Location) (DailyAggregate, Summary) {
	var (
		daily DailyAggregate
		sum   Summary
	)
	for _, tx := range txs {
		if !tx.Type.IsValid() {
			continue
		}
		daily.add(DayKey(tx.Date, loc), tx.Type, tx.Amount)
		if tx.Type == Revenue {
			sum.TotalRevenue = sum.TotalRevenue.Add(tx.Amount)
		} else {
			sum.TotalExpenses = sum.TotalExpenses.Add(tx.Amount)
		}
	}
	sum.Profit = sum.TotalRevenue.Sub(sum.TotalExpenses)
	return daily, sum
}
