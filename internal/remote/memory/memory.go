// Package memory serves the remote bookkeeping API from process memory. It is
// used for local development and as a test double for the remote client.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"accusim/internal/core"
)

// Seed is the on-disk format of a seed file.
type Seed struct {
	Transactions []core.Transaction `json:"transactions"`
	Advice       []core.AdvisoryTip `json:"advice"`
	Audit        []core.AuditIssue  `json:"audit"`
}

type Store struct {
	mu     sync.Mutex
	items  []core.Transaction
	advice []core.AdvisoryTip
	audit  []core.AuditIssue
	newID  func() string
}

func New(seed Seed) *Store {
	s := &Store{
		advice: append([]core.AdvisoryTip(nil), seed.Advice...),
		audit:  append([]core.AuditIssue(nil), seed.Audit...),
		newID:  uuid.NewString,
	}
	for _, tx := range seed.Transactions {
		if tx.ID == "" {
			tx.ID = core.ID(s.newID())
		}
		s.items = append(s.items, tx)
	}
	return s
}

// NewFromFile loads a JSON seed. An empty path yields a store with default advice and no data.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(DefaultSeed()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return New(seed), nil
}

// DefaultSeed returns the canned advisor output used when no seed file is given.
func DefaultSeed() Seed {
	return Seed{
		Advice: []core.AdvisoryTip{
			{
				Message:    "Record every transaction on the day it happens.",
				Suggestion: "Daily entries keep the revenue and expense chart accurate.",
				Severity:   core.SeverityInfo,
			},
		},
	}
}

// Append stores a transaction and returns it with a server-assigned ID.
func (s *Store) Append(req core.CreateRequest) (core.Transaction, error) {
	if !req.Type.IsValid() {
		return core.Transaction{}, core.ErrInvalidType
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil || amount.IsNegative() {
		return core.Transaction{}, core.ErrInvalidAmount
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return core.Transaction{}, core.ErrEmptyDescription
	}
	date := req.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx := core.Transaction{
		ID:          core.ID(s.newID()),
		Type:        req.Type,
		Amount:      amount,
		Description: desc,
		Date:        date,
	}
	s.items = append(s.items, tx)
	return tx, nil
}

// Transactions returns a copy of the stored transactions within rng, in insertion order.
func (s *Store) Transactions(rng core.DateRange) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0, len(s.items))
	for _, tx := range s.items {
		if inRange(tx.Date, rng) {
			out = append(out, tx)
		}
	}
	return out
}

func (s *Store) IncomeStatement(rng core.DateRange) core.IncomeStatement {
	_, sum := core.Aggregate(s.Transactions(rng))
	return core.IncomeStatement{
		TotalRevenue:  sum.TotalRevenue,
		TotalExpenses: sum.TotalExpenses,
		NetIncome:     sum.Profit,
	}
}

func (s *Store) Advice() []core.AdvisoryTip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AdvisoryTip{}, s.advice...)
}

func (s *Store) Audit(rng core.DateRange) []core.AuditIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.AuditIssue{}
	for _, issue := range s.audit {
		if inRange(issue.Date, rng) {
			out = append(out, issue)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func inRange(t time.Time, rng core.DateRange) bool {
	if !rng.Bounded() {
		return true
	}
	return !t.Before(*rng.Start) && !t.After(*rng.End)
}

// Handler exposes the store over the same HTTP contract as the remote API.
func (s *Store) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/transactions", s.handleList)
		r.Post("/transactions", s.handleCreate)
		r.Get("/income-statement", s.handleIncomeStatement)
		r.Get("/advisor", s.handleAdvisor)
		r.Get("/audit", s.handleAudit)
	})
	return r
}

// storedTransaction mirrors the document shape of the remote store.
type storedTransaction struct {
	ID          core.ID              `json:"_id"`
	Type        core.TransactionType `json:"type"`
	Amount      json.Number          `json:"amount"`
	Description string               `json:"description"`
	Date        time.Time            `json:"date"`
}

type statementJSON struct {
	TotalRevenue  json.Number `json:"totalRevenue"`
	TotalExpenses json.Number `json:"totalExpenses"`
	NetIncome     json.Number `json:"netIncome"`
}

type auditIssueJSON struct {
	TransactionID core.ID              `json:"transactionId"`
	Issue         string               `json:"issue"`
	Description   string               `json:"description"`
	Type          core.TransactionType `json:"type"`
	Amount        json.Number          `json:"amount"`
	Date          time.Time            `json:"date"`
}

// number renders amounts as bare JSON numbers, the way the remote API does.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func toStored(tx core.Transaction) storedTransaction {
	return storedTransaction{
		ID:          tx.ID,
		Type:        tx.Type,
		Amount:      number(tx.Amount),
		Description: tx.Description,
		Date:        tx.Date,
	}
}

func (s *Store) handleList(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txs := s.Transactions(rng)
	out := make([]storedTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toStored(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Store) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req core.CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	tx, err := s.Append(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStored(tx))
}

func (s *Store) handleIncomeStatement(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st := s.IncomeStatement(rng)
	writeJSON(w, http.StatusOK, statementJSON{
		TotalRevenue:  number(st.TotalRevenue),
		TotalExpenses: number(st.TotalExpenses),
		NetIncome:     number(st.NetIncome),
	})
}

func (s *Store) handleAdvisor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Advice())
}

func (s *Store) handleAudit(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	issues := s.Audit(rng)
	out := make([]auditIssueJSON, 0, len(issues))
	for _, is := range issues {
		out = append(out, auditIssueJSON{
			TransactionID: is.TransactionID,
			Issue:         is.Issue,
			Description:   is.Description,
			Type:          is.Type,
			Amount:        number(is.Amount),
			Date:          is.Date,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// parseRange reads startDate/endDate. A lone bound is ignored, like the remote API does.
func parseRange(r *http.Request) (core.DateRange, error) {
	q := r.URL.Query()
	start, end := q.Get("startDate"), q.Get("endDate")
	if start == "" || end == "" {
		return core.DateRange{}, nil
	}
	st, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return core.DateRange{}, errors.New("invalid startDate")
	}
	en, err := time.Parse(time.RFC3339Nano, end)
	if err != nil {
		return core.DateRange{}, errors.New("invalid endDate")
	}
	return core.DateRange{}.SetStart(&st).SetEnd(&en), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
