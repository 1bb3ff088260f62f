// Package testutil provides an in-memory store for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/repository"
	"github.com/shopspring/decimal"
)

// MemoryStore mirrors repository.Repository in memory, including the
// conditional semantics of AdvanceIfCurrent.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	definitions  map[int64]*models.RecurringDefinition
	transactions []models.Transaction
	accounts     []models.Account
	users        map[int64]models.User
	forecastDays map[int64]map[string]models.ForecastDay
	overrides    map[int64]map[string]decimal.Decimal

	// InsertErr makes InsertTransaction and ConfirmTransaction fail while set.
	InsertErr error
	// BeforeNextAdvance runs once, outside the lock, at the start of the next
	// AdvanceIfCurrent call. Tests use it to simulate a competing writer.
	BeforeNextAdvance func()
	// AdvanceCalls counts AdvanceIfCurrent invocations.
	AdvanceCalls int
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions:  make(map[int64]*models.RecurringDefinition),
		users:        make(map[int64]models.User),
		forecastDays: make(map[int64]map[string]models.ForecastDay),
		overrides:    make(map[int64]map[string]decimal.Decimal),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddDefinition stores def as is, assigning an ID when it has none
func (m *MemoryStore) AddDefinition(def models.RecurringDefinition) models.RecurringDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.ID == 0 {
		def.ID = m.id()
	}
	stored := def
	m.definitions[def.ID] = &stored
	return def
}

// Definition returns the stored state of a definition
func (m *MemoryStore) Definition(id int64) (models.RecurringDefinition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return models.RecurringDefinition{}, false
	}
	return *def, true
}

// AddAccount registers a spending account
func (m *MemoryStore) AddAccount(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	m.accounts = append(m.accounts, a)
}

// AddUser registers a user
func (m *MemoryStore) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// AddTransaction posts a transaction directly to the ledger
func (m *MemoryStore) AddTransaction(t models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	m.transactions = append(m.transactions, t)
}

// Transactions returns every ledger record
func (m *MemoryStore) Transactions() []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Transaction(nil), m.transactions...)
}

// StoredForecast returns the persisted forecast days of an owner, ascending
func (m *MemoryStore) StoredForecast(ownerID int64) []models.ForecastDay {
	m.mu.Lock()
	defer m.mu.Unlock()
	var days []models.ForecastDay
	for _, d := range m.forecastDays[ownerID] {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

func (m *MemoryStore) CreateDefinition(_ context.Context, def *models.RecurringDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def.ID = m.id()
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt
	stored := *def
	m.definitions[def.ID] = &stored
	return nil
}

func (m *MemoryStore) GetDefinition(_ context.Context, ownerID, id int64) (*models.RecurringDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok || def.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	out := *def
	return &out, nil
}

func (m *MemoryStore) ListActiveDefinitions(_ context.Context, ownerID int64) ([]models.RecurringDefinition, error) {
	return m.filter(func(d *models.RecurringDefinition) bool {
		return d.OwnerID == ownerID && d.IsActive
	}), nil
}

func (m *MemoryStore) ListDueDefinitions(_ context.Context, ownerID int64, asOf time.Time) ([]models.RecurringDefinition, error) {
	return m.filter(func(d *models.RecurringDefinition) bool {
		return d.OwnerID == ownerID && d.IsActive && !d.NextOccurrence.After(asOf)
	}), nil
}

func (m *MemoryStore) filter(keep func(*models.RecurringDefinition) bool) []models.RecurringDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var defs []models.RecurringDefinition
	for _, d := range m.definitions {
		if keep(d) {
			defs = append(defs, *d)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

func (m *MemoryStore) SetDefinitionActive(_ context.Context, ownerID, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok || def.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	def.IsActive = active
	return nil
}

func (m *MemoryStore) AdvanceIfCurrent(_ context.Context, ownerID, id int64, adv models.ScheduleAdvance) error {
	m.mu.Lock()
	hook := m.BeforeNextAdvance
	m.BeforeNextAdvance = nil
	m.AdvanceCalls++
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok || def.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	if adv.RequireActive && !def.IsActive {
		return repository.ErrInactive
	}
	if !def.NextOccurrence.Equal(adv.ExpectedNext) {
		return repository.ErrStaleOccurrence
	}
	def.NextOccurrence = adv.NextOccurrence
	def.LastOccurrence = adv.LastOccurrence
	def.LastReceived = adv.LastReceived
	return nil
}

func (m *MemoryStore) ListOwnersWithActiveDefinitions(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	var owners []int64
	for _, d := range m.definitions {
		if d.IsActive && !seen[d.OwnerID] {
			seen[d.OwnerID] = true
			owners = append(owners, d.OwnerID)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	t.ID = m.id()
	t.CreatedAt = time.Now()
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *MemoryStore) FindProvisionalTransaction(_ context.Context, ownerID, definitionID int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Transaction
	for i := range m.transactions {
		t := &m.transactions[i]
		if t.OwnerID != ownerID || t.SourceRecurringID == nil || *t.SourceRecurringID != definitionID {
			continue
		}
		if !t.IsProvisional || t.IsConfirmed {
			continue
		}
		if found == nil || t.Date.Before(found.Date) {
			found = t
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	out := *found
	return &out, nil
}

func (m *MemoryStore) ConfirmTransaction(_ context.Context, ownerID, id int64, date time.Time, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	for i := range m.transactions {
		t := &m.transactions[i]
		if t.ID == id && t.OwnerID == ownerID && t.IsProvisional {
			t.Date = date
			t.Amount = amount
			t.IsProvisional = false
			t.IsConfirmed = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *MemoryStore) ListTransactions(_ context.Context, ownerID int64, from, to time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var txs []models.Transaction
	for _, t := range m.transactions {
		if t.OwnerID == ownerID && !t.Date.Before(from) && !t.Date.After(to) {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

func (m *MemoryStore) ListActiveSpendingAccounts(_ context.Context, ownerID int64) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var accounts []models.Account
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (m *MemoryStore) ReplaceForecastDays(_ context.Context, ownerID int64, days []models.ForecastDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.forecastDays[ownerID]
	if !ok {
		stored = make(map[string]models.ForecastDay)
		m.forecastDays[ownerID] = stored
	}
	for _, d := range days {
		stored[models.DateKey(d.Date)] = d
	}
	return nil
}

func (m *MemoryStore) DeleteForecastRange(_ context.Context, ownerID int64, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range m.forecastDays[ownerID] {
		if !d.Date.Before(from) && !d.Date.After(to) {
			delete(m.forecastDays[ownerID], k)
		}
	}
	return nil
}

func (m *MemoryStore) ListManualOverrides(_ context.Context, ownerID int64, from, to time.Time) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	fromKey, toKey := models.DateKey(from), models.DateKey(to)
	for k, v := range m.overrides[ownerID] {
		if k >= fromKey && k <= toKey {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) SetManualOverride(_ context.Context, ownerID int64, date time.Time, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides[ownerID] == nil {
		m.overrides[ownerID] = make(map[string]decimal.Decimal)
	}
	m.overrides[ownerID][models.DateKey(date)] = amount
	return nil
}

func (m *MemoryStore) DeleteManualOverride(_ context.Context, ownerID int64, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides[ownerID], models.DateKey(date))
	return nil
}
