// Package memory is an in-process ports.Store for development and tests.
// It enforces the same uniqueness and reference rules as the sqlite store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"collectbook/internal/core"
	"collectbook/internal/ports"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu          sync.Mutex
	nextID      int64
	now         func() time.Time
	customers   map[int64]core.Customer
	sites       map[int64]core.Site
	contracts   map[int64]core.Contract
	collections map[int64]core.CollectionRecord
	imports     []ports.SiteImport
	alerts      []ports.Alert
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		customers:   map[int64]core.Customer{},
		sites:       map[int64]core.Site{},
		contracts:   map[int64]core.Contract{},
		collections: map[int64]core.CollectionRecord{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateCustomer(_ context.Context, c core.Customer) (core.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.customers {
		if existing.Code == c.Code {
			return core.Customer{}, fmt.Errorf("%w: customer code %q", ports.ErrConflict, c.Code)
		}
	}
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.customers[c.ID] = c
	return c, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (core.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return core.Customer{}, fmt.Errorf("customer %d: %w", id, ports.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]core.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) UpdateCustomer(_ context.Context, c core.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.customers[c.ID]
	if !ok {
		return fmt.Errorf("customer %d: %w", c.ID, ports.ErrNotFound)
	}
	for id, existing := range s.customers {
		if id != c.ID && existing.Code == c.Code {
			return fmt.Errorf("%w: customer code %q", ports.ErrConflict, c.Code)
		}
	}
	c.CreatedAt = prev.CreatedAt
	s.customers[c.ID] = c
	return nil
}

func (s *Store) DeleteCustomer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return fmt.Errorf("customer %d: %w", id, ports.ErrNotFound)
	}
	for _, c := range s.contracts {
		if c.CustomerID == id {
			return fmt.Errorf("%w: customer %d has contracts", ports.ErrConflict, id)
		}
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) CreateSite(_ context.Context, site core.Site) (core.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sites {
		if existing.Code == site.Code {
			return core.Site{}, fmt.Errorf("%w: site code %q", ports.ErrConflict, site.Code)
		}
	}
	site.ID = s.id()
	site.CreatedAt = s.now()
	s.sites[site.ID] = site
	return site, nil
}

func (s *Store) GetSite(_ context.Context, id int64) (core.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return core.Site{}, fmt.Errorf("site %d: %w", id, ports.ErrNotFound)
	}
	return site, nil
}

func (s *Store) ListSites(_ context.Context) ([]core.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateContract(_ context.Context, c core.Contract) (core.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.CustomerID]; !ok {
		return core.Contract{}, fmt.Errorf("%w: unknown customer %d", ports.ErrConflict, c.CustomerID)
	}
	for _, existing := range s.contracts {
		if existing.Number == c.Number {
			return core.Contract{}, fmt.Errorf("%w: contract number %q", ports.ErrConflict, c.Number)
		}
	}
	c.ID = s.id()
	s.contracts[c.ID] = c
	return c, nil
}

func (s *Store) GetContract(_ context.Context, id int64) (core.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return core.Contract{}, fmt.Errorf("contract %d: %w", id, ports.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetContractByNumber(_ context.Context, number string) (core.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.Number == number {
			return c, nil
		}
	}
	return core.Contract{}, fmt.Errorf("contract %q: %w", number, ports.ErrNotFound)
}

func (s *Store) ListContracts(_ context.Context, customerID int64) ([]core.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Contract
	for _, c := range s.contracts {
		if customerID == 0 || c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) UpdateContract(_ context.Context, c core.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; !ok {
		return fmt.Errorf("contract %d: %w", c.ID, ports.ErrNotFound)
	}
	if _, ok := s.customers[c.CustomerID]; !ok {
		return fmt.Errorf("%w: unknown customer %d", ports.ErrConflict, c.CustomerID)
	}
	for id, existing := range s.contracts {
		if id != c.ID && existing.Number == c.Number {
			return fmt.Errorf("%w: contract number %q", ports.ErrConflict, c.Number)
		}
	}
	s.contracts[c.ID] = c
	return nil
}

func (s *Store) DeleteContract(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[id]; !ok {
		return fmt.Errorf("contract %d: %w", id, ports.ErrNotFound)
	}
	for _, r := range s.collections {
		if r.ContractID == id {
			return fmt.Errorf("%w: contract %d has collections", ports.ErrConflict, id)
		}
	}
	delete(s.contracts, id)
	return nil
}

func (s *Store) CreateCollection(_ context.Context, r core.CollectionRecord) (core.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[r.ContractID]; !ok {
		return core.CollectionRecord{}, fmt.Errorf("%w: unknown contract %d", ports.ErrConflict, r.ContractID)
	}
	if _, ok := s.customers[r.CustomerID]; !ok {
		return core.CollectionRecord{}, fmt.Errorf("%w: unknown customer %d", ports.ErrConflict, r.CustomerID)
	}
	if r.SiteID != 0 {
		if _, ok := s.sites[r.SiteID]; !ok {
			return core.CollectionRecord{}, fmt.Errorf("%w: unknown site %d", ports.ErrConflict, r.SiteID)
		}
	}
	r.ID = s.id()
	r.CreatedAt = s.now()
	s.collections[r.ID] = r
	return r, nil
}

func (s *Store) GetCollection(_ context.Context, id int64) (core.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.collections[id]
	if !ok {
		return core.CollectionRecord{}, fmt.Errorf("collection %d: %w", id, ports.ErrNotFound)
	}
	return r, nil
}

func matches(r core.CollectionRecord, scope ports.Scope, contractID int64, period *core.Period) bool {
	if scope.CustomerID != 0 && r.CustomerID != scope.CustomerID {
		return false
	}
	if scope.SiteID != 0 && r.SiteID != scope.SiteID {
		return false
	}
	if contractID != 0 && r.ContractID != contractID {
		return false
	}
	if period != nil && !period.Contains(r.CollectedOn) {
		return false
	}
	return true
}

func (s *Store) ListCollections(_ context.Context, f ports.CollectionFilter) ([]core.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CollectionRecord
	for _, r := range s.collections {
		if matches(r, f.Scope, f.ContractID, f.Period) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedOn.Equal(out[j].CollectedOn.Time) {
			return out[i].CollectedOn.After(out[j].CollectedOn.Time)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) DeleteCollection(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[id]; !ok {
		return fmt.Errorf("collection %d: %w", id, ports.ErrNotFound)
	}
	delete(s.collections, id)
	return nil
}

func (s *Store) CollectedForContract(_ context.Context, contractID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, r := range s.collections {
		if r.ContractID == contractID {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (s *Store) PeriodTotal(_ context.Context, scope ports.Scope, period core.Period) (core.PeriodTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := core.PeriodTotal{Period: period, Total: decimal.Zero}
	for _, r := range s.collections {
		if matches(r, scope, 0, &period) {
			out.Total = out.Total.Add(r.Amount)
			out.Count++
		}
	}
	return out, nil
}

func (s *Store) SaveImport(_ context.Context, imp ports.SiteImport) (ports.SiteImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[imp.SiteID]; !ok {
		return ports.SiteImport{}, fmt.Errorf("%w: unknown site %d", ports.ErrConflict, imp.SiteID)
	}
	imp.ID = s.id()
	imp.CreatedAt = s.now()
	imp.Errors = append([]string(nil), imp.Errors...)
	s.imports = append(s.imports, imp)
	return imp, nil
}

func (s *Store) ListImports(_ context.Context, siteID int64) ([]ports.SiteImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.SiteImport
	for i := len(s.imports) - 1; i >= 0; i-- {
		if s.imports[i].SiteID == siteID {
			out = append(out, s.imports[i])
		}
	}
	return out, nil
}

func (s *Store) SaveAlert(_ context.Context, a ports.Alert) (ports.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = s.now()
	for i, existing := range s.alerts {
		if existing.Scope == a.Scope && existing.Period == a.Period {
			a.ID = existing.ID
			// move to the end so listing stays newest first
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			s.alerts = append(s.alerts, a)
			return a, nil
		}
	}
	a.ID = s.id()
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *Store) DeleteAlert(_ context.Context, scope ports.Scope, period core.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = slices.DeleteFunc(s.alerts, func(a ports.Alert) bool {
		return a.Scope == scope && a.Period == period
	})
	return nil
}

func (s *Store) ListAlerts(_ context.Context, limit int) ([]ports.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.alerts[i])
	}
	return out, nil
}
