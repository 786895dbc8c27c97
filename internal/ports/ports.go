// Package ports declares the outbound interfaces the services depend on.
// The sqlite and memory stores both implement Store.
package ports

import (
	"context"
	"time"

	"collectbook/internal/anomaly"
	"collectbook/internal/core"

	"github.com/shopspring/decimal"
)

type (
	// Scope narrows a total to one customer and/or one site. Zero means any.
	Scope struct {
		CustomerID int64 `json:"customer_id,omitempty"`
		SiteID     int64 `json:"site_id,omitempty"`
	}

	// CollectionFilter selects collection records. Zero values match everything.
	CollectionFilter struct {
		Scope
		ContractID int64
		Period     *core.Period
		Limit      int
	}

	// SiteImport summarises one uploaded site file.
	SiteImport struct {
		ID        int64     `json:"id"`
		SiteID    int64     `json:"site_id"`
		FileName  string    `json:"file_name"`
		Rows      int       `json:"rows"`
		Imported  int       `json:"imported"`
		Failed    int       `json:"failed"`
		Errors    []string  `json:"errors,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Alert is a persisted anomaly for a scope and period.
	Alert struct {
		ID            int64            `json:"id"`
		Scope         Scope            `json:"scope"`
		Period        core.Period      `json:"period"`
		Level         anomaly.Level    `json:"level"`
		Reason        string           `json:"reason"`
		Current       decimal.Decimal  `json:"current"`
		PercentChange *decimal.Decimal `json:"percent_change,omitempty"`
		CreatedAt     time.Time        `json:"created_at"`
	}
)

func (s Scope) String() string {
	switch {
	case s.CustomerID != 0 && s.SiteID != 0:
		return "customer+site"
	case s.CustomerID != 0:
		return "customer"
	case s.SiteID != 0:
		return "site"
	default:
		return "all"
	}
}

type (
	CustomerStore interface {
		CreateCustomer(ctx context.Context, c core.Customer) (core.Customer, error)
		GetCustomer(ctx context.Context, id int64) (core.Customer, error)
		ListCustomers(ctx context.Context) ([]core.Customer, error)
		UpdateCustomer(ctx context.Context, c core.Customer) error
		DeleteCustomer(ctx context.Context, id int64) error
	}

	SiteStore interface {
		CreateSite(ctx context.Context, s core.Site) (core.Site, error)
		GetSite(ctx context.Context, id int64) (core.Site, error)
		ListSites(ctx context.Context) ([]core.Site, error)
	}

	ContractStore interface {
		CreateContract(ctx context.Context, c core.Contract) (core.Contract, error)
		GetContract(ctx context.Context, id int64) (core.Contract, error)
		GetContractByNumber(ctx context.Context, number string) (core.Contract, error)
		ListContracts(ctx context.Context, customerID int64) ([]core.Contract, error)
		UpdateContract(ctx context.Context, c core.Contract) error
		DeleteContract(ctx context.Context, id int64) error
	}

	CollectionStore interface {
		CreateCollection(ctx context.Context, r core.CollectionRecord) (core.CollectionRecord, error)
		GetCollection(ctx context.Context, id int64) (core.CollectionRecord, error)
		ListCollections(ctx context.Context, f CollectionFilter) ([]core.CollectionRecord, error)
		DeleteCollection(ctx context.Context, id int64) error
		// CollectedForContract returns the exact sum collected against a contract.
		CollectedForContract(ctx context.Context, contractID int64) (decimal.Decimal, error)
	}

	// TotalsReader provides period aggregates for anomaly detection.
	TotalsReader interface {
		PeriodTotal(ctx context.Context, scope Scope, period core.Period) (core.PeriodTotal, error)
	}

	ImportStore interface {
		SaveImport(ctx context.Context, imp SiteImport) (SiteImport, error)
		ListImports(ctx context.Context, siteID int64) ([]SiteImport, error)
	}

	AlertStore interface {
		// SaveAlert replaces any alert already stored for the same scope and period.
		SaveAlert(ctx context.Context, a Alert) (Alert, error)
		ListAlerts(ctx context.Context, limit int) ([]Alert, error)
		// DeleteAlert removes the alert for scope and period. A missing alert is not an error.
		DeleteAlert(ctx context.Context, scope Scope, period core.Period) error
	}

	// Store is everything a backend provides.
	Store interface {
		CustomerStore
		SiteStore
		ContractStore
		CollectionStore
		TotalsReader
		ImportStore
		AlertStore
		Close() error
	}
)
