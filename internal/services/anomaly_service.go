package services

import (
	"context"
	"errors"
	"fmt"

	"collectbook/internal/anomaly"
	"collectbook/internal/core"
	"collectbook/internal/log"
	"collectbook/internal/ports"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// AnomalyStore is what anomaly checks read from and write to.
type AnomalyStore interface {
	ports.TotalsReader
	ports.AlertStore
	ListCustomers(ctx context.Context) ([]core.Customer, error)
	ListSites(ctx context.Context) ([]core.Site, error)
}

// Report is the outcome of checking one scope and period.
type Report struct {
	Scope     ports.Scope      `json:"scope"`
	Period    core.Period      `json:"period"`
	Current   decimal.Decimal  `json:"current"`
	LastMonth *decimal.Decimal `json:"last_month,omitempty"`
	LastYear  *decimal.Decimal `json:"last_year,omitempty"`
	Result    anomaly.Result   `json:"result"`

	// empty is true when neither the period nor its baselines had any collections
	empty bool
}

type AnomalyService struct {
	store    AnomalyStore
	detector *anomaly.Detector
	logger   *log.Logger
	events   *log.StructuredLogger
}

func NewAnomalyService(store AnomalyStore, detector *anomaly.Detector, logger *log.Logger) *AnomalyService {
	if detector == nil {
		detector = anomaly.NewDetector(anomaly.DefaultThresholds())
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentAnomaly)
	return &AnomalyService{
		store:    store,
		detector: detector,
		logger:   logger,
		events:   log.NewStructuredLogger(logger),
	}
}

// Check loads the period total and both baselines and classifies the total.
// A baseline period without collections counts as absent.
func (s *AnomalyService) Check(ctx context.Context, scope ports.Scope, period core.Period) (Report, error) {
	if err := period.Validate(); err != nil {
		return Report{}, err
	}

	var current, lastMonth, lastYear core.PeriodTotal
	g, gctx := errgroup.WithContext(ctx)
	load := func(dst *core.PeriodTotal, p core.Period) {
		g.Go(func() error {
			t, err := s.store.PeriodTotal(gctx, scope, p)
			if err != nil {
				return err
			}
			*dst = t
			return nil
		})
	}
	load(&current, period)
	load(&lastMonth, period.Previous())
	load(&lastYear, period.SameMonthLastYear())
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("load totals for %s %s: %w", scope, period, err)
	}

	r := Report{
		Scope:     scope,
		Period:    period,
		Current:   current.Total,
		LastMonth: baseline(lastMonth),
		LastYear:  baseline(lastYear),
		empty:     current.Count == 0 && lastMonth.Count == 0 && lastYear.Count == 0,
	}
	r.Result = s.detector.Detect(r.Current, r.LastMonth, r.LastYear)
	return r, nil
}

func baseline(t core.PeriodTotal) *decimal.Decimal {
	if t.Count == 0 {
		return nil
	}
	total := t.Total
	return &total
}

// CheckAndRecord runs Check and brings the stored alert for scope and period
// in line with the result: an anomaly replaces any earlier alert, while a
// normal result or a scope with no collections in the period and both
// baselines removes it.
func (s *AnomalyService) CheckAndRecord(ctx context.Context, scope ports.Scope, period core.Period) (Report, error) {
	r, err := s.Check(ctx, scope, period)
	if err != nil {
		return Report{}, err
	}
	return r, s.record(ctx, r)
}

func (s *AnomalyService) record(ctx context.Context, r Report) error {
	if r.empty || !r.Result.Anomaly {
		if err := s.store.DeleteAlert(ctx, r.Scope, r.Period); err != nil {
			return fmt.Errorf("clear alert: %w", err)
		}
		return nil
	}

	s.events.LogAnomaly(ctx, r.Scope.String(), r.Period.String(), string(r.Result.Level), r.Result.Reason)

	_, err := s.store.SaveAlert(ctx, ports.Alert{
		Scope:         r.Scope,
		Period:        r.Period,
		Level:         r.Result.Level,
		Reason:        r.Result.Reason,
		Current:       r.Current,
		PercentChange: r.Result.PercentChange,
	})
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// ScanPeriod checks the overall total, every customer and every site for period.
// Scopes with no collections in the period or its baselines are not
// reported. Stored alerts are refreshed for every scope, as CheckAndRecord
// does. It returns the anomalous reports; failures of single scopes are joined.
func (s *AnomalyService) ScanPeriod(ctx context.Context, period core.Period) ([]Report, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	scopes := make([]ports.Scope, 0, 1+len(customers)+len(sites))
	scopes = append(scopes, ports.Scope{})
	for _, c := range customers {
		scopes = append(scopes, ports.Scope{CustomerID: c.ID})
	}
	for _, st := range sites {
		scopes = append(scopes, ports.Scope{SiteID: st.ID})
	}

	var (
		found []Report
		errs  []error
	)
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		r, err := s.Check(ctx, scope, period)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.record(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		if r.empty || !r.Result.Anomaly {
			continue
		}
		found = append(found, r)
	}

	s.logger.InfoContext(ctx, "Anomaly scan finished",
		log.FieldOperation, log.OpScan,
		log.FieldPeriod, period.String(),
		"scopes", len(scopes),
		"anomalies", len(found),
		"failures", len(errs))

	return found, errors.Join(errs...)
}

// Alerts lists stored alerts, newest first.
func (s *AnomalyService) Alerts(ctx context.Context, limit int) ([]ports.Alert, error) {
	return s.store.ListAlerts(ctx, limit)
}
