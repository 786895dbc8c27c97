package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collectbook/internal/amqp"
	"collectbook/internal/core"
	"collectbook/internal/log"
	"collectbook/internal/ports"
	"collectbook/internal/services"
	"collectbook/internal/sheets"
)

// CollectionReader loads the record behind an event for export.
type CollectionReader interface {
	GetCollection(ctx context.Context, id int64) (core.CollectionRecord, error)
}

// AnomalyWorker reacts to collection events by re-checking the affected
// scopes, and mirrors newly recorded collections to a sheet.
type AnomalyWorker struct {
	anomalies *services.AnomalyService
	records   CollectionReader
	exporter  sheets.CollectionExporter
	logger    *log.Logger
	now       func() time.Time
}

// NewAnomalyWorker creates a worker. exporter may be nil.
func NewAnomalyWorker(anomalies *services.AnomalyService, records CollectionReader, exporter sheets.CollectionExporter, logger *log.Logger) *AnomalyWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AnomalyWorker{
		anomalies: anomalies,
		records:   records,
		exporter:  exporter,
		logger:    logger.WithComponent(log.ComponentWorker),
		now:       time.Now,
	}
}

// HandleCollectionEvent processes a single collection event from AMQP.
// Checks are idempotent, so a redelivered event only refreshes alerts.
func (w *AnomalyWorker) HandleCollectionEvent(ctx context.Context, ev *amqp.CollectionEvent) error {
	period := ev.Period()

	w.logger.InfoContext(ctx, "Processing collection event",
		"type", ev.Type,
		log.FieldCollectionID, ev.ID,
		log.FieldCustomerID, ev.CustomerID,
		log.FieldSiteID, ev.SiteID,
		log.FieldPeriod, period.String())

	scopes := []ports.Scope{{CustomerID: ev.CustomerID}}
	if ev.SiteID != 0 {
		scopes = append(scopes, ports.Scope{SiteID: ev.SiteID})
	}
	scopes = append(scopes, ports.Scope{})

	// the event's period is also a baseline for later periods that have started
	current := w.currentPeriod()
	periods := []core.Period{period}
	for _, dep := range period.Dependents() {
		if !dep.After(current) {
			periods = append(periods, dep)
		}
	}

	var errs []error
	for _, p := range periods {
		for _, scope := range scopes {
			if _, err := w.anomalies.CheckAndRecord(ctx, scope, p); err != nil {
				errs = append(errs, fmt.Errorf("check %s scope for %s: %w", scope, p, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if ev.Type == amqp.EventCollectionRecorded {
		return w.export(ctx, ev.ID)
	}
	return nil
}

func (w *AnomalyWorker) export(ctx context.Context, id int64) error {
	if w.exporter == nil {
		return nil
	}

	rec, err := w.records.GetCollection(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		w.logger.WarnContext(ctx, "Collection deleted before export, skipping",
			log.FieldCollectionID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	ref, err := w.exporter.AppendCollection(ctx, rec)
	if err != nil {
		return fmt.Errorf("export collection: %w", err)
	}

	w.logger.InfoContext(ctx, "Exported collection to sheet",
		log.FieldOperation, log.OpExport,
		log.FieldCollectionID, id,
		"ref", ref)
	return nil
}

// ScanCurrentPeriod re-checks every scope for the current month. It is the
// backstop for events that were never published or were lost.
func (w *AnomalyWorker) ScanCurrentPeriod(ctx context.Context) ([]services.Report, error) {
	return w.anomalies.ScanPeriod(ctx, w.currentPeriod())
}

func (w *AnomalyWorker) currentPeriod() core.Period {
	now := w.now().UTC()
	return core.Period{Year: now.Year(), Month: int(now.Month())}
}
