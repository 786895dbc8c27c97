package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"collectbook/internal/amqp"
	"collectbook/internal/core"
	"collectbook/internal/ports"
)

// EventPublisher announces collection changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishCollectionEvent(ctx context.Context, ev *amqp.CollectionEvent) error
}

// RecordService owns customers, sites, contracts and collections.
// Collection changes are published as events on a best-effort basis.
type RecordService struct {
	store     ports.Store
	publisher EventPublisher
}

// NewRecordService wires the store and an optional publisher (nil disables events).
func NewRecordService(store ports.Store, publisher EventPublisher) *RecordService {
	return &RecordService{store: store, publisher: publisher}
}

func (s *RecordService) CreateCustomer(ctx context.Context, c core.Customer) (core.Customer, error) {
	if err := c.Validate(); err != nil {
		return core.Customer{}, err
	}
	return s.store.CreateCustomer(ctx, c)
}

func (s *RecordService) GetCustomer(ctx context.Context, id int64) (core.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

func (s *RecordService) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	return s.store.ListCustomers(ctx)
}

func (s *RecordService) UpdateCustomer(ctx context.Context, c core.Customer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.store.UpdateCustomer(ctx, c)
}

func (s *RecordService) DeleteCustomer(ctx context.Context, id int64) error {
	return s.store.DeleteCustomer(ctx, id)
}

func (s *RecordService) CreateSite(ctx context.Context, site core.Site) (core.Site, error) {
	if err := site.Validate(); err != nil {
		return core.Site{}, err
	}
	return s.store.CreateSite(ctx, site)
}

func (s *RecordService) GetSite(ctx context.Context, id int64) (core.Site, error) {
	return s.store.GetSite(ctx, id)
}

func (s *RecordService) ListSites(ctx context.Context) ([]core.Site, error) {
	return s.store.ListSites(ctx)
}

func (s *RecordService) CreateContract(ctx context.Context, c core.Contract) (core.Contract, error) {
	if c.Status == "" {
		c.Status = core.ContractActive
	}
	if err := c.Validate(); err != nil {
		return core.Contract{}, err
	}
	if err := s.requireCustomer(ctx, c.CustomerID); err != nil {
		return core.Contract{}, err
	}
	return s.store.CreateContract(ctx, c)
}

func (s *RecordService) UpdateContract(ctx context.Context, c core.Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.requireCustomer(ctx, c.CustomerID); err != nil {
		return err
	}
	return s.store.UpdateContract(ctx, c)
}

func (s *RecordService) DeleteContract(ctx context.Context, id int64) error {
	return s.store.DeleteContract(ctx, id)
}

func (s *RecordService) ListContracts(ctx context.Context, customerID int64) ([]core.Contract, error) {
	return s.store.ListContracts(ctx, customerID)
}

// ContractSummary returns the contract with its collected and outstanding amounts.
func (s *RecordService) ContractSummary(ctx context.Context, id int64) (core.ContractSummary, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return core.ContractSummary{}, err
	}
	collected, err := s.store.CollectedForContract(ctx, id)
	if err != nil {
		return core.ContractSummary{}, fmt.Errorf("contract %d collected: %w", id, err)
	}
	return core.NewContractSummary(c, collected), nil
}

// RecordCollection stores a payment. The customer is taken from the contract.
func (s *RecordService) RecordCollection(ctx context.Context, r core.CollectionRecord) (core.CollectionRecord, error) {
	if err := r.Validate(); err != nil {
		return core.CollectionRecord{}, err
	}

	contract, err := s.store.GetContract(ctx, r.ContractID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.CollectionRecord{}, fmt.Errorf("%w: contract %d does not exist", core.ErrMissingContract, r.ContractID)
	}
	if err != nil {
		return core.CollectionRecord{}, err
	}
	r.CustomerID = contract.CustomerID

	if r.SiteID != 0 {
		if _, err := s.store.GetSite(ctx, r.SiteID); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return core.CollectionRecord{}, &core.ValidationError{Msg: fmt.Sprintf("site %d does not exist", r.SiteID)}
			}
			return core.CollectionRecord{}, err
		}
	}

	saved, err := s.store.CreateCollection(ctx, r)
	if err != nil {
		return core.CollectionRecord{}, fmt.Errorf("save collection: %w", err)
	}

	s.publish(ctx, amqp.EventCollectionRecorded, saved)
	return saved, nil
}

func (s *RecordService) GetCollection(ctx context.Context, id int64) (core.CollectionRecord, error) {
	return s.store.GetCollection(ctx, id)
}

func (s *RecordService) ListCollections(ctx context.Context, f ports.CollectionFilter) ([]core.CollectionRecord, error) {
	if f.Period != nil {
		if err := f.Period.Validate(); err != nil {
			return nil, err
		}
	}
	return s.store.ListCollections(ctx, f)
}

// DeleteCollection removes a payment and returns what was removed.
func (s *RecordService) DeleteCollection(ctx context.Context, id int64) (core.CollectionRecord, error) {
	r, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return core.CollectionRecord{}, err
	}
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		return core.CollectionRecord{}, fmt.Errorf("delete collection: %w", err)
	}

	s.publish(ctx, amqp.EventCollectionDeleted, r)
	return r, nil
}

func (s *RecordService) requireCustomer(ctx context.Context, id int64) error {
	if _, err := s.store.GetCustomer(ctx, id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%w: customer %d does not exist", core.ErrMissingCustomer, id)
		}
		return err
	}
	return nil
}

func (s *RecordService) publish(ctx context.Context, eventType string, r core.CollectionRecord) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No event publisher configured, skipping collection event", "type", eventType)
		return
	}
	if err := s.publisher.PublishCollectionEvent(ctx, amqp.NewCollectionEvent(eventType, r)); err != nil {
		// the record is already stored; the worker's periodic scan catches up
		slog.ErrorContext(ctx, "Failed to publish collection event",
			"type", eventType,
			"collection_id", r.ID,
			"error", err)
	}
}
