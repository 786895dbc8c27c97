package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"collectbook/internal/core"
	"collectbook/internal/importer"
	"collectbook/internal/log"
	"collectbook/internal/ports"
)

const maxImportErrors = 100

// ImportService turns a site file into collection records.
type ImportService struct {
	records *RecordService
	store   ports.Store
}

func NewImportService(records *RecordService, store ports.Store) *ImportService {
	return &ImportService{records: records, store: store}
}

// Import records every valid row of the file against siteID. Bad rows are
// counted and described in the returned summary; only an unreadable file
// or an unknown site fails the whole import.
func (s *ImportService) Import(ctx context.Context, siteID int64, fileName string, r io.Reader) (ports.SiteImport, error) {
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return ports.SiteImport{}, err
	}

	rows, err := importer.Parse(fileName, r)
	if err != nil {
		return ports.SiteImport{}, &core.ValidationError{Msg: fmt.Sprintf("parse %s: %v", fileName, err)}
	}

	summary := ports.SiteImport{SiteID: siteID, FileName: fileName, Rows: len(rows)}
	contracts := map[string]core.Contract{}
	fail := func(line int, err error) {
		summary.Failed++
		switch {
		case len(summary.Errors) < maxImportErrors:
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
		case len(summary.Errors) == maxImportErrors:
			summary.Errors = append(summary.Errors, "further errors omitted")
		}
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return ports.SiteImport{}, err
		}
		if row.Err != nil {
			fail(row.Line, row.Err)
			continue
		}

		contract, ok := contracts[row.ContractNumber]
		if !ok {
			contract, err = s.store.GetContractByNumber(ctx, row.ContractNumber)
			if errors.Is(err, ports.ErrNotFound) {
				fail(row.Line, fmt.Errorf("unknown contract %q", row.ContractNumber))
				continue
			}
			if err != nil {
				return ports.SiteImport{}, fmt.Errorf("look up contract %q: %w", row.ContractNumber, err)
			}
			contracts[row.ContractNumber] = contract
		}

		_, err := s.records.RecordCollection(ctx, core.CollectionRecord{
			ContractID:  contract.ID,
			SiteID:      siteID,
			Amount:      row.Amount,
			CollectedOn: row.CollectedOn,
			Method:      row.Method,
			Note:        row.Note,
		})
		if err != nil {
			if !core.IsValidationError(err) {
				return ports.SiteImport{}, fmt.Errorf("line %d: %w", row.Line, err)
			}
			fail(row.Line, err)
			continue
		}
		summary.Imported++
	}

	saved, err := s.store.SaveImport(ctx, summary)
	if err != nil {
		return ports.SiteImport{}, fmt.Errorf("save import summary: %w", err)
	}

	log.FromContext(ctx).InfoContext(ctx, "Site file imported",
		log.FieldOperation, log.OpImport,
		log.FieldSiteID, siteID,
		log.FieldFileName, fileName,
		"rows", saved.Rows,
		"imported", saved.Imported,
		"failed", saved.Failed)

	return saved, nil
}

func (s *ImportService) ListImports(ctx context.Context, siteID int64) ([]ports.SiteImport, error) {
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return nil, err
	}
	return s.store.ListImports(ctx, siteID)
}
