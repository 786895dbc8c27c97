package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"collectbook/internal/core"
	"collectbook/internal/log"
	"collectbook/internal/ports"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	importFormField  = "file"
)

type collectionRequest struct {
	ContractID  int64              `json:"contract_id"`
	SiteID      int64              `json:"site_id"`
	Amount      amountInput        `json:"amount"`
	CollectedOn core.Date          `json:"collected_on"`
	Method      core.PaymentMethod `json:"method"`
	Note        string             `json:"note"`
}

func (req collectionRequest) record() (core.CollectionRecord, error) {
	amount, err := req.Amount.decimal()
	if err != nil {
		return core.CollectionRecord{}, err
	}
	method := req.Method
	if method == "" {
		method = core.MethodTransfer
	}
	return core.CollectionRecord{
		ContractID:  req.ContractID,
		SiteID:      req.SiteID,
		Amount:      amount,
		CollectedOn: req.CollectedOn,
		Method:      method,
		Note:        sanitizeInput(req.Note),
	}, nil
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scope, err := parseScope(q)
	if err != nil {
		respondError(w, r, "list_collections", err)
		return
	}
	contractID, err := queryID(q, "contract_id")
	if err != nil {
		respondError(w, r, "list_collections", err)
		return
	}
	filter := ports.CollectionFilter{
		Scope:      scope,
		ContractID: contractID,
		Limit:      parseLimit(q, defaultListLimit, maxListLimit),
	}
	if hasPeriod(q) {
		p, err := parsePeriod(q, time.Now())
		if err != nil {
			respondError(w, r, "list_collections", err)
			return
		}
		filter.Period = &p
	}

	records, err := s.records.ListCollections(r.Context(), filter)
	if err != nil {
		respondError(w, r, "list_collections", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) handleRecordCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, "record_collection", err)
		return
	}
	rec, err := req.record()
	if err != nil {
		respondError(w, r, "record_collection", err)
		return
	}

	saved, err := s.records.RecordCollection(r.Context(), rec)
	if err != nil {
		respondError(w, r, "record_collection", err)
		return
	}
	s.invalidatePeriod(saved.CollectedOn.Period())

	log.FromContext(r.Context()).InfoContext(r.Context(), "Collection recorded",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithCollection(saved.ID, saved.ContractID, saved.CustomerID, saved.SiteID, core.FormatAmount(saved.Amount)).
			ToSlice()...)

	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "get_collection", err)
		return
	}
	rec, err := s.records.GetCollection(r.Context(), id)
	if err != nil {
		respondError(w, r, "get_collection", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, "delete_collection", err)
		return
	}
	deleted, err := s.records.DeleteCollection(r.Context(), id)
	if err != nil {
		respondError(w, r, "delete_collection", err)
		return
	}
	s.invalidatePeriod(deleted.CollectedOn.Period())
	writeJSON(w, http.StatusOK, deleted)
}

// handleAnomalyReport classifies the total of a scope for a period against
// its baselines. Reports are cached until a collection in the period changes.
func (s *Server) handleAnomalyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := parsePeriod(q, time.Now())
	if err != nil {
		respondError(w, r, "anomaly_report", err)
		return
	}
	scope, err := parseScope(q)
	if err != nil {
		respondError(w, r, "anomaly_report", err)
		return
	}

	key := reportKey(period, scope)
	if report, ok := s.reportCache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, report)
		return
	}

	report, err := s.anomalies.Check(r.Context(), scope, period)
	if err != nil {
		respondError(w, r, "anomaly_report", err)
		return
	}
	s.reportCache.Set(key, report)

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.anomalies.Alerts(r.Context(), parseLimit(r.URL.Query(), 50, 500))
	if err != nil {
		respondError(w, r, "list_alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

// handleImportSiteFile accepts a multipart upload with the file in the
// "file" field.
func (s *Server) handleImportSiteFile(w http.ResponseWriter, r *http.Request) {
	siteID, err := pathID(r)
	if err != nil {
		respondError(w, r, "import", err)
		return
	}

	if r.ContentLength > s.maxUploadBytes {
		respondError(w, r, "import", &http.MaxBytesError{Limit: s.maxUploadBytes})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, "import", err)
			return
		}
		respondError(w, r, "import", &core.ValidationError{Msg: fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(importFormField)
	if err != nil {
		respondError(w, r, "import", &core.ValidationError{Msg: "missing upload field \"file\""})
		return
	}
	defer file.Close()

	summary, err := s.imports.Import(r.Context(), siteID, header.Filename, file)
	if err != nil || summary.Imported > 0 {
		// an import can touch any period, and a failed one keeps the rows recorded before the failure
		s.reportCache.DeleteFunc(func(string) bool { return true })
	}
	if err != nil {
		respondError(w, r, "import", err)
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	siteID, err := pathID(r)
	if err != nil {
		respondError(w, r, "list_imports", err)
		return
	}
	if _, err := s.records.GetSite(r.Context(), siteID); err != nil {
		respondError(w, r, "list_imports", err)
		return
	}
	imports, err := s.imports.ListImports(r.Context(), siteID)
	if err != nil {
		respondError(w, r, "list_imports", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(imports))
}

func reportKey(p core.Period, scope ports.Scope) string {
	return fmt.Sprintf("%s|c%d|s%d", p, scope.CustomerID, scope.SiteID)
}

// invalidatePeriod drops every cached report for p. Reports for the
// following month and the same month next year use p as a baseline.
func (s *Server) invalidatePeriod(p core.Period) {
	affected := []string{p.String() + "|"}
	for _, dep := range p.Dependents() {
		affected = append(affected, dep.String()+"|")
	}
	s.reportCache.DeleteFunc(func(key string) bool {
		for _, prefix := range affected {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
		return false
	})
}
