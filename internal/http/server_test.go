package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"collectbook/internal/anomaly"
	"collectbook/internal/core"
	"collectbook/internal/middleware/ratelimit"
	"collectbook/internal/ports"
	"collectbook/internal/services"
	"collectbook/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv   *Server
	store *memory.Store
}

func newTestAPI(t *testing.T, mutate func(*Options)) *testAPI {
	t.Helper()
	store := memory.New()
	return newTestAPIWithStore(t, store, store, mutate)
}

// newTestAPIWithStore serves backend while the test inspects mem directly.
func newTestAPIWithStore(t *testing.T, mem *memory.Store, backend ports.Store, mutate func(*Options)) *testAPI {
	t.Helper()
	store := backend
	records := services.NewRecordService(store, nil)
	svc := Services{
		Records:   records,
		Anomalies: services.NewAnomalyService(store, anomaly.NewDetector(anomaly.DefaultThresholds()), nil),
		Imports:   services.NewImportService(records, store),
	}
	opts := DefaultOptions()
	opts.RateLimit = ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testAPI{srv: srv, store: mem}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rr).Error
}

// seed creates one customer, one site and one contract numbered K-1.
func (a *testAPI) seed(t *testing.T) (core.Customer, core.Site, core.Contract) {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/v1/customers", map[string]string{"code": "C1", "name": "Acme"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	customer := decode[core.Customer](t, rr)

	rr = a.do(t, http.MethodPost, "/api/v1/sites", map[string]string{"code": "S1", "name": "North yard"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	site := decode[core.Site](t, rr)

	rr = a.do(t, http.MethodPost, "/api/v1/contracts", map[string]any{
		"customer_id": customer.ID, "number": "K-1", "title": "Maintenance", "amount": 1500,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	contract := decode[core.Contract](t, rr)

	return customer, site, contract
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := api.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	failing := newTestAPI(t, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("database is locked") }
	})
	rr := failing.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not ready", errorMessage(t, rr))
}

func TestSecurityHeadersAndNotFound(t *testing.T) {
	api := newTestAPI(t, nil)

	rr := api.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "not found", errorMessage(t, rr))
}

func TestCustomerEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	customer, _, _ := api.seed(t)

	t.Run("duplicate code conflicts", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/customers", map[string]string{"code": "C1", "name": "Other"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("missing name is unprocessable", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/customers", map[string]string{"code": "C2"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("malformed json is unprocessable", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/v1/customers", "{")
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, errorMessage(t, rr), "invalid JSON body")
	})

	t.Run("get and update", func(t *testing.T) {
		rr := api.do(t, http.MethodPut, fmt.Sprintf("/api/v1/customers/%d", customer.ID),
			map[string]string{"code": "C1", "name": "Acme Ltd", "email": "ops@acme.test"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "Acme Ltd", decode[core.Customer](t, rr).Name)

		rr = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", customer.ID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ops@acme.test", decode[core.Customer](t, rr).Email)
	})

	t.Run("unknown and invalid ids", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/v1/customers/999", nil).Code)
		assert.Equal(t, http.StatusUnprocessableEntity, api.do(t, http.MethodGet, "/api/v1/customers/abc", nil).Code)
	})

	t.Run("contracts of customer", func(t *testing.T) {
		rr := api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d/contracts", customer.ID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decode[[]core.Contract](t, rr), 1)
	})

	t.Run("referenced customer cannot be deleted", func(t *testing.T) {
		rr := api.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/customers/%d", customer.ID), nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("empty list renders as array", func(t *testing.T) {
		rr := newTestAPI(t, nil).do(t, http.MethodGet, "/api/v1/customers", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})
}

func TestContractSummaryTracksCollections(t *testing.T) {
	api := newTestAPI(t, nil)
	_, site, contract := api.seed(t)

	rr := api.do(t, http.MethodPost, "/api/v1/collections", map[string]any{
		"contract_id": contract.ID, "site_id": site.ID, "amount": "400,25", "collected_on": "2025-03-10",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rec := decode[core.CollectionRecord](t, rr)
	assert.Equal(t, contract.CustomerID, rec.CustomerID)
	assert.Equal(t, core.MethodTransfer, rec.Method)

	rr = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d", contract.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[core.ContractSummary](t, rr)
	assert.True(t, summary.Collected.Equal(decimal.RequireFromString("400.25")), summary.Collected.String())
	assert.True(t, summary.Outstanding.Equal(decimal.RequireFromString("1099.75")), summary.Outstanding.String())
}

func TestRecordCollectionValidation(t *testing.T) {
	api := newTestAPI(t, nil)
	_, _, contract := api.seed(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"thousands separator", map[string]any{"contract_id": contract.ID, "amount": "1.000,00", "collected_on": "2025-03-10"}},
		{"negative amount", map[string]any{"contract_id": contract.ID, "amount": "-5", "collected_on": "2025-03-10"}},
		{"missing amount", map[string]any{"contract_id": contract.ID, "collected_on": "2025-03-10"}},
		{"bad date", map[string]any{"contract_id": contract.ID, "amount": "5", "collected_on": "10/03/2025"}},
		{"unknown contract", map[string]any{"contract_id": 999, "amount": "5", "collected_on": "2025-03-10"}},
		{"unknown site", map[string]any{"contract_id": contract.ID, "site_id": 999, "amount": "5", "collected_on": "2025-03-10"}},
		{"bad method", map[string]any{"contract_id": contract.ID, "amount": "5", "collected_on": "2025-03-10", "method": "barter"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/v1/collections", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
		})
	}
}

func TestListAndDeleteCollections(t *testing.T) {
	api := newTestAPI(t, nil)
	_, site, contract := api.seed(t)

	for _, on := range []string{"2025-02-10", "2025-03-01", "2025-03-20"} {
		rr := api.do(t, http.MethodPost, "/api/v1/collections", map[string]any{
			"contract_id": contract.ID, "site_id": site.ID, "amount": "10", "collected_on": on,
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := api.do(t, http.MethodGet, "/api/v1/collections?year=2025&month=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	march := decode[[]core.CollectionRecord](t, rr)
	require.Len(t, march, 2)
	assert.Equal(t, "2025-03-20", march[0].CollectedOn.String(), "newest first")

	rr = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/collections?site_id=%d&limit=1", site.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]core.CollectionRecord](t, rr), 1)

	assert.Equal(t, http.StatusUnprocessableEntity, api.do(t, http.MethodGet, "/api/v1/collections?month=13", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(t, http.MethodGet, "/api/v1/collections?customer_id=x", nil).Code)

	rr = api.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/collections/%d", march[0].ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, march[0].ID, decode[core.CollectionRecord](t, rr).ID)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/collections/%d", march[0].ID), nil).Code)
}

func TestAnomalyReportIsCachedUntilPeriodChanges(t *testing.T) {
	api := newTestAPI(t, nil)
	customer, _, contract := api.seed(t)

	collect := func(amount, on string) core.CollectionRecord {
		rr := api.do(t, http.MethodPost, "/api/v1/collections", map[string]any{
			"contract_id": contract.ID, "amount": amount, "collected_on": on,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		return decode[core.CollectionRecord](t, rr)
	}
	collect("1000", "2025-02-10")
	collect("1000", "2025-03-10")

	path := fmt.Sprintf("/api/v1/anomalies?year=2025&month=3&customer_id=%d", customer.ID)

	rr := api.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	report := decode[services.Report](t, rr)
	assert.False(t, report.Result.Anomaly)
	assert.Equal(t, anomaly.LevelNone, report.Result.Level)
	assert.Equal(t, ports.Scope{CustomerID: customer.ID}, report.Scope)

	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))

	// doubling March invalidates the March report
	extra := collect("1000", "2025-03-11")
	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	report = decode[services.Report](t, rr)
	assert.True(t, report.Result.Anomaly)
	assert.Equal(t, anomaly.LevelWarning, report.Result.Level)
	assert.True(t, report.Current.Equal(decimal.NewFromInt(2000)))
	assert.Contains(t, report.Result.Reason, "+100.0%")

	// deleting it invalidates again
	require.Equal(t, http.StatusOK, api.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/collections/%d", extra.ID), nil).Code)
	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.False(t, decode[services.Report](t, rr).Result.Anomaly)

	// a change in February invalidates March, which uses it as baseline
	api.do(t, http.MethodGet, path, nil)
	collect("1", "2025-02-11")
	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))

	// so does a change in March of the year before
	api.do(t, http.MethodGet, path, nil)
	require.Equal(t, "HIT", api.do(t, http.MethodGet, path, nil).Header().Get("X-Cache"))
	collect("5000", "2024-03-15")
	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	report = decode[services.Report](t, rr)
	require.NotNil(t, report.LastYear)
	assert.True(t, report.LastYear.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, anomaly.LevelCritical, report.Result.Level)

	// a change in an unrelated month leaves the cached report alone
	collect("7", "2025-05-02")
	assert.Equal(t, "HIT", api.do(t, http.MethodGet, path, nil).Header().Get("X-Cache"))

	assert.Equal(t, http.StatusUnprocessableEntity, api.do(t, http.MethodGet, "/api/v1/anomalies?year=abc", nil).Code)
}

func TestAlertsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := api.store.SaveAlert(context.Background(), ports.Alert{
		Period: core.Period{Year: 2025, Month: 3}, Level: anomaly.LevelCritical,
		Reason: "+80.0% vs same period last year, exceeds 50% threshold", Current: decimal.NewFromInt(1800),
	})
	require.NoError(t, err)

	rr := api.do(t, http.MethodGet, "/api/v1/alerts?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	alerts := decode[[]ports.Alert](t, rr)
	require.Len(t, alerts, 1)
	assert.Equal(t, anomaly.LevelCritical, alerts[0].Level)
}

func multipartUpload(t *testing.T, path, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSiteImport(t *testing.T) {
	api := newTestAPI(t, nil)
	_, site, _ := api.seed(t)
	path := fmt.Sprintf("/api/v1/sites/%d/imports", site.ID)

	csv := "contract_number,collected_on,amount\nK-1,2025-03-02,100\nNOPE,2025-03-03,5\n"
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, multipartUpload(t, path, "march.csv", csv))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	summary := decode[ports.SiteImport](t, rr)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.True(t, strings.HasPrefix(summary.Errors[0], "line 3:"), summary.Errors[0])

	rr = api.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]ports.SiteImport](t, rr), 1)

	rr = httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, multipartUpload(t, path, "march.pdf", "%PDF"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, multipartUpload(t, "/api/v1/sites/999/imports", "march.csv", csv))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(t, http.MethodPost, path, "not multipart")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

// failingCollections refuses to store collections of one amount.
type failingCollections struct {
	*memory.Store
	amount decimal.Decimal
}

func (f failingCollections) CreateCollection(ctx context.Context, r core.CollectionRecord) (core.CollectionRecord, error) {
	if r.Amount.Equal(f.amount) {
		return core.CollectionRecord{}, errors.New("disk full")
	}
	return f.Store.CreateCollection(ctx, r)
}

func TestSiteImportFailurePartWayClearsReports(t *testing.T) {
	mem := memory.New()
	api := newTestAPIWithStore(t, mem, failingCollections{Store: mem, amount: decimal.NewFromInt(999)}, nil)
	customer, site, contract := api.seed(t)

	for _, on := range []string{"2025-02-10", "2025-03-10"} {
		rr := api.do(t, http.MethodPost, "/api/v1/collections", map[string]any{
			"contract_id": contract.ID, "amount": "1000", "collected_on": on,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	path := fmt.Sprintf("/api/v1/anomalies?year=2025&month=3&customer_id=%d", customer.ID)
	api.do(t, http.MethodGet, path, nil)
	require.Equal(t, "HIT", api.do(t, http.MethodGet, path, nil).Header().Get("X-Cache"))

	// the first row is stored before the second one fails
	csv := "contract_number,collected_on,amount\nK-1,2025-03-02,1000\nK-1,2025-03-03,999\n"
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, multipartUpload(t, fmt.Sprintf("/api/v1/sites/%d/imports", site.ID), "march.csv", csv))
	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())

	rr = api.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.True(t, decode[services.Report](t, rr).Current.Equal(decimal.NewFromInt(2000)))
}

func TestSiteImportTooLarge(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.MaxUploadBytes = 64 })
	_, site, _ := api.seed(t)

	content := "contract_number,collected_on,amount\n" + strings.Repeat("K-1,2025-03-02,100\n", 20)
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, multipartUpload(t, fmt.Sprintf("/api/v1/sites/%d/imports", site.ID), "big.csv", content))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRateLimitAppliesToMutations(t *testing.T) {
	api := newTestAPI(t, func(o *Options) {
		o.RateLimit = ratelimit.Config{RequestsPerMinute: 1, Burst: 1}
	})

	rr := api.do(t, http.MethodPost, "/api/v1/sites", map[string]string{"code": "S1", "name": "One"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/v1/sites", map[string]string{"code": "S2", "name": "Two"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Contains(t, errorMessage(t, rr), "rate limit exceeded")

	// reads are not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/v1/sites", nil).Code)
	}
}
