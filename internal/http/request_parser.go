package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"collectbook/internal/core"
	"collectbook/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxJSONBody = 1 << 20

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.ValidationError{Msg: fmt.Sprintf("invalid id %q", raw)}
	}
	return id, nil
}

// queryID parses an optional positive id query parameter; absent means 0.
func queryID(q url.Values, key string) (int64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.ValidationError{Msg: fmt.Sprintf("invalid %s %q", key, v)}
	}
	return id, nil
}

// parsePeriod reads year and month from the query, defaulting each to the
// current one. Values that are present must be valid.
func parsePeriod(q url.Values, now time.Time) (core.Period, error) {
	p := core.Period{Year: now.Year(), Month: int(now.Month())}

	if v := strings.TrimSpace(q.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return core.Period{}, fmt.Errorf("%w: year %q", core.ErrInvalidPeriod, v)
		}
		p.Year = y
	}
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return core.Period{}, fmt.Errorf("%w: month %q", core.ErrInvalidPeriod, v)
		}
		p.Month = m
	}

	if err := p.Validate(); err != nil {
		return core.Period{}, err
	}
	return p, nil
}

// hasPeriod reports whether the query narrows to a period at all.
func hasPeriod(q url.Values) bool {
	return q.Get("year") != "" || q.Get("month") != ""
}

func parseScope(q url.Values) (ports.Scope, error) {
	customerID, err := queryID(q, "customer_id")
	if err != nil {
		return ports.Scope{}, err
	}
	siteID, err := queryID(q, "site_id")
	if err != nil {
		return ports.Scope{}, err
	}
	return ports.Scope{CustomerID: customerID, SiteID: siteID}, nil
}

func parseLimit(q url.Values, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit")))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// decodeJSON reads a single JSON object into dst. Malformed bodies are
// reported as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return &core.ValidationError{Msg: "request body is empty"}
		}
		return &core.ValidationError{Msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

// amountInput accepts an amount as a JSON string or number and keeps its
// literal text so it can be parsed without going through float64.
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountInput(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	*a = amountInput(b)
	return nil
}

func (a amountInput) decimal() (decimal.Decimal, error) {
	d, err := core.ParseAmount(string(a))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", err, string(a))
	}
	return d, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
