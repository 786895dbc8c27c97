package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ContractActive     ContractStatus = "active"
	ContractCompleted  ContractStatus = "completed"
	ContractTerminated ContractStatus = "terminated"
)

const (
	MethodTransfer PaymentMethod = "transfer"
	MethodCash     PaymentMethod = "cash"
	MethodCheck    PaymentMethod = "check"
	MethodCard     PaymentMethod = "card"
	MethodOther    PaymentMethod = "other"
)

const dateLayout = "2006-01-02"

type (
	ContractStatus string
	PaymentMethod  string

	// Date is a calendar day in UTC.
	Date struct {
		time.Time
	}

	Customer struct {
		ID        int64     `json:"id"`
		Code      string    `json:"code"`
		Name      string    `json:"name"`
		Contact   string    `json:"contact,omitempty"`
		Phone     string    `json:"phone,omitempty"`
		Email     string    `json:"email,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	Site struct {
		ID        int64     `json:"id"`
		Code      string    `json:"code"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	Contract struct {
		ID         int64           `json:"id"`
		CustomerID int64           `json:"customer_id"`
		Number     string          `json:"number"`
		Title      string          `json:"title"`
		Amount     decimal.Decimal `json:"amount"`
		SignedOn   Date            `json:"signed_on"`
		StartDate  Date            `json:"start_date"`
		EndDate    Date            `json:"end_date"`
		Status     ContractStatus  `json:"status"`
	}

	// CollectionRecord is a payment received against a contract.
	CollectionRecord struct {
		ID          int64           `json:"id"`
		ContractID  int64           `json:"contract_id"`
		CustomerID  int64           `json:"customer_id"`
		SiteID      int64           `json:"site_id,omitempty"` // 0 when not tied to a site
		Amount      decimal.Decimal `json:"amount"`
		CollectedOn Date            `json:"collected_on"`
		Method      PaymentMethod   `json:"method"`
		Note        string          `json:"note,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyName       = errors.New("empty name")
	ErrEmptyCode       = errors.New("empty code")
	ErrEmptyNumber     = errors.New("empty contract number")
	ErrEmptyTitle      = errors.New("empty contract title")
	ErrInvalidStatus   = errors.New("invalid contract status")
	ErrInvalidMethod   = errors.New("invalid payment method")
	ErrMissingContract = errors.New("missing contract")
	ErrMissingCustomer = errors.New("missing customer")
	ErrInvalidPeriod   = errors.New("invalid period")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// Period returns the year and month the date falls in.
func (d Date) Period() Period {
	return Period{Year: d.Year(), Month: int(d.Month())}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalJSON renders the date as "YYYY-MM-DD", or null when unset.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, b)
	}
	// null and "" leave the date unset
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractActive, ContractCompleted, ContractTerminated:
		return true
	}
	return false
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodTransfer, MethodCash, MethodCheck, MethodCard, MethodOther:
		return true
	}
	return false
}

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return ErrEmptyCode
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 200 {
		return &ValidationError{Msg: "name too long (max 200 characters)"}
	}
	return nil
}

func (s Site) Validate() error {
	if strings.TrimSpace(s.Code) == "" {
		return ErrEmptyCode
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (c Contract) Validate() error {
	if c.CustomerID <= 0 {
		return ErrMissingCustomer
	}
	if strings.TrimSpace(c.Number) == "" {
		return ErrEmptyNumber
	}
	if strings.TrimSpace(c.Title) == "" {
		return ErrEmptyTitle
	}
	if !c.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !c.Status.Valid() {
		return ErrInvalidStatus
	}
	if !c.EndDate.IsZero() && !c.StartDate.IsZero() && c.EndDate.Before(c.StartDate.Time) {
		return &ValidationError{Msg: "end date must not be before start date"}
	}
	return nil
}

func (r CollectionRecord) Validate() error {
	if r.ContractID <= 0 {
		return ErrMissingContract
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := r.CollectedOn.Validate(); err != nil {
		return err
	}
	if !r.Method.Valid() {
		return ErrInvalidMethod
	}
	if len(r.Note) > 500 {
		return &ValidationError{Msg: "note too long (max 500 characters)"}
	}
	return nil
}

// IsValidationError reports whether err comes from domain validation.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrInvalidDate, ErrInvalidAmount, ErrEmptyName, ErrEmptyCode, ErrEmptyNumber,
		ErrEmptyTitle, ErrInvalidStatus, ErrInvalidMethod, ErrMissingContract,
		ErrMissingCustomer, ErrInvalidPeriod,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidationError wraps a free-form validation message.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
