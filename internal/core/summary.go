package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Period identifies a calendar month.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"` // 1-12
}

// PeriodTotal is the aggregate collected in a period for some scope.
// Count is the number of records summed; zero means nothing was recorded.
type PeriodTotal struct {
	Period Period          `json:"period"`
	Total  decimal.Decimal `json:"total"`
	Count  int             `json:"count"`
}

// ContractSummary is a contract with what has been collected against it.
type ContractSummary struct {
	Contract
	Collected   decimal.Decimal `json:"collected"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// NewContractSummary computes the outstanding amount. Over-collection
// yields a negative outstanding amount.
func NewContractSummary(c Contract, collected decimal.Decimal) ContractSummary {
	return ContractSummary{
		Contract:    c,
		Collected:   collected,
		Outstanding: c.Amount.Sub(collected),
	}
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// Previous returns the month before p.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the month after p.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// SameMonthLastYear returns the same month one year earlier.
func (p Period) SameMonthLastYear() Period {
	return Period{Year: p.Year - 1, Month: p.Month}
}

// SameMonthNextYear returns the same month one year later.
func (p Period) SameMonthNextYear() Period {
	return Period{Year: p.Year + 1, Month: p.Month}
}

// Dependents returns the periods that use p as a baseline: the next month
// and the same month next year.
func (p Period) Dependents() []Period {
	return []Period{p.Next(), p.SameMonthNextYear()}
}

// After reports whether p is a later month than o.
func (p Period) After(o Period) bool {
	if p.Year != o.Year {
		return p.Year > o.Year
	}
	return p.Month > o.Month
}

// Bounds returns the first day of the period and the first day of the next one.
func (p Period) Bounds() (from, to Date) {
	from = NewDate(p.Year, p.Month, 1)
	to = Date{Time: from.AddDate(0, 1, 0)}
	return from, to
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d Date) bool {
	return d.Year() == p.Year && int(d.Month()) == p.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
