// Package importer reads site collection files.
//
// A file is a header row followed by one collection per row. Columns are
// matched by name, case-insensitively:
//
//	contract_number, collected_on, amount   required
//	method, note                            optional
//
// Parse fails only when the file as a whole is unusable. Problems with a
// single row are reported on that Row so the rest can still be imported.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"collectbook/internal/core"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ColContractNumber = "contract_number"
	ColCollectedOn    = "collected_on"
	ColAmount         = "amount"
	ColMethod         = "method"
	ColNote           = "note"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file has no header row")
	ErrMissingColumn     = errors.New("missing required column")
)

// Row is one data line. Line is 1-based and counts the header.
type Row struct {
	Line           int
	ContractNumber string
	CollectedOn    core.Date
	Amount         decimal.Decimal
	Method         core.PaymentMethod
	Note           string
	Err            error
}

// Parse picks a reader from the file extension (.csv or .xlsx).
func Parse(fileName string, r io.Reader) ([]Row, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileName)
	}
	if err != nil {
		return nil, err
	}
	return rowsFromRecords(records)
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = sniffDelimiter(data)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

// sniffDelimiter prefers ';' when the header uses it, as spreadsheet exports with decimal commas do.
func sniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	// raw values keep dates as serial numbers instead of locale formatted text
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return records, nil
}

func rowsFromRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 || isBlank(records[0]) {
		return nil, ErrEmptyFile
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	for _, required := range []string{ColContractNumber, ColCollectedOn, ColAmount} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	var rows []Row
	for i, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		rows = append(rows, parseRow(i+2, rec, cols))
	}
	return rows, nil
}

func parseRow(line int, rec []string, cols map[string]int) Row {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := Row{
		Line:           line,
		ContractNumber: get(ColContractNumber),
		Note:           get(ColNote),
	}
	if row.ContractNumber == "" {
		row.Err = core.ErrEmptyNumber
		return row
	}

	on, err := parseCellDate(get(ColCollectedOn))
	if err != nil {
		row.Err = err
		return row
	}
	row.CollectedOn = on

	amount, err := core.ParseAmount(get(ColAmount))
	if err != nil {
		row.Err = err
		return row
	}
	row.Amount = amount

	row.Method = core.MethodTransfer
	if m := strings.ToLower(get(ColMethod)); m != "" {
		row.Method = core.PaymentMethod(m)
		if !row.Method.Valid() {
			row.Err = fmt.Errorf("%w: %q", core.ErrInvalidMethod, m)
		}
	}
	return row
}

// parseCellDate accepts YYYY-MM-DD or an Excel date serial.
func parseCellDate(s string) (core.Date, error) {
	if d, err := core.ParseDate(s); err == nil {
		return d, nil
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil || serial <= 0 {
		return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}
	return core.NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
