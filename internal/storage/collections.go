package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"collectbook/internal/core"
	"collectbook/internal/ports"

	"github.com/shopspring/decimal"
)

const collectionColumns = `id, contract_id, customer_id, site_id, amount, collected_on, method, note, created_at`

func scanCollection(s rowScanner) (core.CollectionRecord, error) {
	var (
		rec                         core.CollectionRecord
		siteID                      sql.NullInt64
		amount, on, method, created string
	)
	if err := s.Scan(&rec.ID, &rec.ContractID, &rec.CustomerID, &siteID, &amount, &on, &method, &rec.Note, &created); err != nil {
		return core.CollectionRecord{}, err
	}
	var err error
	if rec.Amount, err = parseAmount(amount); err != nil {
		return core.CollectionRecord{}, err
	}
	if rec.CollectedOn, err = parseDate(on); err != nil {
		return core.CollectionRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return core.CollectionRecord{}, err
	}
	rec.SiteID = siteID.Int64
	rec.Method = core.PaymentMethod(method)
	return rec, nil
}

func (r *SQLiteRepository) CreateCollection(ctx context.Context, rec core.CollectionRecord) (core.CollectionRecord, error) {
	rec.CreatedAt = r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (contract_id, customer_id, site_id, amount, collected_on, method, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ContractID, rec.CustomerID, nullableID(rec.SiteID), core.FormatAmount(rec.Amount),
		rec.CollectedOn.String(), string(rec.Method), rec.Note, formatTime(rec.CreatedAt))
	if err != nil {
		return core.CollectionRecord{}, fmt.Errorf("create collection: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.CollectionRecord{}, fmt.Errorf("create collection: %w", err)
	}
	rec.ID = id
	return rec, nil
}

func (r *SQLiteRepository) GetCollection(ctx context.Context, id int64) (core.CollectionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	rec, err := scanCollection(row)
	if err != nil {
		return core.CollectionRecord{}, fmt.Errorf("get collection %d: %w", id, mapError(err))
	}
	return rec, nil
}

// collectionWhere builds the WHERE clause shared by listing and totals.
func collectionWhere(scope ports.Scope, contractID int64, period *core.Period) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if scope.CustomerID != 0 {
		conds = append(conds, "customer_id = ?")
		args = append(args, scope.CustomerID)
	}
	if scope.SiteID != 0 {
		conds = append(conds, "site_id = ?")
		args = append(args, scope.SiteID)
	}
	if contractID != 0 {
		conds = append(conds, "contract_id = ?")
		args = append(args, contractID)
	}
	if period != nil {
		from, to := period.Bounds()
		// ISO dates compare correctly as text
		conds = append(conds, "collected_on >= ?", "collected_on < ?")
		args = append(args, from.String(), to.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *SQLiteRepository) ListCollections(ctx context.Context, f ports.CollectionFilter) ([]core.CollectionRecord, error) {
	where, args := collectionWhere(f.Scope, f.ContractID, f.Period)
	query := `SELECT ` + collectionColumns + ` FROM collections` + where + ` ORDER BY collected_on DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []core.CollectionRecord
	for rows.Next() {
		rec, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteCollection(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete collection %d: %w", id, mapError(err))
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("delete collection %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) CollectedForContract(ctx context.Context, contractID int64) (decimal.Decimal, error) {
	where, args := collectionWhere(ports.Scope{}, contractID, nil)
	total, _, err := r.sumAmounts(ctx, where, args)
	if err != nil {
		return decimal.Zero, fmt.Errorf("collected for contract %d: %w", contractID, err)
	}
	return total, nil
}

// PeriodTotal sums the collections of one calendar month within scope.
func (r *SQLiteRepository) PeriodTotal(ctx context.Context, scope ports.Scope, period core.Period) (core.PeriodTotal, error) {
	where, args := collectionWhere(scope, 0, &period)
	total, count, err := r.sumAmounts(ctx, where, args)
	if err != nil {
		return core.PeriodTotal{}, fmt.Errorf("period total %s: %w", period, err)
	}
	return core.PeriodTotal{Period: period, Total: total, Count: count}, nil
}

// sumAmounts adds stored amounts in decimal; SQLite would sum them as floats.
func (r *SQLiteRepository) sumAmounts(ctx context.Context, where string, args []any) (decimal.Decimal, int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT amount FROM collections`+where, args...)
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer rows.Close()

	total := decimal.Zero
	count := 0
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, 0, err
		}
		amount, err := parseAmount(s)
		if err != nil {
			return decimal.Zero, 0, err
		}
		total = total.Add(amount)
		count++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}
