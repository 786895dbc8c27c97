package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"collectbook/internal/anomaly"
	"collectbook/internal/core"
	"collectbook/internal/ports"
)

func (r *SQLiteRepository) SaveImport(ctx context.Context, imp ports.SiteImport) (ports.SiteImport, error) {
	if imp.Errors == nil {
		imp.Errors = []string{}
	}
	errs, err := json.Marshal(imp.Errors)
	if err != nil {
		return ports.SiteImport{}, fmt.Errorf("encode import errors: %w", err)
	}
	imp.CreatedAt = r.now()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO site_imports (site_id, file_name, total_rows, imported, failed, errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		imp.SiteID, imp.FileName, imp.Rows, imp.Imported, imp.Failed, string(errs), formatTime(imp.CreatedAt))
	if err != nil {
		return ports.SiteImport{}, fmt.Errorf("save import: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ports.SiteImport{}, fmt.Errorf("save import: %w", err)
	}
	imp.ID = id
	return imp, nil
}

func (r *SQLiteRepository) ListImports(ctx context.Context, siteID int64) ([]ports.SiteImport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, site_id, file_name, total_rows, imported, failed, errors, created_at
		 FROM site_imports WHERE site_id = ? ORDER BY id DESC`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []ports.SiteImport
	for rows.Next() {
		var (
			imp             ports.SiteImport
			errs, createdAt string
		)
		if err := rows.Scan(&imp.ID, &imp.SiteID, &imp.FileName, &imp.Rows, &imp.Imported, &imp.Failed, &errs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		if err := json.Unmarshal([]byte(errs), &imp.Errors); err != nil {
			return nil, fmt.Errorf("decode import errors: %w", err)
		}
		if imp.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// SaveAlert upserts on (customer, site, year, month).
func (r *SQLiteRepository) SaveAlert(ctx context.Context, a ports.Alert) (ports.Alert, error) {
	a.CreatedAt = r.now()
	var pct sql.NullString
	if a.PercentChange != nil {
		pct = sql.NullString{String: a.PercentChange.String(), Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO anomaly_alerts (customer_id, site_id, year, month, level, reason, current_total, percent_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id, site_id, year, month) DO UPDATE SET
		   level = excluded.level,
		   reason = excluded.reason,
		   current_total = excluded.current_total,
		   percent_change = excluded.percent_change,
		   created_at = excluded.created_at
		 RETURNING id`,
		a.Scope.CustomerID, a.Scope.SiteID, a.Period.Year, a.Period.Month,
		string(a.Level), a.Reason, a.Current.String(), pct, formatTime(a.CreatedAt),
	).Scan(&a.ID)
	if err != nil {
		return ports.Alert{}, fmt.Errorf("save alert: %w", mapError(err))
	}
	return a, nil
}

func (r *SQLiteRepository) DeleteAlert(ctx context.Context, scope ports.Scope, period core.Period) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM anomaly_alerts WHERE customer_id = ? AND site_id = ? AND year = ? AND month = ?`,
		scope.CustomerID, scope.SiteID, period.Year, period.Month)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

// ListAlerts returns the most recent alerts first. limit <= 0 means no limit.
func (r *SQLiteRepository) ListAlerts(ctx context.Context, limit int) ([]ports.Alert, error) {
	query := `SELECT id, customer_id, site_id, year, month, level, reason, current_total, percent_change, created_at
		FROM anomaly_alerts ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []ports.Alert
	for rows.Next() {
		var (
			a                         ports.Alert
			level, current, createdAt string
			pct                       sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Scope.CustomerID, &a.Scope.SiteID, &a.Period.Year, &a.Period.Month,
			&level, &a.Reason, &current, &pct, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Level = anomaly.Level(level)
		if a.Current, err = parseAmount(current); err != nil {
			return nil, err
		}
		if pct.Valid {
			p, err := parseAmount(pct.String)
			if err != nil {
				return nil, err
			}
			a.PercentChange = &p
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
