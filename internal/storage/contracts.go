package storage

import (
	"context"
	"fmt"

	"collectbook/internal/core"
)

const contractColumns = `id, customer_id, number, title, amount, signed_on, start_date, end_date, status`

func scanContract(s rowScanner) (core.Contract, error) {
	var (
		c                              core.Contract
		amount, signed, start, end, st string
	)
	if err := s.Scan(&c.ID, &c.CustomerID, &c.Number, &c.Title, &amount, &signed, &start, &end, &st); err != nil {
		return core.Contract{}, err
	}
	var err error
	if c.Amount, err = parseAmount(amount); err != nil {
		return core.Contract{}, err
	}
	if c.SignedOn, err = parseDate(signed); err != nil {
		return core.Contract{}, err
	}
	if c.StartDate, err = parseDate(start); err != nil {
		return core.Contract{}, err
	}
	if c.EndDate, err = parseDate(end); err != nil {
		return core.Contract{}, err
	}
	c.Status = core.ContractStatus(st)
	return c, nil
}

func (r *SQLiteRepository) CreateContract(ctx context.Context, c core.Contract) (core.Contract, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO contracts (customer_id, number, title, amount, signed_on, start_date, end_date, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CustomerID, c.Number, c.Title, core.FormatAmount(c.Amount),
		c.SignedOn.String(), c.StartDate.String(), c.EndDate.String(), string(c.Status),
		formatTime(r.now()))
	if err != nil {
		return core.Contract{}, fmt.Errorf("create contract: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Contract{}, fmt.Errorf("create contract: %w", err)
	}
	c.ID = id
	return c, nil
}

func (r *SQLiteRepository) GetContract(ctx context.Context, id int64) (core.Contract, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if err != nil {
		return core.Contract{}, fmt.Errorf("get contract %d: %w", id, mapError(err))
	}
	return c, nil
}

func (r *SQLiteRepository) GetContractByNumber(ctx context.Context, number string) (core.Contract, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE number = ?`, number)
	c, err := scanContract(row)
	if err != nil {
		return core.Contract{}, fmt.Errorf("get contract %q: %w", number, mapError(err))
	}
	return c, nil
}

// ListContracts returns every contract, or only the customer's when customerID is non-zero.
func (r *SQLiteRepository) ListContracts(ctx context.Context, customerID int64) ([]core.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	var args []any
	if customerID != 0 {
		query += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY number`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []core.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateContract(ctx context.Context, c core.Contract) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contracts SET customer_id = ?, number = ?, title = ?, amount = ?,
		 signed_on = ?, start_date = ?, end_date = ?, status = ? WHERE id = ?`,
		c.CustomerID, c.Number, c.Title, core.FormatAmount(c.Amount),
		c.SignedOn.String(), c.StartDate.String(), c.EndDate.String(), string(c.Status), c.ID)
	if err != nil {
		return fmt.Errorf("update contract %d: %w", c.ID, mapError(err))
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("update contract %d: %w", c.ID, err)
	}
	return nil
}

// DeleteContract fails with ports.ErrConflict while collections reference the contract.
func (r *SQLiteRepository) DeleteContract(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contract %d: %w", id, mapError(err))
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("delete contract %d: %w", id, err)
	}
	return nil
}
