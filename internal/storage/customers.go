package storage

import (
	"context"
	"fmt"

	"collectbook/internal/core"
)

const customerColumns = `id, code, name, contact, phone, email, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(s rowScanner) (core.Customer, error) {
	var (
		c         core.Customer
		createdAt string
	)
	if err := s.Scan(&c.ID, &c.Code, &c.Name, &c.Contact, &c.Phone, &c.Email, &createdAt); err != nil {
		return core.Customer{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Customer{}, err
	}
	c.CreatedAt = t
	return c, nil
}

func (r *SQLiteRepository) CreateCustomer(ctx context.Context, c core.Customer) (core.Customer, error) {
	c.CreatedAt = r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (code, name, contact, phone, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Code, c.Name, c.Contact, c.Phone, c.Email, formatTime(c.CreatedAt))
	if err != nil {
		return core.Customer{}, fmt.Errorf("create customer: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	c.ID = id
	return c, nil
}

func (r *SQLiteRepository) GetCustomer(ctx context.Context, id int64) (core.Customer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if err != nil {
		return core.Customer{}, fmt.Errorf("get customer %d: %w", id, mapError(err))
	}
	return c, nil
}

func (r *SQLiteRepository) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []core.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateCustomer(ctx context.Context, c core.Customer) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE customers SET code = ?, name = ?, contact = ?, phone = ?, email = ? WHERE id = ?`,
		c.Code, c.Name, c.Contact, c.Phone, c.Email, c.ID)
	if err != nil {
		return fmt.Errorf("update customer %d: %w", c.ID, mapError(err))
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("update customer %d: %w", c.ID, err)
	}
	return nil
}

// DeleteCustomer fails with ports.ErrConflict while contracts reference the customer.
func (r *SQLiteRepository) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete customer %d: %w", id, mapError(err))
	}
	if err := requireAffected(res); err != nil {
		return fmt.Errorf("delete customer %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) CreateSite(ctx context.Context, s core.Site) (core.Site, error) {
	s.CreatedAt = r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sites (code, name, created_at) VALUES (?, ?, ?)`,
		s.Code, s.Name, formatTime(s.CreatedAt))
	if err != nil {
		return core.Site{}, fmt.Errorf("create site: %w", mapError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Site{}, fmt.Errorf("create site: %w", err)
	}
	s.ID = id
	return s, nil
}

func scanSite(s rowScanner) (core.Site, error) {
	var (
		site      core.Site
		createdAt string
	)
	if err := s.Scan(&site.ID, &site.Code, &site.Name, &createdAt); err != nil {
		return core.Site{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Site{}, err
	}
	site.CreatedAt = t
	return site, nil
}

func (r *SQLiteRepository) GetSite(ctx context.Context, id int64) (core.Site, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, code, name, created_at FROM sites WHERE id = ?`, id)
	s, err := scanSite(row)
	if err != nil {
		return core.Site{}, fmt.Errorf("get site %d: %w", id, mapError(err))
	}
	return s, nil
}

func (r *SQLiteRepository) ListSites(ctx context.Context) ([]core.Site, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, name, created_at FROM sites ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []core.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
