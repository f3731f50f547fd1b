// Copyright 2026 The Licentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/jackc/pgx/v5"
)

// ProductRepository implements license.ProductRepository
type ProductRepository struct {
	db *DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, p *license.Product) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO products (id, name, vendor, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Vendor, p.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now

	return nil
}

// GetByID retrieves a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*license.Product, error) {
	var p license.Product

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, vendor, description, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Vendor, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, license.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}

// List lists products with pagination
func (r *ProductRepository) List(ctx context.Context, limit, offset int) ([]*license.Product, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, vendor, description, created_at, updated_at
		FROM products
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*license.Product
	for rows.Next() {
		var p license.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Vendor, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, &p)
	}

	return products, rows.Err()
}

// Update updates a product
func (r *ProductRepository) Update(ctx context.Context, p *license.Product) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE products SET
			name = $2,
			vendor = $3,
			description = $4,
			updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Name, p.Vendor, p.Description)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrProductNotFound
	}
	return nil
}

// Delete deletes a product
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrProductNotFound
	}
	return nil
}

// LicenseRepository implements license.Repository
type LicenseRepository struct {
	db *DB
}

// NewLicenseRepository creates a new license repository
func NewLicenseRepository(db *DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

const licenseColumns = `id, product_id, name, seat_count, status, expire_date, notes, created_at, updated_at`

// Create creates a new license
func (r *LicenseRepository) Create(ctx context.Context, l *license.License) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO licenses (id, product_id, name, seat_count, status, expire_date, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.ProductID, l.Name, l.SeatCount, l.Status, l.ExpireDate, l.Notes, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert license: %w", err)
	}

	l.CreatedAt = now
	l.UpdatedAt = now

	return nil
}

// GetByID retrieves a license by ID
func (r *LicenseRepository) GetByID(ctx context.Context, id string) (*license.License, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE id = $1
	`, id)
	return scanLicense(row)
}

// List lists licenses with pagination
func (r *LicenseRepository) List(ctx context.Context, limit, offset int) ([]*license.License, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	return collectLicenses(rows)
}

// ListByProduct lists all licenses for a product
func (r *LicenseRepository) ListByProduct(ctx context.Context, productID string) ([]*license.License, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE product_id = $1
		ORDER BY name
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses by product: %w", err)
	}
	defer rows.Close()

	return collectLicenses(rows)
}

// Update updates a license
func (r *LicenseRepository) Update(ctx context.Context, l *license.License) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE licenses SET
			product_id = $2,
			name = $3,
			seat_count = $4,
			status = $5,
			expire_date = $6,
			notes = $7,
			updated_at = NOW()
		WHERE id = $1
	`, l.ID, l.ProductID, l.Name, l.SeatCount, l.Status, l.ExpireDate, l.Notes)
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

// Delete deletes a license
func (r *LicenseRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrLicenseNotFound
	}
	return nil
}

func scanLicense(row pgx.Row) (*license.License, error) {
	var l license.License
	var expireDate sql.NullTime

	err := row.Scan(
		&l.ID, &l.ProductID, &l.Name, &l.SeatCount, &l.Status,
		&expireDate, &l.Notes, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, license.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}

	if expireDate.Valid {
		l.ExpireDate = &expireDate.Time
	}

	return &l, nil
}

func collectLicenses(rows pgx.Rows) ([]*license.License, error) {
	var licenses []*license.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}
