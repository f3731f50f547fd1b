package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/jackc/pgx/v5"
)

// DeviceRepository implements device.Repository
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create creates a new device
func (r *DeviceRepository) Create(ctx context.Context, d *device.Device) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO devices (id, name, serial, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.Name, d.Serial, d.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	d.CreatedAt = now
	d.UpdatedAt = now

	return nil
}

// GetByID retrieves a device by ID
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*device.Device, error) {
	var d device.Device

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, serial, description, created_at, updated_at
		FROM devices
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Serial, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, device.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &d, nil
}

// List lists devices with pagination
func (r *DeviceRepository) List(ctx context.Context, limit, offset int) ([]*device.Device, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, serial, description, created_at, updated_at
		FROM devices
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*device.Device
	for rows.Next() {
		var d device.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Serial, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &d)
	}

	return devices, rows.Err()
}

// Update updates a device
func (r *DeviceRepository) Update(ctx context.Context, d *device.Device) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE devices SET
			name = $2,
			serial = $3,
			description = $4,
			updated_at = NOW()
		WHERE id = $1
	`, d.ID, d.Name, d.Serial, d.Description)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if result.RowsAffected() == 0 {
		return device.ErrDeviceNotFound
	}
	return nil
}

// Delete deletes a device
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if result.RowsAffected() == 0 {
		return device.ErrDeviceNotFound
	}
	return nil
}
