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

package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/id"
	"github.com/Project-FleX-PFX/licentra/internal/observability/logger"
)

// Service provides administrative catalog management for products and
// licenses. Every mutation lands in the security trail.
type Service struct {
	products ProductRepository
	licenses Repository
	recorder audit.Recorder
}

// NewService creates a new catalog service.
func NewService(products ProductRepository, licenses Repository, recorder audit.Recorder) *Service {
	return &Service{products: products, licenses: licenses, recorder: recorder}
}

// CreateProduct adds a product to the catalog.
func (s *Service) CreateProduct(ctx context.Context, name, vendor, description string, actor audit.Actor) (*Product, error) {
	if name == "" {
		return nil, fmt.Errorf("product name is required")
	}

	now := time.Now()
	p := &Product{
		ID:          id.NewUUIDv7(),
		Name:        name,
		Vendor:      vendor,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.record(ctx, audit.ActionProductCreated, "product:"+p.ID, actor, p.Name)
	return p, nil
}

// UpdateProduct updates catalog fields of a product.
func (s *Service) UpdateProduct(ctx context.Context, productID, name, vendor, description string, actor audit.Actor) (*Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, ErrProductNotFound
	}

	if name != "" {
		p.Name = name
	}
	p.Vendor = vendor
	p.Description = description
	p.UpdatedAt = time.Now()

	if err := s.products.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.record(ctx, audit.ActionProductUpdated, "product:"+p.ID, actor, p.Name)
	return p, nil
}

// DeleteProduct removes a product from the catalog.
func (s *Service) DeleteProduct(ctx context.Context, productID string, actor audit.Actor) error {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return ErrProductNotFound
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.record(ctx, audit.ActionProductDeleted, "product:"+productID, actor, p.Name)
	return nil
}

// GetProduct retrieves a product by ID.
func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// ListProducts lists catalog products with pagination.
func (s *Service) ListProducts(ctx context.Context, limit, offset int) ([]*Product, error) {
	return s.products.List(ctx, limit, offset)
}

// CreateLicense issues a new license for a product.
func (s *Service) CreateLicense(ctx context.Context, productID, name string, seatCount int, expireDate *time.Time, notes string, actor audit.Actor) (*License, error) {
	if seatCount < 1 {
		return nil, ErrInvalidSeatCount
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, ErrProductNotFound
	}

	now := time.Now()
	l := &License{
		ID:         id.NewUUIDv7(),
		ProductID:  productID,
		Name:       name,
		SeatCount:  seatCount,
		Status:     StatusActive,
		ExpireDate: expireDate,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.licenses.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create license: %w", err)
	}

	s.record(ctx, audit.ActionLicenseCreated, "license:"+l.ID, actor, l.Name)
	return l, nil
}

// UpdateLicense updates license fields including the administrator-set status.
func (s *Service) UpdateLicense(ctx context.Context, licenseID string, seatCount int, status Status, expireDate *time.Time, notes string, actor audit.Actor) (*License, error) {
	l, err := s.licenses.GetByID(ctx, licenseID)
	if err != nil {
		return nil, ErrLicenseNotFound
	}
	if seatCount < 1 {
		return nil, ErrInvalidSeatCount
	}
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	l.SeatCount = seatCount
	l.Status = status
	l.ExpireDate = expireDate
	l.Notes = notes
	l.UpdatedAt = time.Now()

	if err := s.licenses.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}

	s.record(ctx, audit.ActionLicenseUpdated, "license:"+l.ID, actor, l.Name)
	return l, nil
}

// ArchiveLicense sets a license to archived, blocking new assignments.
func (s *Service) ArchiveLicense(ctx context.Context, licenseID string, actor audit.Actor) (*License, error) {
	l, err := s.licenses.GetByID(ctx, licenseID)
	if err != nil {
		return nil, ErrLicenseNotFound
	}
	l.Status = StatusArchived
	l.UpdatedAt = time.Now()

	if err := s.licenses.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to archive license: %w", err)
	}

	s.record(ctx, audit.ActionLicenseUpdated, "license:"+l.ID, actor, "archived")
	return l, nil
}

// DeleteLicense removes a license.
func (s *Service) DeleteLicense(ctx context.Context, licenseID string, actor audit.Actor) error {
	l, err := s.licenses.GetByID(ctx, licenseID)
	if err != nil {
		return ErrLicenseNotFound
	}
	if err := s.licenses.Delete(ctx, licenseID); err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}

	s.record(ctx, audit.ActionLicenseDeleted, "license:"+licenseID, actor, l.Name)
	return nil
}

// GetLicense retrieves a license by ID.
func (s *Service) GetLicense(ctx context.Context, licenseID string) (*License, error) {
	l, err := s.licenses.GetByID(ctx, licenseID)
	if err != nil {
		return nil, ErrLicenseNotFound
	}
	return l, nil
}

// ListLicenses lists licenses with pagination.
func (s *Service) ListLicenses(ctx context.Context, limit, offset int) ([]*License, error) {
	return s.licenses.List(ctx, limit, offset)
}

// Catalog mutations are security-relevant but not part of a lifecycle
// transaction; recording is best-effort after the mutation committed.
func (s *Service) record(ctx context.Context, action, object string, actor audit.Actor, details string) {
	if err := s.recorder.RecordSecurity(ctx, action, object, actor, details); err != nil {
		slog.WarnContext(ctx, "failed to record catalog event", logger.Error(err), logger.Action(action))
	}
}
