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
	"errors"
	"time"
)

// Status is the administrator-set lifecycle state of a license. Only Active
// licenses accept new seat assignments.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusArchived Status = "archived"
)

// Domain errors
var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrInvalidSeatCount = errors.New("seat count must be a positive integer")
	ErrInvalidStatus    = errors.New("invalid license status")
)

// Product is a catalog entry licenses are issued for.
type Product struct {
	ID          string
	Name        string
	Vendor      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// License grants a fixed number of concurrent seats for a product.
// The assignment core consumes licenses read-only; all mutation happens
// through administrative catalog management.
type License struct {
	ID         string
	ProductID  string
	Name       string
	SeatCount  int
	Status     Status
	ExpireDate *time.Time
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Assignable reports whether new seat assignments may be granted.
func (l *License) Assignable() bool {
	if l.Status != StatusActive {
		return false
	}
	if l.ExpireDate != nil && l.ExpireDate.Before(time.Now()) {
		return false
	}
	return true
}

// ValidStatus reports whether s is one of the defined license statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// ProductRepository defines product persistence.
type ProductRepository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, limit, offset int) ([]*Product, error)
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
}

// Repository defines license persistence.
type Repository interface {
	Create(ctx context.Context, l *License) error
	GetByID(ctx context.Context, id string) (*License, error)
	List(ctx context.Context, limit, offset int) ([]*License, error)
	ListByProduct(ctx context.Context, productID string) ([]*License, error)
	Update(ctx context.Context, l *License) error
	Delete(ctx context.Context, id string) error
}
