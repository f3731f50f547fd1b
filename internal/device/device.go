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

// Package device holds the registry of machines that can hold seat
// assignments. An assignment references exactly one of a user or a device.
package device

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceNotFound is returned when a referenced device does not exist.
var ErrDeviceNotFound = errors.New("device not found")

// Device is a registered machine.
type Device struct {
	ID          string
	Name        string
	Serial      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository defines device persistence.
type Repository interface {
	Create(ctx context.Context, d *Device) error
	GetByID(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context, limit, offset int) ([]*Device, error)
	Update(ctx context.Context, d *Device) error
	Delete(ctx context.Context, id string) error
}
