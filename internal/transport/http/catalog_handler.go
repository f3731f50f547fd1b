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

package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/Project-FleX-PFX/licentra/internal/id"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/go-chi/chi/v5"
)

// ProductRequest carries product catalog fields
type ProductRequest struct {
	Name        string `json:"name" validate:"required"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
}

// CreateProduct adds a product to the catalog
// @Summary Create Product
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ProductRequest true "Product"
// @Success 201 {object} license.Product
// @Router /admin/products [post]
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req ProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.catalogService.CreateProduct(r.Context(), req.Name, req.Vendor, req.Description, actor.AuditActor())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

// ListProducts lists catalog products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	products, err := h.catalogService.ListProducts(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

// GetProduct retrieves one product
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalogService.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// UpdateProduct updates catalog fields of a product
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req ProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.catalogService.UpdateProduct(r.Context(), chi.URLParam(r, "productID"),
		req.Name, req.Vendor, req.Description, actor.AuditActor())
	if err != nil {
		if errors.Is(err, license.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

// DeleteProduct removes a product from the catalog
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	err := h.catalogService.DeleteProduct(r.Context(), chi.URLParam(r, "productID"), actor.AuditActor())
	if err != nil {
		if errors.Is(err, license.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// LicenseRequest carries license fields
type LicenseRequest struct {
	ProductID  string     `json:"product_id" validate:"required,uuid"`
	Name       string     `json:"name" validate:"required"`
	SeatCount  int        `json:"seat_count" validate:"required,min=1"`
	ExpireDate *time.Time `json:"expire_date,omitempty"`
	Notes      string     `json:"notes"`
}

// CreateLicense issues a new license
// @Summary Create License
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body LicenseRequest true "License"
// @Success 201 {object} license.License
// @Router /admin/licenses [post]
func (h *Handler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req LicenseRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	l, err := h.catalogService.CreateLicense(r.Context(), req.ProductID, req.Name,
		req.SeatCount, req.ExpireDate, req.Notes, actor.AuditActor())
	if err != nil {
		respondCatalogError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, l)
}

// UpdateLicenseRequest carries mutable license fields
type UpdateLicenseRequest struct {
	SeatCount  int        `json:"seat_count" validate:"required,min=1"`
	Status     string     `json:"status" validate:"required"`
	ExpireDate *time.Time `json:"expire_date,omitempty"`
	Notes      string     `json:"notes"`
}

// UpdateLicense updates license fields including status
func (h *Handler) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req UpdateLicenseRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	l, err := h.catalogService.UpdateLicense(r.Context(), chi.URLParam(r, "licenseID"),
		req.SeatCount, license.Status(req.Status), req.ExpireDate, req.Notes, actor.AuditActor())
	if err != nil {
		respondCatalogError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, l)
}

// ArchiveLicense archives a license, blocking new assignments
func (h *Handler) ArchiveLicense(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	l, err := h.catalogService.ArchiveLicense(r.Context(), chi.URLParam(r, "licenseID"), actor.AuditActor())
	if err != nil {
		respondCatalogError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, l)
}

// DeleteLicense removes a license
func (h *Handler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	if err := h.catalogService.DeleteLicense(r.Context(), chi.URLParam(r, "licenseID"), actor.AuditActor()); err != nil {
		respondCatalogError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "license deleted"})
}

// GetLicense retrieves one license
func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	l, err := h.catalogService.GetLicense(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "license not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// ListLicenses lists licenses
func (h *Handler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	licenses, err := h.catalogService.ListLicenses(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list licenses")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"licenses": licenses})
}

// DeviceRequest carries device registry fields
type DeviceRequest struct {
	Name        string `json:"name" validate:"required"`
	Serial      string `json:"serial" validate:"required"`
	Description string `json:"description"`
}

// CreateDevice registers a device
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	d := &device.Device{
		ID:          id.NewUUIDv7(),
		Name:        req.Name,
		Serial:      req.Serial,
		Description: req.Description,
	}
	if err := h.deviceRepo.Create(r.Context(), d); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create device")
		return
	}

	respondJSON(w, http.StatusCreated, d)
}

// ListDevices lists registered devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	devices, err := h.deviceRepo.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// GetDevice retrieves one device
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.deviceRepo.GetByID(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "device not found")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// UpdateDevice updates device registry fields
func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	d, err := h.deviceRepo.GetByID(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "device not found")
		return
	}

	d.Name = req.Name
	d.Serial = req.Serial
	d.Description = req.Description
	if err := h.deviceRepo.Update(r.Context(), d); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update device")
		return
	}

	respondJSON(w, http.StatusOK, d)
}

// DeleteDevice removes a device from the registry
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.deviceRepo.Delete(r.Context(), chi.URLParam(r, "deviceID")); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, "device not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "device deleted"})
}

func respondCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, license.ErrProductNotFound),
		errors.Is(err, license.ErrLicenseNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, license.ErrInvalidSeatCount),
		errors.Is(err, license.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// pagination extracts limit and offset query parameters with defaults
func pagination(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
