// Package catalog holds the product records written by catalog imports.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultUnit is applied when an import row leaves the unit empty
const DefaultUnit = "pcs"

// Product is a tenant-scoped catalog entry identified by SKU
type Product struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	SKU         string
	Name        string
	Description string
	Category    string
	Unit        string
	Price       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProduct validates and normalizes a product
func NewProduct(tenantID uuid.UUID, sku, name string, price decimal.Decimal) (*Product, error) {
	sku = strings.TrimSpace(sku)
	name = strings.TrimSpace(name)
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant id is required")
	}
	if sku == "" {
		return nil, shared.NewValidationError("sku is required")
	}
	if name == "" {
		return nil, shared.NewValidationError("name is required")
	}
	if price.IsNegative() {
		return nil, shared.NewValidationError("price cannot be negative")
	}
	now := time.Now()
	return &Product{
		ID:        uuid.New(),
		TenantID:  tenantID,
		SKU:       sku,
		Name:      name,
		Unit:      DefaultUnit,
		Price:     price.Round(4),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ProductWriter upserts products keyed by (tenant, sku)
type ProductWriter interface {
	Upsert(ctx context.Context, product *Product) error
}

// ProductReader looks up products by SKU
type ProductReader interface {
	FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*Product, error)
}
