package models

import (
	"time"

	"github.com/erp/ingest/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogProductModel is the persistence model for catalog.Product
type CatalogProductModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_catalog_products_tenant_sku,priority:1"`
	SKU         string          `gorm:"column:sku;type:varchar(100);not null;uniqueIndex:idx_catalog_products_tenant_sku,priority:2"`
	Name        string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text"`
	Category    string          `gorm:"type:varchar(100)"`
	Unit        string          `gorm:"type:varchar(20);not null;default:'pcs'"`
	Price       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CatalogProductModel) TableName() string {
	return "catalog_products"
}

// ToDomain converts the model to a domain Product
func (m *CatalogProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		ID:          m.ID,
		TenantID:    m.TenantID,
		SKU:         m.SKU,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Unit:        m.Unit,
		Price:       m.Price,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CatalogProductModelFromDomain creates a model from a domain Product
func CatalogProductModelFromDomain(p *catalog.Product) *CatalogProductModel {
	return &CatalogProductModel{
		ID:          p.ID,
		TenantID:    p.TenantID,
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Unit:        p.Unit,
		Price:       p.Price,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
