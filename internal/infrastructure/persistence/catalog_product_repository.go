package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ingest/internal/domain/catalog"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogProductRepository implements catalog.ProductWriter and
// catalog.ProductReader using GORM
type GormCatalogProductRepository struct {
	db *gorm.DB
}

// NewGormCatalogProductRepository creates a new GormCatalogProductRepository
func NewGormCatalogProductRepository(db *gorm.DB) *GormCatalogProductRepository {
	return &GormCatalogProductRepository{db: db}
}

// Upsert inserts a product or updates the existing (tenant_id, sku) row
func (r *GormCatalogProductRepository) Upsert(ctx context.Context, product *catalog.Product) error {
	model := models.CatalogProductModelFromDomain(product)
	model.UpdatedAt = time.Now()

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "category", "unit", "price", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.SKU, err)
	}
	return nil
}

// FindBySKU finds a product by SKU within a tenant
func (r *GormCatalogProductRepository) FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*catalog.Product, error) {
	var model models.CatalogProductModel
	if err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Where("sku = ?", sku).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("product")
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

var (
	_ catalog.ProductWriter = (*GormCatalogProductRepository)(nil)
	_ catalog.ProductReader = (*GormCatalogProductRepository)(nil)
)
