package models

import (
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
)

// TenantAggregateModel holds the columns every tenant aggregate table shares.
type TenantAggregateModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	Version   int       `gorm:"not null;default:1"`
}

func (m *TenantAggregateModel) fromRoot(r shared.TenantAggregateRoot) {
	*m = TenantAggregateModel(r)
}

func (m *TenantAggregateModel) root() shared.TenantAggregateRoot {
	return shared.TenantAggregateRoot(*m)
}
