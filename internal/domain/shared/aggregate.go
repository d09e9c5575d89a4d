package shared

import (
	"time"

	"github.com/google/uuid"
)

// TenantAggregateRoot carries the identity, tenant scope and optimistic lock
// version shared by tenant-owned aggregates. Version starts at 1 and is bumped
// by the repository on every successful save.
type TenantAggregateRoot struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewTenantAggregateRoot returns a root with a fresh id stamped now.
func NewTenantAggregateRoot(tenantID uuid.UUID) TenantAggregateRoot {
	now := time.Now()
	return TenantAggregateRoot{
		ID:        uuid.New(),
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// BelongsTo reports whether the aggregate is owned by tenantID.
func (a *TenantAggregateRoot) BelongsTo(tenantID uuid.UUID) bool {
	return a.TenantID == tenantID
}

// Touch bumps UpdatedAt.
func (a *TenantAggregateRoot) Touch() {
	a.UpdatedAt = time.Now()
}

func (a *TenantAggregateRoot) IncrementVersion() {
	a.Version++
}
