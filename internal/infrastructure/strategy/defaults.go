package strategy

import (
	"github.com/erp/ingest/internal/domain/catalog"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/strategy/cleanup"
	"github.com/erp/ingest/internal/infrastructure/strategy/productimport"
)

// Dependencies are the collaborators the default strategies need
type Dependencies struct {
	Sessions storage.UploadSessionRepository
	Objects  storage.ObjectStore
	Products catalog.ProductWriter
}

// NewRegistryWithDefaults registers the product catalog import and the temp
// file cleanup strategies
func NewRegistryWithDefaults(deps Dependencies) (*StrategyRegistry, error) {
	r := NewStrategyRegistry()

	if err := r.Register(productimport.New(deps.Sessions, deps.Objects, deps.Products)); err != nil {
		return nil, err
	}
	if err := r.Register(cleanup.New(deps.Objects)); err != nil {
		return nil, err
	}
	return r, nil
}
