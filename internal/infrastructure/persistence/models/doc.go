// Package models contains GORM persistence models. Domain types carry no ORM
// tags; each model maps to one table and converts with ToDomain / FromDomain.
//
// Files:
//   - base.go: shared columns for aggregates
//   - storage.go: storage tiers, user storage configs, upload sessions
//   - bulk.go: bulk processing requests and their row logs
//   - catalog.go: catalog products written by imports
package models
