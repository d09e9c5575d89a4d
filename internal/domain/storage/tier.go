// Package storage models storage tiers, per-user quota overrides and the
// multipart upload session lifecycle.
package storage

import (
	"path"
	"slices"
	"strings"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
)

// AllowedFileConfig maps a lowercase file extension (without the dot) to the
// content types accepted for it. An empty content type list accepts any type.
type AllowedFileConfig map[string][]string

// Allows reports whether a file with the given extension and mime type is accepted
func (c AllowedFileConfig) Allows(ext, mimeType string) bool {
	types, ok := c[normalizeExt(ext)]
	if !ok {
		return false
	}
	if len(types) == 0 {
		return true
	}
	mimeType = normalizeMime(mimeType)
	for _, t := range types {
		if normalizeMime(t) == mimeType {
			return true
		}
	}
	return false
}

// Narrow returns the subset of c permitted by override. A nil override leaves
// c unchanged; an extension missing from c is never added.
func (c AllowedFileConfig) Narrow(override AllowedFileConfig) AllowedFileConfig {
	if override == nil {
		return c.clone()
	}
	out := make(AllowedFileConfig, len(override))
	for ext, wanted := range override {
		ext = normalizeExt(ext)
		base, ok := c[ext]
		if !ok {
			continue
		}
		switch {
		case len(wanted) == 0:
			out[ext] = slices.Clone(base)
		case len(base) == 0:
			out[ext] = slices.Clone(wanted)
		default:
			var kept []string
			for _, t := range wanted {
				if slices.ContainsFunc(base, func(b string) bool { return normalizeMime(b) == normalizeMime(t) }) {
					kept = append(kept, t)
				}
			}
			if len(kept) > 0 {
				out[ext] = kept
			}
		}
	}
	return out
}

func (c AllowedFileConfig) clone() AllowedFileConfig {
	if c == nil {
		return AllowedFileConfig{}
	}
	out := make(AllowedFileConfig, len(c))
	for k, v := range c {
		out[k] = slices.Clone(v)
	}
	return out
}

// FileExtension returns the lowercase extension of name without the leading dot
func FileExtension(name string) string {
	return normalizeExt(path.Ext(name))
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

// StorageTier is a named quota profile assignable to users
type StorageTier struct {
	ID                   uuid.UUID
	Name                 string
	Level                int
	MaxStorageBytes      uint64
	MaxSimultaneousFiles int
	AllowedFileConfig    AllowedFileConfig
	IsActive             bool
}

// Validate checks tier invariants
func (t *StorageTier) Validate() error {
	if t.Name == "" {
		return shared.NewValidationError("storage tier name cannot be empty")
	}
	if t.MaxSimultaneousFiles < 0 {
		return shared.NewValidationError("max simultaneous files cannot be negative")
	}
	return nil
}

// UserStorageConfig binds a user to a tier, optionally narrowing its file types
type UserStorageConfig struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	StorageTierID     uuid.UUID
	AllowedFileConfig AllowedFileConfig
}

// TierInfo is the effective quota for a single user
type TierInfo struct {
	MaxStorageBytes      uint64            `json:"max_storage_bytes"`
	MaxSimultaneousFiles int               `json:"max_simultaneous_files"`
	AllowedFileConfig    AllowedFileConfig `json:"allowed_file_config"`
	TierName             string            `json:"tier_name"`
	TierLevel            int               `json:"tier_level"`
}

// ResolveTierInfo combines a tier with a user's override
func ResolveTierInfo(tier *StorageTier, cfg *UserStorageConfig) TierInfo {
	return TierInfo{
		MaxStorageBytes:      tier.MaxStorageBytes,
		MaxSimultaneousFiles: tier.MaxSimultaneousFiles,
		AllowedFileConfig:    tier.AllowedFileConfig.Narrow(cfg.AllowedFileConfig),
		TierName:             tier.Name,
		TierLevel:            tier.Level,
	}
}
