package model

import "time"

// AssetSourceKind identifies how an asset source was produced.
type AssetSourceKind string

const (
	// AssetSourceKindURL indicates the source image was fetched from a URL
	AssetSourceKindURL AssetSourceKind = "url"
	// AssetSourceKindText indicates the source image was generated from
	// display-name initials
	AssetSourceKindText AssetSourceKind = "text"
)

// AssetSource is one logo/icon origin for a tenant. Content is immutable once
// recorded; re-applying a new source supersedes the old record. The bytes are
// persisted so reconciliation after container recreation does not depend on
// the original URL still resolving.
type AssetSource struct {
	TenantID    string          `json:"tenant_id"`
	Kind        AssetSourceKind `json:"kind"`
	Ref         string          `json:"ref"`
	Content     []byte          `json:"-"`
	ContentHash string          `json:"content_hash"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
