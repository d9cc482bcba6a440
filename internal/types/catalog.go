package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG TYPES
// =============================================================================

// Category is the top level of the service hierarchy.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// Subcategory is a bookable service kind under a category.
type Subcategory struct {
	ID              int64  `json:"id"`
	CategoryID      int64  `json:"category_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DefaultDuration int    `json:"default_duration_minutes"`
	Active          bool   `json:"active"`

	// Aliases are lowercase phrases users say for this service
	// ("ac repair", "air conditioner"). Used by entity extraction.
	Aliases []string `json:"aliases,omitempty"`
}

// RateCard is a priced variant of a subcategory. A rate card is bookable at
// pincode P iff at least one active and verified provider covers the
// subcategory at P.
type RateCard struct {
	ID            int64            `json:"id"`
	SubcategoryID int64            `json:"subcategory_id"`
	ProviderID    *int64           `json:"provider_id,omitempty"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	StrikePrice   *decimal.Decimal `json:"strike_price,omitempty"`
	Active        bool             `json:"active"`
}

// Provider is a service supplier. Only active and verified providers count
// toward serviceability.
type Provider struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	Verified bool   `json:"verified"`
}

// ProviderCoverage maps a provider to one (subcategory, pincode) it serves.
type ProviderCoverage struct {
	ProviderID    int64  `json:"provider_id"`
	SubcategoryID int64  `json:"subcategory_id"`
	Pincode       string `json:"pincode"`
}

// Address is a user service location. Address CRUD is external; the core
// only reads addresses to resolve pincodes.
type Address struct {
	ID        int64     `json:"id"`
	UserRef   int64     `json:"user_ref"`
	Label     string    `json:"label"` // "home", "office"
	Line1     string    `json:"line1"`
	City      string    `json:"city"`
	Pincode   string    `json:"pincode"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// RateCardSearch filters text search over rate cards.
type RateCardSearch struct {
	Query      string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	CategoryID int64
	Limit      int
}

// PolicyChunk is a reference-document chunk mirrored into the vector store.
// The core persists chunk text so grounded answers can quote it; embeddings
// live in the vector index keyed by chunk id.
type PolicyChunk struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// VectorMatch is one ANN hit returned by the vector store.
type VectorMatch struct {
	ChunkID  string            `json:"chunk_id"`
	Score    float64           `json:"score"` // cosine similarity in [0, 1]
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrievedChunk is a VectorMatch after score normalization.
type RetrievedChunk struct {
	ChunkID         string            `json:"chunk_id"`
	RawScore        float64           `json:"raw_score"`
	NormalizedScore float64           `json:"normalized_score"`
	Text            string            `json:"text"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
