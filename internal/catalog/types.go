// Package catalog defines the primary-store record types for the two entity
// families served by the directory: Claude extensions and MCP servers. The
// catalog is the source of truth; the search index holds a derived projection
// that must never be treated as authoritative.
package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an entity does not exist in the catalog.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownFamily is returned for a family tag outside the known set.
	ErrUnknownFamily = errors.New("unknown entity family")
)

// Family identifies one of the indexed entity families.
type Family string

const (
	FamilyExtensions Family = "extensions"
	FamilyMCPServers Family = "mcp-servers"
)

// Families returns all known families in a stable order.
func Families() []Family {
	return []Family{FamilyExtensions, FamilyMCPServers}
}

// ParseFamily validates a family tag received from transport.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyExtensions, FamilyMCPServers:
		return Family(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
}

// ExtensionCategories enumerates valid categories for the extensions family.
var ExtensionCategories = []string{
	"productivity",
	"developer-tools",
	"language-support",
	"themes",
	"integrations",
	"other",
}

// MCPServerCategories enumerates valid categories for the mcp-servers family.
var MCPServerCategories = []string{
	"filesystem",
	"database",
	"api",
	"search",
	"devops",
	"ai",
	"other",
}

// Entity is a catalog record. Both families share the same field shape; the
// Family tag plus the per-family category enumeration distinguish them.
//
// ID is stable for the lifetime of the record in both the catalog and the
// index. UpdatedAt >= CreatedAt always holds for records written through the
// catalog API.
type Entity struct {
	ID          string    `json:"id" bson:"_id"`
	Family      Family    `json:"family" bson:"family"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	Author      string    `json:"author" bson:"author"`
	Tags        []string  `json:"tags" bson:"tags"`
	Category    string    `json:"category" bson:"category"`
	Platforms   []string  `json:"platforms" bson:"platforms"`
	Downloads   int64     `json:"downloads" bson:"downloads"`
	Rating      float64   `json:"rating" bson:"rating"`
	Version     string    `json:"version" bson:"version"`
	Repository  string    `json:"repository,omitempty" bson:"repository,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updated_at"`
}

// Validate checks the invariants the catalog enforces on write.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return errors.New("entity id is required")
	}
	if _, err := ParseFamily(string(e.Family)); err != nil {
		return err
	}
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.Downloads < 0 {
		return fmt.Errorf("downloads must be non-negative, got %d", e.Downloads)
	}
	if e.Rating < 0 || e.Rating > 5 {
		return fmt.Errorf("rating must be within [0, 5], got %v", e.Rating)
	}
	if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(e.CreatedAt) {
		return errors.New("updatedAt must not precede createdAt")
	}
	return nil
}
