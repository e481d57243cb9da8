package support

import "time"

// ResourceLookup is the persistence-layer view of a stored resource.
type ResourceLookup interface {
	ResourceType() string
	// Deleted returns the deletion time, or nil if the resource is live.
	Deleted() *time.Time
	// PersistentID is the store-specific primary key.
	PersistentID() string
}

// StoredResource is a plain ResourceLookup.
type StoredResource struct {
	Type      string
	ID        string
	DeletedAt *time.Time
}

func (r StoredResource) ResourceType() string { return r.Type }
func (r StoredResource) Deleted() *time.Time  { return r.DeletedAt }
func (r StoredResource) PersistentID() string { return r.ID }
