// Package entity defines the logical entity schema layer: typed descriptors
// per entity type, the hidden bookkeeping fields stamped on every record, and
// the declarative filter helpers layered onto store queries.
package entity

import (
	"time"

	"github.com/jacentio/arbor/store"
)

// Hidden bookkeeping fields present on every entity record.
const (
	// FieldSource records the provenance of the last write.
	FieldSource = "_source"

	// FieldStatus is the soft-delete flag.
	FieldStatus = "_status"

	// FieldTTL is the epoch-seconds expiry, set only on archival.
	FieldTTL = "_ttl"
)

// Visible base fields.
const (
	// FieldItemType is the entity-type discriminator attribute.
	FieldItemType = "itemType"

	// FieldUser identifies the acting principal.
	FieldUser = "userId"
)

// Source is the provenance of a write.
type Source string

const (
	SourceInternal Source = "INTERNAL"
	SourceExternal Source = "EXTERNAL"
)

// Status is the soft-delete state of a record.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// ArchiveGracePeriod is how long an archived record remains physically
// present before the store's expiry sweep may reclaim it.
const ArchiveGracePeriod = 30 * 24 * time.Hour

// ArchiveTTL returns the expiry timestamp for a record archived at now.
func ArchiveTTL(now time.Time) int64 {
	return now.Add(ArchiveGracePeriod).Unix()
}

// IsArchived reports whether a record is soft-deleted. Archived records must
// not be treated as live by any read path even while physically present.
func IsArchived(item store.Item) bool {
	return item.GetString(FieldStatus) == string(StatusArchived)
}
