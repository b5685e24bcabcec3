package uuidgen

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType represents the different entity types in the system
type EntityType string

const (
	EntityTypeSession       EntityType = "session"
	EntityTypeStatsSnapshot EntityType = "stats_snapshot"
	EntityTypeConnection    EntityType = "connection"
)

// NewForEntity generates a UUID appropriate for the given entity type.
// High-volume, time-ordered entities (stats snapshots) use UUIDv7 for
// better index locality. All other entities use UUIDv4.
func NewForEntity(entityType EntityType) (uuid.UUID, error) {
	switch entityType {
	case EntityTypeStatsSnapshot:
		return uuid.NewV7()
	default:
		return uuid.NewRandom()
	}
}

// MustNewForEntity is like NewForEntity but panics on error.
// Should only be used where UUID generation failure is unrecoverable.
func MustNewForEntity(entityType EntityType) uuid.UUID {
	id, err := NewForEntity(entityType)
	if err != nil {
		panic(fmt.Sprintf("failed to generate UUID for entity type %s: %v", entityType, err))
	}
	return id
}
