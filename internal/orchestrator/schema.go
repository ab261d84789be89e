package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tearags/tearagsd/internal/enrichment"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// CurrentSchemaVersion is the highest migration index this build knows
// how to apply. Stored as payload on the indexing-metadata point.
const CurrentSchemaVersion = 1

const schemaVersionPayloadKey = "schemaVersion"

// migration is one idempotent, one-way schema upgrade step.
type migration struct {
	version int
	apply   func(ctx context.Context, store vectorstore.Store, collection string) error
}

var migrations = []migration{
	{
		version: 1,
		apply: func(ctx context.Context, store vectorstore.Store, collection string) error {
			exists, err := store.HasPayloadIndex(ctx, collection, "relativePath")
			if err != nil {
				return fmt.Errorf("schema v1: check payload index: %w", err)
			}
			if exists {
				return nil
			}
			return store.CreatePayloadIndex(ctx, collection, "relativePath")
		},
	},
}

// SchemaManager applies numbered, one-way migrations to a collection,
// tracking the applied version on the indexing-metadata point.
type SchemaManager struct {
	store  vectorstore.Store
	logger *slog.Logger
}

// NewSchemaManager returns a SchemaManager backed by store.
func NewSchemaManager(store vectorstore.Store, logger *slog.Logger) *SchemaManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaManager{store: store, logger: logger}
}

// EnsureCurrentSchema reads the collection's recorded schema version from
// the indexing-metadata point and applies every migration with a version
// greater than it, in order. A second call on an up-to-date collection
// applies zero migrations.
func (s *SchemaManager) EnsureCurrentSchema(ctx context.Context, collection string) error {
	current, err := s.readVersion(ctx, collection)
	if err != nil {
		return fmt.Errorf("schema: read version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(ctx, s.store, collection); err != nil {
			return fmt.Errorf("schema: migration v%d: %w", m.version, err)
		}
		current = m.version
		applied++
	}

	if applied == 0 {
		return nil
	}

	s.logger.Info("schema migrations applied", "collection", collection, "count", applied, "version", current)
	return s.store.SetPayload(ctx, collection, map[string]any{schemaVersionPayloadKey: current}, []string{enrichment.IndexingMetadataID})
}

func (s *SchemaManager) readVersion(ctx context.Context, collection string) (int, error) {
	pt, err := s.store.GetPoint(ctx, collection, enrichment.IndexingMetadataID)
	if err != nil || pt == nil {
		return 0, nil
	}
	v, ok := pt.Payload[schemaVersionPayloadKey]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, nil
	}
}
