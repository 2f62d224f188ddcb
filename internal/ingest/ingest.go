// Package ingest turns a deserialized entity payload into a persisted,
// indexed, versioned record as one unit of work.
package ingest

import (
	"fmt"
	"log/slog"

	"github.com/preservio/entitystore/internal/blobstore"
	"github.com/preservio/entitystore/internal/index"
	"github.com/preservio/entitystore/internal/resolve"
	"github.com/preservio/entitystore/pkg/model"
)

// Ingestor owns the ingest unit of work: resolve identities, stamp the
// lifecycle state, pick a version, persist, index.
type Ingestor struct {
	log   *slog.Logger
	store *blobstore.Store
	index *index.Index
	maps  *resolve.Maps
}

func New(store *blobstore.Store, idx *index.Index, maps *resolve.Maps, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		log:   logger,
		store: store,
		index: idx,
		maps:  maps,
	}
}

// Ingest persists one entity graph and returns the stored form: every
// identifier resolved, lifecycle state INGESTED, version number final.
// A version collision with the entity's stated version appends the next
// free version instead; stored history is never overwritten.
func (ing *Ingestor) Ingest(entity *model.IntellectualEntity) (*model.IntellectualEntity, error) {
	resolved := resolve.Entity(entity, ing.maps)
	resolved.LifecycleState = model.LifecycleState{Message: "ingested", State: model.StateIngested}

	version, err := ing.store.SaveSnapshot(resolved.Identifier, resolved.VersionNumber, func(version int) ([]byte, error) {
		resolved.VersionNumber = version
		return model.Encode(resolved)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", resolved.Identifier, err)
	}
	resolved.VersionNumber = version

	if err := ing.index.IndexEntity(resolved); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", resolved.Identifier, err)
	}

	if ing.log != nil {
		ing.log.Info("ingested entity", "id", resolved.Identifier, "version", version)
	}
	return resolved, nil
}

// Update is ingest with an existing identifier: the body's id is forced
// to the addressed one and the same unit of work appends a new version.
func (ing *Ingestor) Update(id string, entity *model.IntellectualEntity) (*model.IntellectualEntity, error) {
	copied := *entity
	copied.Identifier = id
	return ing.Ingest(&copied)
}
