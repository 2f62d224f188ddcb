// Package resolve normalizes inbound entity graphs: every node gets an
// identifier, and the ownership edges from child identifiers back to
// the entity are recorded for later lookup. Resolution never mutates
// the caller's graph; each level is rebuilt as a fully identified copy.
package resolve

import (
	"github.com/google/uuid"

	"github.com/preservio/entitystore/pkg/model"
)

// NewID generates a repository identifier.
func NewID() string {
	return uuid.NewString()
}

// ensureID treats an empty identifier the same as an absent one: both
// get a generated value. There is no reserved empty id.
func ensureID(id string) string {
	if id == "" {
		return NewID()
	}
	return id
}

// Entity returns a fully identified copy of the inbound entity and
// records every child-to-entity edge in maps. Lifecycle state and
// version number pass through untouched.
func Entity(entity *model.IntellectualEntity, maps *Maps) *model.IntellectualEntity {
	resolved := *entity
	resolved.Identifier = ensureID(entity.Identifier)

	dmd := model.DescriptiveMetadata{}
	if entity.Descriptive != nil {
		dmd = *entity.Descriptive
	}
	dmd.ID = ensureID(dmd.ID)
	resolved.Descriptive = &dmd
	maps.metadata.put(dmd.ID, resolved.Identifier)

	if len(entity.Representations) > 0 {
		reps := make([]model.Representation, 0, len(entity.Representations))
		for i := range entity.Representations {
			reps = append(reps, representation(&entity.Representations[i], resolved.Identifier, maps))
		}
		resolved.Representations = reps
	}

	return &resolved
}

func representation(rep *model.Representation, entityID string, maps *Maps) model.Representation {
	copied := *rep
	copied.Identifier = ensureID(rep.Identifier)
	maps.representations.put(copied.Identifier, entityID)

	if len(rep.Files) > 0 {
		files := make([]model.File, 0, len(rep.Files))
		for i := range rep.Files {
			files = append(files, file(&rep.Files[i], entityID, maps))
		}
		copied.Files = files
	}
	return copied
}

func file(f *model.File, entityID string, maps *Maps) model.File {
	copied := *f
	copied.Identifier = ensureID(f.Identifier)
	maps.files.put(copied.Identifier, entityID)

	if len(f.BitStreams) > 0 {
		streams := make([]model.BitStream, 0, len(f.BitStreams))
		for i := range f.BitStreams {
			streams = append(streams, bitstream(&f.BitStreams[i], entityID, maps))
		}
		copied.BitStreams = streams
	}
	return copied
}

func bitstream(bs *model.BitStream, entityID string, maps *Maps) model.BitStream {
	copied := *bs
	copied.Identifier = ensureID(bs.Identifier)
	maps.bitstreams.put(copied.Identifier, entityID)
	return copied
}
