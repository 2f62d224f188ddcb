// Package model defines the preservation data model: an intellectual
// entity aggregates representations, which aggregate files, which
// aggregate bitstreams. Every level carries its own identifier and a
// technical-metadata block the repository treats as opaque.
package model

// FirstVersion is the version number assigned to an entity that has
// never been stored before.
const FirstVersion = 1

// IntellectualEntity is the root preservation object, a logical "work".
// After ingestion Identifier and Descriptive.ID are never empty.
type IntellectualEntity struct {
	Identifier      string               `json:"identifier"`
	Descriptive     *DescriptiveMetadata `json:"descriptive,omitempty"`
	Representations []Representation     `json:"representations,omitempty"`
	LifecycleState  LifecycleState       `json:"lifecycle_state"`
	VersionNumber   int                  `json:"version_number"`
}

// Representation is one concrete manifestation of an entity, for
// example a specific digitization. It is exclusively owned by its
// entity; ingestion rebuilds it rather than aliasing the caller's copy.
type Representation struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title,omitempty"`
	Technical  []byte `json:"technical,omitempty"`
	Files      []File `json:"files,omitempty"`
}

// File belongs to exactly one representation.
type File struct {
	Identifier string      `json:"identifier"`
	URI        string      `json:"uri,omitempty"`
	Technical  []byte      `json:"technical,omitempty"`
	BitStreams []BitStream `json:"bitstreams,omitempty"`
}

// BitStream is a named sub-part of a file, for example one stream of a
// container format.
type BitStream struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type,omitempty"`
	Technical  []byte `json:"technical,omitempty"`
}

// VersionList is a read-only view of the versions known for one entity,
// sorted ascending.
type VersionList struct {
	Identifier string `json:"identifier"`
	Versions   []int  `json:"versions"`
}

// Representation returns the nested representation with the given
// identifier, or nil.
func (e *IntellectualEntity) Representation(id string) *Representation {
	for i := range e.Representations {
		if e.Representations[i].Identifier == id {
			return &e.Representations[i]
		}
	}
	return nil
}

// File returns the nested file with the given identifier, or nil.
func (e *IntellectualEntity) File(id string) *File {
	for i := range e.Representations {
		for j := range e.Representations[i].Files {
			if e.Representations[i].Files[j].Identifier == id {
				return &e.Representations[i].Files[j]
			}
		}
	}
	return nil
}

// BitStream returns the nested bitstream with the given identifier, or nil.
func (e *IntellectualEntity) BitStream(id string) *BitStream {
	for i := range e.Representations {
		for j := range e.Representations[i].Files {
			for k := range e.Representations[i].Files[j].BitStreams {
				if e.Representations[i].Files[j].BitStreams[k].Identifier == id {
					return &e.Representations[i].Files[j].BitStreams[k]
				}
			}
		}
	}
	return nil
}
