package resolve

import "sync"

// ownership is one child-id -> owning-entity-id map with its own lock.
// Request handlers and the async worker both mutate these, so every
// access goes through the lock.
type ownership struct {
	mu sync.RWMutex
	m  map[string]string
}

func newOwnership() *ownership {
	return &ownership{m: make(map[string]string)}
}

func (o *ownership) put(child, owner string) {
	o.mu.Lock()
	o.m[child] = owner
	o.mu.Unlock()
}

func (o *ownership) get(child string) (string, bool) {
	o.mu.RLock()
	owner, ok := o.m[child]
	o.mu.RUnlock()
	return owner, ok
}

// Maps caches the ownership edges observed during successful
// ingestions. The blob store is the source of truth; these maps start
// empty on every process start and are never persisted.
type Maps struct {
	representations *ownership
	files           *ownership
	bitstreams      *ownership
	metadata        *ownership
}

func NewMaps() *Maps {
	return &Maps{
		representations: newOwnership(),
		files:           newOwnership(),
		bitstreams:      newOwnership(),
		metadata:        newOwnership(),
	}
}

// EntityForRepresentation resolves a representation id to its owning
// entity id.
func (m *Maps) EntityForRepresentation(id string) (string, bool) {
	return m.representations.get(id)
}

// EntityForFile resolves a file id to its owning entity id.
func (m *Maps) EntityForFile(id string) (string, bool) {
	return m.files.get(id)
}

// EntityForBitStream resolves a bitstream id to its owning entity id.
func (m *Maps) EntityForBitStream(id string) (string, bool) {
	return m.bitstreams.get(id)
}

// EntityForMetadata resolves a descriptive-metadata id to its owning
// entity id.
func (m *Maps) EntityForMetadata(id string) (string, bool) {
	return m.metadata.get(id)
}
