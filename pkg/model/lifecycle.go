package model

// State is the workflow status of an entity. The repository only ever
// drives the INGESTING -> INGESTED transition; the remaining states are
// reserved for external workflow tooling.
type State string

const (
	StateNew       State = "NEW"
	StateIngesting State = "INGESTING"
	StateIngested  State = "INGESTED"
	StateUpdated   State = "UPDATED"
	StateDeleted   State = "DELETED"
)

// LifecycleState pairs a workflow state with a free-form message.
type LifecycleState struct {
	Message string `json:"message,omitempty"`
	State   State  `json:"state"`
}
