package models

// Transition classifies an entity between two capture dates. It is derived on
// demand and never stored as primary state.
type Transition string

const (
	TransitionNew       Transition = "new"
	TransitionVanished  Transition = "vanished"
	TransitionChanged   Transition = "changed"
	TransitionUnchanged Transition = "unchanged"
)

// EntityTransition pairs an entity with its classification for one date pair.
// Diff is attached only for TransitionChanged.
type EntityTransition struct {
	EntityID   string      `json:"entity_id"`
	Transition Transition  `json:"transition"`
	Diff       *DiffResult `json:"diff,omitempty"`
}
