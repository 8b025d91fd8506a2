package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorClass classifies who initiated a committed change.
type ActorClass string

const (
	ActorClassSystem    ActorClass = "SYSTEM"
	ActorClassUser      ActorClass = "USER"
	ActorClassModerator ActorClass = "MODERATOR"
)

// ParseActorClass validates a wire string against the known classes.
func ParseActorClass(raw string) (ActorClass, error) {
	switch ActorClass(raw) {
	case ActorClassSystem, ActorClassUser, ActorClassModerator:
		return ActorClass(raw), nil
	}
	return "", fmt.Errorf("unknown actor class %q", raw)
}

// Actor identifies the initiator of a change. ID is nil for system actors.
type Actor struct {
	Class ActorClass `json:"class"`
	ID    *uuid.UUID `json:"id,omitempty"`
}

// SystemActor is the actor recorded for changes made by background jobs.
var SystemActor = Actor{Class: ActorClassSystem}

// UserActor builds an actor for a signed-in user.
func UserActor(id uuid.UUID) Actor {
	return Actor{Class: ActorClassUser, ID: &id}
}

// ModeratorActor builds an actor for a moderator.
func ModeratorActor(id uuid.UUID) Actor {
	return Actor{Class: ActorClassModerator, ID: &id}
}
