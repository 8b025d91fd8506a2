package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a catalog account object.
type User struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
}

// NewUser creates a user with a fresh id.
func NewUser(name, displayName, role string) *User {
	now := time.Now().UTC()
	return &User{
		ID:          NewID(),
		Name:        name,
		DisplayName: displayName,
		Role:        role,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

func (u *User) TargetID() uuid.UUID    { return u.ID }
func (u *User) TargetType() TargetType { return TargetTypeUser }

func (u *User) Touched(now time.Time) Target {
	clone := *u
	clone.UpdatedTime = now
	return &clone
}

// WithName returns a copy with the name replaced.
func (u *User) WithName(name string) *User {
	clone := *u
	clone.Name = name
	return &clone
}
