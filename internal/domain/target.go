package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TargetType identifies one of the catalogable object kinds. The set is closed;
// every type maps to its own document collection in the store.
type TargetType string

const (
	TargetTypeBook       TargetType = "book"
	TargetTypeUser       TargetType = "user"
	TargetTypeImage      TargetType = "image"
	TargetTypeCollection TargetType = "collection"
)

// TargetTypes lists every catalogable type in a stable order.
func TargetTypes() []TargetType {
	return []TargetType{TargetTypeBook, TargetTypeUser, TargetTypeImage, TargetTypeCollection}
}

// ParseTargetType validates a wire string against the closed type set.
func ParseTargetType(raw string) (TargetType, error) {
	switch TargetType(raw) {
	case TargetTypeBook, TargetTypeUser, TargetTypeImage, TargetTypeCollection:
		return TargetType(raw), nil
	}
	return "", fmt.Errorf("unknown target type %q", raw)
}

// Target is any catalogable object subject to versioning. Implementations are
// plain structs; mutation helpers return copies so a caller-held value is never
// aliased by the repository.
type Target interface {
	TargetID() uuid.UUID
	TargetType() TargetType
	// Touched returns a copy with UpdatedTime set; the repository stamps this
	// before every committed write.
	Touched(now time.Time) Target
}

// Composite is implemented by targets that own an ordered list of sub-entities.
// Removing the last part must delete the composite wholesale rather than leave
// an empty live record.
type Composite interface {
	Target
	PartCount() int
}

// DecodeTarget deserializes a stored document into its concrete target type.
func DecodeTarget(targetType TargetType, data []byte) (Target, error) {
	var target Target
	switch targetType {
	case TargetTypeBook:
		target = &Book{}
	case TargetTypeUser:
		target = &User{}
	case TargetTypeImage:
		target = &Image{}
	case TargetTypeCollection:
		target = &Collection{}
	default:
		return nil, fmt.Errorf("unknown target type %q", targetType)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", targetType, err)
	}
	return target, nil
}

// EncodeTarget serializes a target for storage.
func EncodeTarget(target Target) ([]byte, error) {
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", target.TargetType(), err)
	}
	return data, nil
}
