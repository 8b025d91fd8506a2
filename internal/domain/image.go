package domain

import (
	"time"

	"github.com/google/uuid"
)

// Image is a standalone catalog image (cover art, gallery upload).
type Image struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title,omitempty"`
	FileKey     string    `json:"file_key"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
}

// NewImage creates an image with a fresh id.
func NewImage(title, fileKey string, width, height int) *Image {
	now := time.Now().UTC()
	return &Image{
		ID:          NewID(),
		Title:       title,
		FileKey:     fileKey,
		Width:       width,
		Height:      height,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

func (i *Image) TargetID() uuid.UUID    { return i.ID }
func (i *Image) TargetType() TargetType { return TargetTypeImage }

func (i *Image) Touched(now time.Time) Target {
	clone := *i
	clone.Tags = append([]string(nil), i.Tags...)
	clone.UpdatedTime = now
	return &clone
}
