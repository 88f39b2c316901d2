package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Message is one immutable entry of a room's log. Exactly one of Body and
// ImageRef is set.
type Message struct {
	MessageID string `gorm:"primaryKey" json:"message_id"`
	RoomID    string `gorm:"type:text;not null;uniqueIndex:idx_room_seq,priority:1" json:"room_id"`
	// Seq is assigned by the log, starting at 1 within each room.
	Seq      int64  `gorm:"not null;uniqueIndex:idx_room_seq,priority:2" json:"seq"`
	SenderID string `gorm:"type:text;not null" json:"sender_id"`
	Body     string `gorm:"type:text" json:"body,omitempty"`
	// ImageRef is the opaque handle returned by the upload service.
	ImageRef  string    `gorm:"type:text" json:"image_ref,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// IsImage reports whether the message carries an image reference.
func (m *Message) IsImage() bool { return m.ImageRef != "" }

// Content is what a sender submits for a new message.
type Content struct {
	Body     string `json:"body,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

// Text builds text content.
func Text(body string) Content { return Content{Body: body} }

// Image builds image content.
func Image(ref string) Content { return Content{ImageRef: ref} }

// Normalize trims the content and checks that exactly one of body and
// image reference is present.
func (c Content) Normalize(maxRunes int) (Content, error) {
	body := strings.TrimSpace(c.Body)
	ref := strings.TrimSpace(c.ImageRef)

	switch {
	case body == "" && ref == "":
		return Content{}, fmt.Errorf("%w: message is empty", ErrValidation)
	case body != "" && ref != "":
		return Content{}, fmt.Errorf("%w: message has both text and image", ErrValidation)
	case maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes:
		return Content{}, fmt.Errorf("%w: message longer than %d characters", ErrValidation, maxRunes)
	}
	return Content{Body: body, ImageRef: ref}, nil
}
