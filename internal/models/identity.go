package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity is an account or a throwaway guest. The display name is never
// shown to counterparts; rooms show a pseudonym instead.
type Identity struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	DisplayName string    `gorm:"type:text;not null" json:"display_name"`
	AvatarColor string    `gorm:"type:text;not null" json:"avatar_color"`
	// Bio is free text the identity chose to show counterparts.
	Bio         string    `gorm:"type:text;not null;default:''" json:"bio"`
	IsGuest     bool      `gorm:"not null;default:false" json:"is_guest"`
	LastSeenAt  time.Time `gorm:"index" json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate is a GORM hook. It fills in the ID and avatar colour when
// the caller left them empty.
func (i *Identity) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.AvatarColor == "" {
		i.AvatarColor = AvatarColorFor(i.ID)
	}
	return
}

// AvatarColorFor derives a stable CSS colour from an identifier.
func AvatarColorFor(id string) string {
	if id == "" {
		return "#777"
	}
	var hash int32
	for _, r := range id {
		hash = int32(r) + ((hash << 5) - hash)
	}
	hue := int(hash) % 360
	if hue < 0 {
		hue += 360
	}
	return fmt.Sprintf("hsl(%d, 60%%, 50%%)", hue)
}
