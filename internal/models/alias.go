package models

import "time"

// Alias maps a counterpart to the pseudonym shown for them inside one
// room. A pseudonym is unique within its room.
type Alias struct {
	RoomID        string    `gorm:"primaryKey;uniqueIndex:idx_room_pseudonym,priority:1" json:"room_id"`
	CounterpartID string    `gorm:"primaryKey" json:"counterpart_id"`
	Pseudonym     string    `gorm:"type:text;not null;uniqueIndex:idx_room_pseudonym,priority:2" json:"pseudonym"`
	CreatedAt     time.Time `json:"created_at"`
}
