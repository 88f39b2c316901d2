package models

import "time"

// ChatListEntry is one participant's projection of a room. It is keyed by
// (OwnerID, RoomID) and written only by the chat-list aggregator.
type ChatListEntry struct {
	OwnerID            string `gorm:"primaryKey" json:"owner_id"`
	RoomID             string `gorm:"primaryKey" json:"room_id"`
	CounterpartID      string `gorm:"type:text;not null" json:"counterpart_id"`
	LastMessagePreview string `gorm:"type:text" json:"last_message_preview"`
	// UpdatedAt is the creation time of the last message, or the room
	// creation time while the room is empty.
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index" json:"updated_at"`
	Seen      bool      `gorm:"not null" json:"seen"`
	// RoomCreatedAt breaks ties between entries with equal UpdatedAt.
	RoomCreatedAt time.Time `json:"room_created_at"`
}

// TableName implements the GORM tabler interface.
func (ChatListEntry) TableName() string { return "chat_list_entries" }

// ChatSummary is a chat-list entry decorated for display. It carries the
// counterpart's pseudonym, never their display name.
type ChatSummary struct {
	ChatListEntry
	Pseudonym   string `json:"pseudonym"`
	AvatarColor string `json:"avatar_color"`
	Online      bool   `json:"online"`
}

// ChatView is handed to the presentation layer when a chat is opened.
type ChatView struct {
	RoomID        string `json:"room_id"`
	CounterpartID string `json:"counterpart_id"`
	Pseudonym     string `json:"pseudonym"`
	AvatarColor   string `json:"avatar_color"`
	Bio           string `json:"bio"`
	Online        bool   `json:"online"`
}
