package models

import "time"

// Room is the single conversation container for an unordered pair of
// identities. RoomID is derived from the pair, so a second Room for the
// same pair cannot exist.
type Room struct {
	// RoomID is the canonical pair identifier.
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// ParticipantA is the lexicographically smaller participant ID.
	ParticipantA string `gorm:"type:text;not null;index" json:"participant_a"`
	// ParticipantB is the lexicographically larger participant ID.
	ParticipantB string `gorm:"type:text;not null;index" json:"participant_b"`
	// CreatedAt is set once, on first contact between the pair.
	CreatedAt time.Time `json:"created_at"`

	// LastSeq and LastMessageAt are advanced by message appends only.
	LastSeq       int64     `gorm:"not null;default:0" json:"-"`
	LastMessageAt time.Time `json:"-"`
}

// HasParticipant reports whether id is one of the two participants.
func (r *Room) HasParticipant(id string) bool {
	return id != "" && (r.ParticipantA == id || r.ParticipantB == id)
}

// Counterpart returns the other participant, or "" if selfID is not in
// the room.
func (r *Room) Counterpart(selfID string) string {
	switch selfID {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	default:
		return ""
	}
}

// Participants returns both participant IDs in canonical order.
func (r *Room) Participants() [2]string {
	return [2]string{r.ParticipantA, r.ParticipantB}
}
