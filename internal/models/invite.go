package models

import "time"

// InviteToken is a time-boxed capability that lets an unauthenticated
// visitor open a room with the issuer.
type InviteToken struct {
	TokenID   string    `gorm:"primaryKey" json:"token_id"`
	IssuerID  string    `gorm:"type:text;not null;index" json:"issuer_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	// RedeemedAt is only written in single-use mode.
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// Expired reports whether the token is past its expiry at now. A token is
// still valid at exactly ExpiresAt.
func (t *InviteToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
