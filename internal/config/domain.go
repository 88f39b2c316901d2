package config

import "time"

const (
	// Presence
	PresenceWindow    = 70 * time.Second
	HeartbeatInterval = 60 * time.Second

	// Profiles
	MaxDisplayNameRunes = 64
	MaxBioRunes         = 280

	// Invites
	InviteTTL = 24 * time.Hour

	// Chat list
	PreviewMaxRunes      = 40
	ImagePreview         = "Image"
	ChatListInitAttempts = 3

	// Aliases
	AliasAttempts     = 8
	AliasDigits       = 4
	AliasWideDigits   = 6
	AliasFallbackName = "Anonymous"

	// Messages
	MaxBodyRunes        = 4000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// Auth
	TokenTTL    = 72 * time.Hour
	TokenIssuer = "anonchat-service"
)

// AliasPrefixes is the closed set of pseudonym prefixes. Every pseudonym
// is one of these followed by a numeric suffix.
var AliasPrefixes = []string{
	"Red Panda",
	"Blue Falcon",
	"Green Turtle",
	"Yellow Tiger",
	"Purple Owl",
	"Silver Fox",
	"Golden Eagle",
	"Crimson Wolf",
	"Azure Dolphin",
	"Orange Lion",
}
