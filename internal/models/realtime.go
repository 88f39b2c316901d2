package models

// Client frame types.
const (
	FrameOpen  = "open"
	FrameClose = "close"
	FrameSend  = "send"
	FrameSeen  = "seen"
)

// Server frame types.
const (
	FrameMessage = "message"
	FrameChats   = "chats"
	FrameError   = "error"
)

// ClientFrame is a frame received from a WebSocket client.
type ClientFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Body     string `json:"body,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`

	// SenderID is stamped by the server from the authenticated session.
	SenderID string `json:"-"`
}

// ServerFrame is a frame pushed to a WebSocket client.
type ServerFrame struct {
	Type    string        `json:"type"`
	RoomID  string        `json:"room_id,omitempty"`
	Message *Message      `json:"message,omitempty"`
	Chats   []ChatSummary `json:"chats"`
	Error   string        `json:"error,omitempty"`
}
