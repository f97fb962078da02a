package kabaw

import "time"

// MessageKind classifies an entry of the message log.
type MessageKind int

const (
	KindSystem MessageKind = iota
	KindUserJoined
	KindChat
)

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUserJoined:
		return "user_joined"
	case KindChat:
		return "chat"
	default:
		return "unknown"
	}
}

// ChatMessage is one entry of the message log, decoded from an inbound frame.
type ChatMessage struct {
	Kind      MessageKind
	Type      string // wire type as sent by the server
	Username  string
	UserID    string
	Content   string
	Timestamp time.Time
}

// IsSystem reports whether the message is rendered as a system line.
func (m ChatMessage) IsSystem() bool {
	return m.Kind == KindSystem || m.Kind == KindUserJoined
}

// IsOwn reports whether the message was sent by the given session.
func (m ChatMessage) IsOwn(sessionID string) bool {
	return sessionID != "" && m.UserID == sessionID
}

// ShortUserID returns the first 8 characters of the sender id.
func (m ChatMessage) ShortUserID() string {
	return shortID(m.UserID)
}

// FormatTime renders t as HH:MM in local time, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}

func shortID(id string) string {
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:8])
}
