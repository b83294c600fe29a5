package domain

import "time"

// Role of a stored chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StoredMessage is one entry of a session's chat transcript
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InlineData is a decoded binary attachment
type InlineData struct {
	MIMEType string
	Data     []byte
}

// InboundPart is one part of a user turn: either text or inline binary data
type InboundPart struct {
	Text   string
	Inline *InlineData
}

// IsText reports whether the part carries text only
func (p InboundPart) IsText() bool {
	return p.Inline == nil
}
