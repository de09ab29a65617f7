package domain

import "time"

// Conversation holds the active message list. ID is empty until the first
// message is sent and the persisted record is created.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

const maxTitleLen = 30

// TitleFromContent derives a conversation title from its first message.
func TitleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= maxTitleLen {
		return content
	}
	return string(runes[:maxTitleLen]) + "..."
}
