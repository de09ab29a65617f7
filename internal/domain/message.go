package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation. It is created client-side and
// mutated in place while a response streams in; once persisted it is a
// snapshot and never changes.
type Message struct {
	ID          string
	Content     string
	Role        Role
	Timestamp   time.Time
	Model       string
	IsStreaming bool
	Error       bool
	TokensUsed  int
	Files       []FileRef
}

// FileRef is an attachment supplied alongside a user message.
type FileRef struct {
	Name string
	Type string
	Size int64
	Data []byte
}

// NewMessageID returns a time-prefixed id. The time prefix keeps ids of
// messages created in order lexicographically sortable, which the store
// relies on to break equal-timestamp ties.
func NewMessageID() string {
	var b [4]byte
	rand.Read(b[:])
	return fmt.Sprintf("msg-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// SortMessages orders messages by timestamp, ties broken by comparing ids.
// The sort is stable so already-ordered input is left untouched.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
