package feed

import (
	"strings"
	"time"
)

// SystemHandle is the author shown on locally generated status messages.
const SystemHandle = "system"

// StampLayout is used for timestamps produced locally (system messages and records
// without createdAt). Millisecond precision, always UTC.
const StampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one entry of the display log. It is never mutated after creation.
//
// CreatedAt holds the record's createdAt exactly as received; it is only parsed for display.
type Message struct {
	Handle    string `json:"handle"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	IsSystem  bool   `json:"isSystem"`
}

// Key is the uniqueness key of a Message: no two stored messages share all three fields.
type Key struct {
	Handle    string
	Content   string
	CreatedAt string
}

// Key returns the message's uniqueness key. Timestamps compare as strings, so the same
// instant written in two zones yields two keys.
func (m Message) Key() Key {
	return Key{Handle: m.Handle, Content: m.Content, CreatedAt: m.CreatedAt}
}

// FormatStamp renders t in StampLayout.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// NewMessage builds a remote (non-system) message stamped at createdAt.
func NewMessage(handle, content string, createdAt time.Time) Message {
	return Message{Handle: handle, Content: content, CreatedAt: FormatStamp(createdAt)}
}

// NewRecordMessage builds a remote message keeping the record's createdAt verbatim.
func NewRecordMessage(handle, content, createdAt string) Message {
	return Message{Handle: handle, Content: content, CreatedAt: createdAt}
}

// SystemMessage builds a local status message.
func SystemMessage(content string, now time.Time) Message {
	return Message{
		Handle:    SystemHandle,
		Content:   content,
		CreatedAt: FormatStamp(now),
		IsSystem:  true,
	}
}

// stampLayouts are tried in order by Time. Zoneless values are read as UTC.
var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Time parses CreatedAt for display. ok is false when no known layout matches.
func (m Message) Time() (t time.Time, ok bool) {
	s := strings.TrimSpace(m.CreatedAt)
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ProfileURL returns the public profile link for the author, or "" for system messages.
func (m Message) ProfileURL() string {
	if m.IsSystem || strings.TrimSpace(m.Handle) == "" {
		return ""
	}
	return "https://bsky.app/profile/" + m.Handle
}
