package workspace

import (
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/util"
)

type MessageLog struct {
	items []annotation.ChatMessage
	now   func() time.Time
}

func NewMessageLog(now func() time.Time) *MessageLog {
	if now == nil {
		now = utcNow
	}
	return &MessageLog{now: now}
}

func (l *MessageLog) Append(role annotation.Role, content string, citations []annotation.Citation) annotation.ChatMessage {
	m := annotation.ChatMessage{
		ID:        util.NewID("msg"),
		Role:      role,
		Content:   content,
		Timestamp: l.now(),
	}
	if len(citations) > 0 {
		m.Citations = append([]annotation.Citation(nil), citations...)
	}
	l.items = append(l.items, m)
	return m
}

// ToggleFlag flips the flag of a message and reports the new value. ok is
// false for unknown ids.
func (l *MessageLog) ToggleFlag(id string) (flagged, ok bool) {
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i].IsFlagged = !l.items[i].IsFlagged
			return l.items[i].IsFlagged, true
		}
	}
	return false, false
}

func (l *MessageLog) Flagged() []annotation.ChatMessage {
	out := []annotation.ChatMessage{}
	for _, m := range l.items {
		if m.IsFlagged {
			out = append(out, m)
		}
	}
	return out
}

func (l *MessageLog) All() []annotation.ChatMessage {
	return append([]annotation.ChatMessage{}, l.items...)
}

func (l *MessageLog) load(items []annotation.ChatMessage) {
	l.items = append([]annotation.ChatMessage{}, items...)
}
