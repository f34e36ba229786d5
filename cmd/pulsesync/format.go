package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

const timeLayout = "2006-01-02 15:04"

func formatSummary(s domain.ConversationSummary, unread int) string {
	var b strings.Builder
	if s.Pinned {
		b.WriteString("* ")
	} else {
		b.WriteString("  ")
	}
	fmt.Fprintf(&b, "%-12s %-20s", s.Key, s.Title())
	if unread > 0 {
		fmt.Fprintf(&b, " (%d)", unread)
	}
	if !s.MemberActive {
		b.WriteString(" [removed]")
	}
	if s.LastMessagePreview != "" {
		fmt.Fprintf(&b, "  %s", s.LastMessagePreview)
	}
	if !s.LastMessageAt.IsZero() {
		fmt.Fprintf(&b, "  %s", s.LastMessageAt.Local().Format(timeLayout))
	}
	return b.String()
}

func formatMessage(m *domain.Message) string {
	ts := ""
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.Local().Format(timeLayout)
	}
	line := fmt.Sprintf("  [%s] %s: %s", ts, m.Sender.Username, m.Preview())
	switch {
	case m.IsDeleted:
		line += " (deleted)"
	case m.Status == domain.StatusFailed:
		line += " (failed)"
	case m.IsTemporary():
		line += " (sending)"
	case m.Status != "":
		line += " (" + string(m.Status) + ")"
	}
	return line
}

func formatPresence(key domain.ConversationKey, p domain.PresenceEntry) string {
	if p.Status == domain.Online || p.LastSeen == nil {
		return fmt.Sprintf("%s: %s", key, p.Status)
	}
	return fmt.Sprintf("%s: %s, last seen %s", key, p.Status, p.LastSeen.Local().Format(time.RFC3339))
}
