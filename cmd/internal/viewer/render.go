package viewer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"thoughtstream/cmd/internal/feed"
)

// TimestampLayout renders as "Jan 1, 2025 at 3:45 PM".
const TimestampLayout = "Jan 2, 2006 at 3:04 PM"

// FormatTimestamp renders t in loc (local time when nil).
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimestampLayout)
}

// Renderer writes messages as plain text blocks.
type Renderer struct {
	w   io.Writer
	loc *time.Location
}

// NewRenderer returns a Renderer writing to w with timestamps in loc.
func NewRenderer(w io.Writer, loc *time.Location) *Renderer {
	return &Renderer{w: w, loc: loc}
}

// Render writes one message. A createdAt that does not parse is shown as received:
//
//	alice.bsky.social · Jan 1, 2025 at 3:45 PM  https://bsky.app/profile/alice.bsky.social
//	  hello world
func (r *Renderer) Render(m feed.Message) error {
	stamp := m.CreatedAt
	if t, ok := m.Time(); ok {
		stamp = FormatTimestamp(t, r.loc)
	}
	header := m.Handle + " · " + stamp
	if u := m.ProfileURL(); u != "" {
		header += "  " + u
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.TrimRight(m.Content, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// RenderLog writes msgs oldest first so the newest ends up at the bottom of a terminal.
func (r *Renderer) RenderLog(msgs []feed.Message) error {
	for i := len(msgs) - 1; i >= 0; i-- {
		if err := r.Render(msgs[i]); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}
	return nil
}
