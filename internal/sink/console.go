// Package sink holds the event handlers the listener ships with: a styled
// console printer and a SQLite journal.
package sink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
)

const (
	labelWidth    = 34
	maxRawPreview = 120
)

// Console prints one line per event.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles
	title  cases.Caser
}

// NewConsole writes to w. Colors follow the terminal capabilities of w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
		title:  cases.Title(language.English),
	}
}

// Handle implements dispatch.Handler.
func (c *Console) Handle(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	label := fmt.Sprintf("%-*s", labelWidth, c.Label(ev))
	line := fmt.Sprintf("%s %s %s",
		c.styles.time.Render(ts.Local().Format("15:04:05")),
		c.styles.label.Foreground(TypeColor(ev.Type)).Render(label),
		c.render(ev),
	)
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Console) render(ev events.Event) string {
	if !ev.Recognized() {
		return c.styles.dim.Render(Summary(ev))
	}
	return c.styles.summary.Render(Summary(ev))
}

// Label turns an event type into a heading, e.g. "Channel Follow".
func (c *Console) Label(ev events.Event) string {
	name := string(ev.Type)
	if !ev.Recognized() {
		name = "unrecognized " + ev.WireType
	}
	name = strings.NewReplacer(".", " ", "_", " ").Replace(name)
	return c.title.String(strings.TrimSpace(name))
}

// Summary describes the event payload in one line.
func Summary(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case *events.PointsRedemption:
		s := fmt.Sprintf("%s redeemed %q (%d)", p.UserName, p.Reward.Title, p.Reward.Cost)
		if p.UserInput != "" {
			s += ": " + p.UserInput
		}
		return s
	case *events.Follow:
		return p.UserName + " followed"
	case *events.Subscribe:
		if p.IsGift {
			return fmt.Sprintf("%s received a tier %s gift sub", p.UserName, tierName(p.Tier))
		}
		return fmt.Sprintf("%s subscribed at tier %s", p.UserName, tierName(p.Tier))
	case *events.Cheer:
		who := p.UserName
		if p.IsAnonymous || who == "" {
			who = "anonymous"
		}
		return fmt.Sprintf("%s cheered %d bits: %s", who, p.Bits, p.Message)
	case *events.Raid:
		return fmt.Sprintf("%s raided with %d viewers", p.FromBroadcasterUserName, p.Viewers)
	case *events.Online:
		return fmt.Sprintf("%s went live (%s)", p.BroadcasterUserName, p.Type)
	case *events.Offline:
		return p.BroadcasterUserName + " went offline"
	case *events.ChannelInfo:
		return fmt.Sprintf("title %q, category %s", p.Title, p.CategoryName)
	case events.Fields:
		return fieldsSummary(p)
	default:
		raw := strings.Join(strings.Fields(string(ev.Raw)), " ")
		if len(raw) > maxRawPreview {
			raw = raw[:maxRawPreview] + "..."
		}
		return raw
	}
}

// fieldsSummary prefers the acting user and falls back to the first few
// scalar fields in key order.
func fieldsSummary(f events.Fields) string {
	for _, k := range []string{"user_name", "moderator_user_name", "broadcaster_user_name"} {
		if v, ok := f[k].(string); ok && v != "" {
			return fmt.Sprintf("by %s", v)
		}
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, 3)
	for _, k := range keys {
		switch v := f[k].(type) {
		case string, float64, bool:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func tierName(tier string) string {
	switch tier {
	case "1000":
		return "1"
	case "2000":
		return "2"
	case "3000":
		return "3"
	default:
		return tier
	}
}
