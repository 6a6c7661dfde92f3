package sink

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
)

// Event category colors.
var (
	ColorPoints     = lipgloss.Color("#a855f7")
	ColorFollow     = lipgloss.Color("#3b82f6")
	ColorSubscribe  = lipgloss.Color("#22c55e")
	ColorBits       = lipgloss.Color("#f59e0b")
	ColorRaid       = lipgloss.Color("#dc2626")
	ColorStream     = lipgloss.Color("#06b6d4")
	ColorModeration = lipgloss.Color("#d97706")
	ColorDefault    = lipgloss.Color("#9ca3af")
	ColorUnknown    = lipgloss.Color("#4b5563")
	ColorDimmed     = lipgloss.Color("#6b7280")
	ColorBright     = lipgloss.Color("#f9fafb")
)

// TypeColor returns the color for an event type.
func TypeColor(t events.Type) lipgloss.Color {
	s := string(t)
	switch {
	case t == events.Unrecognized:
		return ColorUnknown
	case strings.Contains(s, "channel_points"):
		return ColorPoints
	case s == string(events.ChannelFollow):
		return ColorFollow
	case strings.Contains(s, "subscri"):
		return ColorSubscribe
	case s == string(events.ChannelCheer):
		return ColorBits
	case s == string(events.ChannelRaid):
		return ColorRaid
	case strings.HasPrefix(s, "stream."):
		return ColorStream
	case strings.Contains(s, "ban") || strings.Contains(s, "moderator"):
		return ColorModeration
	default:
		return ColorDefault
	}
}

type styles struct {
	time    lipgloss.Style
	label   lipgloss.Style
	summary lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		time:    r.NewStyle().Foreground(ColorDimmed),
		label:   r.NewStyle().Bold(true),
		summary: r.NewStyle().Foreground(ColorBright),
		dim:     r.NewStyle().Foreground(ColorDimmed).Italic(true),
	}
}
