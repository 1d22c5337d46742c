package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/ancsbridge/internal/events"
	"golang.org/x/term"
)

const (
	formatAuto = "auto"
	formatText = "text"
	formatJSON = "json"
)

var validFormats = []string{formatAuto, formatText, formatJSON}

// renderer prints events as text lines, colored on a terminal, or as JSON lines.
type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool

	stamp  *color.Color
	state  *color.Color
	call   *color.Color
	notice *color.Color
	muted  *color.Color
}

func newRenderer(out io.Writer, format string) (*renderer, error) {
	tty := isTerminal(out)
	switch format {
	case formatAuto:
		format = formatJSON
		if tty {
			format = formatText
		}
	case formatText, formatJSON:
	default:
		return nil, fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}

	r := &renderer{
		out:    out,
		json:   format == formatJSON,
		stamp:  color.New(color.FgHiBlack),
		state:  color.New(color.FgCyan, color.Bold),
		call:   color.New(color.FgRed, color.Bold),
		notice: color.New(color.FgGreen),
		muted:  color.New(color.FgYellow),
	}
	if !tty {
		for _, c := range []*color.Color{r.stamp, r.state, r.call, r.notice, r.muted} {
			c.DisableColor()
		}
	}
	return r, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render writes one event.
func (r *renderer) Render(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.json {
		return json.NewEncoder(r.out).Encode(ev)
	}
	_, err := fmt.Fprintf(r.out, "%s %s\n", r.stamp.Sprint(ev.Time.Format("15:04:05")), r.describe(ev))
	return err
}

func (r *renderer) describe(ev events.Event) string {
	switch ev.Kind {
	case events.KindStateChanged:
		return r.state.Sprintf("%-12s", "STATE") + " " + ev.State
	case events.KindIncomingCall:
		n := ev.Notification
		return r.call.Sprintf("%-12s", "CALL") + " " + n.Title + actions(n.PositiveActionLabel, n.NegativeActionLabel)
	case events.KindCallEnded:
		return r.call.Sprintf("%-12s", "CALL ENDED")
	case events.KindNotificationReceived:
		n := ev.Notification
		line := r.notice.Sprintf("%-12s", "NOTIFY") + " " + fmt.Sprintf("[%s] %s", n.AppIdentifier, n.Title)
		if n.Message != "" {
			line += ": " + oneLine(n.Message)
		}
		return line + actions(n.PositiveActionLabel, n.NegativeActionLabel)
	case events.KindNotificationCanceled:
		return r.muted.Sprintf("%-12s", "CANCELED") + " " + ev.ID
	case events.KindBatteryLevel:
		return r.muted.Sprintf("%-12s", "BATTERY") + fmt.Sprintf(" %d%%", *ev.BatteryLevel)
	case events.KindMediaUpdated:
		m := ev.Media
		return r.notice.Sprintf("%-12s", "MEDIA") + fmt.Sprintf(" entity=%d attribute=%d %s", m.EntityID, m.AttributeID, m.Value)
	}
	return string(ev.Kind)
}

func actions(positive, negative string) string {
	var labels []string
	for _, l := range []string{positive, negative} {
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return ""
	}
	return " [" + strings.Join(labels, "|") + "]"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
