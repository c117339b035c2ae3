// ABOUTME: Reaction and numbered-reply menus that stand in for inline buttons
// ABOUTME: Remembers sent menus and maps a keycap, number, or format name back to a button

package matrix

import (
	"strconv"
	"strings"
	"time"

	"github.com/2389/convertbot/internal/bot"
	"github.com/2389/convertbot/internal/ttlcache"
)

// keycaps are offered as reactions under a menu, in button order.
var keycaps = []string{
	"1\uFE0F\u20E3", "2\uFE0F\u20E3", "3\uFE0F\u20E3", "4\uFE0F\u20E3", "5\uFE0F\u20E3",
	"6\uFE0F\u20E3", "7\uFE0F\u20E3", "8\uFE0F\u20E3", "9\uFE0F\u20E3", "\U0001F51F",
}

const (
	variationSelector = "\uFE0F"

	menuTTL      = 30 * time.Minute
	maxMenus     = 1024
	menuFootnote = "React with a number or reply with it."
)

type menu struct {
	roomID  string
	buttons []bot.Button
}

// menuRegistry tracks menus by event ID and the newest menu per room.
type menuRegistry struct {
	byEvent *ttlcache.Cache[menu]
	latest  *ttlcache.Cache[string]
}

func newMenuRegistry(opts ...ttlcache.Option[menu]) *menuRegistry {
	return &menuRegistry{
		byEvent: ttlcache.New[menu](menuTTL, maxMenus, opts...),
		latest:  ttlcache.New[string](menuTTL, maxMenus),
	}
}

func (r *menuRegistry) add(eventID, roomID string, buttons []bot.Button) {
	r.byEvent.Set(eventID, menu{roomID: roomID, buttons: buttons})
	r.latest.Set(roomID, eventID)
}

// fromReaction resolves a keycap reaction on a menu message.
func (r *menuRegistry) fromReaction(eventID, key string) (bot.Button, bool) {
	m, ok := r.byEvent.Get(eventID)
	if !ok {
		return bot.Button{}, false
	}
	i := keycapIndex(key)
	if i < 0 || i >= len(m.buttons) {
		return bot.Button{}, false
	}
	return m.buttons[i], true
}

// fromReply resolves a text reply. replyTo selects the menu when the user
// used Matrix's reply feature; otherwise the room's newest menu is used.
func (r *menuRegistry) fromReply(roomID, replyTo, text string) (bot.Button, bool) {
	eventID := replyTo
	if eventID == "" {
		latest, ok := r.latest.Get(roomID)
		if !ok {
			return bot.Button{}, false
		}
		eventID = latest
	}
	m, ok := r.byEvent.Get(eventID)
	if !ok || m.roomID != roomID {
		return bot.Button{}, false
	}
	return matchChoice(m.buttons, text)
}

func (r *menuRegistry) close() {
	r.byEvent.Close()
	r.latest.Close()
}

// matchChoice accepts "2", a keycap, or the target format name ("pdf").
func matchChoice(buttons []bot.Button, text string) (bot.Button, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return bot.Button{}, false
	}
	if i := keycapIndex(text); i >= 0 && i < len(buttons) {
		return buttons[i], true
	}
	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(buttons) {
			return buttons[n-1], true
		}
		return bot.Button{}, false
	}
	for _, b := range buttons {
		sel, err := bot.ParseSelection(b.Data)
		if err != nil {
			continue
		}
		if strings.EqualFold(text, sel.Format.String()) || strings.EqualFold(text, b.Label) {
			return b, true
		}
	}
	return bot.Button{}, false
}

// keycapIndex returns the button index for a keycap emoji, or -1. Clients
// differ on whether they send the variation selector, so it is ignored.
func keycapIndex(key string) int {
	norm := strings.ReplaceAll(key, variationSelector, "")
	for i, k := range keycaps {
		if norm == strings.ReplaceAll(k, variationSelector, "") {
			return i
		}
	}
	return -1
}

// menuText appends the numbered choices to a message body.
func menuText(text string, buttons []bot.Button) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	for i, btn := range buttons {
		if i < len(keycaps) {
			b.WriteString(keycaps[i])
		} else {
			b.WriteString(strconv.Itoa(i + 1))
			b.WriteString(".")
		}
		b.WriteString(" ")
		b.WriteString(btn.Label)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(menuFootnote)
	return b.String()
}
