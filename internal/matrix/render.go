// ABOUTME: Builds Matrix message content from bot messages
// ABOUTME: Renders Markdown to HTML with goldmark and appends menus as numbered lines

package matrix

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"

	"github.com/2389/convertbot/internal/bot"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// renderMarkdown converts Markdown to the HTML subset Matrix clients show.
// Raw HTML in the input is escaped.
func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// messageContent builds the m.room.message content for msg. Menus are
// always formatted so the numbered lines keep their breaks.
func messageContent(msg bot.Message) *event.MessageEventContent {
	text := msg.Text
	if len(msg.Buttons) > 0 {
		text = menuText(text, msg.Buttons)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if !msg.Markdown && len(msg.Buttons) == 0 {
		return content
	}

	formatted, err := renderMarkdown(text)
	if err != nil {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = formatted
	return content
}

// mimeTypeFor guesses a document's MIME type from its extension.
func mimeTypeFor(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}
