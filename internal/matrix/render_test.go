// ABOUTME: Tests for Matrix message rendering
// ABOUTME: Checks goldmark output, menu formatting, and MIME type guesses

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"

	"github.com/2389/convertbot/internal/bot"
)

func TestRenderMarkdown(t *testing.T) {
	out, err := renderMarkdown("**Supported:**\n- DOCX ➜ PDF")
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>Supported:</strong>")
	assert.Contains(t, out, "<li>DOCX ➜ PDF</li>")

	out, err = renderMarkdown("Converting `report.docx` to `PDF`...")
	require.NoError(t, err)
	assert.Contains(t, out, "<code>report.docx</code>")

	out, err = renderMarkdown("line one\nline two")
	require.NoError(t, err)
	assert.Contains(t, out, "<br")

	out, err = renderMarkdown("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestMessageContent_Plain(t *testing.T) {
	content := messageContent(bot.Message{Text: "✅ File 'a.docx' received!"})
	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, "✅ File 'a.docx' received!", content.Body)
	assert.Empty(t, content.FormattedBody)
}

func TestMessageContent_Markdown(t *testing.T) {
	content := messageContent(bot.Message{Text: "**About**", Markdown: true})
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Equal(t, "<p><strong>About</strong></p>", content.FormattedBody)
}

func TestMessageContent_Menu(t *testing.T) {
	content := messageContent(bot.Message{
		Text:    "Select the format you want to convert to:",
		Buttons: testButtons(),
	})
	assert.Contains(t, content.Body, keycaps[1]+" Convert to DOC")
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "Convert to TXT")
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeTypeFor("converted_report.pdf"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("converted_deck.nosuchext"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("noext"))
}
