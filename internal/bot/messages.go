// ABOUTME: User-facing texts for the conversion bot
// ABOUTME: Builds help, format lists, menus, and sanitized failure notices

package bot

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/2389/convertbot/internal/catalog"
	"github.com/2389/convertbot/internal/store"
)

const (
	msgNoDocument      = "No document found."
	msgNotAwaiting     = "Please use %sstart or %sconvert before sending a file."
	msgSendFile        = "❗ Please send a file to convert."
	msgUnsupportedType = "❌ Sorry, this file type is not supported."
	msgReceived        = "✅ File '%s' received!"
	msgSelectFormat    = "Select the format you want to convert to:"
	msgInvalidChoice   = "Invalid conversion format."
	msgExpired         = "⌛ This selection has expired. Please send the file again."
	msgInProgress      = "⏳ A conversion is already in progress. Please wait for it to finish."
	msgConverting      = "🔄 Converting `%s` to `%s`..."
	msgFailed          = "❌ Conversion failed or unsupported format."
	msgUnsupportedPair = "❌ Converting %s to %s is not supported."
	msgStorageFailed   = "⚠️ Something went wrong while saving your file. Please try again."
	msgTooLarge        = "❌ That file is too large. The limit is %s."
	msgCancelled       = "Cancelled. Your file was discarded."
	msgStopped         = "Cancelled."
	msgNothingToCancel = "Nothing to cancel."
	msgPickFormat      = "Pick a format from the menu above, or send %scancel."
	msgGetStarted      = "Send %sconvert to get started."
	msgUnknownCommand  = "Unknown command. Send %shelp for the list of commands."
	msgNoHistory       = "You haven't converted anything yet."
	msgHistoryFailed   = "⚠️ Could not load your history right now."
)

func startText(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! 👋 Send me the file you want me to convert.", name)
}

func aboutText(prefix string) string {
	return "📄 **About This Bot**\n\n" +
		"This bot helps you convert files between different formats.\n" +
		fmt.Sprintf("Just hit %sconvert and send a file to get started!", prefix)
}

func helpText(prefix string) string {
	lines := []string{
		prefix + "start - Begin using the bot",
		prefix + "about - Learn what this bot does",
		prefix + "convert - Start the conversion process",
		prefix + "cancel - Discard the file you sent",
		prefix + "history - Show your recent conversions",
		prefix + "help - Show this help message",
	}
	return strings.Join(lines, "\n")
}

// convertText lists every supported conversion in catalog order.
func convertText(cat *catalog.Catalog, maxSize int64) string {
	var b strings.Builder
	b.WriteString("📤 **Send me your file for conversion**\n\n")
	b.WriteString("📁 **Supported Format Conversions:**\n\n")
	for _, src := range cat.Sources() {
		targets := cat.SupportedTargets(src)
		labels := make([]string, len(targets))
		for i, t := range targets {
			labels[i] = t.Label()
		}
		fmt.Fprintf(&b, "- %s ➜ %s\n", src.Label(), strings.Join(labels, ", "))
	}
	if maxSize > 0 {
		fmt.Fprintf(&b, "\n📦 **Max file size:** %s\n", formatSize(maxSize))
	}
	return b.String()
}

// formatButtons builds the target menu for a staged file.
func formatButtons(stagedID string, targets []catalog.Format) []Button {
	buttons := make([]Button, len(targets))
	for i, t := range targets {
		buttons[i] = Button{
			Label: "Convert to " + t.Label(),
			Data:  EncodeSelection(stagedID, t),
		}
	}
	return buttons
}

// ConvertedName names the result artifact: "converted_<stem>.<target>",
// where stem is the original name up to its first '.'.
func ConvertedName(original string, target catalog.Format) string {
	stem := original
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	if stem == "" {
		stem = "file"
	}
	return fmt.Sprintf("converted_%s.%s", stem, target)
}

// historyText lists recent attempts. stats, when known, adds a totals line.
func historyText(entries []*store.Conversion, stats *store.ConversionStats) string {
	if len(entries) == 0 {
		return msgNoHistory
	}
	var b strings.Builder
	b.WriteString("🕘 **Your recent conversions:**\n\n")
	if stats != nil {
		fmt.Fprintf(&b, "Total: %d (✅ %d, ❌ %d)\n\n", stats.Total, stats.Succeeded, stats.Failed)
	}
	for _, c := range entries {
		mark := "✅"
		if c.Status != store.StatusSucceeded {
			mark = "❌"
		}
		fmt.Fprintf(&b, "- %s `%s` %s ➜ %s (%s)\n",
			mark,
			c.Filename,
			strings.ToUpper(c.SourceFormat),
			strings.ToUpper(c.TargetFormat),
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return b.String()
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
