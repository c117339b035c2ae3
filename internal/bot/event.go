// ABOUTME: Transport-neutral inbound events and outbound messages for the bot
// ABOUTME: Defines the Transport boundary and structured button selection payloads

package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/2389/convertbot/internal/catalog"
)

// EventKind identifies what the user did.
type EventKind int

const (
	EventText EventKind = iota
	EventCommand
	EventDocument
	EventButton
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventDocument:
		return "document"
	case EventButton:
		return "button"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one inbound action delivered by a transport.
type Event struct {
	ID       string // transport event ID, for logs
	Kind     EventKind
	ChatID   string
	UserID   string
	UserName string

	Text     string    // EventText
	Command  string    // EventCommand, lowercased, without prefix
	Args     string    // EventCommand
	Document *Document // EventDocument
	Data     string    // EventButton payload
}

// SessionID scopes conversation state to one user in one chat.
func (e Event) SessionID() string {
	return e.ChatID + "/" + e.UserID
}

// Document is an uploaded file that has not been downloaded yet.
type Document struct {
	Name     string
	Size     int64 // declared size, 0 if unknown
	MimeType string
	Open     func(ctx context.Context) (io.ReadCloser, error)
}

// Button is one choice rendered under a message.
type Button struct {
	Label string
	Data  string
}

// Message is an outbound text message.
type Message struct {
	Text     string
	Markdown bool
	Buttons  []Button
}

// Transport delivers messages and documents to a chat.
type Transport interface {
	SendText(ctx context.Context, chatID string, msg Message) error
	SendDocument(ctx context.Context, chatID, filename string, data []byte) error
}

// Typer is implemented by transports that can show a typing indicator.
type Typer interface {
	SetTyping(ctx context.Context, chatID string, typing bool)
}

// Handler consumes inbound events.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ErrInvalidSelection is returned for malformed button payloads.
var ErrInvalidSelection = errors.New("invalid selection payload")

// Selection is a decoded format button payload.
type Selection struct {
	StagedID string
	Format   catalog.Format
}

// selectionSep separates the staged file ID from the format. Staged IDs are
// UUIDs, so the separator never appears inside them.
const selectionSep = "|"

// EncodeSelection builds the payload for a format button.
func EncodeSelection(stagedID string, format catalog.Format) string {
	return stagedID + selectionSep + string(format)
}

// ParseSelection decodes "<staged id>|<format>". Both parts must be
// non-empty.
func ParseSelection(data string) (Selection, error) {
	i := strings.LastIndex(data, selectionSep)
	if i < 0 {
		return Selection{}, fmt.Errorf("%w: missing separator", ErrInvalidSelection)
	}
	id := strings.TrimSpace(data[:i])
	format := catalog.ParseFormat(data[i+len(selectionSep):])
	if id == "" || format == "" {
		return Selection{}, fmt.Errorf("%w: %q", ErrInvalidSelection, data)
	}
	return Selection{StagedID: id, Format: format}, nil
}
