// ABOUTME: Conversation controller that drives the upload, choose, convert flow
// ABOUTME: Routes transport events through session state, staging, and the invoker

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/2389/convertbot/internal/catalog"
	"github.com/2389/convertbot/internal/convert"
	"github.com/2389/convertbot/internal/session"
	"github.com/2389/convertbot/internal/stage"
	"github.com/2389/convertbot/internal/store"
)

// Idle reply modes for free text outside a command.
const (
	IdleReplyIgnore = "ignore"
	IdleReplyRemind = "remind"
)

// DefaultCommandPrefix is used when Options.CommandPrefix is empty.
const DefaultCommandPrefix = "!"

// Invoker runs a conversion for a staged file.
type Invoker interface {
	Invoke(ctx context.Context, staged *stage.File, target catalog.Format) convert.Outcome
}

// HistoryRecorder persists conversion attempts. It is optional.
type HistoryRecorder interface {
	RecordConversion(ctx context.Context, c *store.Conversion) error
	ListConversions(ctx context.Context, sessionID string, limit int) ([]*store.Conversion, error)
	ConversionStats(ctx context.Context, sessionID string) (*store.ConversionStats, error)
}

// Deps are the collaborators a Controller needs. History may be nil.
type Deps struct {
	Catalog   *catalog.Catalog
	Stage     *stage.Stage
	Invoker   Invoker
	Transport Transport
	History   HistoryRecorder
}

// Options tunes controller behavior.
type Options struct {
	CommandPrefix string
	IdleReply     string
	HistoryLimit  int
}

// Controller owns the per-user conversation flow.
type Controller struct {
	catalog   *catalog.Catalog
	stage     *stage.Stage
	invoker   Invoker
	transport Transport
	history   HistoryRecorder
	sessions  *session.Store
	opts      Options
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a controller.
func New(deps Deps, opts Options, logger *slog.Logger) (*Controller, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.Stage == nil:
		return nil, errors.New("stage is required")
	case deps.Invoker == nil:
		return nil, errors.New("invoker is required")
	case deps.Transport == nil:
		return nil, errors.New("transport is required")
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = DefaultCommandPrefix
	}
	if opts.IdleReply == "" {
		opts.IdleReply = IdleReplyIgnore
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		catalog:   deps.Catalog,
		stage:     deps.Stage,
		invoker:   deps.Invoker,
		transport: deps.Transport,
		history:   deps.History,
		sessions:  session.NewStore(),
		opts:      opts,
		logger:    logger.With("component", "controller"),
	}, nil
}

// Sessions exposes the session store for inspection.
func (c *Controller) Sessions() *session.Store { return c.sessions }

// HandleEvent processes one inbound event. Conversions run on their own
// goroutine so a slow backend never blocks other users; Wait drains them.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	c.logger.Debug("handling event",
		"event_id", ev.ID,
		"kind", ev.Kind.String(),
		"session", ev.SessionID(),
	)

	switch ev.Kind {
	case EventCommand:
		c.handleCommand(ctx, ev, strings.ToLower(ev.Command))
	case EventText:
		if cmd, ok := c.parseCommand(ev.Text); ok {
			c.handleCommand(ctx, ev, cmd)
			return
		}
		c.handleText(ctx, ev)
	case EventDocument:
		c.handleDocument(ctx, ev)
	case EventButton:
		c.handleButton(ctx, ev)
	default:
		c.logger.Warn("ignoring unknown event kind", "kind", ev.Kind.String())
	}
}

// Wait blocks until every in-flight conversion has finished or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseCommand recognizes "<prefix>name", "/name", and the bare keywords
// Convert, About, and Help.
func (c *Controller) parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	var rest string
	switch {
	case strings.HasPrefix(text, c.opts.CommandPrefix):
		rest = text[len(c.opts.CommandPrefix):]
	case strings.HasPrefix(text, "/"):
		rest = text[1:]
	default:
		switch strings.ToLower(text) {
		case "convert", "about", "help":
			return strings.ToLower(text), true
		}
		return "", false
	}

	name, _, _ := strings.Cut(rest, " ")
	// "/start@convertbot" style addressing
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	return name, true
}

func (c *Controller) handleCommand(ctx context.Context, ev Event, cmd string) {
	prefix := c.opts.CommandPrefix
	switch cmd {
	case "start":
		c.beginFlow(ctx, ev, Message{Text: startText(ev.UserName)})
	case "convert":
		c.beginFlow(ctx, ev, Message{Text: convertText(c.catalog, c.stage.MaxSize()), Markdown: true})
	case "about":
		c.send(ctx, ev.ChatID, Message{Text: aboutText(prefix), Markdown: true})
	case "help":
		c.send(ctx, ev.ChatID, Message{Text: helpText(prefix)})
	case "cancel":
		c.handleCancel(ctx, ev)
	case "history":
		c.handleHistory(ctx, ev)
	default:
		c.sendText(ctx, ev.ChatID, fmt.Sprintf(msgUnknownCommand, prefix))
	}
}

// beginFlow arms the session for an upload. A file still waiting for a
// format choice is discarded so it cannot leak.
func (c *Controller) beginFlow(ctx context.Context, ev Event, reply Message) {
	var displaced *stage.File
	_ = c.sessions.Do(ev.SessionID(), func(st *session.State) error {
		displaced = st.MarkAwaitingFile()
		return nil
	})
	if displaced != nil {
		c.logger.Info("discarding superseded pending file",
			"session", ev.SessionID(),
			"staged_id", displaced.ID,
		)
		_ = c.stage.Discard(displaced)
	}
	c.send(ctx, ev.ChatID, reply)
}

func (c *Controller) handleCancel(ctx context.Context, ev Event) {
	var (
		dropped  *stage.File
		wasArmed bool
	)
	_ = c.sessions.Do(ev.SessionID(), func(st *session.State) error {
		wasArmed = st.IsAwaitingFile()
		dropped = st.Reset()
		return nil
	})

	switch {
	case dropped != nil:
		_ = c.stage.Discard(dropped)
		c.sendText(ctx, ev.ChatID, msgCancelled)
	case wasArmed:
		c.sendText(ctx, ev.ChatID, msgStopped)
	default:
		c.sendText(ctx, ev.ChatID, msgNothingToCancel)
	}
}

func (c *Controller) handleHistory(ctx context.Context, ev Event) {
	if c.history == nil {
		c.sendText(ctx, ev.ChatID, msgNoHistory)
		return
	}
	entries, err := c.history.ListConversions(ctx, ev.SessionID(), c.opts.HistoryLimit)
	if err != nil {
		c.logger.Error("failed to list history", "session", ev.SessionID(), "error", err)
		c.sendText(ctx, ev.ChatID, msgHistoryFailed)
		return
	}
	stats, err := c.history.ConversionStats(ctx, ev.SessionID())
	if err != nil {
		// the list alone is still worth showing
		c.logger.Warn("failed to count history", "session", ev.SessionID(), "error", err)
		stats = nil
	}
	c.send(ctx, ev.ChatID, Message{Text: historyText(entries, stats), Markdown: len(entries) > 0})
}

func (c *Controller) handleText(ctx context.Context, ev Event) {
	st := c.sessions.Snapshot(ev.SessionID())
	switch st.Phase() {
	case session.PhaseAwaitingFile:
		c.sendText(ctx, ev.ChatID, msgSendFile)
	case session.PhaseAwaitingFormatChoice:
		if c.opts.IdleReply == IdleReplyRemind {
			c.sendText(ctx, ev.ChatID, fmt.Sprintf(msgPickFormat, c.opts.CommandPrefix))
		}
	default:
		if c.opts.IdleReply == IdleReplyRemind {
			c.sendText(ctx, ev.ChatID, fmt.Sprintf(msgGetStarted, c.opts.CommandPrefix))
		}
	}
}

func (c *Controller) handleDocument(ctx context.Context, ev Event) {
	doc := ev.Document
	if doc == nil || doc.Open == nil {
		c.sendText(ctx, ev.ChatID, msgNoDocument)
		return
	}

	sid := ev.SessionID()
	logger := c.logger.With("session", sid, "filename", doc.Name)

	var (
		reply  string
		staged *stage.File
	)
	err := c.sessions.Do(sid, func(st *session.State) error {
		if st.Converting() {
			reply = msgInProgress
			return nil
		}
		if !st.IsAwaitingFile() {
			reply = fmt.Sprintf(msgNotAwaiting, c.opts.CommandPrefix, c.opts.CommandPrefix)
			return nil
		}

		format := catalog.FormatFromFilename(doc.Name)
		if !c.catalog.Supports(format) {
			reply = msgUnsupportedType
			return nil
		}
		if limit := c.stage.MaxSize(); limit > 0 && doc.Size > limit {
			reply = fmt.Sprintf(msgTooLarge, formatSize(limit))
			return nil
		}

		f, err := c.download(ctx, sid, doc)
		if err != nil {
			if errors.Is(err, stage.ErrTooLarge) {
				reply = fmt.Sprintf(msgTooLarge, formatSize(c.stage.MaxSize()))
				return nil
			}
			reply = msgStorageFailed
			return err
		}
		if err := st.AttachPending(f); err != nil {
			_ = c.stage.Discard(f)
			reply = msgStorageFailed
			return err
		}
		staged = f
		return nil
	})
	if err != nil {
		logger.Error("failed to stage upload", "error", err)
	}

	if staged == nil {
		c.sendText(ctx, ev.ChatID, reply)
		return
	}

	logger.Info("file staged", "staged_id", staged.ID, "format", staged.Format.String())
	c.sendText(ctx, ev.ChatID, fmt.Sprintf(msgReceived, doc.Name))
	c.send(ctx, ev.ChatID, Message{
		Text:    msgSelectFormat,
		Buttons: formatButtons(staged.ID, c.catalog.SupportedTargets(staged.Format)),
	})
}

func (c *Controller) download(ctx context.Context, sessionID string, doc *Document) (*stage.File, error) {
	rc, err := doc.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", doc.Name, err)
	}
	defer func() { _ = rc.Close() }()
	return c.stage.Stage(sessionID, doc.Name, rc)
}

func (c *Controller) handleButton(ctx context.Context, ev Event) {
	sel, err := ParseSelection(ev.Data)
	if err != nil {
		c.logger.Debug("rejecting selection", "data", ev.Data, "error", err)
		c.sendText(ctx, ev.ChatID, msgInvalidChoice)
		return
	}

	sid := ev.SessionID()
	var (
		reply  string
		staged *stage.File
	)
	_ = c.sessions.Do(sid, func(st *session.State) error {
		pending := st.Pending()
		if pending == nil || pending.ID != sel.StagedID {
			reply = msgExpired
			return nil
		}
		if err := st.BeginConversion(); err != nil {
			reply = msgInProgress
			return nil
		}
		staged = st.ClearPending()
		return nil
	})
	if staged == nil {
		c.sendText(ctx, ev.ChatID, reply)
		return
	}

	c.send(ctx, ev.ChatID, Message{
		Text:     fmt.Sprintf(msgConverting, staged.Name, sel.Format.Label()),
		Markdown: true,
	})

	c.wg.Add(1)
	go c.runConversion(context.WithoutCancel(ctx), ev, staged, sel.Format)
}

// runConversion invokes the backend, forwards the result, and always
// releases the staged input and the session's in-flight marker.
func (c *Controller) runConversion(ctx context.Context, ev Event, staged *stage.File, target catalog.Format) {
	defer c.wg.Done()

	sid := ev.SessionID()
	logger := c.logger.With("session", sid, "staged_id", staged.ID, "target", target.String())
	start := time.Now()

	if t, ok := c.transport.(Typer); ok {
		t.SetTyping(ctx, ev.ChatID, true)
		defer t.SetTyping(ctx, ev.ChatID, false)
	}

	outcome := c.invoker.Invoke(ctx, staged, target)

	status, reason := store.StatusSucceeded, ""
	if outcome.Succeeded() {
		if err := c.deliver(ctx, ev.ChatID, outcome.ResultPath, ConvertedName(staged.Name, target)); err != nil {
			logger.Error("failed to deliver result", "error", err)
			status, reason = store.StatusFailed, "delivery_error"
			c.sendText(ctx, ev.ChatID, msgFailed)
		}
	} else {
		logger.Warn("conversion failed", "reason", outcome.Reason.String(), "error", outcome.Err)
		status, reason = store.StatusFailed, outcome.Reason.String()
		c.sendText(ctx, ev.ChatID, failureText(outcome.Reason, staged.Format, target))
	}

	_ = c.stage.Remove(outcome.ResultPath)
	_ = c.stage.Discard(staged)
	_ = c.sessions.Do(sid, func(st *session.State) error {
		st.EndConversion()
		return nil
	})

	c.record(ctx, &store.Conversion{
		SessionID:    sid,
		Filename:     staged.Name,
		SourceFormat: staged.Format.String(),
		TargetFormat: target.String(),
		Status:       status,
		Reason:       reason,
		Bytes:        staged.Size,
		Duration:     time.Since(start),
	})
}

func (c *Controller) deliver(ctx context.Context, chatID, resultPath, filename string) error {
	data, err := os.ReadFile(resultPath)
	if err != nil {
		return fmt.Errorf("reading result: %w", err)
	}
	return c.transport.SendDocument(ctx, chatID, filename, data)
}

func (c *Controller) record(ctx context.Context, conv *store.Conversion) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordConversion(ctx, conv); err != nil {
		c.logger.Warn("failed to record conversion", "session", conv.SessionID, "error", err)
	}
}

func failureText(reason convert.Reason, source, target catalog.Format) string {
	switch reason {
	case convert.ReasonUnsupported:
		return fmt.Sprintf(msgUnsupportedPair, source.Label(), target.Label())
	case convert.ReasonNotFound:
		return msgExpired
	default:
		return msgFailed
	}
}

func (c *Controller) send(ctx context.Context, chatID string, msg Message) {
	if err := c.transport.SendText(ctx, chatID, msg); err != nil {
		c.logger.Warn("failed to send message", "chat", chatID, "error", err)
	}
}

func (c *Controller) sendText(ctx context.Context, chatID, text string) {
	c.send(ctx, chatID, Message{Text: text})
}
