// ABOUTME: Matrix transport for the conversion bot
// ABOUTME: Syncs rooms, turns messages, uploads, and reactions into bot events, and sends replies

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/convertbot/internal/bot"
	"github.com/2389/convertbot/internal/stage"
	"github.com/2389/convertbot/internal/ttlcache"
)

// Config holds what the bridge needs to connect.
type Config struct {
	Homeserver      string
	UserID          string
	AccessToken     string
	DeviceID        string
	Username        string
	Password        string
	AllowedRooms    []string
	AutoJoin        bool
	TypingIndicator bool
	// MaxFileSize caps attachment downloads in bytes. Zero means no cap.
	MaxFileSize int64
}

const (
	// typingTimeout is how long one typing notice lasts on the server.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds small Matrix API calls.
	networkTimeout = 10 * time.Second
	// transferTimeout bounds media uploads and downloads.
	transferTimeout = 2 * time.Minute

	seenTTL  = 10 * time.Minute
	maxSeen  = 4096
	botTitle = "convertbot"
)

// Bridge connects Matrix rooms to a bot.Handler and implements bot.Transport.
type Bridge struct {
	config  Config
	client  *mautrix.Client
	logger  *slog.Logger
	menus   *menuRegistry
	seen    *ttlcache.Cache[struct{}]
	started time.Time
}

// NewBridge creates a bridge. No network calls are made until Login.
func NewBridge(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.DeviceID != "" {
		client.DeviceID = id.DeviceID(cfg.DeviceID)
	}

	return &Bridge{
		config: cfg,
		client: client,
		logger: logger.With("component", "matrix"),
		menus:  newMenuRegistry(),
		seen:   ttlcache.New[struct{}](seenTTL, maxSeen),
	}, nil
}

// Client exposes the underlying Matrix client, for crypto setup.
func (b *Bridge) Client() *mautrix.Client { return b.client }

// Login authenticates with a password, or confirms an access token and
// learns its device ID.
func (b *Bridge) Login(ctx context.Context) error {
	if b.config.AccessToken != "" {
		resp, err := b.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		b.client.UserID = resp.UserID
		if b.client.DeviceID == "" {
			b.client.DeviceID = resp.DeviceID
		}
		b.logger.Info("using access token", "user_id", resp.UserID.String(), "device_id", b.client.DeviceID.String())
		return nil
	}

	resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Username,
		},
		Password:                 b.config.Password,
		DeviceID:                 id.DeviceID(b.config.DeviceID),
		InitialDeviceDisplayName: botTitle,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// Run syncs until ctx is cancelled, delivering events to h. h is called
// from the sync loop, so it must not block; wrap slow handlers in a
// bot.Dispatcher.
func (b *Bridge) Run(ctx context.Context, h bot.Handler) error {
	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}

	b.started = time.Now()
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if ev, ok := b.translateMessage(ctx, evt); ok {
			h.HandleEvent(ctx, ev)
		}
	})
	syncer.OnEventType(event.EventReaction, func(ctx context.Context, evt *event.Event) {
		if ev, ok := b.translateReaction(evt); ok {
			h.HandleEvent(ctx, ev)
		}
	})
	if b.config.AutoJoin {
		syncer.OnEventType(event.StateMember, b.handleInvite)
	}

	b.logger.Info("starting matrix sync",
		"homeserver", b.config.Homeserver,
		"user_id", b.client.UserID.String(),
		"allowed_rooms", len(b.config.AllowedRooms),
	)

	err := b.client.SyncWithContext(ctx)
	b.menus.close()
	b.seen.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	b.logger.Info("matrix sync stopped")
	return nil
}

// accept filters events the bot should never act on.
func (b *Bridge) accept(evt *event.Event) bool {
	if evt.Sender == b.client.UserID {
		return false
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring event from non-allowed room", "room", evt.RoomID.String())
		return false
	}
	// initial sync replays history; only act on what arrived after startup
	if !b.started.IsZero() && time.UnixMilli(evt.Timestamp).Before(b.started) {
		return false
	}
	if evt.ID != "" && b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID.String())
		return false
	}
	return true
}

func (b *Bridge) translateMessage(ctx context.Context, evt *event.Event) (bot.Event, bool) {
	if !b.accept(evt) {
		return bot.Event{}, false
	}
	content := evt.Content.AsMessage()

	ev := bot.Event{
		ID:     evt.ID.String(),
		ChatID: evt.RoomID.String(),
		UserID: evt.Sender.String(),
	}

	switch content.MsgType {
	case event.MsgText:
		text := strings.TrimSpace(stripReplyFallback(content.Body))
		if text == "" {
			return bot.Event{}, false
		}
		replyTo := content.RelatesTo.GetReplyTo().String()
		if btn, ok := b.menus.fromReply(ev.ChatID, replyTo, text); ok {
			ev.Kind = bot.EventButton
			ev.Data = btn.Data
			return ev, true
		}
		ev.Kind = bot.EventText
		ev.Text = text
		ev.UserName = b.displayName(ctx, evt.RoomID, evt.Sender)
		return ev, true

	case event.MsgFile, event.MsgImage, event.MsgVideo, event.MsgAudio:
		doc, ok := b.document(content)
		if !ok {
			return bot.Event{}, false
		}
		ev.Kind = bot.EventDocument
		ev.Document = doc
		return ev, true

	default:
		return bot.Event{}, false
	}
}

func (b *Bridge) translateReaction(evt *event.Event) (bot.Event, bool) {
	if !b.accept(evt) {
		return bot.Event{}, false
	}
	rel := evt.Content.AsReaction().RelatesTo
	btn, ok := b.menus.fromReaction(rel.EventID.String(), rel.Key)
	if !ok {
		return bot.Event{}, false
	}
	return bot.Event{
		ID:     evt.ID.String(),
		Kind:   bot.EventButton,
		ChatID: evt.RoomID.String(),
		UserID: evt.Sender.String(),
		Data:   btn.Data,
	}, true
}

// document describes an uploaded attachment. Nothing is downloaded until
// the controller opens it.
func (b *Bridge) document(content *event.MessageEventContent) (*bot.Document, bool) {
	uri := content.URL
	if content.File != nil {
		uri = content.File.URL
	}
	if uri == "" {
		return nil, false
	}

	name := content.FileName
	if name == "" {
		name = content.Body
	}
	doc := &bot.Document{Name: name}
	if content.Info != nil {
		doc.Size = int64(content.Info.Size)
		doc.MimeType = content.Info.MimeType
	}
	file := content.File
	doc.Open = func(ctx context.Context) (io.ReadCloser, error) {
		return b.download(ctx, uri, file)
	}
	return doc, true
}

func (b *Bridge) download(ctx context.Context, uriStr id.ContentURIString, file *event.EncryptedFileInfo) (io.ReadCloser, error) {
	uri, err := uriStr.Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing media URI: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	resp, err := b.client.Download(ctx, uri)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	limit := b.config.MaxFileSize
	if limit > 0 && resp.ContentLength > limit {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: media is %d bytes", stage.ErrTooLarge, resp.ContentLength)
	}

	body := &transfer{Reader: resp.Body, body: resp.Body, cancel: cancel}
	if limit > 0 {
		body.Reader = &cappedReader{r: resp.Body, remaining: limit}
	}
	if file == nil {
		return body, nil
	}

	// decryption needs the whole ciphertext, which the cap keeps bounded
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	if err := file.PrepareForDecryption(); err != nil {
		return nil, fmt.Errorf("preparing attachment decryption: %w", err)
	}
	if err := file.DecryptInPlace(data); err != nil {
		return nil, fmt.Errorf("decrypting attachment: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// transfer is a download body that releases its timeout when closed.
type transfer struct {
	io.Reader
	body   io.Closer
	cancel context.CancelFunc
}

func (t *transfer) Close() error {
	defer t.cancel()
	return t.body.Close()
}

// cappedReader fails with stage.ErrTooLarge once more than remaining bytes
// have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, stage.ErrTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, stage.ErrTooLarge
	}
	return n, err
}

// handleInvite joins rooms the bot is invited to, if the room is allowed.
func (b *Bridge) handleInvite(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.client.UserID.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// SendText implements bot.Transport. Messages with buttons become a
// numbered menu with one keycap reaction per choice.
func (b *Bridge) SendText(ctx context.Context, chatID string, msg bot.Message) error {
	roomID := id.RoomID(chatID)

	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := b.client.SendMessageEvent(sendCtx, roomID, event.EventMessage, messageContent(msg))
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	if len(msg.Buttons) == 0 {
		return nil
	}
	b.menus.add(resp.EventID.String(), chatID, msg.Buttons)
	for i := range msg.Buttons {
		if i >= len(keycaps) {
			break
		}
		if _, err := b.client.SendReaction(sendCtx, roomID, resp.EventID, keycaps[i]); err != nil {
			// numbered replies still work
			b.logger.Debug("failed to add menu reaction", "room", chatID, "error", err)
			break
		}
	}
	return nil
}

// SendDocument implements bot.Transport. Files sent to encrypted rooms are
// encrypted before upload.
func (b *Bridge) SendDocument(ctx context.Context, chatID, filename string, data []byte) error {
	roomID := id.RoomID(chatID)
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	mimeType := mimeTypeFor(filename)
	content := &event.MessageEventContent{
		MsgType:  event.MsgFile,
		Body:     filename,
		FileName: filename,
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}

	payload, uploadType := data, mimeType
	var encrypted *attachment.EncryptedFile
	if b.isEncrypted(ctx, roomID) {
		encrypted = attachment.NewEncryptedFile()
		payload = bytes.Clone(data)
		encrypted.EncryptInPlace(payload)
		uploadType = "application/octet-stream"
	}

	upload, err := b.client.UploadBytes(ctx, payload, uploadType)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filename, err)
	}
	if encrypted != nil {
		content.File = &event.EncryptedFileInfo{
			EncryptedFile: *encrypted,
			URL:           upload.ContentURI.CUString(),
		}
	} else {
		content.URL = upload.ContentURI.CUString()
	}

	if _, err := b.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending %s: %w", filename, err)
	}
	b.logger.Info("sent document", "room", chatID, "filename", filename, "bytes", len(data))
	return nil
}

// SetTyping implements bot.Typer.
func (b *Bridge) SetTyping(ctx context.Context, chatID string, typing bool) {
	if !b.config.TypingIndicator {
		return
	}
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, id.RoomID(chatID), typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", chatID, "error", err)
	}
}

func (b *Bridge) isEncrypted(ctx context.Context, roomID id.RoomID) bool {
	if b.client.Crypto == nil || b.client.StateStore == nil {
		return false
	}
	encrypted, err := b.client.StateStore.IsEncrypted(ctx, roomID)
	if err != nil {
		b.logger.Debug("could not check room encryption", "room", roomID.String(), "error", err)
		return false
	}
	return encrypted
}

// displayName returns the sender's first name for greetings, falling back
// to the user ID localpart.
func (b *Bridge) displayName(ctx context.Context, roomID id.RoomID, userID id.UserID) string {
	if b.client.StateStore != nil {
		member, err := b.client.StateStore.GetMember(ctx, roomID, userID)
		if err == nil && member != nil && member.Displayname != "" {
			first, _, _ := strings.Cut(member.Displayname, " ")
			return first
		}
	}
	return userID.Localpart()
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	return slices.Contains(b.config.AllowedRooms, roomID)
}

// stripReplyFallback removes the "> quoted" lines clients prepend to replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	return strings.Join(lines[i:], "\n")
}
