package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"erpchat/internal/protocol"
	"erpchat/internal/socket"
)

var (
	// ErrSendTimeout marks a send whose acknowledgement never arrived.
	ErrSendTimeout  = errors.New("send timed out")
	ErrEmptyMessage = errors.New("nothing to send")
	ErrRoomClosed   = errors.New("room closed")
)

const (
	DefaultSendTimeout = 10 * time.Second
	presenceTimeout    = 5 * time.Second
)

// Transport is the slice of the connection manager a Room uses.
// *socket.Client implements it.
type Transport interface {
	Emit(event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
	On(event string, fn socket.Handler) (off func())
	OnConnect(fn func()) (off func())
}

// History fetches pages of stored messages.
type History interface {
	FetchHistory(ctx context.Context, room protocol.RoomKey, beforeID int64) (protocol.HistoryPage, error)
}

type Viewer struct {
	ID   string
	Name string
}

// ChangeKind says what part of the room changed.
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota
	ChangePrepended
	ChangeUpdated
	ChangeTyping
	ChangePresence
	ChangeHistoryError
)

// Change is handed to Config.OnChange after the room state moved.
type Change struct {
	Kind ChangeKind
	// Added counts rows added by a prepend or append.
	Added int
	// Initial is set on the prepend of the first page.
	Initial bool
	// Own is set when an appended row was authored by the viewer.
	Own bool
	Err error
}

type Config struct {
	Room protocol.RoomKey
	// PeerID is the other participant of a direct room. Presence is only
	// tracked when it is set.
	PeerID      string
	Viewer      Viewer
	Transport   Transport
	History     History
	Uploader    Uploader
	SendTimeout time.Duration
	TypingDelay time.Duration
	AfterFunc   AfterFunc
	NewClientID func() string
	Logger      zerolog.Logger
	// OnChange is called without the room lock held, from whichever
	// goroutine caused the change.
	OnChange func(Change)
}

// Snapshot is a consistent copy of the room state for rendering.
type Snapshot struct {
	Room                protocol.RoomKey
	Messages            []Message
	Loading             bool
	StartOfConversation bool
	HistoryErr          error
	// PeerTyping holds the display name of whoever is typing, if anyone.
	PeerTyping string
	Presence   PresenceState
}

// Room binds one conversation to a transport. Open joins and starts
// listening; Close leaves and stops listening. In-flight sends and fetches are
// not aborted by Close; their results are applied but no longer reported.
type Room struct {
	cfg    Config
	log    zerolog.Logger
	typing *Typing

	mu         sync.Mutex
	store      *Store
	pager      Pager
	historyErr error
	peerTyping string
	presence   PresenceState
	closed     bool
	offs       []func()
}

// Open subscribes to the room: it registers push handlers, joins, and asks
// for the peer's presence. History is loaded separately with LoadInitial.
func Open(cfg Config) (*Room, error) {
	if cfg.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if cfg.Room.TargetID <= 0 {
		return nil, fmt.Errorf("chat: %w", protocol.ErrInvalidRoom)
	}
	if cfg.Viewer.ID == "" {
		return nil, errors.New("chat: viewer id is required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	r := &Room{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("room", cfg.Room.String()).Logger(),
		store: NewStore(cfg.Viewer.ID),
	}
	r.typing = NewTyping(r.emitTyping, cfg.TypingDelay, cfg.AfterFunc)

	t := cfg.Transport
	r.offs = append(r.offs,
		t.On(protocol.EventNewMessage, r.onNewMessage),
		t.On(protocol.EventReactionUpdated, r.onReactionUpdated),
		t.On(protocol.EventTyping, r.onTyping),
		t.On(protocol.EventUserOnline, func(data json.RawMessage) { r.onPresence(data, true) }),
		t.On(protocol.EventUserOffline, func(data json.RawMessage) { r.onPresence(data, false) }),
		t.OnConnect(r.onReconnect),
	)
	r.join()
	go r.queryPresence()
	return r, nil
}

// Close leaves the room and unregisters every handler. It is safe to call
// more than once.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	offs := r.offs
	r.offs = nil
	r.mu.Unlock()

	r.typing.Stop()
	for _, off := range offs {
		off()
	}
	if err := r.cfg.Transport.Emit(protocol.EventLeaveRoom, protocol.LeaveRoom{Room: r.cfg.Room.String()}); err != nil {
		r.log.Debug().Err(err).Msg("leave not sent")
	}
}

func (r *Room) Key() protocol.RoomKey {
	return r.cfg.Room
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Room:                r.cfg.Room,
		Messages:            r.store.Messages(),
		Loading:             r.pager.Loading(),
		StartOfConversation: r.pager.StartOfConversation(),
		HistoryErr:          r.historyErr,
		PeerTyping:          r.peerTyping,
		Presence:            r.presence,
	}
}

// LoadInitial fetches the newest page. It does nothing if the page is
// already loaded or loading.
func (r *Room) LoadInitial(ctx context.Context) error {
	r.mu.Lock()
	ok := r.pager.BeginInitial()
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.fetch(ctx, 0, true)
}

// LoadOlder fetches the page before the oldest loaded message when there is
// one and nothing else is loading. It reports whether a fetch happened.
func (r *Room) LoadOlder(ctx context.Context) (bool, error) {
	r.mu.Lock()
	before, ok := r.pager.BeginOlder()
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, r.fetch(ctx, before, false)
}

func (r *Room) fetch(ctx context.Context, beforeID int64, initial bool) error {
	if r.cfg.History == nil {
		r.mu.Lock()
		r.pager.Complete(protocol.HistoryPage{})
		r.mu.Unlock()
		return nil
	}
	page, err := r.cfg.History.FetchHistory(ctx, r.cfg.Room, beforeID)
	if err != nil {
		r.mu.Lock()
		r.pager.Abort()
		r.historyErr = err
		r.mu.Unlock()
		r.log.Warn().Err(err).Int64("before", beforeID).Msg("history fetch failed")
		r.notify(Change{Kind: ChangeHistoryError, Err: err})
		return err
	}

	rows := make([]Message, 0, len(page.Messages))
	for _, w := range page.Messages {
		rows = append(rows, fromWire(w, StateDelivered))
	}
	r.mu.Lock()
	r.pager.Complete(page)
	r.historyErr = nil
	added := r.store.Prepend(rows)
	r.mu.Unlock()
	r.notify(Change{Kind: ChangePrepended, Added: added, Initial: initial})
	return nil
}

// Keystroke feeds the typing debouncer.
func (r *Room) Keystroke() {
	r.typing.Keystroke()
}

// Send uploads paths, appends a pending placeholder and submits the message.
// Files that fail to upload are left out and reported through *UploadError,
// joined with any send error. cloudFileIDs are already durable and are
// attached as is.
func (r *Room) Send(ctx context.Context, content string, paths []string, cloudFileIDs []int64) (Message, error) {
	return r.send(ctx, 0, content, paths, cloudFileIDs)
}

// Reply sends like Send but marks the message as a reply to parentID, which
// must be a stored message of this room.
func (r *Room) Reply(ctx context.Context, parentID int64, content string, paths []string, cloudFileIDs []int64) (Message, error) {
	if parentID <= 0 {
		return Message{}, fmt.Errorf("reply: invalid message id %d", parentID)
	}
	return r.send(ctx, parentID, content, paths, cloudFileIDs)
}

func (r *Room) send(ctx context.Context, parentID int64, content string, paths []string, cloudFileIDs []int64) (Message, error) {
	if r.isClosed() {
		return Message{}, ErrRoomClosed
	}
	attachments, uploadErr := uploadAll(ctx, r.cfg.Uploader, paths)
	for _, id := range cloudFileIDs {
		attachments = append(attachments, Attachment{ID: id})
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		if uploadErr != nil {
			return Message{}, uploadErr
		}
		return Message{}, ErrEmptyMessage
	}

	pending := Message{
		ClientID:    r.cfg.NewClientID(),
		Content:     content,
		SenderID:    r.cfg.Viewer.ID,
		SenderName:  r.cfg.Viewer.Name,
		CreatedAt:   time.Now(),
		Attachments: attachments,
		ParentID:    parentID,
	}
	r.mu.Lock()
	if parent, ok := r.store.Find(parentID); ok {
		pending.Parent = &ParentRef{ID: parent.ID, Content: parent.Content, SenderName: parent.SenderName}
	}
	r.store.AddPending(pending)
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeAppended, Added: 1, Own: true})

	sendErr := r.submit(ctx, pending)
	msg, _ := r.message(pending.ClientID)
	if uploadErr != nil {
		return msg, errors.Join(sendErr, uploadErr)
	}
	return msg, sendErr
}

// Retry resubmits a failed message.
func (r *Room) Retry(ctx context.Context, clientID string) (Message, error) {
	r.mu.Lock()
	msg, ok := r.store.Retry(clientID)
	r.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("retry %s: no failed message", clientID)
	}
	r.notify(Change{Kind: ChangeUpdated})
	err := r.submit(ctx, msg)
	msg, _ = r.message(clientID)
	return msg, err
}

// FailedMessages lists client ids that can be retried.
func (r *Room) FailedMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Failed()
}

func (r *Room) submit(ctx context.Context, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	raw, err := r.cfg.Transport.EmitWithAck(sendCtx, protocol.EventSendMessage, protocol.SendMessage{
		Content:  msg.Content,
		RoomID:   r.cfg.Room.String(),
		UserID:   r.cfg.Viewer.ID,
		FileIDs:  msg.fileIDs(),
		ClientID: msg.ClientID,
		ParentID: msg.ParentID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrSendTimeout
		}
		return r.fail(msg.ClientID, err)
	}

	var ack protocol.SendAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return r.fail(msg.ClientID, fmt.Errorf("decode ack: %w", err))
	}
	stored, err := ack.Decode()
	if err != nil {
		return r.fail(msg.ClientID, err)
	}

	r.mu.Lock()
	changed := r.store.Acknowledge(msg.ClientID, fromWire(stored, StateSent))
	r.mu.Unlock()
	if changed {
		r.notify(Change{Kind: ChangeUpdated})
	}
	return nil
}

// React toggles the viewer's emoji on message id: the same emoji again
// removes it, a different one replaces it. The new totals are applied from
// the acknowledgement; the reactionUpdated push carries the same data.
func (r *Room) React(ctx context.Context, messageID int64, emoji string) error {
	if r.isClosed() {
		return ErrRoomClosed
	}
	if messageID <= 0 || strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("react: need a message id and an emoji")
	}
	reactCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	raw, err := r.cfg.Transport.EmitWithAck(reactCtx, protocol.EventMessageReaction, protocol.MessageReaction{
		RoomID:    r.cfg.Room.String(),
		MessageID: messageID,
		UserID:    r.cfg.Viewer.ID,
		Emoji:     strings.TrimSpace(emoji),
		Action:    protocol.ReactionAdd,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrSendTimeout
		}
		return err
	}
	var ack protocol.ReactionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if ack.Status != protocol.StatusOK || ack.Data == nil {
		reason := ack.Error
		if reason == "" {
			reason = "reaction rejected"
		}
		return fmt.Errorf("server: %s", reason)
	}
	r.applyReactions(*ack.Data)
	return nil
}

func (r *Room) applyReactions(u protocol.ReactionUpdate) {
	if u.Room != "" && u.Room != r.cfg.Room.String() {
		return
	}
	r.mu.Lock()
	changed := r.store.SetReactions(u.MessageID, reactionsFromWire(u.Reactions))
	r.mu.Unlock()
	if changed {
		r.notify(Change{Kind: ChangeUpdated})
	}
}

func (r *Room) onReactionUpdated(data json.RawMessage) {
	var u protocol.ReactionUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		r.log.Warn().Err(err).Msg("bad reactionUpdated payload")
		return
	}
	r.applyReactions(u)
}

func (r *Room) fail(clientID string, cause error) error {
	r.mu.Lock()
	changed := r.store.Fail(clientID, cause)
	r.mu.Unlock()
	r.log.Warn().Err(cause).Str("client_id", clientID).Msg("send failed")
	if changed {
		r.notify(Change{Kind: ChangeUpdated, Err: cause})
	}
	return cause
}

func (r *Room) message(clientID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Get(clientID)
}

func (r *Room) onNewMessage(data json.RawMessage) {
	var w protocol.Message
	if err := json.Unmarshal(data, &w); err != nil {
		r.log.Warn().Err(err).Msg("bad newMessage payload")
		return
	}
	if w.Room != "" && w.Room != r.cfg.Room.String() {
		return
	}
	msg := fromWire(w, StateDelivered)
	r.mu.Lock()
	outcome := r.store.Receive(msg)
	r.mu.Unlock()
	switch outcome {
	case Appended:
		r.notify(Change{Kind: ChangeAppended, Added: 1, Own: msg.Own(r.cfg.Viewer.ID)})
	case Updated:
		r.notify(Change{Kind: ChangeUpdated})
	}
}

func (r *Room) onTyping(data json.RawMessage) {
	var t protocol.Typing
	if err := json.Unmarshal(data, &t); err != nil {
		return
	}
	if t.Room != "" && t.Room != r.cfg.Room.String() {
		return
	}
	name := ""
	if t.IsTyping {
		name = t.UserName
		if name == "" {
			name = "Someone"
		}
	}
	r.mu.Lock()
	changed := r.peerTyping != name
	r.peerTyping = name
	r.mu.Unlock()
	if changed {
		r.notify(Change{Kind: ChangeTyping})
	}
}

func (r *Room) onPresence(data json.RawMessage, online bool) {
	if r.cfg.PeerID == "" {
		return
	}
	var p protocol.Presence
	if err := json.Unmarshal(data, &p); err != nil || p.UserID != r.cfg.PeerID {
		return
	}
	r.setPresence(presenceOf(online))
}

func (r *Room) onReconnect() {
	if r.isClosed() {
		return
	}
	r.join()
	go r.queryPresence()
}

func (r *Room) join() {
	err := r.cfg.Transport.Emit(protocol.EventJoinRoom, protocol.JoinRoom{
		Room:     r.cfg.Room.String(),
		UserID:   r.cfg.Viewer.ID,
		UserName: r.cfg.Viewer.Name,
	})
	if err != nil {
		r.log.Debug().Err(err).Msg("join not sent")
	}
}

func (r *Room) queryPresence() {
	if r.cfg.PeerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	raw, err := r.cfg.Transport.EmitWithAck(ctx, protocol.EventGetOnlineStatus, protocol.OnlineStatusQuery{UserID: r.cfg.PeerID})
	if err != nil {
		r.log.Debug().Err(err).Msg("presence query failed")
		return
	}
	var status protocol.OnlineStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return
	}
	r.setPresence(presenceOf(status.IsOnline))
}

func (r *Room) setPresence(state PresenceState) {
	r.mu.Lock()
	changed := r.presence != state
	r.presence = state
	r.mu.Unlock()
	if changed {
		r.notify(Change{Kind: ChangePresence})
	}
}

func (r *Room) emitTyping(isTyping bool) {
	err := r.cfg.Transport.Emit(protocol.EventTyping, protocol.Typing{
		Room:     r.cfg.Room.String(),
		IsTyping: isTyping,
		UserName: r.cfg.Viewer.Name,
	})
	if err != nil {
		r.log.Debug().Err(err).Bool("typing", isTyping).Msg("typing not sent")
	}
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) notify(c Change) {
	if r.cfg.OnChange == nil || r.isClosed() {
		return
	}
	r.cfg.OnChange(c)
}
