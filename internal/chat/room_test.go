package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"erpchat/internal/protocol"
	"erpchat/internal/socket"
)

type emission struct {
	event   string
	payload any
}

// fakeTransport records emits and lets tests push events. ack answers
// EmitWithAck; when it is nil the call blocks until ctx is done.
type fakeTransport struct {
	mu       sync.Mutex
	emitted  []emission
	handlers map[string]map[int]socket.Handler
	hooks    map[int]func()
	next     int
	ack      func(event string, payload any) (json.RawMessage, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]socket.Handler), hooks: make(map[int]func())}
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emission{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.emitted = append(f.emitted, emission{event: event, payload: payload})
	ack := f.ack
	f.mu.Unlock()
	if ack == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return ack(event, payload)
}

func (f *fakeTransport) On(event string, fn socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]socket.Handler)
	}
	f.handlers[event][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) OnConnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.hooks[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.hooks, id)
	}
}

func (f *fakeTransport) push(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	var fns []socket.Handler
	for _, fn := range f.handlers[event] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (f *fakeTransport) reconnect() {
	f.mu.Lock()
	var hooks []func()
	for _, h := range f.hooks {
		hooks = append(hooks, h)
	}
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (f *fakeTransport) events(name string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.emitted {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.hooks)
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

type fakeHistory struct {
	mu      sync.Mutex
	pages   map[int64]protocol.HistoryPage
	err     error
	befores []int64
}

func (h *fakeHistory) FetchHistory(_ context.Context, _ protocol.RoomKey, beforeID int64) (protocol.HistoryPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.befores = append(h.befores, beforeID)
	if h.err != nil {
		return protocol.HistoryPage{}, h.err
	}
	return h.pages[beforeID], nil
}

func (h *fakeHistory) calls() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.befores...)
}

type fakeUploader struct {
	fail map[string]error
}

func (u fakeUploader) UploadFile(_ context.Context, path string) (protocol.File, error) {
	if err := u.fail[path]; err != nil {
		return protocol.File{}, err
	}
	return protocol.File{ID: int64(len(path)), Name: path}, nil
}

func wireMessages(from, to int64, user string) []protocol.Message {
	var out []protocol.Message
	for id := from; id <= to; id++ {
		out = append(out, protocol.Message{ID: id, Content: fmt.Sprintf("m%d", id), UserID: user})
	}
	return out
}

// okAck stores every sendMessage under an increasing id.
func okAck(firstID int64) func(string, any) (json.RawMessage, error) {
	var mu sync.Mutex
	next := firstID
	return func(event string, payload any) (json.RawMessage, error) {
		req, ok := payload.(protocol.SendMessage)
		if !ok {
			return nil, fmt.Errorf("unexpected %s payload %T", event, payload)
		}
		mu.Lock()
		id := next
		next++
		mu.Unlock()
		ack, err := protocol.OKSendAck(protocol.Message{ID: id, Content: req.Content, UserID: req.UserID, ClientID: req.ClientID})
		if err != nil {
			return nil, err
		}
		return json.Marshal(ack)
	}
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) record(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeLog) last() Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return Change{Kind: -1}
	}
	return c.changes[len(c.changes)-1]
}

func openRoom(t *testing.T, tr *fakeTransport, hist History, mutate func(*Config)) (*Room, *changeLog) {
	t.Helper()
	log := &changeLog{}
	cfg := Config{
		Room:      protocol.RoomKey{Kind: protocol.RoomDirect, TargetID: 5},
		Viewer:    Viewer{ID: "me", Name: "Me"},
		Transport: tr,
		History:   hist,
		OnChange:  log.record,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	room, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(room.Close)
	return room, log
}

func TestOpenJoinsAndCloseLeaves(t *testing.T) {
	tr := newFakeTransport()
	room, _ := openRoom(t, tr, nil, nil)

	joins := tr.events(protocol.EventJoinRoom)
	if len(joins) != 1 {
		t.Fatalf("expected one join, got %d", len(joins))
	}
	if join := joins[0].payload.(protocol.JoinRoom); join.Room != "private:5" || join.UserID != "me" {
		t.Fatalf("unexpected join %+v", join)
	}
	if tr.handlerCount() == 0 {
		t.Fatalf("no handlers registered")
	}

	room.Close()
	room.Close()
	if n := len(tr.events(protocol.EventLeaveRoom)); n != 1 {
		t.Fatalf("expected one leave, got %d", n)
	}
	if n := tr.handlerCount(); n != 0 {
		t.Fatalf("%d handlers left registered after Close", n)
	}
}

func TestOptimisticSend(t *testing.T) {
	tr := newFakeTransport()
	tr.ack = okAck(101)
	room, _ := openRoom(t, tr, nil, nil)

	msg, err := room.Send(context.Background(), "hello", nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.State != StateSent || msg.ID != 101 || msg.ClientID == "" {
		t.Fatalf("unexpected message after ack %+v", msg)
	}
	snap := room.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "hello" {
		t.Fatalf("expected one row, got %+v", snap.Messages)
	}

	sends := tr.events(protocol.EventSendMessage)
	if len(sends) != 1 {
		t.Fatalf("expected one sendMessage, got %d", len(sends))
	}
	req := sends[0].payload.(protocol.SendMessage)
	if req.ClientID != msg.ClientID || req.RoomID != "private:5" || req.UserID != "me" {
		t.Fatalf("unexpected payload %+v", req)
	}

	// the broadcast echo settles the same row
	tr.push(t, protocol.EventNewMessage, protocol.Message{ID: 101, Room: "private:5", Content: "hello", UserID: "me", ClientID: msg.ClientID})
	snap = room.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].State != StateDelivered {
		t.Fatalf("echo not reconciled: %+v", snap.Messages)
	}
}

func TestSendShowsPendingBeforeAck(t *testing.T) {
	tr := newFakeTransport()
	release := make(chan struct{})
	sawPending := make(chan bool, 1)
	var room *Room
	tr.ack = func(event string, payload any) (json.RawMessage, error) {
		snap := room.Snapshot()
		sawPending <- len(snap.Messages) == 1 && snap.Messages[0].State == StatePending && snap.Messages[0].ID == 0
		<-release
		return okAck(7)(event, payload)
	}
	room, _ = openRoom(t, tr, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := room.Send(context.Background(), "hello", nil, nil)
		done <- err
	}()
	if !<-sawPending {
		t.Fatalf("placeholder was not pending while the ack was outstanding")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSendTimeoutFailsAndRetrySucceeds(t *testing.T) {
	tr := newFakeTransport()
	room, _ := openRoom(t, tr, nil, func(c *Config) { c.SendTimeout = 20 * time.Millisecond })

	msg, err := room.Send(context.Background(), "hello", nil, nil)
	if !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("expected ErrSendTimeout, got %v", err)
	}
	if msg.State != StateFailed {
		t.Fatalf("expected failed, got %v", msg.State)
	}
	if failed := room.FailedMessages(); len(failed) != 1 || failed[0] != msg.ClientID {
		t.Fatalf("FailedMessages = %v", failed)
	}

	tr.mu.Lock()
	tr.ack = okAck(300)
	tr.mu.Unlock()
	retried, err := room.Retry(context.Background(), msg.ClientID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.State != StateSent || retried.ID != 300 || retried.ClientID != msg.ClientID {
		t.Fatalf("unexpected retried message %+v", retried)
	}
	if n := len(room.Snapshot().Messages); n != 1 {
		t.Fatalf("retry duplicated the row: %d rows", n)
	}
	if _, err := room.Retry(context.Background(), msg.ClientID); err == nil {
		t.Fatalf("retry of a sent message should fail")
	}
}

func TestSendErrorAck(t *testing.T) {
	tr := newFakeTransport()
	tr.ack = func(string, any) (json.RawMessage, error) {
		return json.Marshal(protocol.ErrorSendAck("rate limited"))
	}
	room, _ := openRoom(t, tr, nil, nil)
	msg, err := room.Send(context.Background(), "hello", nil, nil)
	if err == nil || msg.State != StateFailed {
		t.Fatalf("expected a failed message, got %+v err=%v", msg, err)
	}
}

func TestSendReportsUploadFailuresPerFile(t *testing.T) {
	tr := newFakeTransport()
	tr.ack = okAck(1)
	up := fakeUploader{fail: map[string]error{"bad.bin": errors.New("disk full")}}
	room, _ := openRoom(t, tr, nil, func(c *Config) { c.Uploader = up })

	msg, err := room.Send(context.Background(), "files", []string{"a.txt", "bad.bin", "bb.txt"}, []int64{99})
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected *UploadError, got %v", err)
	}
	if len(uploadErr.Failures) != 1 || uploadErr.Failures[0].Path != "bad.bin" {
		t.Fatalf("unexpected failures %+v", uploadErr.Failures)
	}
	if msg.State != StateSent {
		t.Fatalf("message with resolved files should still be sent, got %v", msg.State)
	}

	req := tr.events(protocol.EventSendMessage)[0].payload.(protocol.SendMessage)
	want := []int64{int64(len("a.txt")), int64(len("bb.txt")), 99}
	if !equalIDs(req.FileIDs, want) {
		t.Fatalf("fileIds = %v, want %v", req.FileIDs, want)
	}
}

func TestSendNothing(t *testing.T) {
	tr := newFakeTransport()
	up := fakeUploader{fail: map[string]error{"x": errors.New("nope")}}
	room, _ := openRoom(t, tr, nil, func(c *Config) { c.Uploader = up })

	if _, err := room.Send(context.Background(), "   ", nil, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	var uploadErr *UploadError
	if _, err := room.Send(context.Background(), "", []string{"x"}, nil); !errors.As(err, &uploadErr) {
		t.Fatalf("expected the upload error alone, got %v", err)
	}
	if len(tr.events(protocol.EventSendMessage)) != 0 || len(room.Snapshot().Messages) != 0 {
		t.Fatalf("nothing should have been sent")
	}
}

func TestSinglePageShowsStartMarker(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{pages: map[int64]protocol.HistoryPage{
		0: {Messages: wireMessages(1, 3, "peer"), HasMore: false, NextCursor: cursor(1)},
	}}
	room, _ := openRoom(t, tr, hist, nil)

	if err := room.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	fetched, err := room.LoadOlder(context.Background())
	if err != nil || fetched {
		t.Fatalf("LoadOlder after the last page: fetched=%v err=%v", fetched, err)
	}
	snap := room.Snapshot()
	if !snap.StartOfConversation || len(snap.Messages) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if calls := hist.calls(); len(calls) != 1 {
		t.Fatalf("expected one fetch, got %v", calls)
	}
}

func TestLoadOlderPrependsBeforeCursor(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{pages: map[int64]protocol.HistoryPage{
		0: {Messages: wireMessages(9, 12, "peer"), HasMore: true, NextCursor: cursor(9)},
		9: {Messages: wireMessages(5, 8, "peer"), HasMore: false, NextCursor: cursor(5)},
	}}
	room, log := openRoom(t, tr, hist, nil)

	if err := room.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if c := log.last(); c.Kind != ChangePrepended || !c.Initial || c.Added != 4 {
		t.Fatalf("unexpected initial change %+v", c)
	}
	fetched, err := room.LoadOlder(context.Background())
	if err != nil || !fetched {
		t.Fatalf("LoadOlder: fetched=%v err=%v", fetched, err)
	}
	if calls := hist.calls(); !equalIDs(calls, []int64{0, 9}) {
		t.Fatalf("unexpected fetch cursors %v", calls)
	}
	if c := log.last(); c.Kind != ChangePrepended || c.Initial || c.Added != 4 {
		t.Fatalf("unexpected older change %+v", c)
	}
	snap := room.Snapshot()
	if got := ids(snap.Messages); !equalIDs(got, []int64{5, 6, 7, 8, 9, 10, 11, 12}) {
		t.Fatalf("unexpected order %v", got)
	}
	if !snap.StartOfConversation {
		t.Fatalf("expected start of conversation after the last page")
	}
}

func TestHistoryErrorIsReported(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{err: errors.New("502")}
	room, log := openRoom(t, tr, hist, nil)

	if err := room.LoadInitial(context.Background()); err == nil {
		t.Fatalf("expected an error")
	}
	if c := log.last(); c.Kind != ChangeHistoryError {
		t.Fatalf("expected a history error change, got %+v", c)
	}
	if room.Snapshot().HistoryErr == nil {
		t.Fatalf("snapshot lost the history error")
	}
	if calls := hist.calls(); len(calls) != 1 {
		t.Fatalf("history was retried: %v", calls)
	}
}

func TestInboundMessageAppended(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{pages: map[int64]protocol.HistoryPage{
		0: {Messages: wireMessages(1, 5, "peer"), HasMore: false},
	}}
	room, log := openRoom(t, tr, hist, nil)
	if err := room.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	tr.push(t, protocol.EventNewMessage, protocol.Message{ID: 6, Room: "private:5", Content: "hi", UserID: "peer"})
	snap := room.Snapshot()
	if len(snap.Messages) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(snap.Messages))
	}
	last := snap.Messages[5]
	if last.ID != 6 || last.State != StateDelivered {
		t.Fatalf("unexpected appended row %+v", last)
	}
	if c := log.last(); c.Kind != ChangeAppended || c.Own {
		t.Fatalf("expected an appended change, got %+v", c)
	}

	// duplicates and other rooms are ignored
	tr.push(t, protocol.EventNewMessage, protocol.Message{ID: 6, Room: "private:5", UserID: "peer"})
	tr.push(t, protocol.EventNewMessage, protocol.Message{ID: 70, Room: "channel:1", UserID: "peer"})
	if n := len(room.Snapshot().Messages); n != 6 {
		t.Fatalf("expected 6 rows, got %d", n)
	}
}

func TestTypingIndicator(t *testing.T) {
	tr := newFakeTransport()
	clock := &fakeClock{}
	room, _ := openRoom(t, tr, nil, func(c *Config) { c.AfterFunc = clock.AfterFunc })

	tr.push(t, protocol.EventTyping, protocol.Typing{Room: "private:5", IsTyping: true, UserName: "Ana"})
	if got := room.Snapshot().PeerTyping; got != "Ana" {
		t.Fatalf("PeerTyping = %q", got)
	}
	tr.push(t, protocol.EventTyping, protocol.Typing{Room: "private:5", IsTyping: false, UserName: "Ana"})
	if got := room.Snapshot().PeerTyping; got != "" {
		t.Fatalf("PeerTyping = %q after stop", got)
	}

	room.Keystroke()
	room.Keystroke()
	clock.Advance(DefaultTypingDelay)
	events := tr.events(protocol.EventTyping)
	if len(events) != 3 {
		t.Fatalf("expected true, true, false; got %d events", len(events))
	}
	if last := events[2].payload.(protocol.Typing); last.IsTyping || last.UserName != "Me" || last.Room != "private:5" {
		t.Fatalf("unexpected final typing event %+v", last)
	}
}

func TestPresenceQueryAndPushes(t *testing.T) {
	tr := newFakeTransport()
	tr.ack = func(event string, payload any) (json.RawMessage, error) {
		if event != protocol.EventGetOnlineStatus {
			return nil, fmt.Errorf("unexpected %s", event)
		}
		q := payload.(protocol.OnlineStatusQuery)
		return json.Marshal(protocol.OnlineStatus{UserID: q.UserID, IsOnline: true})
	}
	room, _ := openRoom(t, tr, nil, func(c *Config) { c.PeerID = "peer" })

	waitUntil(t, func() bool { return room.Snapshot().Presence == PresenceOnline })

	tr.push(t, protocol.EventUserOffline, protocol.Presence{UserID: "someone-else"})
	if room.Snapshot().Presence != PresenceOnline {
		t.Fatalf("presence changed for an unrelated user")
	}
	tr.push(t, protocol.EventUserOffline, protocol.Presence{UserID: "peer"})
	if room.Snapshot().Presence != PresenceOffline {
		t.Fatalf("expected offline after push")
	}

	tr.reconnect()
	waitUntil(t, func() bool { return room.Snapshot().Presence == PresenceOnline })
	if n := len(tr.events(protocol.EventJoinRoom)); n != 2 {
		t.Fatalf("expected a rejoin on reconnect, got %d joins", n)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestReplySendsParentAndQuotesIt(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{pages: map[int64]protocol.HistoryPage{
		0: {Messages: []protocol.Message{{ID: 1, Content: "lunch?", UserID: "peer", UserName: "Pat"}}},
	}}
	release := make(chan struct{})
	tr.ack = func(event string, payload any) (json.RawMessage, error) {
		<-release
		req := payload.(protocol.SendMessage)
		ack, err := protocol.OKSendAck(protocol.Message{
			ID: 2, Content: req.Content, UserID: req.UserID, ClientID: req.ClientID, ParentID: req.ParentID,
			ParentMessage: &protocol.ParentMessage{ID: 1, Content: "lunch?", UserName: "Pat"},
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(ack)
	}
	room, _ := openRoom(t, tr, hist, nil)
	if err := room.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := room.Reply(context.Background(), 1, "yes", nil, nil)
		done <- err
	}()
	// the placeholder quotes the parent before the server answers
	waitUntil(t, func() bool { return len(room.Snapshot().Messages) == 2 })
	pending := room.Snapshot().Messages[1]
	if pending.State != StatePending || pending.Parent == nil || pending.Parent.SenderName != "Pat" {
		t.Fatalf("unexpected placeholder %+v", pending)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Reply: %v", err)
	}

	sends := tr.events(protocol.EventSendMessage)
	if req := sends[0].payload.(protocol.SendMessage); req.ParentID != 1 {
		t.Fatalf("reply sent without parent: %+v", req)
	}
	if _, err := room.Reply(context.Background(), 0, "nope", nil, nil); err == nil {
		t.Fatal("reply to message 0 accepted")
	}
}

func TestReactAppliesAckAndPushes(t *testing.T) {
	tr := newFakeTransport()
	hist := &fakeHistory{pages: map[int64]protocol.HistoryPage{
		0: {Messages: wireMessages(1, 3, "peer")},
	}}
	tr.ack = func(event string, payload any) (json.RawMessage, error) {
		req, ok := payload.(protocol.MessageReaction)
		if !ok {
			return nil, fmt.Errorf("unexpected %s payload %T", event, payload)
		}
		if req.MessageID == 3 {
			return json.Marshal(protocol.ReactionAck{Status: protocol.StatusError, Error: "unknown message"})
		}
		return json.Marshal(protocol.ReactionAck{Status: protocol.StatusOK, Data: &protocol.ReactionUpdate{
			Room:      "private:5",
			MessageID: req.MessageID,
			Reactions: []protocol.Reaction{{Emoji: req.Emoji, Count: 1, Users: []protocol.ReactionUser{{ID: "me", Name: "Me"}}, UserIDs: []string{"me"}}},
		}})
	}
	room, log := openRoom(t, tr, hist, nil)
	if err := room.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	if err := room.React(context.Background(), 2, "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
	got := room.Snapshot().Messages[1].Reactions
	if len(got) != 1 || got[0].Emoji != "👍" || got[0].Count() != 1 || got[0].Names[0] != "Me" {
		t.Fatalf("ack not applied: %+v", got)
	}
	if c := log.last(); c.Kind != ChangeUpdated {
		t.Fatalf("expected an update, got %+v", c)
	}
	req := tr.events(protocol.EventMessageReaction)[0].payload.(protocol.MessageReaction)
	if req.RoomID != "private:5" || req.UserID != "me" || req.Action != protocol.ReactionAdd {
		t.Fatalf("unexpected payload %+v", req)
	}

	if err := room.React(context.Background(), 3, "👍"); err == nil {
		t.Fatal("rejected reaction reported success")
	}

	// someone else's reaction arrives as a push
	tr.push(t, protocol.EventReactionUpdated, protocol.ReactionUpdate{
		Room: "private:5", MessageID: 1,
		Reactions: []protocol.Reaction{{Emoji: "🎉", Count: 2, UserIDs: []string{"peer", "other"}}},
	})
	if got := room.Snapshot().Messages[0].Reactions; len(got) != 1 || got[0].Count() != 2 {
		t.Fatalf("push not applied: %+v", got)
	}
	tr.push(t, protocol.EventReactionUpdated, protocol.ReactionUpdate{
		Room: "channel:1", MessageID: 1, Reactions: []protocol.Reaction{},
	})
	if got := room.Snapshot().Messages[0].Reactions; len(got) != 1 {
		t.Fatalf("push for another room was applied: %+v", got)
	}
}
