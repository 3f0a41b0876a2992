// Package socket is the client side of the chat wire: one websocket
// connection per process, named events, acknowledgements and reconnects.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"erpchat/internal/protocol"
)

var (
	// ErrNotConnected is returned by emits while the connection is down.
	// Nothing is queued.
	ErrNotConnected = errors.New("socket not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("socket closed")
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	dialTimeout  = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Handler receives the raw data of a pushed event. Handlers run on the
// connection's read goroutine and must not block.
type Handler func(data json.RawMessage)

// Options tune a Client. Zero values pick sensible defaults.
type Options struct {
	Header     http.Header
	RetryDelay time.Duration
	Notifier   Notifier
	Logger     zerolog.Logger
	Dialer     *websocket.Dialer
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type hookEntry struct {
	id uint64
	fn func()
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// Client owns a single connection to the real-time server. Construct it
// with New, call Dial once, and Close it when the application exits.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	retry  time.Duration
	notify *latch
	log    zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	handlers  map[string][]handlerEntry
	hooks     []hookEntry
	nextEntry uint64
	acks      map[uint64]chan ackResult
	nextAck   uint64

	writeMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds an unconnected client for the websocket URL.
func New(url string, opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	retry := opts.RetryDelay
	if retry <= 0 {
		retry = 2 * time.Second
	}
	header := opts.Header
	if header == nil {
		header = http.Header{}
	}
	return &Client{
		url:      url,
		header:   header,
		dialer:   dialer,
		retry:    retry,
		notify:   newLatch(opts.Notifier),
		log:      opts.Logger,
		handlers: make(map[string][]handlerEntry),
		acks:     make(map[uint64]chan ackResult),
		done:     make(chan struct{}),
	}
}

// Dial dials the server. When the first attempt fails the error is
// reported once through the notifier, returned, and the client keeps
// retrying in the background until Close.
func (c *Client) Dial(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.connectionFailed(fmt.Sprintf("Real-time connection error: %v", err), err)
		c.scheduleReconnect()
		return err
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// On registers a handler for a pushed event. The returned func removes it.
func (c *Client) On(event string, fn Handler) (off func()) {
	c.mu.Lock()
	c.nextEntry++
	id := c.nextEntry
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	}
}

// OnConnect registers fn to run after every successful (re)connect.
func (c *Client) OnConnect(fn func()) (off func()) {
	c.mu.Lock()
	c.nextEntry++
	id := c.nextEntry
	c.hooks = append(c.hooks, hookEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				break
			}
		}
	}
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Client) Emit(event string, payload any) error {
	frame, err := protocol.NewEnvelope(event, 0, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// EmitWithAck sends an event and waits for the server's acknowledgement.
// The wait ends early when ctx is done or the connection drops.
func (c *Client) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextAck++
	id := c.nextAck
	ch := make(chan ackResult, 1)
	c.acks[id] = ch
	c.mu.Unlock()

	frame, err := protocol.NewEnvelope(event, id, payload)
	if err == nil {
		err = c.write(frame)
	}
	if err != nil {
		c.dropAck(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.dropAck(id)
		return nil, ctx.Err()
	}
}

// Close tears the connection down for good. No reconnect is attempted
// afterwards and pending acknowledgements fail with ErrClosed. It must not be
// called from a Handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	pending := c.acks
	c.acks = make(map[uint64]chan ackResult)
	c.mu.Unlock()

	failAcks(pending, ErrClosed)
	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) dial(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	hooks := append([]hookEntry(nil), c.hooks...)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.Info().Str("url", c.url).Msg("socket connected")
	c.notify.connected("Real-time connection established")
	for _, h := range hooks {
		h.fn()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if env.Event == protocol.EventAck {
			c.resolveAck(env.ID, env.Data)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(data)
	}
}

func (c *Client) resolveAck(id uint64, data json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if ok {
		ch <- ackResult{data: data}
	}
}

func (c *Client) dropAck(id uint64) {
	c.mu.Lock()
	delete(c.acks, id)
	c.mu.Unlock()
}

func (c *Client) dropped(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	pending := c.acks
	c.acks = make(map[uint64]chan ackResult)
	c.mu.Unlock()

	_ = conn.Close()
	failAcks(pending, ErrNotConnected)
	if closed {
		return
	}
	c.connectionFailed("Disconnected from the real-time server, reconnecting…", cause)
	c.scheduleReconnect()
}

func (c *Client) connectionFailed(notice string, cause error) {
	c.log.Warn().Err(cause).Msg("socket unavailable")
	c.notify.failed(notice)
}

// scheduleReconnect starts the retry loop unless Close has run. The Add
// happens under mu so it cannot race with Close's Wait.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.retry)
		defer timer.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-timer.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			err := c.dial(ctx)
			cancel()
			if err == nil || errors.Is(err, ErrClosed) {
				return
			}
			c.connectionFailed(fmt.Sprintf("Real-time connection error: %v", err), err)
			timer.Reset(c.retry)
		}
	}()
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func failAcks(pending map[uint64]chan ackResult, err error) {
	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}
