package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"erpchat/internal/protocol"
	"erpchat/internal/storage"
)

const eventTimeout = 5 * time.Second

// errorAck answers a request that could not be served and has no dedicated
// error shape.
type errorAck struct {
	Error string `json:"error"`
}

func (s *Server) dispatch(c *Conn, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case protocol.EventJoinRoom:
		s.handleJoin(ctx, c, env)
	case protocol.EventLeaveRoom:
		s.handleLeave(c, env)
	case protocol.EventTyping:
		s.handleTyping(c, env)
	case protocol.EventSendMessage:
		s.handleSend(ctx, c, env)
	case protocol.EventGetOnlineStatus:
		s.handleOnlineStatus(c, env)
	case protocol.EventMessageReaction:
		s.handleReaction(ctx, c, env)
	default:
		s.reject(c, env, "unknown event")
	}
}

// decode unmarshals and validates env.Data into out.
func (s *Server) decode(env protocol.Envelope, out any) error {
	if len(env.Data) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.New("malformed payload")
	}
	if err := s.validate.Struct(out); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

func (s *Server) reject(c *Conn, env protocol.Envelope, reason string) {
	s.metrics.RejectedEvents.WithLabelValues(env.Event).Inc()
	s.log.Debug().Uint64("conn", c.id).Str("event", env.Event).Str("reason", reason).Msg("event rejected")
	s.ack(c, env.ID, errorAck{Error: reason})
}

func (s *Server) ack(c *Conn, id uint64, body any) {
	if id == 0 {
		return
	}
	s.push(c, protocol.EventAck, id, body)
}

func (s *Server) push(c *Conn, event string, id uint64, body any) {
	frame, err := protocol.NewEnvelope(event, id, body)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	s.hub.Send(c, frame)
}

func (s *Server) broadcast(room, event string, body any, skip *Conn) {
	frame, err := protocol.NewEnvelope(event, 0, body)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	s.hub.Broadcast(room, frame, skip)
}

func (s *Server) broadcastAll(event string, body any, skip *Conn) {
	frame, err := protocol.NewEnvelope(event, 0, body)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	s.hub.BroadcastAll(frame, skip)
}

func (s *Server) handleJoin(ctx context.Context, c *Conn, env protocol.Envelope) {
	var req protocol.JoinRoom
	if err := s.decode(env, &req); err != nil {
		s.reject(c, env, err.Error())
		return
	}
	room, err := protocol.ParseRoom(req.Room)
	if err != nil {
		s.reject(c, env, "invalid room")
		return
	}
	key := room.String()
	s.hub.Join(c, key)

	userID := strings.TrimSpace(req.UserID)
	if userID != "" {
		if c.bind(userID, req.UserName) {
			if s.presence.Attach(userID, c.id) {
				s.broadcastAll(protocol.EventUserOnline, protocol.Presence{UserID: userID}, c)
			}
			s.metrics.OnlineUsers.Set(float64(s.presence.Users()))
		}
		if err := s.store.UpsertUser(ctx, userID, req.UserName); err != nil {
			s.log.Error().Err(err).Str("user", userID).Msg("upsert user")
		}
	}
	s.log.Debug().Uint64("conn", c.id).Str("room", key).Str("user", userID).Msg("joined room")
	s.ack(c, env.ID, protocol.RoomAck{Event: "joinedRoom", Room: key})
}

func (s *Server) handleLeave(c *Conn, env protocol.Envelope) {
	var req protocol.LeaveRoom
	if err := s.decode(env, &req); err != nil {
		s.reject(c, env, err.Error())
		return
	}
	room, err := protocol.ParseRoom(req.Room)
	if err != nil {
		s.reject(c, env, "invalid room")
		return
	}
	s.hub.Leave(c, room.String())
	s.ack(c, env.ID, protocol.RoomAck{Event: "leftRoom", Room: room.String()})
}

func (s *Server) handleTyping(c *Conn, env protocol.Envelope) {
	var req protocol.Typing
	if err := s.decode(env, &req); err != nil {
		s.reject(c, env, err.Error())
		return
	}
	room, err := protocol.ParseRoom(req.Room)
	if err != nil {
		s.reject(c, env, "invalid room")
		return
	}
	req.Room = room.String()
	if !s.hub.IsMember(c, req.Room) {
		return
	}
	if req.UserName == "" {
		_, req.UserName = c.identity()
	}
	s.broadcast(req.Room, protocol.EventTyping, req, c)
}

func (s *Server) handleOnlineStatus(c *Conn, env protocol.Envelope) {
	var req protocol.OnlineStatusQuery
	if err := s.decode(env, &req); err != nil {
		s.reject(c, env, err.Error())
		return
	}
	s.ack(c, env.ID, protocol.OnlineStatus{UserID: req.UserID, IsOnline: s.presence.Online(req.UserID)})
}

func (s *Server) handleSend(ctx context.Context, c *Conn, env protocol.Envelope) {
	fail := func(reason string) {
		s.metrics.RejectedEvents.WithLabelValues(env.Event).Inc()
		s.ack(c, env.ID, protocol.ErrorSendAck(reason))
	}

	var req protocol.SendMessage
	if err := s.decode(env, &req); err != nil {
		fail(err.Error())
		return
	}
	room, err := protocol.ParseRoom(req.RoomID)
	if err != nil {
		fail("invalid room")
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.FileIDs) == 0 {
		fail("empty message")
		return
	}
	if bound, _ := c.identity(); bound != "" && bound != req.UserID {
		fail("user does not match connection")
		return
	}
	if !c.allowSend(s.now()) {
		s.metrics.RateLimited.Inc()
		fail("sending too quickly, wait a moment and try again")
		return
	}
	for _, id := range req.FileIDs {
		if _, err := s.store.GetFile(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				fail("unknown file " + strconv.FormatInt(id, 10))
				return
			}
			s.log.Error().Err(err).Int64("file", id).Msg("lookup attachment")
			fail("could not store message")
			return
		}
	}

	if req.ParentID > 0 {
		parent, err := s.store.GetMessage(ctx, req.ParentID)
		switch {
		case errors.Is(err, storage.ErrNotFound) || (err == nil && parent.Room != room.String()):
			fail("unknown parent message")
			return
		case err != nil:
			s.log.Error().Err(err).Int64("parent", req.ParentID).Msg("lookup parent")
			fail("could not store message")
			return
		}
	}

	stored, created, err := s.store.InsertMessage(ctx, storage.NewMessage{
		Room:     room.String(),
		UserID:   req.UserID,
		Content:  req.Content,
		ClientID: req.ClientID,
		ParentID: req.ParentID,
		FileIDs:  req.FileIDs,
	})
	if err != nil {
		s.log.Error().Err(err).Str("room", room.String()).Msg("insert message")
		fail("could not store message")
		return
	}
	msg := wireMessage(*stored)
	ack, err := protocol.OKSendAck(msg)
	if err != nil {
		fail("could not encode message")
		return
	}

	if created {
		s.metrics.MessagesStored.WithLabelValues(string(room.Kind)).Inc()
		s.broadcast(msg.Room, protocol.EventNewMessage, msg, nil)
		if room.Kind == protocol.RoomGroup {
			s.broadcastAll(protocol.EventChannelNotification, protocol.ChannelNotification{
				ChannelID: room.TargetID,
				UserID:    msg.UserID,
				MessageID: msg.ID,
			}, nil)
		}
	} else {
		s.metrics.DuplicateSends.Inc()
	}
	s.ack(c, env.ID, ack)
}

// handleReaction toggles the sender's reaction and pushes the new totals to
// the whole room, sender included.
func (s *Server) handleReaction(ctx context.Context, c *Conn, env protocol.Envelope) {
	fail := func(reason string) {
		s.metrics.RejectedEvents.WithLabelValues(env.Event).Inc()
		s.ack(c, env.ID, protocol.ReactionAck{Status: protocol.StatusError, Error: reason})
	}

	var req protocol.MessageReaction
	if err := s.decode(env, &req); err != nil {
		fail(err.Error())
		return
	}
	room, err := protocol.ParseRoom(req.RoomID)
	if err != nil {
		fail("invalid room")
		return
	}
	if bound, _ := c.identity(); bound != "" && bound != req.UserID {
		fail("user does not match connection")
		return
	}
	target, err := s.store.GetMessage(ctx, req.MessageID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && target.Room != room.String()) {
		fail("unknown message")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("message", req.MessageID).Msg("lookup reaction target")
		fail("could not save reaction")
		return
	}

	reactions, err := s.store.React(ctx, storage.ReactionChange{
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Emoji:     req.Emoji,
		Remove:    req.Action == protocol.ReactionRemove,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("message", req.MessageID).Msg("save reaction")
		fail("could not save reaction")
		return
	}
	update := &protocol.ReactionUpdate{
		Room:      room.String(),
		MessageID: req.MessageID,
		Reactions: wireReactions(reactions),
	}
	s.metrics.Reactions.WithLabelValues(req.Action).Inc()
	s.broadcast(update.Room, protocol.EventReactionUpdated, update, nil)
	if !s.hub.IsMember(c, update.Room) {
		s.push(c, protocol.EventReactionUpdated, 0, update)
	}
	s.ack(c, env.ID, protocol.ReactionAck{Status: protocol.StatusOK, Data: update})
}

// disconnect runs once per connection, from readPump.
func (s *Server) disconnect(c *Conn) {
	s.hub.remove(c)
	s.metrics.ActiveConns.Set(float64(s.hub.ConnCount()))

	userID, _ := c.identity()
	if userID == "" {
		return
	}
	if s.presence.Detach(userID, c.id) {
		s.broadcastAll(protocol.EventUserOffline, protocol.Presence{UserID: userID}, nil)
	}
	s.metrics.OnlineUsers.Set(float64(s.presence.Users()))
	s.log.Debug().Uint64("conn", c.id).Str("user", userID).Msg("socket disconnected")
}

func wireMessage(m storage.Message) protocol.Message {
	msg := protocol.Message{
		ID:        m.ID,
		Room:      m.Room,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Type:      m.Type,
		ClientID:  m.ClientID,
		ParentID:  m.ParentID,
	}
	for _, f := range m.Files {
		msg.Files = append(msg.Files, wireFile(f))
	}
	if m.Parent != nil {
		msg.ParentMessage = &protocol.ParentMessage{ID: m.Parent.ID, Content: m.Parent.Content, UserName: m.Parent.UserName}
	}
	msg.Reactions = wireReactions(m.Reactions)
	return msg
}

func wireReactions(groups []storage.Reaction) []protocol.Reaction {
	out := make([]protocol.Reaction, 0, len(groups))
	for _, g := range groups {
		r := protocol.Reaction{Emoji: g.Emoji, Count: len(g.Users)}
		for _, u := range g.Users {
			r.Users = append(r.Users, protocol.ReactionUser{ID: u.ID, Name: u.Name})
			r.UserIDs = append(r.UserIDs, u.ID)
		}
		out = append(out, r)
	}
	return out
}

func wireFile(f storage.File) protocol.File {
	return protocol.File{
		ID:       f.ID,
		Name:     f.Name,
		Size:     f.Size,
		MimeType: f.MimeType,
		URL:      "/api/files/" + strconv.FormatInt(f.ID, 10),
	}
}
