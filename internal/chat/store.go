package chat

// Outcome describes what Store.Receive did with a pushed message.
type Outcome int

const (
	Ignored Outcome = iota
	Appended
	Updated
)

// Store is the ordered message list of one room, oldest first. No server id
// appears twice. It is not safe for concurrent use; Room serialises access.
type Store struct {
	owner    string
	messages []Message
	byID     map[int64]int
	// byClient only indexes the owner's messages.
	byClient map[string]int
}

// NewStore returns an empty store for the viewer ownerID.
func NewStore(ownerID string) *Store {
	return &Store{
		owner:    ownerID,
		byID:     make(map[int64]int),
		byClient: make(map[string]int),
	}
}

func (s *Store) Len() int {
	return len(s.messages)
}

// Messages returns a copy of the list.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Oldest returns the id of the oldest message carrying a server id.
func (s *Store) Oldest() (int64, bool) {
	for _, m := range s.messages {
		if m.ID != 0 {
			return m.ID, true
		}
	}
	return 0, false
}

// Prepend merges an older page (oldest first) in front of the list. Messages
// already present are skipped, so merging the same page twice is a no-op. It
// returns the number of rows added.
func (s *Store) Prepend(page []Message) int {
	fresh := make([]Message, 0, len(page))
	seen := make(map[int64]bool, len(page))
	for _, m := range page {
		if m.ID != 0 {
			if _, ok := s.byID[m.ID]; ok || seen[m.ID] {
				continue
			}
		}
		if idx, ok := s.matchOwn(m); ok {
			s.settle(idx, m, StateDelivered)
			seen[m.ID] = true
			continue
		}
		if m.ID != 0 {
			seen[m.ID] = true
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0
	}
	s.messages = append(fresh, s.messages...)
	s.reindex()
	return len(fresh)
}

// Receive merges a live message. An echo of a message this client sent
// settles the placeholder at delivered; anything unseen is appended.
func (s *Store) Receive(m Message) Outcome {
	if idx, ok := s.matchOwn(m); ok {
		if s.settle(idx, m, StateDelivered) {
			return Updated
		}
		return Ignored
	}
	if m.ID != 0 {
		if _, ok := s.byID[m.ID]; ok {
			return Ignored
		}
	}
	s.messages = append(s.messages, m)
	s.index(len(s.messages) - 1)
	return Appended
}

// AddPending appends a placeholder for an outgoing message.
func (s *Store) AddPending(m Message) {
	m.State = StatePending
	m.ID = 0
	s.messages = append(s.messages, m)
	s.index(len(s.messages) - 1)
}

// Acknowledge applies the server's ack for clientID: the placeholder adopts
// the stored message's id and becomes at least sent. Acks for failed or
// unknown messages are dropped.
func (s *Store) Acknowledge(clientID string, stored Message) bool {
	idx, ok := s.byClient[clientID]
	if !ok || s.messages[idx].State == StateFailed {
		return false
	}
	return s.settle(idx, stored, StateSent)
}

// Fail marks a pending message as failed.
func (s *Store) Fail(clientID string, cause error) bool {
	idx, ok := s.byClient[clientID]
	if !ok || s.messages[idx].State != StatePending {
		return false
	}
	s.messages[idx].State = StateFailed
	s.messages[idx].Err = cause
	return true
}

// Retry moves a failed message back to pending and returns it.
func (s *Store) Retry(clientID string) (Message, bool) {
	idx, ok := s.byClient[clientID]
	if !ok || s.messages[idx].State != StateFailed {
		return Message{}, false
	}
	s.messages[idx].State = StatePending
	s.messages[idx].Err = nil
	return s.messages[idx], true
}

// Failed lists the client ids of failed messages, oldest first.
func (s *Store) Failed() []string {
	var ids []string
	for _, m := range s.messages {
		if m.State == StateFailed && m.ClientID != "" && m.SenderID == s.owner {
			ids = append(ids, m.ClientID)
		}
	}
	return ids
}

// Find returns the message with server id id.
func (s *Store) Find(id int64) (Message, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx], true
}

// SetReactions replaces the reactions of message id. It reports whether the
// message is loaded.
func (s *Store) SetReactions(id int64, reactions []Reaction) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.messages[idx].Reactions = reactions
	return true
}

func (s *Store) Get(clientID string) (Message, bool) {
	idx, ok := s.byClient[clientID]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx], true
}

func (s *Store) matchOwn(m Message) (int, bool) {
	if m.ClientID == "" || m.SenderID != s.owner {
		return 0, false
	}
	idx, ok := s.byClient[m.ClientID]
	return idx, ok
}

// settle copies server data onto the row at idx and promotes its state. A
// failed row only moves on when the server has really delivered it.
func (s *Store) settle(idx int, server Message, to DeliveryState) bool {
	if server.ID != 0 {
		if other, ok := s.byID[server.ID]; ok && other != idx {
			// the same stored message arrived through another path first
			if st := s.messages[other].State; st != StateFailed && st > to {
				to = st
			}
			s.messages = append(s.messages[:other], s.messages[other+1:]...)
			if other < idx {
				idx--
			}
			s.reindex()
		}
	}

	cur := &s.messages[idx]
	before := *cur
	if server.ID != 0 {
		cur.ID = server.ID
	}
	if !server.CreatedAt.IsZero() {
		cur.CreatedAt = server.CreatedAt
	}
	if server.SenderName != "" {
		cur.SenderName = server.SenderName
	}
	if len(server.Attachments) > 0 {
		cur.Attachments = server.Attachments
	}
	if server.Parent != nil {
		cur.Parent = server.Parent
	}
	if server.Reactions != nil {
		cur.Reactions = server.Reactions
	}
	switch {
	case cur.State == StateFailed:
		if to == StateDelivered {
			cur.State = to
			cur.Err = nil
		}
	case to > cur.State:
		cur.State = to
	}
	if cur.ID != 0 {
		s.byID[cur.ID] = idx
	}
	return cur.ID != before.ID || cur.State != before.State || len(cur.Attachments) != len(before.Attachments)
}

func (s *Store) index(i int) {
	m := s.messages[i]
	if m.ID != 0 {
		s.byID[m.ID] = i
	}
	if m.ClientID != "" && m.SenderID == s.owner {
		s.byClient[m.ClientID] = i
	}
}

func (s *Store) reindex() {
	s.byID = make(map[int64]int, len(s.messages))
	s.byClient = make(map[string]int, len(s.messages))
	for i := range s.messages {
		s.index(i)
	}
}
