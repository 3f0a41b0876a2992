package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRoom is returned for room keys that are not kind:id.
var ErrInvalidRoom = errors.New("invalid room key")

type RoomKind string

const (
	RoomDirect RoomKind = "private"
	RoomGroup  RoomKind = "channel"
)

// RoomKey identifies a conversation, e.g. "private:5" or "channel:1".
type RoomKey struct {
	Kind     RoomKind
	TargetID int64
}

// ParseRoom parses the wire form of a room key.
func ParseRoom(raw string) (RoomKey, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrInvalidRoom, raw)
	}
	key := RoomKey{Kind: RoomKind(kind)}
	if key.Kind != RoomDirect && key.Kind != RoomGroup {
		return RoomKey{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRoom, kind)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return RoomKey{}, fmt.Errorf("%w: bad id %q", ErrInvalidRoom, id)
	}
	key.TargetID = n
	return key, nil
}

// NewRoom builds a key from the kind name used by the history endpoint
// ("private" or "channel").
func NewRoom(kind string, id int64) (RoomKey, error) {
	return ParseRoom(kind + ":" + strconv.FormatInt(id, 10))
}

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.TargetID, 10)
}

func (k RoomKey) IsDirect() bool {
	return k.Kind == RoomDirect
}
