package chat

type PresenceState int

const (
	PresenceUnknown PresenceState = iota
	PresenceOnline
	PresenceOffline
)

func (p PresenceState) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

func presenceOf(online bool) PresenceState {
	if online {
		return PresenceOnline
	}
	return PresenceOffline
}
