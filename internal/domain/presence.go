package domain

import (
	"fmt"
	"time"

	"github.com/nestwork/liveroom/internal/relay"
)

// Presence is one decoded ephemeral presence broadcast: "this pubkey is
// near this room", decayed by time rather than explicit retraction.
type Presence struct {
	Pubkey     string
	Room       string // room address the broadcast is scoped to
	RaisedHand bool
	At         time.Time
}

// PresenceFromEvent decodes a presence record. Malformed records are an
// error for the caller to drop; presence is best-effort.
func PresenceFromEvent(ev *relay.Event) (Presence, error) {
	if ev.Kind != relay.KindRoomPresence {
		return Presence{}, fmt.Errorf("presence: wrong kind %d", ev.Kind)
	}
	room := ev.TagValue("a")
	if room == "" {
		return Presence{}, fmt.Errorf("presence: missing room address")
	}
	return Presence{
		Pubkey:     ev.Pubkey,
		Room:       room,
		RaisedHand: ev.HasTag("hand", "1"),
		At:         time.Unix(ev.CreatedAt, 0),
	}, nil
}

// PresenceEvent builds an unsigned presence record for the room,
// ready for signing and broadcast.
func PresenceEvent(room RoomAddress, raisedHand bool) *relay.Event {
	ev := relay.NewEvent(relay.KindRoomPresence, "")
	ev.AddTag("a", room.String())
	if raisedHand {
		ev.AddTag("hand", "1")
	}
	return ev
}
