package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nestwork/liveroom/internal/relay"
)

type RoomStatus string

const (
	StatusPlanned RoomStatus = "planned"
	StatusLive    RoomStatus = "live"
	StatusEnded   RoomStatus = "ended"
)

// RosterEntry is one pubkey from the descriptor's p-tags with its
// optional role ("host", "speaker", "participant", "moderator").
type RosterEntry struct {
	Pubkey string
	Role   string
}

// RoomDescriptor is an immutable snapshot of the most recent signed
// descriptor record for a RoomAddress. It is replaced wholesale on
// refresh, never mutated field by field.
type RoomDescriptor struct {
	Address     RoomAddress
	OwnerPubkey string
	Title       string
	Summary     string
	ImageURL    string
	Status      RoomStatus
	ScheduledAt time.Time

	// ControlPlaneBaseURL is set only when the room is backed by a
	// connectable media service (the descriptor's "service" tag).
	ControlPlaneBaseURL string
	// StreamingURL is the media connect URL for a backed room, or a
	// plain playback URL otherwise.
	StreamingURL string
	// RecordingURL is only meaningful when Status is ended.
	RecordingURL string

	StaticRoster          []RosterEntry
	RelayHints            []string
	TotalParticipantsHint int
	NSFW                  bool

	// Raw is the descriptor record this snapshot was derived from,
	// kept for republishing status transitions.
	Raw *relay.Event
}

// Connectable reports whether the room offers an interactive media
// session (as opposed to plain playback or a scheduled placeholder).
func (d *RoomDescriptor) Connectable() bool {
	return d.ControlPlaneBaseURL != "" && d.Status == StatusLive
}

// interactiveScheme marks a streaming URL whose media backend accepts
// interactive connections rather than plain playback.
const interactiveScheme = "wss+livekit://"

// DescriptorFromEvent derives a descriptor snapshot from a room record.
func DescriptorFromEvent(ev *relay.Event) (*RoomDescriptor, error) {
	if ev == nil || ev.Kind != relay.KindLiveRoom {
		return nil, fmt.Errorf("%w: wrong kind", ErrMalformedDescriptor)
	}
	dTag, ok := ev.FirstTag("d")
	if !ok {
		return nil, fmt.Errorf("%w: missing d tag", ErrMalformedDescriptor)
	}

	d := &RoomDescriptor{
		Address:     RoomAddress{Kind: ev.Kind, Pubkey: ev.Pubkey, DTag: dTag.Value()},
		OwnerPubkey: ev.Pubkey,
		Title:       ev.TagValue("title"),
		Summary:     ev.TagValue("summary"),
		ImageURL:    ev.TagValue("image"),
		Status:      RoomStatus(ev.TagValue("status")),
		Raw:         ev,
	}

	interactive := false
	if streaming := ev.TagValue("streaming"); streaming != "" {
		if strings.HasPrefix(streaming, interactiveScheme) {
			interactive = true
			d.StreamingURL = strings.Replace(streaming, "s+livekit://", "s://", 1)
		} else {
			d.StreamingURL = streaming
		}
	}
	if interactive {
		d.ControlPlaneBaseURL = ev.TagValue("service")
	}

	if d.Status == StatusEnded {
		d.RecordingURL = ev.TagValue("recording")
	}
	if d.Status == StatusPlanned {
		if starts := ev.TagValue("starts"); starts != "" {
			if ts, err := strconv.ParseInt(starts, 10, 64); err == nil {
				d.ScheduledAt = time.Unix(ts, 0)
			}
		}
	}

	for _, t := range ev.Tags {
		if t.Name() != "p" || t.Value() == "" {
			continue
		}
		role := ""
		if len(t) >= 4 {
			role = strings.ToLower(t[3])
		}
		d.StaticRoster = append(d.StaticRoster, RosterEntry{Pubkey: t.Value(), Role: role})
	}
	if relays, ok := ev.FirstTag("relays"); ok {
		d.RelayHints = append(d.RelayHints, relays[1:]...)
	}

	d.TotalParticipantsHint = len(d.StaticRoster)
	if cp := ev.TagValue("current_participants"); cp != "" {
		if n, err := strconv.Atoi(cp); err == nil {
			d.TotalParticipantsHint = n
		}
	}

	for _, t := range ev.Tags {
		if t.Name() == "content-warning" || (t.Name() == "t" && strings.EqualFold(t.Value(), "nsfw")) {
			d.NSFW = true
			break
		}
	}
	return d, nil
}

// WithStatus returns an unsigned copy of the descriptor record carrying
// a new status tag and a fresh timestamp, ready for signing and
// republishing by the owner (the planned->live->ended transitions, and
// the owner-only ended->live restart).
func (d *RoomDescriptor) WithStatus(status RoomStatus) *relay.Event {
	ev := relay.NewEvent(relay.KindLiveRoom, d.Raw.Content)
	ev.Pubkey = d.OwnerPubkey
	for _, t := range d.Raw.Tags {
		if t.Name() == "status" {
			ev.AddTag("status", string(status))
			continue
		}
		ev.Tags = append(ev.Tags, t)
	}
	if _, ok := d.Raw.FirstTag("status"); !ok {
		ev.AddTag("status", string(status))
	}
	return ev
}
