// Package media defines the real-time backend contract for a connected
// room and its callback event stream.
package media

import "context"

// Event is one backend callback, delivered in backend order on the
// channel returned by Connect.
type Event interface{ isEvent() }

// ParticipantJoined reports a remote participant entering the room.
type ParticipantJoined struct {
	Pubkey     string
	CanPublish bool
	Muted      bool
}

// ParticipantLeft reports an explicit leave.
type ParticipantLeft struct {
	Pubkey string
}

// PermissionsChanged moves a participant on or off stage.
type PermissionsChanged struct {
	Pubkey     string
	CanPublish bool
}

// Speaking carries audio level and track mute for a participant.
type Speaking struct {
	Pubkey string
	Level  float64
	Muted  bool
}

// RoomMetadata is the backend's authoritative host/admin/recording view.
type RoomMetadata struct {
	Host      string
	Speakers  []string
	Admins    []string
	Recording bool
}

// RecordingChanged reports a recording state flip.
type RecordingChanged struct {
	Recording bool
}

// Disconnected terminates the event stream. Err is nil on a clean
// local disconnect.
type Disconnected struct {
	Err error
}

func (ParticipantJoined) isEvent()  {}
func (ParticipantLeft) isEvent()    {}
func (PermissionsChanged) isEvent() {}
func (Speaking) isEvent()           {}
func (RoomMetadata) isEvent()       {}
func (RecordingChanged) isEvent()   {}
func (Disconnected) isEvent()       {}

// Backend is one real-time media connection. Implementations deliver
// events in backend order and close the event channel after emitting
// Disconnected.
type Backend interface {
	// Connect dials the room's media URL with a join token. Safe to
	// cancel via ctx before the backend confirms.
	Connect(ctx context.Context, url, token string) (<-chan Event, error)

	// SetMicrophoneEnabled toggles the published audio track.
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect(ctx context.Context) error
}
