// Package session manages the one active real-time media connection
// per process and feeds its callbacks into the room's roster engine.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/media"
	"github.com/nestwork/liveroom/internal/relay"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Roster is the slice of the reconciliation engine the session feeds.
type Roster interface {
	ApplyLiveMembership(pubkey string, canPublish, muted bool)
	ApplyLivePermissions(pubkey string, canPublish bool)
	ApplyLiveMembershipRemoved(pubkey string)
	ApplySpeaking(pubkey string, level float64, muted bool)
	ApplyRoomMetadata(host string, admins []string, recording bool)
	ApplyRecording(recording bool)
	DetachLive()
}

// Publisher broadcasts signed presence records. Satisfied by relay.Bus.
type Publisher interface {
	Publish(ctx context.Context, ev *relay.Event) error
}

// Session is the singleton binding of "the room the user is connected
// to". Switching rooms is a strict disconnect-then-connect sequence;
// concurrent connect attempts are rejected, not queued.
type Session struct {
	backend   media.Backend
	publisher Publisher
	heartbeat time.Duration

	mu            sync.Mutex
	state         State
	stateErr      error
	target        domain.RoomAddress
	identity      domain.Identity
	roster        Roster
	muted         bool
	raisedHand    bool
	recording     bool
	cancelConnect context.CancelFunc
	stop          chan struct{} // per-connection lifetime
}

// Option configures a Session.
type Option func(*Session)

// WithHeartbeat overrides the presence re-broadcast interval (default 30s).
func WithHeartbeat(d time.Duration) Option {
	return func(s *Session) { s.heartbeat = d }
}

func New(backend media.Backend, publisher Publisher, opts ...Option) *Session {
	s := &Session{
		backend:   backend,
		publisher: publisher,
		heartbeat: 30 * time.Second,
		muted:     true, // rest state
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateErr
}

func (s *Session) Target() domain.RoomAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) RaisedHand() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raisedHand
}

func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Connect establishes the media session for a live, backed room.
// Illegal unless the current state is disconnected: the caller must
// fully tear down any previous session first (await Disconnect). A
// Disconnect issued while connecting cancels the attempt.
func (s *Session) Connect(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, token string, r Roster) error {
	if d.ControlPlaneBaseURL == "" {
		return domain.ErrNotSupported
	}
	if d.Status != domain.StatusLive {
		return &domain.ConnectionError{Reason: "room is not live"}
	}

	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateError {
		s.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	connectCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	s.state = StateConnecting
	s.stateErr = nil
	s.target = d.Address
	s.identity = identity
	s.roster = r
	s.cancelConnect = cancel
	s.stop = stop
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("room", d.Address.String()).Msg("connecting")
	events, err := s.backend.Connect(connectCtx, d.StreamingURL, token)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stop != stop {
			// Disconnect won the race; stay disconnected.
			return err
		}
		if connectCtx.Err() != nil {
			s.resetLocked()
			return connectCtx.Err()
		}
		s.state = StateError
		s.stateErr = &domain.ConnectionError{Reason: err.Error()}
		return s.stateErr
	}

	s.mu.Lock()
	if s.stop != stop {
		s.mu.Unlock()
		_ = s.backend.Disconnect(context.Background())
		return domain.ErrNotConnected
	}
	s.state = StateConnected
	muted := s.muted
	s.mu.Unlock()

	if err := s.backend.SetMicrophoneEnabled(connectCtx, !muted); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("initial microphone state failed")
	}

	go s.forward(events, r, stop)
	go s.heartbeatLoop(stop)
	s.broadcastPresence()
	log.Info().Str("module", "session").Str("room", d.Address.String()).Msg("connected")
	return nil
}

// Disconnect is legal from any state and always ends disconnected.
// Mute returns to its rest state, recording clears, and the roster's
// live set is detached so later backend callbacks cannot land.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	if s.stop != nil {
		close(s.stop)
	}
	r := s.roster
	s.resetLocked()
	s.mu.Unlock()

	_ = s.backend.Disconnect(context.Background())
	if r != nil {
		r.DetachLive()
	}
	log.Info().Str("module", "session").Msg("disconnected")
}

// resetLocked returns the session to its rest state. Caller holds mu.
func (s *Session) resetLocked() {
	s.state = StateDisconnected
	s.stateErr = nil
	s.target = domain.RoomAddress{}
	s.roster = nil
	s.muted = true
	s.raisedHand = false
	s.recording = false
	s.cancelConnect = nil
	s.stop = nil
}

// SetMuted toggles the published microphone. Only effective while
// connected; a backend failure reverts the local flag instead of
// leaving it unconfirmed.
func (s *Session) SetMuted(ctx context.Context, muted bool) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	prev := s.muted
	s.muted = muted
	s.mu.Unlock()

	if err := s.backend.SetMicrophoneEnabled(ctx, !muted); err != nil {
		s.mu.Lock()
		s.muted = prev
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetRaisedHand flips the local hand flag and broadcasts presence
// immediately; the heartbeat keeps re-asserting it while connected.
func (s *Session) SetRaisedHand(raised bool) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	changed := s.raisedHand != raised
	s.raisedHand = raised
	s.mu.Unlock()
	if changed {
		s.broadcastPresence()
	}
}

func (s *Session) RaiseHand() { s.SetRaisedHand(true) }
func (s *Session) LowerHand() { s.SetRaisedHand(false) }

// broadcastPresence publishes a signed presence record for the target
// room. Failures are logged and retried on the next heartbeat tick.
func (s *Session) broadcastPresence() {
	s.mu.Lock()
	target, identity, raised := s.target, s.identity, s.raisedHand
	s.mu.Unlock()
	if target.IsZero() || identity.Signer == nil {
		return
	}

	ev := domain.PresenceEvent(target, raised)
	ev.Pubkey = identity.Pubkey

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := identity.Signer.SignEvent(ctx, ev); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("presence sign failed")
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("presence publish failed")
	}
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.broadcastPresence()
		}
	}
}

// forward is the single consumer of backend callbacks for this
// connection; it translates them into roster mutations in arrival
// order.
func (s *Session) forward(events <-chan media.Event, r Roster, stop chan struct{}) {
	for ev := range events {
		select {
		case <-stop:
			return
		default:
		}
		switch ev := ev.(type) {
		case media.ParticipantJoined:
			r.ApplyLiveMembership(ev.Pubkey, ev.CanPublish, ev.Muted)
			s.maybeLowerOwnHand(ev.Pubkey, ev.CanPublish)
		case media.ParticipantLeft:
			r.ApplyLiveMembershipRemoved(ev.Pubkey)
		case media.PermissionsChanged:
			r.ApplyLivePermissions(ev.Pubkey, ev.CanPublish)
			s.maybeLowerOwnHand(ev.Pubkey, ev.CanPublish)
		case media.Speaking:
			r.ApplySpeaking(ev.Pubkey, ev.Level, ev.Muted)
		case media.RoomMetadata:
			r.ApplyRoomMetadata(ev.Host, ev.Admins, ev.Recording)
			s.setRecording(ev.Recording)
		case media.RecordingChanged:
			r.ApplyRecording(ev.Recording)
			s.setRecording(ev.Recording)
		case media.Disconnected:
			if ev.Err != nil {
				log.Warn().Str("module", "session").Err(ev.Err).Msg("backend dropped connection")
				s.remoteDisconnect(stop)
			}
			return
		}
	}
}

// maybeLowerOwnHand clears the local raised hand once the backend
// promotes this identity to stage: the promotion satisfies the hand.
func (s *Session) maybeLowerOwnHand(pubkey string, canPublish bool) {
	s.mu.Lock()
	own := canPublish && pubkey == s.identity.Pubkey && s.raisedHand
	if own {
		s.raisedHand = false
	}
	s.mu.Unlock()
	if own {
		s.broadcastPresence()
	}
}

func (s *Session) setRecording(recording bool) {
	s.mu.Lock()
	s.recording = recording
	s.mu.Unlock()
}

// remoteDisconnect handles the backend dropping us: full local teardown
// unless a local Disconnect already ran.
func (s *Session) remoteDisconnect(stop chan struct{}) {
	s.mu.Lock()
	if s.stop != stop {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	r := s.roster
	s.resetLocked()
	s.mu.Unlock()
	if r != nil {
		r.DetachLive()
	}
}
