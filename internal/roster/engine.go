// Package roster owns the reconciled participant view of one room,
// merged from three independently updating sources: the descriptor's
// static roster, decaying ephemeral presence broadcasts, and live
// membership reported by a connected media session.
package roster

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/domain"
)

// Engine reconciles the roster for a single room. All mutation happens
// on one owning goroutine fed by a tagged-union channel, so concurrent
// callers can never interleave into a partial state.
type Engine struct {
	room domain.RoomAddress

	window     time.Duration // ephemeral presence trailing window
	sweepEvery time.Duration

	msgs chan message
	done chan struct{}

	// onPromoted fires when a pubkey gains publish rights. Must not
	// block; used to auto-lower the local raised hand.
	onPromoted func(pubkey string)
}

type liveEntry struct {
	canPublish bool
	muted      bool
}

// engineState is touched only by the run goroutine.
type engineState struct {
	descriptor *domain.RoomDescriptor
	owner      string

	staticRole map[string]string    // pubkey -> role from descriptor p-tags
	ephemeral  map[string]time.Time // pubkey -> last presence timestamp
	live       map[string]liveEntry // authoritative while a session is connected
	raised     map[string]bool
	volume     map[string]float64
	speakMuted map[string]bool // mute reported via speaking/volume callbacks

	admins    map[string]bool // {owner} plus backend metadata admins
	host      string
	recording bool
}

type message interface{ isMessage() }

type attachMsg struct{ d *domain.RoomDescriptor }
type presenceMsg struct{ p domain.Presence }
type liveUpsertMsg struct {
	pubkey     string
	canPublish bool
	muted      bool
	keepMuted  bool // permission-only updates carry no mute info
}
type recordingMsg struct{ recording bool }
type liveRemoveMsg struct{ pubkey string }
type liveDetachMsg struct{}
type metadataMsg struct {
	host      string
	admins    []string
	recording bool
}
type speakingMsg struct {
	pubkey string
	level  float64
	muted  bool
}
type sweepMsg struct{ now time.Time }
type snapshotMsg struct{ reply chan Snapshot }

func (attachMsg) isMessage()     {}
func (presenceMsg) isMessage()   {}
func (liveUpsertMsg) isMessage() {}
func (liveRemoveMsg) isMessage() {}
func (liveDetachMsg) isMessage() {}
func (metadataMsg) isMessage()   {}
func (speakingMsg) isMessage()   {}
func (recordingMsg) isMessage()  {}
func (sweepMsg) isMessage()      {}
func (snapshotMsg) isMessage()   {}

// Option configures an Engine.
type Option func(*Engine)

// WithWindow overrides the presence expiry window (default 120s).
func WithWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithSweepInterval overrides the eviction tick (default 15s).
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepEvery = d }
}

// WithPromotionHook registers a non-blocking callback fired when a
// pubkey is granted publish rights by the live session.
func WithPromotionHook(fn func(pubkey string)) Option {
	return func(e *Engine) { e.onPromoted = fn }
}

// New starts the engine's owning goroutine and its sweep ticker. Stop
// must be called to release them.
func New(room domain.RoomAddress, opts ...Option) *Engine {
	e := &Engine{
		room:       room,
		window:     120 * time.Second,
		sweepEvery: 15 * time.Second,
		msgs:       make(chan message, 64),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	go e.run()
	return e
}

func (e *Engine) Room() domain.RoomAddress { return e.room }

// Stop shuts down the owning goroutine. Pending sends are abandoned.
func (e *Engine) Stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *Engine) send(m message) {
	select {
	case e.msgs <- m:
	case <-e.done:
	}
}

// Attach (re)seeds the static roster from a descriptor snapshot. Safe
// to call repeatedly as newer snapshots arrive; the snapshot always
// replaces, never merges.
func (e *Engine) Attach(d *domain.RoomDescriptor) {
	e.send(attachMsg{d: d})
}

// ObservePresenceBroadcast feeds one inbound ephemeral presence signal.
// Signals for other rooms or older than the trailing window are
// dropped; duplicates and out-of-order deliveries are a no-op.
func (e *Engine) ObservePresenceBroadcast(p domain.Presence) {
	e.send(presenceMsg{p: p})
}

// ApplyLiveMembership records membership reported by the connected
// media session, authoritative over every other source for that pubkey.
func (e *Engine) ApplyLiveMembership(pubkey string, canPublish, muted bool) {
	e.send(liveUpsertMsg{pubkey: pubkey, canPublish: canPublish, muted: muted})
}

// ApplyLivePermissions moves a pubkey on or off stage without touching
// its reported mute state (permission callbacks carry no mute info).
func (e *Engine) ApplyLivePermissions(pubkey string, canPublish bool) {
	e.send(liveUpsertMsg{pubkey: pubkey, canPublish: canPublish, keepMuted: true})
}

// ApplyRecording reflects a backend recording state flip.
func (e *Engine) ApplyRecording(recording bool) {
	e.send(recordingMsg{recording: recording})
}

// ApplyLiveMembershipRemoved clears a pubkey from the live set after an
// explicit leave callback.
func (e *Engine) ApplyLiveMembershipRemoved(pubkey string) {
	e.send(liveRemoveMsg{pubkey: pubkey})
}

// DetachLive drops the whole live set when the media session ends.
func (e *Engine) DetachLive() {
	e.send(liveDetachMsg{})
}

// ApplyRoomMetadata replaces host/admin/recording state from a
// confirmed backend callback. Moderation is never applied
// optimistically by the initiator.
func (e *Engine) ApplyRoomMetadata(host string, admins []string, recording bool) {
	e.send(metadataMsg{host: host, admins: admins, recording: recording})
}

// ApplySpeaking updates a participant's audio level and reported mute.
func (e *Engine) ApplySpeaking(pubkey string, level float64, muted bool) {
	e.send(speakingMsg{pubkey: pubkey, level: level, muted: muted})
}

// Sweep evicts expired ephemeral entries. Driven by the internal
// ticker; exposed for tests and manual ticks.
func (e *Engine) Sweep(now time.Time) {
	e.send(sweepMsg{now: now})
}

// Snapshot returns a consistent copy of the reconciled roster.
func (e *Engine) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case e.msgs <- snapshotMsg{reply: reply}:
	case <-e.done:
		return Snapshot{Room: e.room}
	}
	select {
	case s := <-reply:
		return s
	case <-e.done:
		return Snapshot{Room: e.room}
	}
}

func (e *Engine) run() {
	st := &engineState{
		staticRole: make(map[string]string),
		ephemeral:  make(map[string]time.Time),
		live:       make(map[string]liveEntry),
		raised:     make(map[string]bool),
		volume:     make(map[string]float64),
		speakMuted: make(map[string]bool),
		admins:     make(map[string]bool),
	}
	ticker := time.NewTicker(e.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case now := <-ticker.C:
			e.sweep(st, now)
		case m := <-e.msgs:
			e.dispatch(st, m)
		}
	}
}

func (e *Engine) dispatch(st *engineState, m message) {
	switch m := m.(type) {
	case attachMsg:
		e.attach(st, m.d)
	case presenceMsg:
		e.observePresence(st, m.p)
	case liveUpsertMsg:
		e.liveUpsert(st, m)
	case liveRemoveMsg:
		delete(st.live, m.pubkey)
		delete(st.volume, m.pubkey)
		delete(st.speakMuted, m.pubkey)
	case liveDetachMsg:
		st.live = make(map[string]liveEntry)
		st.volume = make(map[string]float64)
		st.speakMuted = make(map[string]bool)
	case metadataMsg:
		st.host = m.host
		st.recording = m.recording
		st.admins = make(map[string]bool)
		if st.owner != "" {
			st.admins[st.owner] = true
		}
		for _, a := range m.admins {
			st.admins[a] = true
		}
	case speakingMsg:
		st.volume[m.pubkey] = m.level
		st.speakMuted[m.pubkey] = m.muted
	case recordingMsg:
		st.recording = m.recording
	case sweepMsg:
		e.sweep(st, m.now)
	case snapshotMsg:
		m.reply <- e.snapshot(st)
	}
}

func (e *Engine) attach(st *engineState, d *domain.RoomDescriptor) {
	st.descriptor = d
	st.owner = d.OwnerPubkey
	st.staticRole = make(map[string]string, len(d.StaticRoster)+1)
	for _, entry := range d.StaticRoster {
		st.staticRole[entry.Pubkey] = entry.Role
	}
	if _, ok := st.staticRole[d.OwnerPubkey]; !ok {
		st.staticRole[d.OwnerPubkey] = "host"
	}
	st.admins[d.OwnerPubkey] = true
	log.Debug().Str("module", "roster").Str("room", e.room.String()).
		Int("static", len(st.staticRole)).Str("status", string(d.Status)).Msg("descriptor attached")
}

func (e *Engine) observePresence(st *engineState, p domain.Presence) {
	if p.Room != e.room.String() {
		return
	}
	if time.Since(p.At) > e.window {
		return
	}
	if last, ok := st.ephemeral[p.Pubkey]; ok && !p.At.After(last) {
		return // duplicate or out-of-order: no observable change
	}
	st.ephemeral[p.Pubkey] = p.At
	// Hand state rides on the freshest broadcast, unless the live set
	// already put the pubkey on stage (a raised hand is then satisfied).
	if entry, ok := st.live[p.Pubkey]; ok && entry.canPublish {
		delete(st.raised, p.Pubkey)
		return
	}
	if p.RaisedHand {
		st.raised[p.Pubkey] = true
	} else {
		delete(st.raised, p.Pubkey)
	}
}

func (e *Engine) liveUpsert(st *engineState, m liveUpsertMsg) {
	prev, had := st.live[m.pubkey]
	muted := m.muted
	if m.keepMuted && had {
		muted = prev.muted
	}
	st.live[m.pubkey] = liveEntry{canPublish: m.canPublish, muted: muted}
	if m.canPublish {
		// Promotion to stage implicitly satisfies a raised hand.
		delete(st.raised, m.pubkey)
		if (!had || !prev.canPublish) && e.onPromoted != nil {
			e.onPromoted(m.pubkey)
		}
	}
}

func (e *Engine) sweep(st *engineState, now time.Time) {
	cutoff := now.Add(-e.window)
	for pubkey, at := range st.ephemeral {
		if at.Before(cutoff) {
			delete(st.ephemeral, pubkey)
			// Raised-hand state decays with the presence that carried it,
			// unless the live set still knows the pubkey.
			if _, live := st.live[pubkey]; !live {
				delete(st.raised, pubkey)
			}
		}
	}
}
